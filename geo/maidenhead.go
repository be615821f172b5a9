// Package geo converts between coordinates and Maidenhead locators and resolves
// section, country and state names to representative centroids.
package geo

import (
	"math"
	"strings"
)

const (
	fieldLonSize  = 20.0
	fieldLatSize  = 10.0
	squareLonSize = 2.0
	squareLatSize = 1.0
	subLonSize    = squareLonSize / 24.0 // 5'
	subLatSize    = squareLatSize / 24.0 // 2.5'
)

// GridFromLatLon encodes a coordinate as a 4- or 6-character locator
// ("FN31" or "FN31pr"). Any other precision is treated as 6. It returns false
// when coordinates are out of range or non-finite.
func GridFromLatLon(lat, lon float64, precision int) (string, bool) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return "", false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", false
	}
	if lat == 90 {
		lat = 89.999999
	}
	if lon == 180 {
		lon = 179.999999
	}
	adjLon := lon + 180
	adjLat := lat + 90

	fieldLon := clampIndex(int(adjLon/fieldLonSize), 18)
	fieldLat := clampIndex(int(adjLat/fieldLatSize), 18)
	remLon := adjLon - float64(fieldLon)*fieldLonSize
	remLat := adjLat - float64(fieldLat)*fieldLatSize
	squareLon := clampIndex(int(remLon/squareLonSize), 10)
	squareLat := clampIndex(int(remLat/squareLatSize), 10)

	out := []byte{
		byte('A' + fieldLon),
		byte('A' + fieldLat),
		byte('0' + squareLon),
		byte('0' + squareLat),
	}
	if precision == 4 {
		return string(out), true
	}
	remLon -= float64(squareLon) * squareLonSize
	remLat -= float64(squareLat) * squareLatSize
	subLon := clampIndex(int(remLon/subLonSize), 24)
	subLat := clampIndex(int(remLat/subLatSize), 24)
	out = append(out, byte('a'+subLon), byte('a'+subLat))
	return string(out), true
}

// LatLonFromGrid returns the center of a 4- or 6-character locator cell.
func LatLonFromGrid(grid string) (lat float64, lon float64, ok bool) {
	g := strings.ToUpper(strings.TrimSpace(grid))
	if len(g) != 4 && len(g) != 6 {
		return 0, 0, false
	}
	a, b := g[0], g[1]
	if a < 'A' || a > 'R' || b < 'A' || b > 'R' {
		return 0, 0, false
	}
	d0, d1 := g[2], g[3]
	if d0 < '0' || d0 > '9' || d1 < '0' || d1 > '9' {
		return 0, 0, false
	}
	lon = -180.0 + float64(a-'A')*fieldLonSize + float64(d0-'0')*squareLonSize
	lat = -90.0 + float64(b-'A')*fieldLatSize + float64(d1-'0')*squareLatSize
	if len(g) == 4 {
		return lat + squareLatSize/2, lon + squareLonSize/2, true
	}
	s0, s1 := g[4], g[5]
	if s0 < 'A' || s0 > 'X' || s1 < 'A' || s1 > 'X' {
		return 0, 0, false
	}
	lon += float64(s0-'A')*subLonSize + subLonSize/2
	lat += float64(s1-'A')*subLatSize + subLatSize/2
	return lat, lon, true
}

// NormalizeGrid returns a locator in conventional casing (upper field and
// square, lower sub-square) or "" when it is not a valid 4/6 character grid.
func NormalizeGrid(grid string) string {
	g := strings.TrimSpace(grid)
	if _, _, ok := LatLonFromGrid(g); !ok {
		return ""
	}
	if len(g) == 4 {
		return strings.ToUpper(g)
	}
	return strings.ToUpper(g[:4]) + strings.ToLower(g[4:])
}

func clampIndex(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
