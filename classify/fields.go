package classify

import (
	"strconv"
	"strings"

	"n3fjpmap/event"
	"n3fjpmap/frame"
	"n3fjpmap/geo"
)

// Alternate field names in priority order. The logging program used bare
// names in live events and fld-prefixed column names in listings.
var (
	callFields     = []string{"CALL", "FLDCALL"}
	bandFields     = []string{"BAND", "FLDBAND"}
	modeFields     = []string{"MODE", "MODETEST", "FLDMODE"}
	sectionFields  = []string{"SECTION", "ARRL_SECT", "FLDSECTION"}
	countryFields  = []string{"COUNTRY", "COUNTRYWORKED", "FLDCOUNTRYWORKED"}
	stateFields    = []string{"STATE", "FLDSTATE"}
	operatorFields = []string{"OPERATOR", "MYCALL", "FLDOPERATOR"}
	stationFields  = []string{"STATIONNAME", "STATION", "COMPUTERNAME", "FLDCOMPUTERNAME"}
	latFields      = []string{"LAT", "FLDLAT"}
	lonFields      = []string{"LON", "LONG", "FLDLON", "FLDLONG"}
	dxFields       = []string{"DX", "ISDX", "FLDDX"}
	keyFields      = []string{"PRIMARYKEY", "FLDPRIMARYKEY"}
)

// Contact is one logged QSO as reported by a submission event or a listing
// record.
type Contact struct {
	Call     string
	Band     string
	Mode     string
	Section  string
	Country  string
	State    string
	Operator string
	Station  string
	Lat      string
	Lon      string
	DX       bool
}

// ParseContact reads the contact fields of f.
func ParseContact(f frame.Frame) Contact {
	return Contact{
		Call:     strings.ToUpper(f.FirstOf(callFields...)),
		Band:     f.FirstOf(bandFields...),
		Mode:     strings.ToUpper(f.FirstOf(modeFields...)),
		Section:  strings.ToUpper(f.FirstOf(sectionFields...)),
		Country:  f.FirstOf(countryFields...),
		State:    strings.ToUpper(f.FirstOf(stateFields...)),
		Operator: strings.ToUpper(f.FirstOf(operatorFields...)),
		Station:  f.FirstOf(stationFields...),
		Lat:      f.FirstOf(latFields...),
		Lon:      f.FirstOf(lonFields...),
		DX:       truthy(f.FirstOf(dxFields...)),
	}
}

// Meta converts the contact into path metadata.
func (c Contact) Meta(source string) event.Meta {
	return event.Meta{
		Call:     c.Call,
		Band:     c.Band,
		Mode:     c.Mode,
		Section:  c.Section,
		Operator: c.Operator,
		Country:  c.Country,
		Station:  c.Station,
		Source:   source,
	}
}

// ParseWestLon parses a longitude reported west-positive and returns it in
// the usual east-positive convention.
func ParseWestLon(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return -v, true
}

// pointFromWire builds a point from wire latitude and west-positive longitude.
func pointFromWire(latText, lonText string) (event.Point, bool) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	if err != nil {
		return event.Point{}, false
	}
	lon, ok := ParseWestLon(lonText)
	if !ok {
		return event.Point{}, false
	}
	p := event.Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		return event.Point{}, false
	}
	p.Grid, _ = geo.GridFromLatLon(lat, lon, 6)
	return p, true
}

// pointFromGrid returns the center of a 4 or 6 character locator.
func pointFromGrid(grid string) (event.Point, bool) {
	lat, lon, ok := geo.LatLonFromGrid(grid)
	if !ok {
		return event.Point{}, false
	}
	return event.Point{Lat: lat, Lon: lon, Grid: geo.NormalizeGrid(grid)}, true
}

// locate prefers an embedded grid over raw coordinates.
func locate(grid, latText, lonText string) (event.Point, bool) {
	if p, ok := pointFromGrid(grid); ok {
		return p, true
	}
	return pointFromWire(latText, lonText)
}

func truthy(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE", "T", "Y", "YES", "1", "DX":
		return true
	}
	return false
}
