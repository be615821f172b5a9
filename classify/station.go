package classify

import (
	"strings"

	"n3fjpmap/event"
	"n3fjpmap/frame"
)

// StationStatus is one station-status report.
type StationStatus struct {
	Station  string
	Call     string
	Operator string
	Band     string
	Mode     string
	Status   string
	Origin   *event.Point
}

// ParseStationStatus reads a <STATIONSTATUS> frame or a pipe-delimited line
// of the form station|operator|band|mode|status[|grid].
func ParseStationStatus(f frame.Frame) (StationStatus, bool) {
	if !strings.Contains(f.Text(), "<") {
		return parsePipeStatus(f.Text())
	}
	body := f
	if parts := f.Split("STATIONSTATUS"); len(parts) > 0 {
		body = parts[0]
	}
	st := StationStatus{
		Station:  body.FirstOf(stationFields...),
		Call:     strings.ToUpper(body.FirstOf(callFields...)),
		Operator: strings.ToUpper(body.FirstOf(operatorFields...)),
		Band:     body.FirstOf(bandFields...),
		Mode:     strings.ToUpper(body.FirstOf(modeFields...)),
		Status:   body.FirstOf("STATUS"),
	}
	grid, _ := body.Tag("GRID")
	lat, _ := body.Tag("LAT")
	if p, ok := locate(grid, lat, body.FirstOf(lonFields...)); ok {
		st.Origin = &p
	}
	if st.Station == "" {
		return StationStatus{}, false
	}
	return st, true
}

func parsePipeStatus(line string) (StationStatus, bool) {
	parts := strings.Split(strings.TrimSpace(line), "|")
	if len(parts) < 5 {
		return StationStatus{}, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	st := StationStatus{
		Station:  parts[0],
		Operator: strings.ToUpper(parts[1]),
		Band:     parts[2],
		Mode:     strings.ToUpper(parts[3]),
		Status:   parts[4],
	}
	if len(parts) > 5 {
		if p, ok := pointFromGrid(parts[5]); ok {
			st.Origin = &p
		}
	}
	if st.Station == "" {
		return StationStatus{}, false
	}
	return st, true
}

// ParseChat reads a <CHAT>/<PRESENCE> frame or a plain "station: text" line.
func ParseChat(f frame.Frame) (station, message string, ok bool) {
	text := f.Text()
	if !strings.Contains(text, "<") {
		station, message, ok = strings.Cut(text, ":")
		station, message = strings.TrimSpace(station), strings.TrimSpace(message)
		return station, message, ok && station != "" && message != ""
	}
	station = f.FirstOf(append([]string{"FROM"}, stationFields...)...)
	message = f.FirstOf("MESSAGE", "TEXT", "MSG")
	if message == "" {
		if v, found := f.Tag("CHAT"); found && !strings.Contains(v, "<") {
			message = v
		}
	}
	if station == "" {
		station = f.FirstOf(callFields...)
	}
	if station == "" {
		return "", "", false
	}
	return station, message, true
}
