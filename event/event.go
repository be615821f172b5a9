// Package event holds the shapes shared by the ingest handlers, the hub and the
// publication adapters: map points, path events, station presence and the
// {type, data} envelope pushed to subscribers.
package event

import (
	"math"
	"strings"
	"time"
)

// Envelope types pushed to subscribers.
const (
	TypeStatus          = "status"
	TypeOrigin          = "origin"
	TypeStationOrigin   = "station_origin"
	TypeOperators       = "operators"
	TypeSectionsWorked  = "sections_worked"
	TypeCountriesWorked = "countries_worked"
	TypeSectionHit      = "section_hit"
	TypeCountryHit      = "country_hit"
	TypePath            = "path"
)

// Envelope is the push-channel message wrapper.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Point is a map coordinate with its Maidenhead locator. It is used both for
// origins (our stations) and destinations (worked stations).
type Point struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Grid string  `json:"grid,omitempty"`
}

// Valid reports whether both coordinates are finite and in range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Meta describes the contact behind a path event.
type Meta struct {
	Call     string `json:"call,omitempty"`
	Band     string `json:"band,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Section  string `json:"section,omitempty"`
	Operator string `json:"operator,omitempty"`
	Country  string `json:"country,omitempty"`
	Station  string `json:"station,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Path is one immutable origin -> destination event.
type Path struct {
	ID   uint64    `json:"id"`
	Time time.Time `json:"ts"`
	From Point     `json:"from"`
	To   Point     `json:"to"`
	Meta Meta      `json:"meta"`
	TTL  int       `json:"ttl"`
}

// Presence is the last known state of one named station.
type Presence struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Origin    *Point    `json:"origin,omitempty"`
	Call      string    `json:"call,omitempty"`
	Operator  string    `json:"operator,omitempty"`
	Band      string    `json:"band,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Status    string    `json:"status,omitempty"`
	Section   string    `json:"section,omitempty"`
	Country   string    `json:"country,omitempty"`
	Message   string    `json:"message,omitempty"`
	Sources   []string  `json:"sources"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PresenceUpdate carries the fields observed in one frame. Empty strings and a
// nil Origin mean "not present" and never overwrite stored values.
type PresenceUpdate struct {
	Origin   *Point
	Call     string
	Operator string
	Band     string
	Mode     string
	Status   string
	Section  string
	Country  string
	Message  string
}

// StationKey folds a station name into its presence key: whitespace runs
// collapse to one space and letters are upper-cased.
func StationKey(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}
