package classify

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"n3fjpmap/cty"
	"n3fjpmap/event"
	"n3fjpmap/geo"
	"n3fjpmap/internal/ratelimit"
	"n3fjpmap/lookup"
)

// Resolution tiers, reported in logs and tests.
const (
	TierSection  = "section"
	TierEmbedded = "embedded"
	TierLookup   = "lookup"
	TierState    = "state"
	TierCountry  = "country"
	TierCTY      = "cty"
)

// Lookuper resolves a callsign through an external callbook.
type Lookuper interface {
	Lookup(ctx context.Context, call string) (*lookup.Result, error)
}

// Resolver places contacts on the map. Every field is optional; a nil index
// or client simply skips its tier.
type Resolver struct {
	Sections  *geo.CentroidIndex
	Countries *geo.CentroidIndex
	States    *geo.CentroidIndex
	CTY       *cty.DB
	Lookup    Lookuper
	// Domestic lists country names (any alias) treated as non-DX.
	Domestic []string

	domestic  map[string]struct{}
	lookupLog *ratelimit.Counter
}

// Resolution is a resolved destination and the country it implies.
type Resolution struct {
	Point   event.Point
	Country string
	Tier    string
}

// NewResolver prepares the domestic set of r.
func NewResolver(r Resolver) *Resolver {
	r.domestic = make(map[string]struct{}, len(r.Domestic))
	for _, name := range r.Domestic {
		r.domestic[r.countryKey(name)] = struct{}{}
	}
	r.lookupLog = ratelimit.NewCounter(time.Minute)
	return &r
}

// Destination resolves where a contact goes, in tier order: section centroid
// when preferSection, embedded coordinates, callbook lookup for DX, state
// centroid, country centroid. withCTY allows the CTY entity position as a
// last resort for callers that cannot ask the logger asynchronously.
func (r *Resolver) Destination(ctx context.Context, c Contact, preferSection, withCTY bool) (Resolution, bool) {
	if preferSection && c.Section != "" {
		if cen, ok := r.Sections.Lookup(c.Section); ok {
			return Resolution{Point: point(cen.Lat, cen.Lon), Country: r.countryName(c), Tier: TierSection}, true
		}
	}
	if p, ok := pointFromWire(c.Lat, c.Lon); ok {
		return Resolution{Point: p, Country: r.countryName(c), Tier: TierEmbedded}, true
	}
	dx := c.Call != "" && r.IsDX(c)
	if dx && r.Lookup != nil {
		res, err := r.Lookup.Lookup(ctx, c.Call)
		switch {
		case err == nil:
			p := point(res.Lat, res.Lon)
			if p.Valid() {
				country := res.Country
				if country == "" {
					country = r.countryName(c)
				}
				return Resolution{Point: p, Country: r.displayCountry(country), Tier: TierLookup}, true
			}
		case errors.Is(err, lookup.ErrDisabled), errors.Is(err, lookup.ErrNotFound):
		default:
			if total, _, ok := r.lookupLog.Inc(); ok {
				log.Printf("Lookup: %s failed (failures=%d): %v", c.Call, total, err)
			}
		}
	}
	if !dx && c.State != "" {
		if cen, ok := r.States.Lookup(c.State); ok {
			return Resolution{Point: point(cen.Lat, cen.Lon), Country: r.countryName(c), Tier: TierState}, true
		}
	}
	if c.Country != "" {
		if cen, ok := r.Countries.Lookup(c.Country); ok {
			return Resolution{Point: point(cen.Lat, cen.Lon), Country: displayName(cen), Tier: TierCountry}, true
		}
	}
	if dx || withCTY {
		if ent, ok := r.CTY.Lookup(c.Call); ok {
			if cen, ok := r.Countries.Lookup(ent.Country); ok {
				return Resolution{Point: point(cen.Lat, cen.Lon), Country: displayName(cen), Tier: TierCountry}, true
			}
			p := point(ent.Lat, ent.Lon)
			if p.Valid() && (ent.Lat != 0 || ent.Lon != 0) {
				return Resolution{Point: p, Country: ent.Country, Tier: TierCTY}, true
			}
		}
	}
	return Resolution{}, false
}

// CountryPoint resolves a country name to its centroid.
func (r *Resolver) CountryPoint(name string) (event.Point, string, bool) {
	cen, ok := r.Countries.Lookup(name)
	if !ok {
		return event.Point{}, "", false
	}
	return point(cen.Lat, cen.Lon), displayName(cen), true
}

// IsDX reports whether a contact is outside the domestic set, either because
// the logger flagged it or because its country (reported, or derived from
// the callsign) is not domestic. Contacts with no country information are
// not DX.
func (r *Resolver) IsDX(c Contact) bool {
	if c.DX {
		return true
	}
	country := c.Country
	if country == "" {
		if ent, ok := r.CTY.Lookup(c.Call); ok {
			country = ent.Country
		}
	}
	if country == "" || len(r.domestic) == 0 {
		return false
	}
	_, domestic := r.domestic[r.countryKey(country)]
	return !domestic
}

// countryName returns the reported country, or the CTY entity of the call.
func (r *Resolver) countryName(c Contact) string {
	if c.Country != "" {
		return r.displayCountry(c.Country)
	}
	if ent, ok := r.CTY.Lookup(c.Call); ok {
		return r.displayCountry(ent.Country)
	}
	return ""
}

func (r *Resolver) displayCountry(name string) string {
	if cen, ok := r.Countries.Lookup(name); ok {
		return displayName(cen)
	}
	return strings.TrimSpace(name)
}

func (r *Resolver) countryKey(name string) string {
	if key, ok := r.Countries.Canonical(name); ok {
		return key
	}
	return geo.Canonicalize(name)
}

func displayName(c geo.Centroid) string {
	if c.Name != "" {
		return c.Name
	}
	return c.Key
}

func point(lat, lon float64) event.Point {
	p := event.Point{Lat: lat, Lon: lon}
	if p.Valid() {
		p.Grid, _ = geo.GridFromLatLon(lat, lon, 6)
	}
	return p
}
