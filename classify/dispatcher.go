package classify

import (
	"context"
	"log"
	"strings"
	"time"

	"n3fjpmap/dedup"
	"n3fjpmap/event"
	"n3fjpmap/frame"
	"n3fjpmap/hub"
	"n3fjpmap/internal/ratelimit"
	"n3fjpmap/stats"
)

// Presence sources recorded on station updates.
const (
	SourceAPI     = "api"
	SourceListing = "list"
	SourceOpInfo  = "opinfo"
	SourceStatus  = "status"
	SourceChat    = "chat"
	SourceLookup  = "lookup"
)

// Outbound commands.
const (
	CmdOpInfo = "<CMD><OPINFO></CMD>"
)

// Sender writes one command to the logger connection.
type Sender interface {
	Send(cmd string) error
}

// Options configures a Dispatcher.
type Options struct {
	Connection      string
	Hub             *hub.Hub
	Resolver        *Resolver
	Tracker         *stats.Tracker
	ListingCapacity int
}

// Dispatcher handles the frames of one logger connection. Handle is called
// from that connection's read loop only, so frames are handled in arrival
// order; the listing key set persists across reconnects.
type Dispatcher struct {
	conn     string
	hub      *hub.Hub
	resolver *Resolver
	tracker  *stats.Tracker
	listing  *dedup.KeySet
	unknown  *ratelimit.Counter
}

// NewDispatcher builds a dispatcher for one connection.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Resolver == nil {
		opts.Resolver = NewResolver(Resolver{})
	}
	return &Dispatcher{
		conn:     opts.Connection,
		hub:      opts.Hub,
		resolver: opts.Resolver,
		tracker:  opts.Tracker,
		listing:  dedup.NewKeySet(opts.ListingCapacity),
		unknown:  ratelimit.NewCounter(time.Minute),
	}
}

// CommandCountryLookup builds the asynchronous country-list lookup command.
func CommandCountryLookup(call string) string {
	return "<CMD><COUNTRYLISTLOOKUP><CALL>" + call + "</CALL></CMD>"
}

// Handle classifies f, records it and runs its handler. out may be nil, in
// which case no commands are sent.
func (d *Dispatcher) Handle(ctx context.Context, f frame.Frame, out Sender) Kind {
	if f.Empty() {
		return KindUnknown
	}
	kind := Classify(f)
	d.hub.RecordFrame(d.conn, string(kind), f.Text())
	switch kind {
	case KindMessage:
		d.handleMessage(f)
	case KindVersion:
		v, _ := f.Tag("APIVER")
		d.hub.SetPeerInfo(d.conn, v, "")
	case KindProgram:
		pgm, _ := f.Tag("PGM")
		ver, _ := f.Tag("VER")
		d.hub.SetPeerInfo(d.conn, "", strings.TrimSpace(pgm+" "+ver))
	case KindOpInfo:
		d.handleOpInfo(f)
	case KindListing:
		d.handleListing(ctx, f)
	case KindContact:
		d.handleContact(ctx, f, out)
	case KindLookup:
		d.handleLookupResponse(f)
	case KindStatus:
		d.handleStationStatus(f)
	case KindChat:
		d.handleChat(f)
	default:
		if total, suppressed, ok := d.unknown.Inc(); ok {
			log.Printf("Classify: %s unrecognized frame dropped (total=%d suppressed=%d): %.80q", d.conn, total, suppressed, f.Text())
		}
	}
	return kind
}

func (d *Dispatcher) handleOpInfo(f frame.Frame) {
	grid, _ := f.Tag("GRID")
	lat, _ := f.Tag("LAT")
	p, ok := locate(grid, lat, f.FirstOf(lonFields...))
	if op := f.FirstOf("OPERATOR", "CALL", "MYCALL"); op != "" {
		d.hub.AddOperator(op)
	}
	if !ok {
		return
	}
	if station := f.FirstOf(stationFields...); station != "" {
		d.hub.SetStationOrigin(station, SourceOpInfo, p)
		return
	}
	d.hub.SetOrigin(p)
}

func (d *Dispatcher) handleContact(ctx context.Context, f frame.Frame, out Sender) {
	// Origin is not always fresh on every event.
	d.send(out, CmdOpInfo)
	c := ParseContact(f)
	if d.processContact(ctx, c, SourceAPI, out) && c.Call != "" {
		d.listing.AddHash(contentKey(c))
	}
}

func (d *Dispatcher) handleListing(ctx context.Context, f frame.Frame) {
	for _, rec := range f.Split("RECORD") {
		key := rec.FirstOf(keyFields...)
		if key == "" {
			key = rec.Text()
		}
		pk := dedup.HashKey("pk", key)
		if d.listing.ContainsHash(pk) {
			continue
		}
		c := ParseContact(rec)
		if c.Call != "" && d.listing.ContainsHash(contentKey(c)) {
			d.listing.AddHash(pk)
			continue
		}
		if !d.processContact(ctx, c, SourceListing, nil) {
			continue
		}
		d.listing.AddHash(pk)
		if c.Call != "" {
			d.listing.AddHash(contentKey(c))
		}
	}
}

// processContact updates presence and draws the contact, or defers it to an
// asynchronous lookup when out is available. It reports false only when the
// contact resolved but could not be drawn for lack of an origin, so a later
// catch-up poll may still draw it.
func (d *Dispatcher) processContact(ctx context.Context, c Contact, source string, out Sender) bool {
	if c.Operator != "" {
		d.hub.AddOperator(c.Operator)
	}
	if c.Station != "" {
		d.hub.UpdateStationPresence(c.Station, source, event.PresenceUpdate{
			Call:     c.Call,
			Operator: c.Operator,
			Band:     c.Band,
			Mode:     c.Mode,
			Section:  c.Section,
			Country:  c.Country,
		}, false)
	}
	meta := c.Meta(source)
	origin := d.stationOrigin(c.Station)
	res, ok := d.resolver.Destination(ctx, c, d.hub.PreferSection(), out == nil)
	if !ok {
		if c.Call == "" {
			return true
		}
		d.tracker.IncrementUnresolved()
		if out == nil {
			return true
		}
		// The path is drawn from where we were when the lookup went out.
		if origin == nil {
			if p, known := d.hub.Origin(); known {
				origin = &p
			}
		}
		d.hub.StashLookup(c.Call, hub.PendingLookup{Meta: meta, Origin: origin})
		d.tracker.IncrementLookupsIssued()
		d.send(out, CommandCountryLookup(c.Call))
		return true
	}
	if res.Country != "" {
		meta.Country = res.Country
	}
	if !d.hub.ShouldDraw(c.Call, c.Band, c.Mode) {
		return true
	}
	_, drawn := d.hub.EmitPath(res.Point, meta, 0, origin)
	return drawn
}

func (d *Dispatcher) handleLookupResponse(f frame.Frame) {
	call := strings.ToUpper(f.FirstOf(callFields...))
	pending, found := d.hub.TakeLookup(call)
	meta := event.Meta{Call: call, Source: SourceLookup}
	var origin *event.Point
	if found {
		meta = pending.Meta
		origin = pending.Origin
	}
	lat, _ := f.Tag("LAT")
	dest, ok := pointFromWire(lat, f.FirstOf(lonFields...))
	country := f.FirstOf(countryFields...)
	if !ok && country != "" {
		var name string
		dest, name, ok = d.resolver.CountryPoint(country)
		country = name
	}
	if !ok {
		return
	}
	if meta.Country == "" && country != "" {
		meta.Country = d.resolver.displayCountry(country)
	}
	if !d.hub.ShouldDraw(meta.Call, meta.Band, meta.Mode) {
		return
	}
	d.hub.EmitPath(dest, meta, 0, origin)
}

func (d *Dispatcher) handleStationStatus(f frame.Frame) {
	st, ok := ParseStationStatus(f)
	if !ok {
		return
	}
	upd := event.PresenceUpdate{
		Call:     st.Call,
		Operator: st.Operator,
		Band:     st.Band,
		Mode:     st.Mode,
		Status:   st.Status,
	}
	if st.Origin != nil {
		upd.Origin = st.Origin
	}
	d.hub.UpdateStationPresence(st.Station, SourceStatus, upd, false)
	if st.Operator != "" {
		d.hub.AddOperator(st.Operator)
	}
}

func (d *Dispatcher) handleChat(f frame.Frame) {
	station, msg, ok := ParseChat(f)
	if !ok {
		return
	}
	d.hub.UpdateStationPresence(station, SourceChat, event.PresenceUpdate{Message: msg}, false)
}

func (d *Dispatcher) handleMessage(f frame.Frame) {
	msg := f.FirstOf("MESSAGE", "TEXT", "MSG", "BROADCAST", "DIALOG", "BAMS")
	if msg == "" {
		return
	}
	station := f.FirstOf(append([]string{"FROM"}, stationFields...)...)
	if station == "" {
		station = d.conn
	}
	d.hub.UpdateStationPresence(station, SourceChat, event.PresenceUpdate{Message: msg}, false)
}

func (d *Dispatcher) stationOrigin(station string) *event.Point {
	if station == "" {
		return nil
	}
	p, ok := d.hub.StationOrigin(station)
	if !ok {
		return nil
	}
	return &p
}

func (d *Dispatcher) send(out Sender, cmd string) {
	if out == nil {
		return
	}
	if err := out.Send(cmd); err != nil {
		log.Printf("Classify: %s send %s failed: %v", d.conn, cmd, err)
	}
}

// contentKey identifies a contact regardless of how it reached us, so a QSO
// drawn from a live event is not drawn again by the next catch-up poll.
func contentKey(c Contact) uint64 {
	return dedup.HashKey("qso", c.Call, strings.ToUpper(c.Band), c.Mode)
}
