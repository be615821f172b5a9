// Package hub owns the authoritative runtime state of the map relay: origins,
// station presence, the operator roster, worked sections and countries, recent
// history and per-connection health. Every mutation and the broadcasts it
// causes run under one mutex, so subscribers observe a single consistent order
// no matter how many peer connections feed the hub.
package hub

import (
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"n3fjpmap/buffer"
	"n3fjpmap/dedup"
	"n3fjpmap/event"
	"n3fjpmap/geo"
	"n3fjpmap/internal/ratelimit"
	"n3fjpmap/stats"
)

const (
	DefaultTTLSeconds  = 60
	DefaultHistorySize = 200
	DefaultRawHistory  = 100
	pendingLookupTTL   = 10 * time.Minute
)

// Subscriber receives envelopes. Send must not block; returning false marks
// the subscriber dead and the hub drops it.
type Subscriber interface {
	Send(env event.Envelope) bool
}

// Preset is a statically configured station location.
type Preset struct {
	Name   string
	Origin event.Point
}

// Options configures a Hub. Zero values select defaults.
type Options struct {
	Now            func() time.Time
	TTLSeconds     int
	BandFilter     []string
	ModeFilter     []string
	WFDMode        bool
	PreferSection  bool
	PrimaryStation string
	Presets        []Preset
	HistorySize    int
	RawHistorySize int
	Suppress       time.Duration
	Horizon        time.Duration
	Tracker        *stats.Tracker
}

// PendingLookup is the context captured when an asynchronous country-list
// lookup was sent to the peer.
type PendingLookup struct {
	Meta     event.Meta
	Origin   *event.Point
	IssuedAt time.Time
}

// RawFrame is one frame text as read from a connection.
type RawFrame struct {
	Connection string    `json:"connection"`
	Text       string    `json:"text"`
	Time       time.Time `json:"ts"`
}

type connection struct {
	name           string
	addr           string
	state          string
	connected      bool
	lastError      string
	lastConnect    time.Time
	lastDisconnect time.Time
	lastFrame      time.Time
	frames         uint64
	apiver         string
	program        string
}

// Hub is the shared state object. Construct with New and inject it into the
// supervisors and publication adapters.
type Hub struct {
	opts       Options
	now        func() time.Time
	bandFilter map[string]struct{}
	modeFilter map[string]struct{}
	primaryKey string
	started    time.Time
	tracker    *stats.Tracker

	mu          sync.Mutex
	subs        map[Subscriber]struct{}
	origin      *event.Point
	stations    map[string]*event.Presence
	stationSrcs map[string]map[string]struct{}
	operators   map[string]struct{}
	sections    map[string]struct{}
	countries   map[string]struct{}
	window      *dedup.Window
	pending     map[string]PendingLookup
	conns       map[string]*connection
	connOrder   []string
	nextID      uint64
	lastEvent   time.Time
	lastRaw     string
	apiver      string
	program     string

	paths *buffer.Ring[event.Path]
	raw   *buffer.Ring[RawFrame]

	framesParsed atomic.Uint64
	pathsDrawn   atomic.Uint64
	subscribers  atomic.Int64
	dropLog      *ratelimit.Counter
}

// New builds a hub and seeds presence from the configured presets.
func New(opts Options) *Hub {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TTLSeconds <= 0 {
		opts.TTLSeconds = DefaultTTLSeconds
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.RawHistorySize <= 0 {
		opts.RawHistorySize = DefaultRawHistory
	}
	if opts.Suppress <= 0 {
		opts.Suppress = dedup.DefaultSuppress
	}
	if opts.Horizon <= 0 {
		opts.Horizon = dedup.DefaultHorizon
	}
	h := &Hub{
		opts:        opts,
		now:         opts.Now,
		bandFilter:  toSet(opts.BandFilter),
		modeFilter:  toSet(opts.ModeFilter),
		primaryKey:  event.StationKey(opts.PrimaryStation),
		tracker:     opts.Tracker,
		subs:        make(map[Subscriber]struct{}),
		stations:    make(map[string]*event.Presence),
		stationSrcs: make(map[string]map[string]struct{}),
		operators:   make(map[string]struct{}),
		sections:    make(map[string]struct{}),
		countries:   make(map[string]struct{}),
		window:      dedup.NewWindow(opts.Suppress, opts.Horizon),
		pending:     make(map[string]PendingLookup),
		conns:       make(map[string]*connection),
		paths:       buffer.NewRing[event.Path](opts.HistorySize),
		raw:         buffer.NewRing[RawFrame](opts.RawHistorySize),
		dropLog:     ratelimit.NewCounter(time.Minute),
	}
	h.started = h.now()
	for _, p := range opts.Presets {
		origin := p.Origin
		h.mergePresence(p.Name, "preset", event.PresenceUpdate{Origin: &origin})
	}
	if pres, ok := h.stations[h.primaryKey]; ok && pres.Origin != nil {
		h.setOriginLocked(*pres.Origin)
	}
	return h
}

// TTLSeconds returns the configured path lifetime.
func (h *Hub) TTLSeconds() int { return h.opts.TTLSeconds }

// PreferSection reports whether section centroids win over other destinations.
func (h *Hub) PreferSection() bool { return h.opts.WFDMode || h.opts.PreferSection }

// ShouldDraw applies the band and mode allow-lists, then the duplicate window.
// It is the only suppression gate for path emission.
func (h *Hub) ShouldDraw(call, band, mode string) bool {
	key := dedup.NewKey(call, band, mode)
	if len(h.bandFilter) > 0 && key.Band != "" {
		if _, ok := h.bandFilter[key.Band]; !ok {
			return false
		}
	}
	if len(h.modeFilter) > 0 && key.Mode != "" {
		if _, ok := h.modeFilter[key.Mode]; !ok {
			return false
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.window.Allow(key, h.now())
}

// EmitPath publishes a path from origin (or the primary origin when override
// is nil) to dest. It returns false when either end lacks coordinates.
func (h *Hub) EmitPath(dest event.Point, meta event.Meta, ttl int, override *event.Point) (event.Path, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var from event.Point
	switch {
	case override != nil && override.Valid():
		from = *override
	case h.origin != nil:
		from = *h.origin
	default:
		return event.Path{}, false
	}
	if !dest.Valid() {
		return event.Path{}, false
	}
	if dest.Grid == "" {
		dest.Grid, _ = geo.GridFromLatLon(dest.Lat, dest.Lon, 6)
	}
	if ttl <= 0 {
		ttl = h.opts.TTLSeconds
	}
	now := h.now()
	h.nextID++
	p := event.Path{ID: h.nextID, Time: now, From: from, To: dest, Meta: meta, TTL: ttl}
	h.lastEvent = now
	h.pathsDrawn.Add(1)
	h.paths.Add(p)

	h.broadcastLocked(event.Envelope{Type: event.TypePath, Data: p})
	h.broadcastLocked(event.Envelope{Type: event.TypeStatus, Data: h.statusLocked()})

	if section := strings.ToUpper(strings.TrimSpace(meta.Section)); section != "" {
		if _, seen := h.sections[section]; !seen {
			h.sections[section] = struct{}{}
			h.broadcastLocked(event.Envelope{Type: event.TypeSectionHit, Data: section})
			h.broadcastLocked(event.Envelope{Type: event.TypeSectionsWorked, Data: sortedKeys(h.sections)})
		}
	}
	if country := strings.TrimSpace(meta.Country); country != "" {
		if _, seen := h.countries[country]; !seen {
			h.countries[country] = struct{}{}
			h.broadcastLocked(event.Envelope{Type: event.TypeCountryHit, Data: country})
			h.broadcastLocked(event.Envelope{Type: event.TypeCountriesWorked, Data: sortedKeys(h.countries)})
		}
	}
	return p, true
}

// SetOrigin sets the unnamed primary origin. It broadcasts origin and status
// when the point changed.
func (h *Hub) SetOrigin(p event.Point) bool {
	if !p.Valid() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.setOriginLocked(p) {
		return false
	}
	h.broadcastLocked(event.Envelope{Type: event.TypeStatus, Data: h.statusLocked()})
	return true
}

// Origin returns the primary origin, if known.
func (h *Hub) Origin() (event.Point, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.origin == nil {
		return event.Point{}, false
	}
	return *h.origin, true
}

// SetStationOrigin records a named station's location.
func (h *Hub) SetStationOrigin(name, source string, p event.Point) bool {
	if !p.Valid() {
		return false
	}
	return h.UpdateStationPresence(name, source, event.PresenceUpdate{Origin: &p}, false)
}

// UpdateStationPresence merges upd into the named station's presence. Only
// present fields that differ from the stored values, or a source not seen
// before for this station, count as a change. A
// change (or force) broadcasts station_origin and then status.
func (h *Hub) UpdateStationPresence(name, source string, upd event.PresenceUpdate, force bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	key, changed := h.mergePresence(name, source, upd)
	if key == "" {
		return false
	}
	if !changed && !force {
		return false
	}
	pres := h.presenceCopyLocked(key)
	h.broadcastLocked(event.Envelope{Type: event.TypeStationOrigin, Data: pres})
	if key == h.primaryKey && pres.Origin != nil {
		h.setOriginLocked(*pres.Origin)
	}
	h.broadcastLocked(event.Envelope{Type: event.TypeStatus, Data: h.statusLocked()})
	return true
}

// StationOrigin returns the last known origin of a named station.
func (h *Hub) StationOrigin(name string) (event.Point, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pres, ok := h.stations[event.StationKey(name)]
	if !ok || pres.Origin == nil {
		return event.Point{}, false
	}
	return *pres.Origin, true
}

// Presence returns a copy of one station's presence.
func (h *Hub) Presence(name string) (event.Presence, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := event.StationKey(name)
	if _, ok := h.stations[key]; !ok {
		return event.Presence{}, false
	}
	return h.presenceCopyLocked(key), true
}

// Stations returns copies of every presence ordered by key.
func (h *Hub) Stations() []event.Presence {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stationsLocked()
}

// AddOperator adds call to the roster and broadcasts it when new.
func (h *Hub) AddOperator(call string) bool {
	call = strings.ToUpper(strings.TrimSpace(call))
	if call == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.operators[call]; ok {
		return false
	}
	h.operators[call] = struct{}{}
	h.broadcastLocked(event.Envelope{Type: event.TypeOperators, Data: sortedKeys(h.operators)})
	return true
}

// Operators returns the sorted operator roster.
func (h *Hub) Operators() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sortedKeys(h.operators)
}

// SectionsWorked returns the sorted worked sections.
func (h *Hub) SectionsWorked() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sortedKeys(h.sections)
}

// CountriesWorked returns the sorted worked countries.
func (h *Hub) CountriesWorked() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sortedKeys(h.countries)
}

// RegisterConnection adds a named connection to the status table.
func (h *Hub) RegisterConnection(name, addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.connLocked(name)
	c.addr = addr
}

// SetConnectionState records a supervisor state transition and broadcasts
// status. err is recorded as the last error when non-nil.
func (h *Hub) SetConnectionState(name, state string, connected bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.connLocked(name)
	now := h.now()
	if connected && !c.connected {
		c.lastConnect = now
		c.lastError = ""
	}
	if !connected && c.connected {
		c.lastDisconnect = now
	}
	if err != nil {
		c.lastError = err.Error()
		if !connected {
			c.lastDisconnect = now
		}
	}
	c.state = state
	c.connected = connected
	h.broadcastLocked(event.Envelope{Type: event.TypeStatus, Data: h.statusLocked()})
}

// SetPeerInfo records the version and program identity a connection reported.
// Empty values leave the stored ones unchanged.
func (h *Hub) SetPeerInfo(name, apiver, program string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.connLocked(name)
	if apiver = strings.TrimSpace(apiver); apiver != "" {
		c.apiver = apiver
		h.apiver = apiver
	}
	if program = strings.TrimSpace(program); program != "" {
		c.program = program
		h.program = program
	}
	h.broadcastLocked(event.Envelope{Type: event.TypeStatus, Data: h.statusLocked()})
}

// RecordFrame counts one frame and keeps its text in the raw history.
func (h *Hub) RecordFrame(conn, kind, text string) {
	h.framesParsed.Add(1)
	h.tracker.RecordFrame(conn, kind)
	now := h.now()
	h.raw.Add(RawFrame{Connection: conn, Text: text, Time: now})
	h.mu.Lock()
	h.lastRaw = text
	c := h.connLocked(conn)
	c.frames++
	c.lastFrame = now
	h.mu.Unlock()
}

// StashLookup remembers the context of an asynchronous lookup for call. A
// newer stash for the same call replaces the older one.
func (h *Hub) StashLookup(call string, p PendingLookup) {
	key := strings.ToUpper(strings.TrimSpace(call))
	if key == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	if p.IssuedAt.IsZero() {
		p.IssuedAt = now
	}
	for k, v := range h.pending {
		if now.Sub(v.IssuedAt) > pendingLookupTTL {
			delete(h.pending, k)
		}
	}
	h.pending[key] = p
}

// TakeLookup removes and returns the pending lookup for call.
func (h *Hub) TakeLookup(call string) (PendingLookup, bool) {
	key := strings.ToUpper(strings.TrimSpace(call))
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[key]
	if ok {
		delete(h.pending, key)
	}
	return p, ok
}

// Subscribe sends the current snapshot to sub and then registers it for
// live broadcasts. Past path events are never replayed. The returned func
// unregisters the subscriber.
func (h *Hub) Subscribe(sub Subscriber) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	snapshot := []event.Envelope{{Type: event.TypeStatus, Data: h.statusLocked()}}
	if h.origin != nil {
		snapshot = append(snapshot, event.Envelope{Type: event.TypeOrigin, Data: *h.origin})
	}
	for _, pres := range h.stationsLocked() {
		snapshot = append(snapshot, event.Envelope{Type: event.TypeStationOrigin, Data: pres})
	}
	snapshot = append(snapshot,
		event.Envelope{Type: event.TypeOperators, Data: sortedKeys(h.operators)},
		event.Envelope{Type: event.TypeSectionsWorked, Data: sortedKeys(h.sections)},
		event.Envelope{Type: event.TypeCountriesWorked, Data: sortedKeys(h.countries)},
	)
	for _, env := range snapshot {
		if !sub.Send(env) {
			return func() {}
		}
	}
	h.subs[sub] = struct{}{}
	h.subscribers.Store(int64(len(h.subs)))
	return func() { h.unsubscribe(sub) }
}

func (h *Hub) unsubscribe(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
	h.subscribers.Store(int64(len(h.subs)))
}

// RecentPaths returns up to n path events, newest first.
func (h *Hub) RecentPaths(n int) []event.Path { return h.paths.Recent(n) }

// RecentRaw returns up to n raw frames, newest first.
func (h *Hub) RecentRaw(n int) []RawFrame { return h.raw.Recent(n) }

func (h *Hub) broadcastLocked(env event.Envelope) {
	for sub := range h.subs {
		if sub.Send(env) {
			continue
		}
		delete(h.subs, sub)
		if total, suppressed, ok := h.dropLog.Inc(); ok {
			log.Printf("Hub: dropped slow subscriber (total=%d suppressed=%d)", total, suppressed)
		}
	}
	h.subscribers.Store(int64(len(h.subs)))
}

func (h *Hub) setOriginLocked(p event.Point) bool {
	if p.Grid == "" {
		p.Grid, _ = geo.GridFromLatLon(p.Lat, p.Lon, 6)
	}
	if h.origin != nil && *h.origin == p {
		return false
	}
	h.origin = &p
	h.broadcastLocked(event.Envelope{Type: event.TypeOrigin, Data: p})
	return true
}

// mergePresence applies upd to the named station and reports the key and
// whether any stored field changed. Caller holds h.mu.
func (h *Hub) mergePresence(name, source string, upd event.PresenceUpdate) (string, bool) {
	key := event.StationKey(name)
	if key == "" {
		return "", false
	}
	pres, ok := h.stations[key]
	changed := !ok
	if !ok {
		pres = &event.Presence{Key: key, Name: strings.Join(strings.Fields(name), " ")}
		h.stations[key] = pres
		h.stationSrcs[key] = make(map[string]struct{})
	}
	if upd.Origin != nil && upd.Origin.Valid() {
		o := *upd.Origin
		if o.Grid == "" {
			o.Grid, _ = geo.GridFromLatLon(o.Lat, o.Lon, 6)
		}
		if pres.Origin == nil || *pres.Origin != o {
			pres.Origin = &o
			changed = true
		}
	}
	for _, f := range []struct {
		dst *string
		val string
	}{
		{&pres.Call, strings.ToUpper(upd.Call)},
		{&pres.Operator, strings.ToUpper(upd.Operator)},
		{&pres.Band, upd.Band},
		{&pres.Mode, strings.ToUpper(upd.Mode)},
		{&pres.Status, upd.Status},
		{&pres.Section, strings.ToUpper(upd.Section)},
		{&pres.Country, upd.Country},
		{&pres.Message, upd.Message},
	} {
		val := strings.TrimSpace(f.val)
		if val != "" && *f.dst != val {
			*f.dst = val
			changed = true
		}
	}
	if source = strings.TrimSpace(source); source != "" {
		if _, seen := h.stationSrcs[key][source]; !seen {
			h.stationSrcs[key][source] = struct{}{}
			changed = true
		}
	}
	if changed {
		pres.UpdatedAt = h.now()
	}
	return key, changed
}

func (h *Hub) presenceCopyLocked(key string) event.Presence {
	pres := *h.stations[key]
	if pres.Origin != nil {
		o := *pres.Origin
		pres.Origin = &o
	}
	pres.Sources = sortedKeys(h.stationSrcs[key])
	return pres
}

func (h *Hub) stationsLocked() []event.Presence {
	keys := make([]string, 0, len(h.stations))
	for k := range h.stations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]event.Presence, 0, len(keys))
	for _, k := range keys {
		out = append(out, h.presenceCopyLocked(k))
	}
	return out
}

func (h *Hub) connLocked(name string) *connection {
	if name == "" {
		name = "default"
	}
	c, ok := h.conns[name]
	if !ok {
		c = &connection{name: name, state: "disconnected"}
		h.conns[name] = c
		h.connOrder = append(h.connOrder, name)
	}
	return c
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, v := range values {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
