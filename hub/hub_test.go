package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"n3fjpmap/event"
	"n3fjpmap/stats"

	"github.com/prometheus/client_golang/prometheus"
)

type recorder struct {
	mu   sync.Mutex
	envs []event.Envelope
	fail bool
}

func (r *recorder) Send(env event.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return false
	}
	r.envs = append(r.envs, env)
	return true
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.envs))
	for i, env := range r.envs {
		out[i] = env.Type
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.envs = nil
	r.mu.Unlock()
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestHub(opts Options) (*Hub, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	opts.Now = clock.Now
	return New(opts), clock
}

func equalTypes(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestShouldDrawSuppressesWithinWindow(t *testing.T) {
	h, clock := newTestHub(Options{})
	if !h.ShouldDraw("W1AW", "20", "CW") {
		t.Fatal("first draw rejected")
	}
	clock.Advance(time.Second)
	if h.ShouldDraw("w1aw", "20", "cw") {
		t.Fatal("duplicate within 2s accepted")
	}
	if !h.ShouldDraw("W1AW", "40", "CW") {
		t.Fatal("different band rejected")
	}
	clock.Advance(1500 * time.Millisecond)
	if !h.ShouldDraw("W1AW", "20", "CW") {
		t.Fatal("draw after window rejected")
	}
}

func TestShouldDrawFilters(t *testing.T) {
	h, _ := newTestHub(Options{BandFilter: []string{"20", "40"}, ModeFilter: []string{"cw"}})
	cases := []struct {
		call, band, mode string
		want             bool
	}{
		{"K1A", "20", "CW", true},
		{"K1B", "80", "CW", false},
		{"K1C", "40", "SSB", false},
		{"K1D", "", "", true},
	}
	for _, tc := range cases {
		if got := h.ShouldDraw(tc.call, tc.band, tc.mode); got != tc.want {
			t.Fatalf("ShouldDraw(%s,%s,%s)=%v want %v", tc.call, tc.band, tc.mode, got, tc.want)
		}
	}
}

func TestEmitPathRequiresOrigin(t *testing.T) {
	h, _ := newTestHub(Options{})
	if _, ok := h.EmitPath(event.Point{Lat: 41.5, Lon: -72.7}, event.Meta{Call: "W1AW"}, 0, nil); ok {
		t.Fatal("path emitted without origin")
	}
	h.SetOrigin(event.Point{Lat: 40, Lon: -75})
	if _, ok := h.EmitPath(event.Point{Lat: 200, Lon: 0}, event.Meta{}, 0, nil); ok {
		t.Fatal("path emitted with invalid destination")
	}
}

func TestEmitPathBroadcastOrderAndIDs(t *testing.T) {
	h, _ := newTestHub(Options{TTLSeconds: 45})
	h.SetOrigin(event.Point{Lat: 40, Lon: -75})
	sub := &recorder{}
	h.Subscribe(sub)
	sub.reset()

	p1, ok := h.EmitPath(event.Point{Lat: 41.5, Lon: -72.7}, event.Meta{Call: "W1AW", Section: "ct", Country: "United States"}, 0, nil)
	if !ok {
		t.Fatal("EmitPath failed")
	}
	if p1.ID != 1 || p1.TTL != 45 || p1.To.Grid == "" {
		t.Fatalf("unexpected path %+v", p1)
	}
	if !equalTypes(sub.types(), "path", "status", "section_hit", "sections_worked", "country_hit", "countries_worked") {
		t.Fatalf("unexpected broadcast order %v", sub.types())
	}

	sub.reset()
	p2, _ := h.EmitPath(event.Point{Lat: 42, Lon: -71}, event.Meta{Call: "K1ABC", Section: "CT"}, 0, nil)
	if p2.ID != 2 {
		t.Fatalf("second id=%d want 2", p2.ID)
	}
	if !equalTypes(sub.types(), "path", "status") {
		t.Fatalf("repeat section should not re-announce: %v", sub.types())
	}
	if got := h.RecentPaths(10); len(got) != 2 || got[0].ID != 2 {
		t.Fatalf("recent paths %+v", got)
	}
}

func TestEmitPathOriginOverride(t *testing.T) {
	h, _ := newTestHub(Options{})
	h.SetOrigin(event.Point{Lat: 40, Lon: -75})
	override := event.Point{Lat: 35, Lon: -80}
	p, ok := h.EmitPath(event.Point{Lat: 41.5, Lon: -72.7}, event.Meta{}, 0, &override)
	if !ok || p.From.Lat != 35 || p.From.Lon != -80 {
		t.Fatalf("override not used: %+v", p)
	}
}

func TestWorkedSetsOnlyGrow(t *testing.T) {
	h, _ := newTestHub(Options{})
	h.SetOrigin(event.Point{Lat: 40, Lon: -75})
	sections := []string{"CT", "EMA", "CT", "", "WMA", "EMA"}
	prev := 0
	for _, s := range sections {
		h.EmitPath(event.Point{Lat: 41, Lon: -72}, event.Meta{Section: s}, 0, nil)
		n := len(h.SectionsWorked())
		if n < prev {
			t.Fatalf("sections shrank from %d to %d", prev, n)
		}
		prev = n
	}
	if prev != 3 {
		t.Fatalf("sections=%d want 3", prev)
	}
}

func TestPresenceMergeIdempotent(t *testing.T) {
	h, _ := newTestHub(Options{})
	sub := &recorder{}
	h.Subscribe(sub)
	sub.reset()

	upd := event.PresenceUpdate{Call: "w1aw", Band: "20", Mode: "cw", Status: "RUN"}
	if !h.UpdateStationPresence("  run  station ", "status", upd, false) {
		t.Fatal("first update reported no change")
	}
	if !equalTypes(sub.types(), "station_origin", "status") {
		t.Fatalf("unexpected broadcasts %v", sub.types())
	}
	sub.reset()
	if h.UpdateStationPresence("RUN STATION", "status", upd, false) {
		t.Fatal("identical update reported change")
	}
	if len(sub.types()) != 0 {
		t.Fatalf("identical update broadcast %v", sub.types())
	}
	// Absent fields never clear stored ones.
	h.UpdateStationPresence("run station", "chat", event.PresenceUpdate{Message: "qrv"}, false)
	pres, ok := h.Presence("RUN STATION")
	if !ok || pres.Call != "W1AW" || pres.Mode != "CW" || pres.Message != "qrv" {
		t.Fatalf("unexpected presence %+v", pres)
	}
	if len(pres.Sources) != 2 || pres.Sources[0] != "chat" || pres.Sources[1] != "status" {
		t.Fatalf("sources %v", pres.Sources)
	}
}

func TestPresenceForceBroadcasts(t *testing.T) {
	h, _ := newTestHub(Options{})
	h.UpdateStationPresence("A", "api", event.PresenceUpdate{Call: "K1A"}, false)
	sub := &recorder{}
	h.Subscribe(sub)
	sub.reset()
	if !h.UpdateStationPresence("A", "api", event.PresenceUpdate{Call: "K1A"}, true) {
		t.Fatal("forced update not broadcast")
	}
	if !equalTypes(sub.types(), "station_origin", "status") {
		t.Fatalf("unexpected broadcasts %v", sub.types())
	}
}

func TestPrimaryStationMirrorsOrigin(t *testing.T) {
	h, _ := newTestHub(Options{PrimaryStation: "Main Op"})
	sub := &recorder{}
	h.Subscribe(sub)
	sub.reset()
	h.SetStationOrigin("MAIN  OP", "opinfo", event.Point{Lat: 41.5, Lon: -72.7})
	if !equalTypes(sub.types(), "station_origin", "origin", "status") {
		t.Fatalf("unexpected broadcasts %v", sub.types())
	}
	origin, ok := h.Origin()
	if !ok || origin.Lat != 41.5 || origin.Grid == "" {
		t.Fatalf("origin not mirrored: %+v", origin)
	}
}

func TestPrimaryStationPresetSeedsOrigin(t *testing.T) {
	h, _ := newTestHub(Options{
		PrimaryStation: "Run 1",
		Presets:        []Preset{{Name: "Run 1", Origin: event.Point{Lat: 41.5, Lon: -72.7}}},
	})
	origin, ok := h.Origin()
	if !ok || origin.Lat != 41.5 || origin.Lon != -72.7 || origin.Grid == "" {
		t.Fatalf("origin=%+v ok=%v", origin, ok)
	}
	if _, drawn := h.EmitPath(event.Point{Lat: 35, Lon: 139}, event.Meta{Call: "JA1ABC"}, 0, nil); !drawn {
		t.Fatal("path not drawn from preset origin")
	}
}

func TestNewPresenceSourceBroadcasts(t *testing.T) {
	h, _ := newTestHub(Options{})
	h.UpdateStationPresence("Run 1", "status", event.PresenceUpdate{Call: "K1A"}, false)
	sub := &recorder{}
	h.Subscribe(sub)
	sub.reset()
	if !h.UpdateStationPresence("Run 1", "api", event.PresenceUpdate{Call: "K1A"}, false) {
		t.Fatal("new source reported no change")
	}
	if !equalTypes(sub.types(), "station_origin", "status") {
		t.Fatalf("unexpected broadcasts %v", sub.types())
	}
	pres := sub.envs[0].Data.(event.Presence)
	if len(pres.Sources) != 2 || pres.Sources[0] != "api" || pres.Sources[1] != "status" {
		t.Fatalf("sources=%v", pres.Sources)
	}
}

func TestLateJoinerGetsSnapshotNotReplay(t *testing.T) {
	h, _ := newTestHub(Options{Presets: []Preset{{Name: "Preset One", Origin: event.Point{Lat: 45, Lon: -93}}}})
	h.SetOrigin(event.Point{Lat: 40, Lon: -75})
	h.AddOperator("k1abc")
	h.EmitPath(event.Point{Lat: 41.5, Lon: -72.7}, event.Meta{Call: "W1AW", Section: "CT", Country: "United States"}, 0, nil)

	late := &recorder{}
	h.Subscribe(late)
	if !equalTypes(late.types(), "status", "origin", "station_origin", "operators", "sections_worked", "countries_worked") {
		t.Fatalf("unexpected snapshot %v", late.types())
	}
	sections := late.envs[4].Data.([]string)
	if len(sections) != 1 || sections[0] != "CT" {
		t.Fatalf("sections_worked=%v", sections)
	}
	countries := late.envs[5].Data.([]string)
	if len(countries) != 1 || countries[0] != "United States" {
		t.Fatalf("countries_worked=%v", countries)
	}
}

func TestFailingSubscriberDropped(t *testing.T) {
	h, _ := newTestHub(Options{})
	bad := &recorder{}
	good := &recorder{}
	h.Subscribe(bad)
	h.Subscribe(good)
	if got := h.Counters().Subscribers; got != 2 {
		t.Fatalf("subscribers=%d want 2", got)
	}
	bad.mu.Lock()
	bad.fail = true
	bad.mu.Unlock()
	h.AddOperator("K1A")
	if got := h.Counters().Subscribers; got != 1 {
		t.Fatalf("subscribers=%d want 1", got)
	}
	unsubscribe := h.Subscribe(&recorder{})
	unsubscribe()
	if got := h.Counters().Subscribers; got != 1 {
		t.Fatalf("subscribers after unsubscribe=%d want 1", got)
	}
}

func TestPendingLookupOneToOne(t *testing.T) {
	h, _ := newTestHub(Options{})
	h.StashLookup("w1aw", PendingLookup{Meta: event.Meta{Band: "20"}})
	h.StashLookup("W1AW", PendingLookup{Meta: event.Meta{Band: "40"}})
	p, ok := h.TakeLookup("W1AW")
	if !ok || p.Meta.Band != "40" {
		t.Fatalf("pending=%+v ok=%v", p, ok)
	}
	if _, ok := h.TakeLookup("W1AW"); ok {
		t.Fatal("pending lookup not removed")
	}
}

func TestConnectionStateInStatus(t *testing.T) {
	h, clock := newTestHub(Options{})
	h.RegisterConnection("main", "127.0.0.1:1100")
	h.SetConnectionState("main", "streaming", true, nil)
	h.SetPeerInfo("main", "0.6", "N3FJP Field Day 6.5")
	clock.Advance(time.Minute)
	h.SetConnectionState("main", "disconnected", false, errors.New("peer closed"))

	st := h.Status()
	if st.Connected || st.LastError != "peer closed" || st.LastDisconnectTS == nil {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.APIVer != "0.6" || st.Program != "N3FJP Field Day 6.5" {
		t.Fatalf("peer info %q %q", st.APIVer, st.Program)
	}
	if len(st.Connections) != 1 || st.Connections[0].Addr != "127.0.0.1:1100" {
		t.Fatalf("connections %+v", st.Connections)
	}
}

func TestRecordFrameAndCollector(t *testing.T) {
	tracker := stats.NewTracker()
	h, _ := newTestHub(Options{Tracker: tracker})
	h.RecordFrame("main", "contact", "<ENTEREVENT>")
	h.RecordFrame("main", "unknown", "garbage")
	if st := h.Status(); st.LastRaw != "garbage" || st.Metrics.FramesParsed != 2 {
		t.Fatalf("unexpected status %+v", st)
	}
	if raw := h.RecentRaw(5); len(raw) != 2 || raw[0].Text != "garbage" {
		t.Fatalf("recent raw %+v", raw)
	}

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewCollector(h))
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"n3fjp_frames_parsed_total", "n3fjp_paths_drawn_total", "n3fjp_ws_clients_gauge", "n3fjp_sections_worked_total", "n3fjp_countries_worked_total", "n3fjp_frames_by_kind_total"} {
		if !names[want] {
			t.Fatalf("metric %s missing from %v", want, names)
		}
	}
}
