package hub

import (
	"time"

	"n3fjpmap/event"
)

// ConnectionStatus is one row of the per-connection table.
type ConnectionStatus struct {
	Name             string   `json:"name"`
	Addr             string   `json:"addr,omitempty"`
	State            string   `json:"state"`
	Connected        bool     `json:"connected"`
	LastError        string   `json:"last_error,omitempty"`
	LastConnectTS    *float64 `json:"last_connect_ts"`
	LastDisconnectTS *float64 `json:"last_disconnect_ts"`
	LastFrameTS      *float64 `json:"last_frame_ts"`
	Frames           uint64   `json:"frames"`
	APIVer           string   `json:"apiver,omitempty"`
	Program          string   `json:"program,omitempty"`
}

// Counters are the monotonic totals and gauges exported as metrics.
type Counters struct {
	FramesParsed    uint64 `json:"frames_parsed_total"`
	PathsDrawn      uint64 `json:"paths_drawn_total"`
	Subscribers     int64  `json:"ws_clients_gauge"`
	SectionsWorked  int    `json:"sections_worked_total"`
	CountriesWorked int    `json:"countries_worked_total"`
}

// Status is the point-in-time snapshot pushed as the status envelope and
// served on /status.
type Status struct {
	Connected        bool               `json:"connected"`
	LastConnectTS    *float64           `json:"last_connect_ts"`
	LastDisconnectTS *float64           `json:"last_disconnect_ts"`
	LastEventTS      *float64           `json:"last_event_ts"`
	LastError        string             `json:"last_error,omitempty"`
	APIVer           string             `json:"apiver,omitempty"`
	Program          string             `json:"program,omitempty"`
	LastRaw          string             `json:"last_raw,omitempty"`
	Origin           *event.Point       `json:"origin"`
	Operators        []string           `json:"operators"`
	SectionsWorked   []string           `json:"sections_worked"`
	CountriesWorked  []string           `json:"countries_worked"`
	Stations         int                `json:"stations"`
	Connections      []ConnectionStatus `json:"connections"`
	Metrics          Counters           `json:"metrics"`
	WFDMode          bool               `json:"wfd_mode"`
	PreferSection    bool               `json:"prefer_section"`
	TTLSeconds       int                `json:"ttl_seconds"`
	BandFilter       []string           `json:"band_filter"`
	ModeFilter       []string           `json:"mode_filter"`
	PrimaryStation   string             `json:"primary_station,omitempty"`
	UptimeSeconds    float64            `json:"uptime_seconds"`
}

// Status returns the current snapshot.
func (h *Hub) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked()
}

// Counters returns the current totals.
func (h *Hub) Counters() Counters {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.countersLocked()
}

// Uptime returns the time since the hub was built.
func (h *Hub) Uptime() time.Duration { return h.now().Sub(h.started) }

func (h *Hub) countersLocked() Counters {
	return Counters{
		FramesParsed:    h.framesParsed.Load(),
		PathsDrawn:      h.pathsDrawn.Load(),
		Subscribers:     h.subscribers.Load(),
		SectionsWorked:  len(h.sections),
		CountriesWorked: len(h.countries),
	}
}

func (h *Hub) statusLocked() Status {
	st := Status{
		LastEventTS:     unixSeconds(h.lastEvent),
		APIVer:          h.apiver,
		Program:         h.program,
		LastRaw:         h.lastRaw,
		Operators:       sortedKeys(h.operators),
		SectionsWorked:  sortedKeys(h.sections),
		CountriesWorked: sortedKeys(h.countries),
		Stations:        len(h.stations),
		Connections:     make([]ConnectionStatus, 0, len(h.connOrder)),
		Metrics:         h.countersLocked(),
		WFDMode:         h.opts.WFDMode,
		PreferSection:   h.opts.PreferSection,
		TTLSeconds:      h.opts.TTLSeconds,
		BandFilter:      sortedKeys(h.bandFilter),
		ModeFilter:      sortedKeys(h.modeFilter),
		PrimaryStation:  h.opts.PrimaryStation,
		UptimeSeconds:   h.now().Sub(h.started).Seconds(),
	}
	if h.origin != nil {
		o := *h.origin
		st.Origin = &o
	}
	var lastConnect, lastDisconnect time.Time
	for _, name := range h.connOrder {
		c := h.conns[name]
		st.Connections = append(st.Connections, ConnectionStatus{
			Name:             c.name,
			Addr:             c.addr,
			State:            c.state,
			Connected:        c.connected,
			LastError:        c.lastError,
			LastConnectTS:    unixSeconds(c.lastConnect),
			LastDisconnectTS: unixSeconds(c.lastDisconnect),
			LastFrameTS:      unixSeconds(c.lastFrame),
			Frames:           c.frames,
			APIVer:           c.apiver,
			Program:          c.program,
		})
		if c.connected {
			st.Connected = true
		}
		if c.lastConnect.After(lastConnect) {
			lastConnect = c.lastConnect
		}
		if c.lastDisconnect.After(lastDisconnect) {
			lastDisconnect = c.lastDisconnect
			st.LastError = c.lastError
		}
	}
	st.LastConnectTS = unixSeconds(lastConnect)
	st.LastDisconnectTS = unixSeconds(lastDisconnect)
	return st
}

func unixSeconds(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	v := float64(t.UnixNano()) / float64(time.Second)
	return &v
}
