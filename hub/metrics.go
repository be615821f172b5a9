package hub

import (
	"n3fjpmap/stats"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports hub counters in Prometheus form. Values are read at
// scrape time so the hub keeps no metric globals.
type Collector struct {
	hub *Hub

	framesParsed    *prometheus.Desc
	pathsDrawn      *prometheus.Desc
	subscribers     *prometheus.Desc
	sectionsWorked  *prometheus.Desc
	countriesWorked *prometheus.Desc
	framesByKind    *prometheus.Desc
	connectionUp    *prometheus.Desc
	handlerPanics   *prometheus.Desc
	lookupsIssued   *prometheus.Desc
}

// NewCollector returns a collector for h.
func NewCollector(h *Hub) *Collector {
	return &Collector{
		hub:             h,
		framesParsed:    prometheus.NewDesc("n3fjp_frames_parsed_total", "Total API frames parsed", nil, nil),
		pathsDrawn:      prometheus.NewDesc("n3fjp_paths_drawn_total", "Total path events emitted", nil, nil),
		subscribers:     prometheus.NewDesc("n3fjp_ws_clients_gauge", "Current push-channel subscribers", nil, nil),
		sectionsWorked:  prometheus.NewDesc("n3fjp_sections_worked_total", "Distinct sections worked", nil, nil),
		countriesWorked: prometheus.NewDesc("n3fjp_countries_worked_total", "Distinct countries worked", nil, nil),
		framesByKind:    prometheus.NewDesc("n3fjp_frames_by_kind_total", "API frames by classification kind", []string{"kind"}, nil),
		connectionUp:    prometheus.NewDesc("n3fjp_connection_up", "Whether a logger connection is established", []string{"connection"}, nil),
		handlerPanics:   prometheus.NewDesc("n3fjp_handler_panics_total", "Frame handlers that panicked and were recovered", nil, nil),
		lookupsIssued:   prometheus.NewDesc("n3fjp_country_lookups_total", "Asynchronous country-list lookups sent to the logger", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesParsed
	ch <- c.pathsDrawn
	ch <- c.subscribers
	ch <- c.sectionsWorked
	ch <- c.countriesWorked
	ch <- c.framesByKind
	ch <- c.connectionUp
	ch <- c.handlerPanics
	ch <- c.lookupsIssued
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.hub.Status()
	m := st.Metrics
	ch <- prometheus.MustNewConstMetric(c.framesParsed, prometheus.CounterValue, float64(m.FramesParsed))
	ch <- prometheus.MustNewConstMetric(c.pathsDrawn, prometheus.CounterValue, float64(m.PathsDrawn))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(m.Subscribers))
	ch <- prometheus.MustNewConstMetric(c.sectionsWorked, prometheus.GaugeValue, float64(m.SectionsWorked))
	ch <- prometheus.MustNewConstMetric(c.countriesWorked, prometheus.GaugeValue, float64(m.CountriesWorked))
	for _, conn := range st.Connections {
		up := 0.0
		if conn.Connected {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(c.connectionUp, prometheus.GaugeValue, up, conn.Name)
	}
	if t := c.hub.tracker; t != nil {
		for kind, n := range t.KindCounts() {
			ch <- prometheus.MustNewConstMetric(c.framesByKind, prometheus.CounterValue, float64(n), kind)
		}
		ch <- prometheus.MustNewConstMetric(c.handlerPanics, prometheus.CounterValue, float64(t.HandlerPanics()))
		ch <- prometheus.MustNewConstMetric(c.lookupsIssued, prometheus.CounterValue, float64(t.LookupsIssued()))
	}
}

// Tracker returns the frame tracker the hub was built with, possibly nil.
func (h *Hub) Tracker() *stats.Tracker { return h.tracker }
