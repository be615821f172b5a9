// Package stats counts frames read from the logging program by classification
// kind and by connection, for the status snapshot, the metrics exposition and
// the periodic console summary.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker tracks frame counters. Counters live in sync.Map + atomic.Uint64 so
// the per-frame increment never contends on a mutex across connections.
type Tracker struct {
	kindCounts     sync.Map // kind -> *atomic.Uint64
	connCounts     sync.Map // connection -> *atomic.Uint64
	connKindCounts sync.Map // "connection|kind" -> *atomic.Uint64
	start          atomic.Int64
	handlerPanics  atomic.Uint64
	unresolved     atomic.Uint64
	lookupsIssued  atomic.Uint64
}

// NewTracker creates a new stats tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// RecordFrame counts one frame of the given kind read on connection conn.
func (t *Tracker) RecordFrame(conn, kind string) {
	if t == nil {
		return
	}
	incrementCounter(&t.kindCounts, kind)
	incrementCounter(&t.connCounts, conn)
	conn = strings.TrimSpace(conn)
	kind = strings.TrimSpace(kind)
	if conn == "" || kind == "" {
		return
	}
	incrementCounter(&t.connKindCounts, conn+"|"+kind)
}

// IncrementHandlerPanics counts frames whose handler panicked and was recovered.
func (t *Tracker) IncrementHandlerPanics() {
	if t != nil {
		t.handlerPanics.Add(1)
	}
}

// IncrementUnresolved counts contacts that could not be placed on the map
// synchronously.
func (t *Tracker) IncrementUnresolved() {
	if t != nil {
		t.unresolved.Add(1)
	}
}

// IncrementLookupsIssued counts asynchronous country-list lookups sent to the peer.
func (t *Tracker) IncrementLookupsIssued() {
	if t != nil {
		t.lookupsIssued.Add(1)
	}
}

// KindCounts returns a copy of per-kind counts.
func (t *Tracker) KindCounts() map[string]uint64 {
	return copyCounts(&t.kindCounts)
}

// ConnectionCounts returns a copy of per-connection counts.
func (t *Tracker) ConnectionCounts() map[string]uint64 {
	return copyCounts(&t.connCounts)
}

// ConnectionKindCounts returns a copy of "connection|kind" counts.
func (t *Tracker) ConnectionKindCounts() map[string]uint64 {
	return copyCounts(&t.connKindCounts)
}

// Kind returns the count for one kind.
func (t *Tracker) Kind(kind string) uint64 {
	if value, ok := t.kindCounts.Load(kind); ok {
		return value.(*atomic.Uint64).Load()
	}
	return 0
}

// Total returns the number of frames recorded across all kinds.
func (t *Tracker) Total() uint64 {
	var total uint64
	t.kindCounts.Range(func(_, value any) bool {
		total += value.(*atomic.Uint64).Load()
		return true
	})
	return total
}

// HandlerPanics returns the recovered handler panic count.
func (t *Tracker) HandlerPanics() uint64 { return t.handlerPanics.Load() }

// Unresolved returns the unresolved-contact count.
func (t *Tracker) Unresolved() uint64 { return t.unresolved.Load() }

// LookupsIssued returns the asynchronous lookup count.
func (t *Tracker) LookupsIssued() uint64 { return t.lookupsIssued.Load() }

// Uptime returns how long the tracker has been running.
func (t *Tracker) Uptime() time.Duration {
	return time.Since(time.Unix(0, t.start.Load()))
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	return []string{
		formatCounts("Frames by kind", t.KindCounts()),
		formatCounts("Frames by connection", t.ConnectionCounts()),
	}
}

func formatCounts(label string, counts map[string]uint64) string {
	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	if len(counts) == 0 {
		builder.WriteString("(none)")
		return builder.String()
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%d", k, counts[k])
	}
	return builder.String()
}

func copyCounts(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
