// Package dedup holds the two suppression primitives of the map relay: a
// short trailing window over (call, band, mode) draws, and a bounded set of
// already-seen listing keys used to make catch-up polls idempotent.
package dedup

import (
	"strings"
	"time"
)

const (
	// DefaultSuppress is how long an identical draw is rejected.
	DefaultSuppress = 2 * time.Second
	// DefaultHorizon is how long entries are retained before pruning.
	DefaultHorizon = 3 * time.Second
)

// Key identifies a draw for suppression purposes.
type Key struct {
	Call string
	Band string
	Mode string
}

// NewKey builds a Key with trimmed, upper-cased fields.
func NewKey(call, band, mode string) Key {
	return Key{
		Call: strings.ToUpper(strings.TrimSpace(call)),
		Band: strings.ToUpper(strings.TrimSpace(band)),
		Mode: strings.ToUpper(strings.TrimSpace(mode)),
	}
}

type windowEntry struct {
	key Key
	at  time.Time
}

// Window is an ordered list of recent draws bounded to a trailing horizon.
// It is not safe for concurrent use; the hub serializes access.
type Window struct {
	suppress time.Duration
	horizon  time.Duration
	entries  []windowEntry
}

// NewWindow returns a Window. Non-positive arguments fall back to the defaults;
// the horizon is never shorter than the suppression window.
func NewWindow(suppress, horizon time.Duration) *Window {
	if suppress <= 0 {
		suppress = DefaultSuppress
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if horizon < suppress {
		horizon = suppress
	}
	return &Window{suppress: suppress, horizon: horizon}
}

// Allow prunes entries older than the horizon, then rejects key if it was
// recorded within the suppression window. Accepted keys are recorded.
func (w *Window) Allow(key Key, now time.Time) bool {
	w.prune(now)
	for _, e := range w.entries {
		if e.key == key && now.Sub(e.at) < w.suppress {
			return false
		}
	}
	w.entries = append(w.entries, windowEntry{key: key, at: now})
	return true
}

// Len returns the number of retained entries.
func (w *Window) Len() int { return len(w.entries) }

func (w *Window) prune(now time.Time) {
	drop := 0
	for drop < len(w.entries) && now.Sub(w.entries[drop].at) > w.horizon {
		drop++
	}
	if drop > 0 {
		w.entries = append(w.entries[:0], w.entries[drop:]...)
	}
}
