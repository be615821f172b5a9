package main

import (
	"context"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"n3fjpmap/hub"
)

const (
	ingestHealthInterval  = 30 * time.Second
	ingestIdleThreshold   = 2 * time.Minute
	ingestHealthLogPrefix = "Ingest Health: "
)

type ingestHealthState struct {
	state string
	idle  bool
}

// ingestHealth remembers the last reported state per logger connection so
// only transitions are logged.
type ingestHealth struct {
	states map[string]ingestHealthState
}

func newIngestHealth() *ingestHealth {
	return &ingestHealth{states: make(map[string]ingestHealthState)}
}

// runIngestHealthMonitor periodically logs logger-connection health, reporting
// only state or idle changes.
func runIngestHealthMonitor(ctx context.Context, h *hub.Hub) error {
	ticker := time.NewTicker(ingestHealthInterval)
	defer ticker.Stop()
	health := newIngestHealth()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, line := range health.check(h.Status().Connections, time.Now()) {
				log.Printf("%s%s", ingestHealthLogPrefix, line)
			}
		}
	}
}

func (ih *ingestHealth) check(conns []hub.ConnectionStatus, now time.Time) []string {
	var lines []string
	for _, conn := range conns {
		idle := ingestIsIdle(conn, now)
		next := ingestHealthState{state: conn.State, idle: idle}
		if prev, ok := ih.states[conn.Name]; ok && prev == next {
			continue
		}
		ih.states[conn.Name] = next
		lines = append(lines, formatIngestHealthLine(conn, idle, now))
	}
	return lines
}

// ingestIsIdle reports a connected logger that has sent nothing for longer
// than ingestIdleThreshold.
func ingestIsIdle(conn hub.ConnectionStatus, now time.Time) bool {
	if !conn.Connected {
		return false
	}
	last := fromUnixSeconds(conn.LastFrameTS)
	if last.IsZero() {
		last = fromUnixSeconds(conn.LastConnectTS)
	}
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > ingestIdleThreshold
}

func formatIngestHealthLine(conn hub.ConnectionStatus, idle bool, now time.Time) string {
	var b strings.Builder
	b.WriteString(conn.Name)
	b.WriteString(" ")
	b.WriteString(conn.State)
	if idle {
		b.WriteString(" idle")
	} else if conn.Connected {
		b.WriteString(" active")
	}
	b.WriteString(" frames=")
	b.WriteString(strconv.FormatUint(conn.Frames, 10))
	if last := fromUnixSeconds(conn.LastFrameTS); !last.IsZero() {
		b.WriteString(" last_frame=")
		b.WriteString(ageString(now, last))
	}
	if conn.LastError != "" {
		b.WriteString(" last_error=")
		b.WriteString(strconv.Quote(conn.LastError))
	}
	return b.String()
}

func fromUnixSeconds(ts *float64) time.Time {
	if ts == nil {
		return time.Time{}
	}
	sec, frac := math.Modf(*ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func ageString(now time.Time, at time.Time) string {
	if at.IsZero() {
		return "never"
	}
	age := now.Sub(at)
	if age < time.Second {
		return "0s"
	}
	return age.Truncate(time.Second).String()
}
