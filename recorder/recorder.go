// Package recorder persists a bounded number of drawn paths per band to SQLite
// for offline review without slowing the live pipeline.
package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"n3fjpmap/event"

	_ "modernc.org/sqlite"
)

// Recorder is a hub subscriber that stores path envelopes. Other envelope
// types are ignored.
type Recorder struct {
	db           *sql.DB
	perBandLimit int
	mu           sync.Mutex
	perBand      map[string]int
	inflight     sync.WaitGroup
}

// NewRecorder opens (or creates) the SQLite database at path and ensures schema exists.
func NewRecorder(path string, perBandLimit int) (*Recorder, error) {
	if perBandLimit <= 0 {
		return nil, errors.New("recorder: per-band limit must be > 0")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Recorder{
		db:           db,
		perBandLimit: perBandLimit,
		perBand:      make(map[string]int),
	}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS path_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path_id INTEGER,
    observed_at INTEGER,
    call TEXT,
    band TEXT,
    mode TEXT,
    section TEXT,
    country TEXT,
    operator TEXT,
    station TEXT,
    source TEXT,
    from_lat REAL,
    from_lon REAL,
    to_lat REAL,
    to_lon REAL,
    to_grid TEXT
);`
	_, err := db.Exec(schema)
	return err
}

// Close waits for pending inserts and closes the underlying database.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	r.inflight.Wait()
	return r.db.Close()
}

// Send records path envelopes. It never blocks the hub and always keeps the
// recorder subscribed.
func (r *Recorder) Send(env event.Envelope) bool {
	if env.Type != event.TypePath {
		return true
	}
	p, ok := env.Data.(event.Path)
	if !ok {
		return true
	}
	r.Record(p)
	return true
}

// Record inserts the path if its band has not reached the limit.
func (r *Recorder) Record(p event.Path) {
	if r == nil || r.db == nil {
		return
	}
	band := strings.ToUpper(strings.TrimSpace(p.Meta.Band))
	if band == "" {
		band = "UNKNOWN"
	}

	r.mu.Lock()
	count := r.perBand[band]
	if count >= r.perBandLimit {
		r.mu.Unlock()
		return
	}
	r.perBand[band] = count + 1
	r.mu.Unlock()

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		r.insert(band, p)
	}()
}

// Counts returns how many paths each band has accepted so far.
func (r *Recorder) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.perBand))
	for band, n := range r.perBand {
		out[band] = n
	}
	return out
}

func (r *Recorder) insert(band string, p event.Path) {
	_, err := r.db.Exec(`
INSERT INTO path_records (
    path_id, observed_at, call, band, mode, section, country, operator, station, source,
    from_lat, from_lon, to_lat, to_lon, to_grid
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(p.ID),
		p.Time.UTC().Unix(),
		p.Meta.Call,
		band,
		p.Meta.Mode,
		p.Meta.Section,
		p.Meta.Country,
		p.Meta.Operator,
		p.Meta.Station,
		p.Meta.Source,
		p.From.Lat,
		p.From.Lon,
		p.To.Lat,
		p.To.Lon,
		sanitizeGrid(p.To.Grid),
	)
	if err != nil {
		log.Printf("Recorder: failed to insert path %d: %v", p.ID, err)
	}
}

// sanitizeGrid trims the locator and caps it at six characters.
func sanitizeGrid(grid string) string {
	grid = strings.TrimSpace(grid)
	if len(grid) > 6 {
		grid = grid[:6]
	}
	return grid
}
