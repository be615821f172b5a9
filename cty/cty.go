// Package cty resolves callsigns to DXCC entities using the CTY prefix list in
// its plist form (cty.plist). The map handlers use it to name the country of a
// worked station when the logging program leaves it blank, to decide whether a
// contact is DX, and as a coordinate of last resort.
package cty

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"howett.net/plist"
)

// prefixRecord mirrors one plist entry.
type prefixRecord struct {
	Country       string  `plist:"Country"`
	Prefix        string  `plist:"Prefix"`
	ADIF          int     `plist:"ADIF"`
	CQZone        int     `plist:"CQZone"`
	ITUZone       int     `plist:"ITUZone"`
	Continent     string  `plist:"Continent"`
	Latitude      float64 `plist:"Latitude"`
	Longitude     float64 `plist:"Longitude"`
	ExactCallsign bool    `plist:"ExactCallsign"`
}

// Entity is the resolved DXCC entity for a callsign. Lon is east-positive,
// as stored in cty.plist.
type Entity struct {
	Country   string  `json:"country"`
	Prefix    string  `json:"prefix"`
	Continent string  `json:"continent,omitempty"`
	ADIF      int     `json:"adif,omitempty"`
	CQZone    int     `json:"cq_zone,omitempty"`
	ITUZone   int     `json:"itu_zone,omitempty"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
}

// DB answers longest-prefix callsign lookups. Exact-callsign entries win over
// prefixes. Safe for concurrent use.
type DB struct {
	exact  map[string]Entity
	prefix trie

	mu    sync.Mutex
	cache map[string]cacheEntry
	limit int
}

type cacheEntry struct {
	entity Entity
	ok     bool
}

const defaultCacheLimit = 4096

// Load reads cty.plist from path.
func Load(path string) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cty plist: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode builds a DB from plist data (exposed for testing).
func Decode(r io.ReadSeeker) (*DB, error) {
	var raw map[string]prefixRecord
	if err := plist.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode plist: %w", err)
	}
	db := &DB{
		exact: make(map[string]Entity),
		prefix: trie{
			nodes: []trieNode{{}},
		},
		cache: make(map[string]cacheEntry),
		limit: defaultCacheLimit,
	}
	for key, rec := range raw {
		key = strings.ToUpper(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		ent := Entity{
			Country:   rec.Country,
			Prefix:    rec.Prefix,
			Continent: rec.Continent,
			ADIF:      rec.ADIF,
			CQZone:    rec.CQZone,
			ITUZone:   rec.ITUZone,
			Lat:       rec.Latitude,
			Lon:       rec.Longitude,
		}
		if rec.ExactCallsign {
			db.exact[key] = ent
			continue
		}
		db.prefix.insert(key, ent)
	}
	return db, nil
}

// Len returns the number of exact and prefix entries.
func (db *DB) Len() int {
	if db == nil {
		return 0
	}
	return len(db.exact) + db.prefix.size
}

// Lookup resolves a callsign. Portable designators are honored: "DL/W1AW"
// resolves through DL, "W1AW/P" through W1AW. Results, including misses, are
// memoized until the cache limit is reached.
func (db *DB) Lookup(call string) (Entity, bool) {
	if db == nil {
		return Entity{}, false
	}
	call = strings.ToUpper(strings.TrimSpace(call))
	if call == "" {
		return Entity{}, false
	}
	db.mu.Lock()
	if hit, ok := db.cache[call]; ok {
		db.mu.Unlock()
		return hit.entity, hit.ok
	}
	db.mu.Unlock()

	ent, ok := db.resolve(call)

	db.mu.Lock()
	if len(db.cache) >= db.limit {
		// Contest logs touch a small working set; a full reset is enough.
		clear(db.cache)
	}
	db.cache[call] = cacheEntry{entity: ent, ok: ok}
	db.mu.Unlock()
	return ent, ok
}

func (db *DB) resolve(call string) (Entity, bool) {
	if ent, ok := db.exact[call]; ok {
		return ent, true
	}
	base := lookupBase(call)
	if ent, ok := db.exact[base]; ok {
		return ent, true
	}
	return db.prefix.longest(base)
}

var portableSuffixes = map[string]bool{
	"P": true, "M": true, "MM": true, "AM": true, "QRP": true, "A": true,
}

// lookupBase picks the part of a compound callsign that identifies the
// entity. A short leading or trailing designator ("DL/", "/VE3") overrides
// the home call; operating suffixes (/P, /M, /QRP) and bare digits are dropped.
func lookupBase(call string) string {
	parts := strings.Split(call, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" || portableSuffixes[p] || isDigits(p) {
			continue
		}
		kept = append(kept, p)
	}
	switch len(kept) {
	case 0:
		return call
	case 1:
		return kept[0]
	}
	shortest := kept[0]
	for _, p := range kept[1:] {
		if len(p) < len(shortest) {
			shortest = p
		}
	}
	return shortest
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// trie is a read-only prefix trie; nodes live in a slice so child links are
// small integer indices.
type trie struct {
	nodes []trieNode
	size  int
}

type trieNode struct {
	next     map[byte]int
	entity   Entity
	terminal bool
}

func (tr *trie) insert(key string, ent Entity) {
	state := 0
	for i := 0; i < len(key); i++ {
		ch := key[i]
		if tr.nodes[state].next == nil {
			tr.nodes[state].next = make(map[byte]int)
		}
		child, ok := tr.nodes[state].next[ch]
		if !ok {
			child = len(tr.nodes)
			tr.nodes = append(tr.nodes, trieNode{})
			tr.nodes[state].next[ch] = child
		}
		state = child
	}
	if !tr.nodes[state].terminal {
		tr.size++
	}
	tr.nodes[state].entity = ent
	tr.nodes[state].terminal = true
}

// longest walks call from the root and returns the deepest terminal seen.
func (tr *trie) longest(call string) (Entity, bool) {
	if len(tr.nodes) == 0 {
		return Entity{}, false
	}
	state := 0
	var best Entity
	found := false
	for i := 0; i < len(call); i++ {
		child, ok := tr.nodes[state].next[call[i]]
		if !ok {
			break
		}
		state = child
		if tr.nodes[state].terminal {
			best = tr.nodes[state].entity
			found = true
		}
	}
	return best, found
}
