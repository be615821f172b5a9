package geo

import (
	"fmt"
	"io"
	"os"
	"sort"

	lev "github.com/agnivade/levenshtein"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fuzzyMinLen keeps short codes (sections, ISO codes) out of fuzzy matching;
// a one-letter edit of "EMA" is a different section, not a typo.
const fuzzyMinLen = 5

// Centroid is the representative coordinate for one section, country or state.
type Centroid struct {
	Key  string  `json:"key"`
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Record is one entry of a reference-data file. Section files only carry
// lat/lon; country and state files add names, aliases and ISO codes.
type Record struct {
	Lat     float64  `json:"lat"`
	Lon     float64  `json:"lon"`
	Name    string   `json:"name,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
	ISOA2   string   `json:"iso_a2,omitempty"`
	ISOA3   string   `json:"iso_a3,omitempty"`
}

// CentroidIndex maps canonical keys to centroids and every known alias to its
// canonical key. It is built once at start-up and read-only afterwards, so it
// is safe for concurrent lookups. A nil index resolves nothing.
type CentroidIndex struct {
	entries map[string]Centroid
	aliases map[string]string
	// fuzzy lists alias keys long enough for edit-distance matching.
	fuzzy []string
}

// NewCentroidIndex builds an index from reference records keyed by their
// canonical name or code.
func NewCentroidIndex(records map[string]Record) *CentroidIndex {
	ix := &CentroidIndex{
		entries: make(map[string]Centroid, len(records)),
		aliases: make(map[string]string, len(records)*2),
	}
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	// Sorted so alias collisions resolve the same way on every start.
	sort.Strings(keys)
	for _, raw := range keys {
		rec := records[raw]
		key := Canonicalize(raw)
		if key == "" {
			continue
		}
		name := rec.Name
		if name == "" {
			name = raw
		}
		ix.entries[key] = Centroid{Key: key, Name: name, Lat: rec.Lat, Lon: rec.Lon}
		ix.addAlias(key, key)
		ix.addAlias(Canonicalize(rec.Name), key)
		ix.addAlias(Canonicalize(rec.ISOA2), key)
		ix.addAlias(Canonicalize(rec.ISOA3), key)
		for _, alias := range rec.Aliases {
			ix.addAlias(Canonicalize(alias), key)
		}
	}
	for alias := range ix.aliases {
		if len(alias) >= fuzzyMinLen {
			ix.fuzzy = append(ix.fuzzy, alias)
		}
	}
	sort.Strings(ix.fuzzy)
	return ix
}

func (ix *CentroidIndex) addAlias(alias, key string) {
	if alias == "" {
		return
	}
	if _, exists := ix.aliases[alias]; exists {
		return
	}
	ix.aliases[alias] = key
}

// LoadCentroids reads a JSON reference file ({"KEY": {"lat":..,"lon":..}}).
func LoadCentroids(path string) (*CentroidIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open centroids: %w", err)
	}
	defer f.Close()
	return DecodeCentroids(f)
}

// DecodeCentroids decodes reference records from r (exposed for testing).
func DecodeCentroids(r io.Reader) (*CentroidIndex, error) {
	var records map[string]Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode centroids: %w", err)
	}
	return NewCentroidIndex(records), nil
}

// Len returns the number of canonical entries.
func (ix *CentroidIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// Canonical resolves any known spelling to its canonical key.
func (ix *CentroidIndex) Canonical(name string) (string, bool) {
	if ix == nil {
		return "", false
	}
	key := Canonicalize(name)
	if key == "" {
		return "", false
	}
	if canon, ok := ix.aliases[key]; ok {
		return canon, true
	}
	if len(key) < fuzzyMinLen {
		return "", false
	}
	match := ""
	for _, alias := range ix.fuzzy {
		if abs(len(alias)-len(key)) > 1 {
			continue
		}
		if lev.ComputeDistance(alias, key) != 1 {
			continue
		}
		canon := ix.aliases[alias]
		if match != "" && match != canon {
			return "", false
		}
		match = canon
	}
	return match, match != ""
}

// Lookup resolves name (canonical key, alias, ISO code or a near-miss
// spelling) to its centroid.
func (ix *CentroidIndex) Lookup(name string) (Centroid, bool) {
	key, ok := ix.Canonical(name)
	if !ok {
		return Centroid{}, false
	}
	c, ok := ix.entries[key]
	return c, ok
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
