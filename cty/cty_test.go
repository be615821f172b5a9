package cty

import (
	"strings"
	"testing"
)

const samplePLIST = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
<key>K</key>
	<dict>
		<key>Country</key><string>United States</string>
		<key>Prefix</key><string>K</string>
		<key>Continent</key><string>NA</string>
		<key>Latitude</key><real>37.53</real>
		<key>Longitude</key><real>-91.67</real>
		<key>ExactCallsign</key><false/>
	</dict>
<key>W</key>
	<dict>
		<key>Country</key><string>United States</string>
		<key>Prefix</key><string>K</string>
		<key>ExactCallsign</key><false/>
	</dict>
<key>KH6</key>
	<dict>
		<key>Country</key><string>Hawaii</string>
		<key>Prefix</key><string>KH6</string>
		<key>Latitude</key><real>21.12</real>
		<key>Longitude</key><real>-157.48</real>
		<key>ExactCallsign</key><false/>
	</dict>
<key>DL</key>
	<dict>
		<key>Country</key><string>Fed. Rep. of Germany</string>
		<key>Prefix</key><string>DL</string>
		<key>Continent</key><string>EU</string>
		<key>Latitude</key><real>51.0</real>
		<key>Longitude</key><real>10.0</real>
		<key>ExactCallsign</key><false/>
	</dict>
<key>K1XX</key>
	<dict>
		<key>Country</key><string>Hawaii</string>
		<key>Prefix</key><string>KH6</string>
		<key>ExactCallsign</key><true/>
	</dict>
</dict>
</plist>`

func loadSample(t *testing.T) *DB {
	t.Helper()
	db, err := Decode(strings.NewReader(samplePLIST))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return db
}

func TestLookupLongestPrefix(t *testing.T) {
	db := loadSample(t)
	tests := []struct {
		call    string
		country string
	}{
		{call: "W1AW", country: "United States"},
		{call: "kh6abc", country: "Hawaii"},
		{call: "K1XX", country: "Hawaii"},
		{call: "DL1ABC", country: "Fed. Rep. of Germany"},
		{call: "DL/W1AW", country: "Fed. Rep. of Germany"},
		{call: "W1AW/P", country: "United States"},
		{call: "K1XX/QRP", country: "Hawaii"},
	}
	for _, tt := range tests {
		ent, ok := db.Lookup(tt.call)
		if !ok || ent.Country != tt.country {
			t.Fatalf("Lookup(%s)=%+v,%v want %s", tt.call, ent, ok, tt.country)
		}
	}
	if _, ok := db.Lookup("9Z9ZZ"); ok {
		t.Fatalf("unknown prefix resolved")
	}
}

func TestLongitudeIsEastPositive(t *testing.T) {
	db := loadSample(t)
	ent, ok := db.Lookup("K1ABC")
	if !ok {
		t.Fatalf("K1ABC did not resolve")
	}
	if ent.Lon != -91.67 || ent.Lat != 37.53 {
		t.Fatalf("coords=(%f,%f) want (37.53,-91.67)", ent.Lat, ent.Lon)
	}
	de, _ := db.Lookup("DL1ABC")
	if de.Lon != 10.0 {
		t.Fatalf("DL lon=%f want 10", de.Lon)
	}
	kh6, _ := db.Lookup("KH6ABC")
	if kh6.Lon != -157.48 {
		t.Fatalf("KH6 lon=%f want -157.48", kh6.Lon)
	}
}

func TestLookupCachesMisses(t *testing.T) {
	db := loadSample(t)
	db.Lookup("9Z9ZZ")
	db.mu.Lock()
	hit, ok := db.cache["9Z9ZZ"]
	db.mu.Unlock()
	if !ok || hit.ok {
		t.Fatalf("expected cached miss, got %+v,%v", hit, ok)
	}
}

func TestNilDB(t *testing.T) {
	var db *DB
	if _, ok := db.Lookup("W1AW"); ok {
		t.Fatalf("nil DB resolved")
	}
	if db.Len() != 0 {
		t.Fatalf("nil Len")
	}
}
