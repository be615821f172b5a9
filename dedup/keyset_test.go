package dedup

import (
	"fmt"
	"testing"
)

func TestKeySetAddOnce(t *testing.T) {
	s := NewKeySet(4)
	if !s.Add("1001") {
		t.Fatalf("first add not new")
	}
	if s.Add("1001") {
		t.Fatalf("second add reported new")
	}
	if !s.Contains("1001") || s.Len() != 1 {
		t.Fatalf("Contains/Len mismatch")
	}
}

func TestKeySetEvictsOldest(t *testing.T) {
	s := NewKeySet(3)
	for i := 0; i < 4; i++ {
		s.Add(fmt.Sprintf("k%d", i))
	}
	if s.Len() != 3 {
		t.Fatalf("Len=%d want 3", s.Len())
	}
	if s.Contains("k0") {
		t.Fatalf("oldest key not evicted")
	}
	if !s.Contains("k3") || !s.Contains("k1") {
		t.Fatalf("recent keys missing")
	}
}

func TestHashKeySeparatesParts(t *testing.T) {
	if HashKey("AB", "C") == HashKey("A", "BC") {
		t.Fatalf("hash collision across part boundaries")
	}
}

func TestContainsHashMatchesAddHash(t *testing.T) {
	s := NewKeySet(4)
	h := HashKey("qso", "K1ABC", "40", "PH")
	if s.ContainsHash(h) {
		t.Fatalf("empty set reports hash")
	}
	s.AddHash(h)
	if !s.ContainsHash(h) || s.Contains("K1ABC") {
		t.Fatalf("ContainsHash mismatch")
	}
}
