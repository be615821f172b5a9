package dedup

import (
	"testing"
	"time"
)

func TestWindowSuppressesWithinTwoSeconds(t *testing.T) {
	w := NewWindow(0, 0)
	base := time.Unix(1_700_000_000, 0)
	key := NewKey("w1aw", "20", "cw")

	if !w.Allow(key, base) {
		t.Fatalf("first draw rejected")
	}
	if w.Allow(NewKey("W1AW", "20", "CW"), base.Add(1500*time.Millisecond)) {
		t.Fatalf("repeat within window accepted")
	}
	if !w.Allow(key, base.Add(2*time.Second)) {
		t.Fatalf("repeat after window rejected")
	}
}

func TestWindowDistinguishesTriples(t *testing.T) {
	w := NewWindow(0, 0)
	now := time.Unix(1_700_000_000, 0)
	for _, k := range []Key{NewKey("W1AW", "20", "CW"), NewKey("W1AW", "40", "CW"), NewKey("W1AW", "20", "PH")} {
		if !w.Allow(k, now) {
			t.Fatalf("distinct key %+v rejected", k)
		}
	}
}

func TestWindowPrunesPastHorizon(t *testing.T) {
	w := NewWindow(0, 0)
	base := time.Unix(1_700_000_000, 0)
	w.Allow(NewKey("A", "20", "CW"), base)
	w.Allow(NewKey("B", "20", "CW"), base.Add(time.Second))
	w.Allow(NewKey("C", "20", "CW"), base.Add(3500*time.Millisecond))
	if w.Len() != 2 {
		t.Fatalf("Len=%d want 2 after pruning A", w.Len())
	}
}
