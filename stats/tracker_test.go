package stats

import (
	"strings"
	"sync"
	"testing"
)

func TestRecordFrameCounts(t *testing.T) {
	tr := NewTracker()
	tr.RecordFrame("main", "contact")
	tr.RecordFrame("main", "contact")
	tr.RecordFrame("run2", "unknown")

	if got := tr.Kind("contact"); got != 2 {
		t.Fatalf("contact=%d want 2", got)
	}
	if got := tr.Total(); got != 3 {
		t.Fatalf("Total=%d want 3", got)
	}
	if got := tr.ConnectionKindCounts()["run2|unknown"]; got != 1 {
		t.Fatalf("run2|unknown=%d want 1", got)
	}
}

func TestRecordFrameConcurrent(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.RecordFrame("main", "status")
			}
		}()
	}
	wg.Wait()
	if got := tr.Kind("status"); got != 800 {
		t.Fatalf("status=%d want 800", got)
	}
}

func TestSnapshotLinesSorted(t *testing.T) {
	tr := NewTracker()
	tr.RecordFrame("b", "version")
	tr.RecordFrame("a", "contact")
	lines := tr.SnapshotLines()
	if !strings.HasPrefix(lines[0], "Frames by kind: contact=1, version=1") {
		t.Fatalf("unexpected line %q", lines[0])
	}
	empty := NewTracker().SnapshotLines()
	if !strings.HasSuffix(empty[0], "(none)") {
		t.Fatalf("empty tracker line %q", empty[0])
	}
}
