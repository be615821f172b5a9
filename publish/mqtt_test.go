package publish

import (
	"context"
	"sync"
	"testing"
	"time"

	"n3fjpmap/event"
)

type published struct {
	topic    string
	retained bool
	payload  string
}

func TestRunPublishesUnderTypedTopics(t *testing.T) {
	p := NewPublisher("localhost", 1883, "n3fjpmap/events/", "test")
	var (
		mu  sync.Mutex
		got []published
	)
	p.publish = func(topic string, retained bool, payload []byte) error {
		mu.Lock()
		got = append(got, published{topic, retained, string(payload)})
		mu.Unlock()
		return nil
	}

	p.Send(event.Envelope{Type: event.TypePath, Data: event.Path{ID: 1, Meta: event.Meta{Call: "W1AW"}}})
	p.Send(event.Envelope{Type: event.TypeSectionsWorked, Data: []string{"CT"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("published %d messages, want 2", len(got))
	}
	if got[0].topic != "n3fjpmap/events/path" || got[0].retained {
		t.Fatalf("unexpected path publish %+v", got[0])
	}
	if got[1].topic != "n3fjpmap/events/sections_worked" || !got[1].retained || got[1].payload != `["CT"]` {
		t.Fatalf("unexpected sections publish %+v", got[1])
	}
}

func TestSendNeverRejectsOnFullQueue(t *testing.T) {
	p := NewPublisher("localhost", 1883, "base", "test")
	p.queue = make(chan event.Envelope, 1)
	if !p.Send(event.Envelope{Type: event.TypePath}) {
		t.Fatal("first send rejected")
	}
	if !p.Send(event.Envelope{Type: event.TypePath}) {
		t.Fatal("overflow send should still report true")
	}
	if p.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", p.Dropped())
	}
}

func TestTopicWithoutBase(t *testing.T) {
	p := NewPublisher("localhost", 1883, "", "test")
	if got := p.topicFor(event.TypeStatus); got != "status" {
		t.Fatalf("topic = %q", got)
	}
}
