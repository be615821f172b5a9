package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCallbook struct {
	logins    atomic.Int32
	lookups   atomic.Int32
	mu        sync.Mutex
	validKey  string
	nextKey   int
	rejectAll bool
}

func (f *fakeCallbook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	w.Header().Set("Content-Type", "text/xml")
	if q.Get("username") != "" {
		f.logins.Add(1)
		if q.Get("password") != "secret" {
			fmt.Fprint(w, `<QRZDatabase><Session><Error>Username/password incorrect</Error></Session></QRZDatabase>`)
			return
		}
		f.mu.Lock()
		f.nextKey++
		f.validKey = fmt.Sprintf("key%d", f.nextKey)
		key := f.validKey
		f.mu.Unlock()
		fmt.Fprintf(w, `<QRZDatabase><Session><Key>%s</Key></Session></QRZDatabase>`, key)
		return
	}
	f.lookups.Add(1)
	f.mu.Lock()
	valid := q.Get("s") == f.validKey && !f.rejectAll
	f.mu.Unlock()
	if !valid {
		fmt.Fprint(w, `<QRZDatabase><Session><Error>Invalid session key</Error></Session></QRZDatabase>`)
		return
	}
	switch q.Get("callsign") {
	case "W1AW":
		fmt.Fprint(w, `<QRZDatabase><Callsign><call>W1AW</call><lat>41.714775</lat><lon>-72.727260</lon><grid>FN31pr</grid><country>United States</country><state>CT</state></Callsign><Session><Key>x</Key></Session></QRZDatabase>`)
	default:
		fmt.Fprintf(w, `<QRZDatabase><Session><Error>Not found: %s</Error></Session></QRZDatabase>`, q.Get("callsign"))
	}
}

func newTestClient(t *testing.T, fake *fakeCallbook, password string) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Config{Username: "n0call", Password: password, URL: srv.URL})
}

func TestLookupReusesSession(t *testing.T) {
	fake := &fakeCallbook{}
	c := newTestClient(t, fake, "secret")

	for i := 0; i < 3; i++ {
		res, err := c.Lookup(context.Background(), "w1aw")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if res.Lat != 41.714775 || res.Lon != -72.72726 || res.Grid != "FN31pr" {
			t.Fatalf("unexpected result %+v", res)
		}
	}
	if got := fake.logins.Load(); got != 1 {
		t.Fatalf("logins=%d want 1", got)
	}
}

func TestLookupDisabledWithoutCredentials(t *testing.T) {
	c := New(Config{})
	if _, err := c.Lookup(context.Background(), "W1AW"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestLookupNotFound(t *testing.T) {
	fake := &fakeCallbook{}
	c := newTestClient(t, fake, "secret")
	if _, err := c.Lookup(context.Background(), "ZZ9ZZZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupReloginOnceOnInvalidSession(t *testing.T) {
	fake := &fakeCallbook{}
	c := newTestClient(t, fake, "secret")
	if _, err := c.Lookup(context.Background(), "W1AW"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	// Server forgets the key; client must log in again exactly once.
	fake.mu.Lock()
	fake.validKey = "rotated"
	fake.mu.Unlock()
	if _, err := c.Lookup(context.Background(), "W1AW"); err != nil {
		t.Fatalf("Lookup after rotation: %v", err)
	}
	if got := fake.logins.Load(); got != 2 {
		t.Fatalf("logins=%d want 2", got)
	}
}

func TestLookupSessionRejectedIsNotLooped(t *testing.T) {
	fake := &fakeCallbook{rejectAll: true}
	c := newTestClient(t, fake, "secret")
	_, err := c.Lookup(context.Background(), "W1AW")
	if !errors.Is(err, ErrSession) {
		t.Fatalf("expected ErrSession, got %v", err)
	}
	if got := fake.logins.Load(); got != 2 {
		t.Fatalf("logins=%d want 2", got)
	}
	if got := fake.lookups.Load(); got != 2 {
		t.Fatalf("lookups=%d want 2", got)
	}
}

func TestLoginFailure(t *testing.T) {
	fake := &fakeCallbook{}
	c := newTestClient(t, fake, "wrong")
	if _, err := c.Lookup(context.Background(), "W1AW"); !errors.Is(err, ErrSession) {
		t.Fatalf("expected ErrSession, got %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	fake := &fakeCallbook{}
	c := newTestClient(t, fake, "secret")
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	if _, err := c.Lookup(context.Background(), "W1AW"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	now = now.Add(DefaultSessionTTL + time.Second)
	if _, err := c.Lookup(context.Background(), "W1AW"); err != nil {
		t.Fatalf("Lookup after expiry: %v", err)
	}
	if got := c.Logins(); got != 2 {
		t.Fatalf("logins=%d want 2", got)
	}
}

func TestConcurrentLookupsLoginOnce(t *testing.T) {
	fake := &fakeCallbook{}
	c := newTestClient(t, fake, "secret")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Lookup(context.Background(), "W1AW"); err != nil {
				t.Errorf("Lookup: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := fake.logins.Load(); got != 1 {
		t.Fatalf("logins=%d want 1", got)
	}
}
