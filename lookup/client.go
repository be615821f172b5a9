// Package lookup resolves callsigns to coordinates through an XML callbook
// service speaking the QRZ XML protocol. One session key is shared by every
// caller and refreshed on expiry or when the service rejects it.
package lookup

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	DefaultURL        = "https://xmldata.qrz.com/xml/current/"
	DefaultAgent      = "n3fjpmap"
	DefaultTimeout    = 5 * time.Second
	DefaultSessionTTL = 24 * time.Hour

	maxResponseBytes = 64 << 10
	breakerTrips     = 5
)

var (
	// ErrDisabled is returned when no callbook credentials are configured.
	ErrDisabled = errors.New("lookup: disabled")
	// ErrNotFound is returned when the callbook has no usable record for a call.
	ErrNotFound = errors.New("lookup: not found")
	// ErrSession is returned when the service rejects the session key or login.
	ErrSession = errors.New("lookup: session rejected")
)

// Config holds callbook credentials and endpoint settings.
type Config struct {
	Username   string
	Password   string
	Agent      string
	URL        string
	Timeout    time.Duration
	SessionTTL time.Duration
}

// Result is the subset of a callbook record used for map placement.
type Result struct {
	Call    string
	Lat     float64
	Lon     float64
	Grid    string
	Country string
	State   string
}

// Client is a session-caching callbook client. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Result]
	now     func() time.Time

	mu        sync.Mutex
	key       string
	expiresAt time.Time
	logins    int
}

// New builds a client. A client without username or password is returned
// disabled; every Lookup then fails with ErrDisabled.
func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if strings.TrimSpace(cfg.Agent) == "" {
		cfg.Agent = DefaultAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        "callbook",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrips
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("Lookup: circuit %s %s -> %s", name, from, to)
		},
	})
	return c
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c != nil && strings.TrimSpace(c.cfg.Username) != "" && c.cfg.Password != ""
}

// Lookup resolves call to a location. The whole operation, including any
// login, is bounded by the configured timeout.
func (c *Client) Lookup(ctx context.Context, call string) (*Result, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	call = strings.ToUpper(strings.TrimSpace(call))
	if call == "" {
		return nil, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.breaker.Execute(func() (*Result, error) {
		return c.lookupWithRetry(ctx, call)
	})
}

func (c *Client) lookupWithRetry(ctx context.Context, call string) (*Result, error) {
	key, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	res, err := c.fetch(ctx, key, call)
	if !errors.Is(err, ErrSession) {
		return res, err
	}
	// One re-login, never looped.
	c.invalidate(key)
	key, err = c.session(ctx)
	if err != nil {
		return nil, err
	}
	return c.fetch(ctx, key, call)
}

// session returns a valid key, logging in when none is cached or it expired.
// The mutex is held across login so concurrent callers wait for one login.
func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != "" && c.now().Before(c.expiresAt) {
		return c.key, nil
	}
	q := url.Values{}
	q.Set("username", c.cfg.Username)
	q.Set("password", c.cfg.Password)
	q.Set("agent", c.cfg.Agent)
	doc, err := c.get(ctx, q)
	if err != nil {
		return "", fmt.Errorf("lookup login: %w", err)
	}
	c.logins++
	key := strings.TrimSpace(doc.Session.Key)
	if key == "" {
		msg := strings.TrimSpace(doc.Session.Error)
		if msg == "" {
			msg = "no session key"
		}
		return "", fmt.Errorf("lookup login: %s: %w", msg, ErrSession)
	}
	c.key = key
	c.expiresAt = c.now().Add(c.cfg.SessionTTL)
	return key, nil
}

// invalidate clears the cached key if it is still the one that was rejected.
func (c *Client) invalidate(key string) {
	c.mu.Lock()
	if c.key == key {
		c.key = ""
		c.expiresAt = time.Time{}
	}
	c.mu.Unlock()
}

// Logins returns how many login round-trips the client has made.
func (c *Client) Logins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logins
}

func (c *Client) fetch(ctx context.Context, key, call string) (*Result, error) {
	q := url.Values{}
	q.Set("s", key)
	q.Set("callsign", call)
	doc, err := c.get(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", call, err)
	}
	if msg := strings.TrimSpace(doc.Session.Error); msg != "" {
		if isSessionError(msg) {
			return nil, fmt.Errorf("lookup %s: %s: %w", call, msg, ErrSession)
		}
		if strings.HasPrefix(strings.ToLower(msg), "not found") {
			return nil, fmt.Errorf("lookup %s: %w", call, ErrNotFound)
		}
		return nil, fmt.Errorf("lookup %s: %s", call, msg)
	}
	if doc.Callsign == nil {
		return nil, fmt.Errorf("lookup %s: %w", call, ErrNotFound)
	}
	return doc.Callsign.result(call)
}

func (c *Client) get(ctx context.Context, q url.Values) (*database, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var doc database
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &doc, nil
}

func isSessionError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "session timeout") || strings.Contains(lower, "invalid session key")
}

type database struct {
	XMLName  xml.Name       `xml:"QRZDatabase"`
	Callsign *callsignEntry `xml:"Callsign"`
	Session  sessionEntry   `xml:"Session"`
}

type sessionEntry struct {
	Key   string `xml:"Key"`
	Error string `xml:"Error"`
}

type callsignEntry struct {
	Call    string `xml:"call"`
	Lat     string `xml:"lat"`
	Lon     string `xml:"lon"`
	Grid    string `xml:"grid"`
	Country string `xml:"country"`
	State   string `xml:"state"`
}

// result converts the record. Callbook longitude is east-positive already.
func (e *callsignEntry) result(call string) (*Result, error) {
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(e.Lat), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(e.Lon), 64)
	if errLat != nil || errLon != nil {
		return nil, fmt.Errorf("lookup %s: no coordinates: %w", call, ErrNotFound)
	}
	res := &Result{
		Call:    strings.ToUpper(strings.TrimSpace(e.Call)),
		Lat:     lat,
		Lon:     lon,
		Grid:    strings.TrimSpace(e.Grid),
		Country: strings.TrimSpace(e.Country),
		State:   strings.TrimSpace(e.State),
	}
	if res.Call == "" {
		res.Call = call
	}
	return res, nil
}
