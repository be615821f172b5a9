// Package peer keeps one TCP connection to the logging program's API alive.
// A Supervisor dials, bootstraps the session, streams frames to a handler and
// reconnects after a fixed delay on any failure until its context ends.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"time"

	"n3fjpmap/classify"
	"n3fjpmap/frame"
	"n3fjpmap/stats"

	"golang.org/x/sync/errgroup"
)

// State is a supervisor lifecycle state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateBootstrapping State = "bootstrapping"
	StateStreaming     State = "streaming"
)

const (
	DefaultHeartbeat    = 5 * time.Second
	DefaultReconnect    = 2 * time.Second
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultPollEntries  = 25
	readChunk           = 4096
)

// Commands sent to the logging program.
const (
	CmdAPIVer      = "<CMD><APIVER></CMD>"
	CmdProgram     = "<CMD><PROGRAM></CMD>"
	CmdSetupUpdate = "<CMD><SETUPDATESTATE><VALUE>TRUE</VALUE></CMD>"
	CmdOpInfo      = classify.CmdOpInfo
)

var errPeerClosed = errors.New("peer closed the connection")

// Handler consumes frames read from the connection.
type Handler interface {
	Handle(ctx context.Context, f frame.Frame, out classify.Sender) classify.Kind
}

// Reporter receives state transitions for the status table.
type Reporter interface {
	RegisterConnection(name, addr string)
	SetConnectionState(name, state string, connected bool, err error)
}

// Settings configures one supervised connection.
type Settings struct {
	Name         string
	Host         string
	Port         int
	Heartbeat    time.Duration
	Reconnect    time.Duration
	PollInterval time.Duration
	PollEntries  int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBuffer    int
}

// Supervisor owns one logger connection.
type Supervisor struct {
	cfg      Settings
	addr     string
	handler  Handler
	reporter Reporter
	tracker  *stats.Tracker
}

// NewSupervisor builds a supervisor. reporter and tracker may be nil.
func NewSupervisor(cfg Settings, handler Handler, reporter Reporter, tracker *stats.Tracker) *Supervisor {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = DefaultReconnect
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.PollEntries <= 0 {
		cfg.PollEntries = DefaultPollEntries
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	s := &Supervisor{
		cfg:      cfg,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		handler:  handler,
		reporter: reporter,
		tracker:  tracker,
	}
	if reporter != nil {
		reporter.RegisterConnection(cfg.Name, s.addr)
	}
	return s
}

// Name returns the connection name.
func (s *Supervisor) Name() string { return s.cfg.Name }

// Run connects and reconnects until ctx is cancelled. It only returns the
// context's error.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		s.report(StateConnecting, false, nil)
		log.Printf("Peer %s: connecting to %s", s.cfg.Name, s.addr)
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.report(StateDisconnected, false, nil)
			return ctx.Err()
		}
		s.report(StateDisconnected, false, err)
		log.Printf("Peer %s: disconnected: %v (retry in %s)", s.cfg.Name, err, s.cfg.Reconnect)
		timer := time.NewTimer(s.cfg.Reconnect)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	sess := newSession(conn, s.cfg.WriteTimeout)
	// Sub-tasks are awaited before the socket closes.
	defer sess.close()

	s.report(StateBootstrapping, true, nil)
	for _, cmd := range []string{CmdAPIVer, CmdProgram, CmdSetupUpdate, CmdOpInfo} {
		if err := sess.Send(cmd); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	s.report(StateStreaming, true, nil)
	log.Printf("Peer %s: streaming from %s", s.cfg.Name, s.addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx, sess) })
	g.Go(func() error { return s.heartbeat(gctx, sess) })
	if s.cfg.PollInterval > 0 {
		g.Go(func() error { return s.poll(gctx, sess) })
	}
	g.Go(func() error {
		<-gctx.Done()
		sess.interrupt()
		return nil
	})
	return g.Wait()
}

func (s *Supervisor) readLoop(ctx context.Context, sess *session) error {
	r := frame.NewReassembler(s.cfg.MaxBuffer)
	buf := make([]byte, readChunk)
	var dropped uint64
	for {
		n, err := sess.conn.Read(buf)
		if n > 0 {
			r.Write(buf[:n])
			for {
				f, ok := r.Next()
				if !ok {
					break
				}
				s.dispatch(ctx, f, sess)
			}
			if d := r.Dropped(); d != dropped {
				dropped = d
				log.Printf("Peer %s: discarded oversized unframed buffer (drops=%d)", s.cfg.Name, d)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return errPeerClosed
			}
			if failed := sess.failure(); failed != nil {
				return failed
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// dispatch runs the handler for one frame, containing any panic to that frame.
func (s *Supervisor) dispatch(ctx context.Context, f frame.Frame, sess *session) {
	defer func() {
		if r := recover(); r != nil {
			s.tracker.IncrementHandlerPanics()
			log.Printf("Peer %s: panic handling frame %.80q: %v", s.cfg.Name, f.Text(), r)
		}
	}()
	s.handler.Handle(ctx, f, sess)
}

func (s *Supervisor) heartbeat(ctx context.Context, sess *session) error {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sess.Send(CmdAPIVer); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

func (s *Supervisor) poll(ctx context.Context, sess *session) error {
	cmd := CommandList(s.cfg.PollEntries)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := sess.Send(cmd); err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// CommandList builds the catch-up listing request for the last n entries.
func CommandList(n int) string {
	return "<CMD><LIST><INCLUDEALL></INCLUDEALL><VALUE>" + strconv.Itoa(n) + "</VALUE></CMD>"
}

func (s *Supervisor) report(state State, connected bool, err error) {
	if s.reporter != nil {
		s.reporter.SetConnectionState(s.cfg.Name, string(state), connected, err)
	}
}
