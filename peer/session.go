package peer

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var errSessionClosed = errors.New("peer: session closed")

// session is one established connection. Writes from the read loop, the
// heartbeat and the poller are serialized by writeMu.
type session struct {
	conn         net.Conn
	writer       *bufio.Writer
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closed       bool
	failErr      error
	closeOnce    sync.Once
}

func newSession(conn net.Conn, writeTimeout time.Duration) *session {
	return &session{conn: conn, writer: bufio.NewWriter(conn), writeTimeout: writeTimeout}
}

// Send writes one command followed by CRLF under a write deadline. A failed
// write interrupts the read loop so the supervisor reconnects.
func (s *session) Send(cmd string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if s.failErr != nil {
		return s.failErr
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := s.writer.WriteString(cmd + "\r\n"); err != nil {
		return s.failLocked(err)
	}
	if err := s.writer.Flush(); err != nil {
		return s.failLocked(err)
	}
	return nil
}

func (s *session) failLocked(err error) error {
	s.failErr = fmt.Errorf("write: %w", err)
	_ = s.conn.SetReadDeadline(time.Now())
	return s.failErr
}

func (s *session) failure() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.failErr
}

// interrupt unblocks a pending read without closing the socket.
func (s *session) interrupt() {
	_ = s.conn.SetReadDeadline(time.Now())
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.closed = true
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}
