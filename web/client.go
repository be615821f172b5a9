package web

import (
	"log"
	"sync"
	"time"

	"n3fjpmap/event"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendQueue      = 256
)

// client is one WebSocket subscriber. The hub enqueues envelopes through
// Send; writePump drains them to the socket.
type client struct {
	conn *websocket.Conn
	send chan event.Envelope
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan event.Envelope, sendQueue),
		done: make(chan struct{}),
	}
}

// Send enqueues env without blocking. A full queue closes the client and
// reports false so the hub drops it.
func (c *client) Send(env event.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		c.stop()
		return false
	}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// readPump discards client messages and keeps the read deadline fresh on pongs.
func (c *client) readPump() {
	defer c.stop()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Web: websocket read: %v", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case env := <-c.send:
			payload, err := json.Marshal(env)
			if err != nil {
				log.Printf("Web: encode %s envelope: %v", env.Type, err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.stop()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		}
	}
}
