package handler

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/remotecast/relay-server-go/internal/config"
)

var (
	errConnClosed    = errors.New("connection closed")
	errSendQueueFull = errors.New("send queue full")
)

const (
	shutdownNone int32 = iota
	shutdownGraceful
	shutdownTerminate
)

// wsConn is the store's Peer for one WebSocket. The read loop belongs to the
// handler; every write goes through writePump so the socket has a single
// writer.
type wsConn struct {
	id string
	ws *websocket.Conn

	send chan []byte
	ping chan struct{}
	done chan struct{}

	closeOnce sync.Once
	shutdown  atomic.Int32
	alive     atomic.Bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, config.SendQueueSize),
		ping: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	c.alive.Store(true)
	ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	return c
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return errSendQueueFull
	}
}

// Close flushes what is already queued, sends a normal close frame and
// closes the socket.
func (c *wsConn) Close() {
	c.stop(shutdownGraceful)
}

// Terminate closes the socket immediately.
func (c *wsConn) Terminate() {
	c.stop(shutdownTerminate)
	_ = c.ws.Close()
}

func (c *wsConn) Probe() bool {
	if !c.alive.Swap(false) {
		return false
	}
	select {
	case c.ping <- struct{}{}:
	default:
	}
	return true
}

func (c *wsConn) stop(mode int32) {
	c.closeOnce.Do(func() {
		c.shutdown.Store(mode)
		close(c.done)
	})
}

func (c *wsConn) writePump() {
	defer c.ws.Close()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				log.Debug().Err(err).Str("connId", c.id).Msg("websocket write failed")
				c.Terminate()
				return
			}

		case <-c.ping:
			deadline := time.Now().Add(config.WriteWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Str("connId", c.id).Msg("websocket ping failed")
				c.Terminate()
				return
			}

		case <-c.done:
			if c.shutdown.Load() == shutdownGraceful {
				c.flush()
				deadline := time.Now().Add(config.WriteWait)
				_ = c.ws.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					deadline,
				)
			}
			return
		}
	}
}

func (c *wsConn) flush() {
	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(payload []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(config.WriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}
