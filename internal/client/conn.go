// Package client is the participant side of the signaling protocol: a
// websocket connection with request correlation, and the reconciliation engine
// that keeps the local media pipeline in step with room events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/protocol"
)

var ErrClosed = errors.New("client: connection closed")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

// Signaler issues requests and returns the response data. Conn implements it.
type Signaler interface {
	Request(ctx context.Context, t protocol.Type, data any) (json.RawMessage, error)
}

// Conn is one signaling connection. Responses are routed to the waiting
// request; events go to the handler set with OnEvent.
type Conn struct {
	ws       *websocket.Conn
	corr     *Correlator
	outgoing chan []byte

	mu      sync.RWMutex
	onEvent func(protocol.Envelope)

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the signaling endpoint at url, for example
// ws://localhost:8080/api/ws/signal.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	c := &Conn{
		ws:       ws,
		corr:     NewCorrelator(DefaultGrace),
		outgoing: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// OnEvent sets the handler for server events. It runs on the read goroutine
// and must not block.
func (c *Conn) OnEvent(fn func(protocol.Envelope)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

func (c *Conn) Request(ctx context.Context, t protocol.Type, data any) (json.RawMessage, error) {
	return c.RequestThen(ctx, t, data, nil)
}

// RequestThen is Request with a hook that runs on the read goroutine when the
// request succeeds, before any event that follows the response is delivered.
func (c *Conn) RequestThen(ctx context.Context, t protocol.Type, data any, then func(json.RawMessage)) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	call, err := c.corr.Start(then)
	if err != nil {
		return nil, err
	}
	frame, err := protocol.NewRequest(t, call.ID, data)
	if err != nil {
		c.corr.Cancel(call)
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	select {
	case c.outgoing <- frame:
	case <-c.done:
		c.corr.Cancel(call)
		return nil, ErrClosed
	case <-ctx.Done():
		c.corr.Cancel(call)
		return nil, ctx.Err()
	}
	return c.corr.Wait(ctx, call)
}

func (c *Conn) readPump() {
	defer func() {
		c.shutdown()
		c.corr.FailAll(ErrClosed)
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "client").Msg("read pump done")
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame dropped")
			continue
		}
		if env.Type == protocol.TypeResponse {
			c.corr.Resolve(env)
			continue
		}
		if !env.Type.IsEvent() {
			log.Warn().Str("module", "client").Str("type", string(env.Type)).Msg("unexpected frame dropped")
			continue
		}
		c.mu.RLock()
		fn := c.onEvent
		c.mu.RUnlock()
		if fn != nil {
			fn(env)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.outgoing:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Close() error {
	c.shutdown()
	return nil
}
