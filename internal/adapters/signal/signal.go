// Package signal serves the signaling protocol over websockets: one read pump
// and one write pump per connection, requests dispatched to the orchestrator.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

type Options struct {
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	ReadLimit    int64
	SendBuffer   int
	MessageRate  float64
	MessageBurst int
	JoinLimit    int
	JoinInterval time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PingPeriod:   cfg.PingPeriod,
		PongWait:     cfg.PongWait(),
		WriteWait:    cfg.WriteWait,
		ReadLimit:    cfg.ReadLimit,
		SendBuffer:   cfg.SendBuffer,
		MessageRate:  cfg.Rate.MessagesPerSecond,
		MessageBurst: cfg.Rate.Burst,
		JoinLimit:    cfg.JoinRate.Limit,
		JoinInterval: cfg.JoinRate.Interval,
	}
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	opts Options

	joins    *JoinRateLimiter
	validate *validator.Validate
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 3 * opts.PingPeriod
	}
	if opts.JoinLimit <= 0 {
		opts.JoinLimit = 5
	}
	if opts.JoinInterval <= 0 {
		opts.JoinInterval = 10 * time.Second
	}
	return &SignalWSController{
		Orch:     o,
		opts:     opts,
		joins:    NewJoinRateLimiter(opts.JoinLimit, opts.JoinInterval),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the connection until it ends.
// The client token cookie is the participant id used when a join names none.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	token := domain.ParticipantID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, token, conn, cancel)

	go ctl.writePump(ctx, sid, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
