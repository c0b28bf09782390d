package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/protocol"
)

// writePump owns every write on the socket, so frames reach the client in the
// order they were queued. It also sends the heartbeat pings.
func (ctl *SignalWSController) writePump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	var tick <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(ctl.opts.WriteWait))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("ping failed")
				return
			}
		}
	}
}

// readPump reads requests until the socket fails, the heartbeat deadline
// passes or the session is cancelled, then runs the leave cleanup.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		ctl.Orch.OnDisconnect(sid)
		c.Close()
	}()

	extend := func() {
		if ctl.opts.PongWait > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		}
	}
	extend()
	c.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	limiter := newMessageLimiter(ctl.opts.MessageRate, ctl.opts.MessageBurst)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		extend()
		if !limiter.Allow() {
			ctl.rejectRaw(sid, c, data, protocol.CodeProtocol, "rate limit exceeded")
			continue
		}
		ctl.handleSignal(ctx, sid, c, data)
	}
}

type handlerFunc func(ctx context.Context, sid core.SessionID, env protocol.Envelope) (any, error)

func (ctl *SignalWSController) handlers() map[protocol.Type]handlerFunc {
	return map[protocol.Type]handlerFunc{
		protocol.TypeJoinRoom:         ctl.handleJoin,
		protocol.TypeLeaveRoom:        ctl.handleLeave,
		protocol.TypePing:             ctl.handlePing,
		protocol.TypeCreateTransport:  ctl.handleCreateTransport,
		protocol.TypeConnectTransport: ctl.handleConnectTransport,
		protocol.TypeProduce:          ctl.handleProduce,
		protocol.TypeConsume:          ctl.handleConsume,
		protocol.TypeResumeConsumer:   ctl.handleResumeConsumer,
		protocol.TypePauseConsumer:    ctl.handlePauseConsumer,
		protocol.TypeCloseProducer:    ctl.handleCloseProducer,
	}
}

// handleSignal answers every request with exactly one response.
func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad envelope")
		ctl.rejectRaw(sid, c, data, protocol.CodeProtocol, err.Error())
		return
	}
	l := log.With().Str("module", "signal").Str("sid", string(sid)).Str("type", string(env.Type)).Str("request", env.RequestID).Logger()

	if env.RequestID == "" {
		l.Warn().Msg("request without id")
		ctl.respondErr(sid, c, "", &protocol.Error{Code: protocol.CodeProtocol, Message: "missing requestId"})
		return
	}
	handle, ok := ctl.handlers()[env.Type]
	if !ok || !env.Type.IsRequest() {
		l.Warn().Msg("unknown signal")
		ctl.respondErr(sid, c, env.RequestID, &protocol.Error{Code: protocol.CodeProtocol, Message: "unknown request type " + string(env.Type)})
		return
	}

	res, err := handle(ctx, sid, env)
	if err != nil {
		perr := protocol.ErrorFrom(err)
		if perr.Code == protocol.CodeInternal {
			l.Error().Err(err).Msg("request failed")
		} else {
			l.Debug().Err(err).Msg("request rejected")
		}
		ctl.respondErr(sid, c, env.RequestID, perr)
		return
	}
	frame, err := protocol.NewResponse(env.RequestID, res)
	if err != nil {
		l.Error().Err(err).Msg("encode response")
		ctl.respondErr(sid, c, env.RequestID, &protocol.Error{Code: protocol.CodeInternal, Message: "encode response"})
		return
	}
	if !ctl.send(sid, c, frame) {
		return
	}

	if env.Type == protocol.TypeJoinRoom {
		if resp, ok := res.(protocol.JoinRoomResponse); ok {
			ctl.Orch.AfterJoin(sid, resp)
		}
	}
}

// rejectRaw answers a frame that could not be handled, echoing its request id
// when one can be recovered.
func (ctl *SignalWSController) rejectRaw(sid core.SessionID, c *WsSignalConn, data []byte, code protocol.Code, msg string) {
	env, _ := protocol.Decode(data)
	ctl.respondErr(sid, c, env.RequestID, &protocol.Error{Code: code, Message: msg})
}

func (ctl *SignalWSController) respondErr(sid core.SessionID, c *WsSignalConn, requestID string, perr *protocol.Error) {
	frame, err := protocol.NewErrorResponse(requestID, perr)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode error response")
		return
	}
	ctl.send(sid, c, frame)
}

// send queues a response. Every request is owed one, so a connection that
// cannot take it is dropped and its client sees the close instead.
func (ctl *SignalWSController) send(sid core.SessionID, c *WsSignalConn, frame []byte) bool {
	err := c.TrySend(frame)
	if err == nil {
		return true
	}
	log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("response dropped")
	if errors.Is(err, core.ErrBackpressure) {
		ctl.Orch.Registry.Cancel(sid)
	}
	return false
}
