package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/protocol"
)

// decodeRequest unmarshals and validates a request payload. Both failures are
// protocol errors.
func (ctl *SignalWSController) decodeRequest(env protocol.Envelope, v any) error {
	if err := env.DecodeData(v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrProtocol, err)
	}
	if err := ctl.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: invalid %s: %v", core.ErrProtocol, env.Type, err)
	}
	return nil
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, sid core.SessionID, env protocol.Envelope) (any, error) {
	var req protocol.JoinRoomRequest
	if err := ctl.decodeRequest(env, &req); err != nil {
		return nil, err
	}

	key := req.ParticipantID
	if key == "" {
		_, key, _ = ctl.Orch.Registry.Signal(sid)
	}
	if !ctl.joins.Allow(key) {
		return nil, fmt.Errorf("%w: too many joins, retry later", core.ErrProtocol)
	}
	return ctl.Orch.Join(ctx, sid, req)
}

func (ctl *SignalWSController) handleLeave(_ context.Context, sid core.SessionID, _ protocol.Envelope) (any, error) {
	ctl.Orch.Leave(sid)
	return nil, nil
}

func (ctl *SignalWSController) handlePing(context.Context, core.SessionID, protocol.Envelope) (any, error) {
	return nil, nil
}
