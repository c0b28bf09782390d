package signal

import (
	"context"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/protocol"
)

func (ctl *SignalWSController) handleCreateTransport(ctx context.Context, sid core.SessionID, env protocol.Envelope) (any, error) {
	var req protocol.CreateTransportRequest
	if err := ctl.decodeRequest(env, &req); err != nil {
		return nil, err
	}
	return ctl.Orch.CreateTransport(ctx, sid, req.Direction)
}

func (ctl *SignalWSController) handleConnectTransport(ctx context.Context, sid core.SessionID, env protocol.Envelope) (any, error) {
	var req protocol.ConnectTransportRequest
	if err := ctl.decodeRequest(env, &req); err != nil {
		return nil, err
	}
	params, err := ctl.Orch.ConnectTransport(ctx, sid, req.TransportID, req.Params)
	if err != nil {
		return nil, err
	}
	return protocol.ConnectTransportResponse{Params: params}, nil
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, sid core.SessionID, env protocol.Envelope) (any, error) {
	var req protocol.ProduceRequest
	if err := ctl.decodeRequest(env, &req); err != nil {
		return nil, err
	}
	id, err := ctl.Orch.Produce(ctx, sid, req.TransportID, req.Kind, req.Params)
	if err != nil {
		return nil, err
	}
	return protocol.ProduceResponse{ProducerID: id}, nil
}

func (ctl *SignalWSController) handleConsume(ctx context.Context, sid core.SessionID, env protocol.Envelope) (any, error) {
	var req protocol.ConsumeRequest
	if err := ctl.decodeRequest(env, &req); err != nil {
		return nil, err
	}
	return ctl.Orch.Consume(ctx, sid, req.TransportID, req.ProducerID, req.Capabilities)
}

func (ctl *SignalWSController) handleResumeConsumer(ctx context.Context, sid core.SessionID, env protocol.Envelope) (any, error) {
	var req protocol.ResumeConsumerRequest
	if err := ctl.decodeRequest(env, &req); err != nil {
		return nil, err
	}
	return nil, ctl.Orch.ResumeConsumer(ctx, sid, req.ConsumerID)
}

func (ctl *SignalWSController) handlePauseConsumer(ctx context.Context, sid core.SessionID, env protocol.Envelope) (any, error) {
	var req protocol.PauseConsumerRequest
	if err := ctl.decodeRequest(env, &req); err != nil {
		return nil, err
	}
	return nil, ctl.Orch.PauseConsumer(ctx, sid, req.ConsumerID)
}

func (ctl *SignalWSController) handleCloseProducer(ctx context.Context, sid core.SessionID, env protocol.Envelope) (any, error) {
	var req protocol.CloseProducerRequest
	if err := ctl.decodeRequest(env, &req); err != nil {
		return nil, err
	}
	return nil, ctl.Orch.CloseProducer(ctx, sid, req.ProducerID)
}
