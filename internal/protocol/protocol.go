// Package protocol defines the signaling message taxonomy shared by the
// service and its clients.
//
// Every frame is an Envelope. Requests carry a requestId and get exactly one
// "response" envelope whose responseId matches it. Events are unsolicited and
// carry no id.
package protocol

import (
	"encoding/json"
	"fmt"
)

type Type string

// Requests.
const (
	TypeJoinRoom         Type = "join-room"
	TypeCreateTransport  Type = "create-transport"
	TypeConnectTransport Type = "connect-transport"
	TypeProduce          Type = "produce"
	TypeConsume          Type = "consume"
	TypeResumeConsumer   Type = "resume-consumer"
	TypePauseConsumer    Type = "pause-consumer"
	TypeCloseProducer    Type = "close-producer"
	TypeLeaveRoom        Type = "leave-room"
	TypePing             Type = "ping"
)

const TypeResponse Type = "response"

// Server-initiated events.
const (
	TypePeerJoined        Type = "peer-joined"
	TypePeerLeft          Type = "peer-left"
	TypeStreamAvailable   Type = "stream-available"
	TypeStreamClosed      Type = "stream-closed"
	TypeFallbackDelivery  Type = "fallback-delivery"
	TypeConferenceCreated Type = "conference-created"
)

func (t Type) IsRequest() bool {
	switch t {
	case TypeJoinRoom, TypeCreateTransport, TypeConnectTransport, TypeProduce,
		TypeConsume, TypeResumeConsumer, TypePauseConsumer, TypeCloseProducer, TypeLeaveRoom, TypePing:
		return true
	}
	return false
}

func (t Type) IsEvent() bool {
	switch t {
	case TypePeerJoined, TypePeerLeft, TypeStreamAvailable, TypeStreamClosed,
		TypeFallbackDelivery, TypeConferenceCreated:
		return true
	}
	return false
}

type Envelope struct {
	Type       Type            `json:"type"`
	RequestID  string          `json:"requestId,omitempty"`
	ResponseID string          `json:"responseId,omitempty"`
	OK         *bool           `json:"ok,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      *Error          `json:"error,omitempty"`
}

func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v. A missing payload leaves v
// untouched.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

func marshalData(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func NewRequest(t Type, requestID string, data any) ([]byte, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, RequestID: requestID, Data: raw})
}

func NewEvent(t Type, data any) ([]byte, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Data: raw})
}

func NewResponse(requestID string, data any) ([]byte, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	ok := true
	return json.Marshal(Envelope{Type: TypeResponse, ResponseID: requestID, OK: &ok, Data: raw})
}

func NewErrorResponse(requestID string, perr *Error) ([]byte, error) {
	ok := false
	return json.Marshal(Envelope{Type: TypeResponse, ResponseID: requestID, OK: &ok, Error: perr})
}

// Succeeded reports whether a response envelope carries ok=true.
func (e Envelope) Succeeded() bool {
	return e.OK != nil && *e.OK && e.Error == nil
}
