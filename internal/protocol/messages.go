package protocol

import (
	"encoding/json"

	"github.com/dkeye/huddle/internal/domain"
)

type JoinRoomRequest struct {
	ConferenceID  domain.ConferenceID  `json:"conferenceId" validate:"required,max=64"`
	ParticipantID domain.ParticipantID `json:"participantId" validate:"omitempty,max=64"`
	DisplayName   string               `json:"displayName,omitempty" validate:"max=36"`
	Role          domain.Role          `json:"role,omitempty" validate:"omitempty,oneof=organizer participant viewer"`
}

type JoinRoomResponse struct {
	ParticipantID     domain.ParticipantID  `json:"participantId"`
	Capabilities      domain.Capabilities   `json:"capabilities"`
	ExistingProducers []domain.ProducerInfo `json:"existingProducers"`
	SendAllowed       bool                  `json:"sendAllowed"`
}

type CreateTransportRequest struct {
	Direction domain.Direction `json:"direction" validate:"required,oneof=send recv"`
}

type TransportDescriptor struct {
	ID        string           `json:"id"`
	Direction domain.Direction `json:"direction"`
	Params    json.RawMessage  `json:"params,omitempty"`
}

type ConnectTransportRequest struct {
	TransportID string          `json:"transportId" validate:"required"`
	Params      json.RawMessage `json:"params,omitempty"`
}

type ConnectTransportResponse struct {
	Params json.RawMessage `json:"params,omitempty"`
}

type ProduceRequest struct {
	TransportID string             `json:"transportId" validate:"required"`
	Kind        domain.MediaKind   `json:"kind" validate:"required,oneof=audio video"`
	Params      domain.MediaParams `json:"params"`
}

type ProduceResponse struct {
	ProducerID string `json:"producerId"`
}

type ConsumeRequest struct {
	TransportID  string              `json:"transportId" validate:"required"`
	ProducerID   string              `json:"producerId" validate:"required"`
	Capabilities domain.Capabilities `json:"capabilities"`
}

type ConsumerDescriptor struct {
	ID         string               `json:"id"`
	ProducerID string               `json:"producerId"`
	OwnerID    domain.ParticipantID `json:"userId"`
	Kind       domain.MediaKind     `json:"kind"`
	Paused     bool                 `json:"paused"`
	Params     json.RawMessage      `json:"params,omitempty"`
}

type ResumeConsumerRequest struct {
	ConsumerID string `json:"consumerId" validate:"required"`
}

type PauseConsumerRequest struct {
	ConsumerID string `json:"consumerId" validate:"required"`
}

type CloseProducerRequest struct {
	ProducerID string `json:"producerId" validate:"required"`
}

type PeerJoined struct {
	UserID      domain.ParticipantID `json:"userId"`
	DisplayName string               `json:"displayName,omitempty"`
	Role        domain.Role          `json:"role"`
}

type PeerLeft struct {
	UserID domain.ParticipantID `json:"userId"`
}

type StreamAvailable struct {
	ProducerID string               `json:"producerId"`
	UserID     domain.ParticipantID `json:"userId"`
	Kind       domain.MediaKind     `json:"kind"`
}

type StreamClosed struct {
	ProducerID string               `json:"producerId"`
	UserID     domain.ParticipantID `json:"userId"`
	Kind       domain.MediaKind     `json:"kind,omitempty"`
}

type FallbackDelivery struct {
	Reason string `json:"reason"`
}

type ConferenceCreated struct {
	ConferenceID domain.ConferenceID `json:"conferenceId"`
}
