// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 64
	MaxDisplayNameLen   = 36
)

var (
	ErrParticipantIDTooLong = errors.New("participant id too long")
	ErrParticipantIDEmpty   = errors.New("participant id empty")
)

type ParticipantID string

type User struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"displayName,omitempty"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
// An empty id gets a generated one.
func NewUser(id ParticipantID, displayName string) (*User, error) {
	if id == "" {
		id = ParticipantID(uuid.NewString())
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if len(displayName) > MaxDisplayNameLen {
		displayName = displayName[:MaxDisplayNameLen]
	}
	return &User{ID: id, DisplayName: displayName}, nil
}

func (id ParticipantID) Validate() error {
	if len(id) == 0 {
		return ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return ErrParticipantIDTooLong
	}
	return nil
}
