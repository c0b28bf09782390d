package domain

import (
	"errors"
	"strings"
)

const MaxConferenceIDLen = 64

var ErrConferenceIDInvalid = errors.New("invalid conference id")

type ConferenceID string

func (id ConferenceID) Validate() error {
	if len(id) == 0 || len(id) > MaxConferenceIDLen || strings.TrimSpace(string(id)) != string(id) {
		return ErrConferenceIDInvalid
	}
	return nil
}

type RoomInfo struct {
	ConferenceID ConferenceID `json:"conferenceId"`
	PeerCount    int          `json:"peerCount"`
}
