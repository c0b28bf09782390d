package domain

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == KindAudio || k == KindVideo }

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// TransportState follows new -> connecting -> connected -> failed|closed|disconnected.
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportFailed       TransportState = "failed"
	TransportDisconnected TransportState = "disconnected"
	TransportClosed       TransportState = "closed"
)

// Terminal reports whether the transport can no longer carry media.
func (s TransportState) Terminal() bool {
	return s == TransportFailed || s == TransportClosed
}

type Codec struct {
	Kind      MediaKind `json:"kind"`
	MimeType  string    `json:"mimeType"`
	ClockRate uint32    `json:"clockRate"`
	Channels  uint16    `json:"channels,omitempty"`
}

// Capabilities is the set of codecs one side can send or receive.
type Capabilities struct {
	Codecs []Codec `json:"codecs"`
}

func (c Capabilities) Empty() bool { return len(c.Codecs) == 0 }

// MediaParams describes an outbound stream at produce time.
type MediaParams struct {
	TrackID string  `json:"trackId,omitempty"`
	Codecs  []Codec `json:"codecs,omitempty"`
}

// ProducerInfo is the snapshot of a producer other peers can consume.
type ProducerInfo struct {
	ProducerID string        `json:"producerId"`
	OwnerID    ParticipantID `json:"userId"`
	Kind       MediaKind     `json:"kind"`
}
