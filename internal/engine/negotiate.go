package engine

import (
	"strings"

	"github.com/dkeye/huddle/internal/domain"
)

// DefaultCapabilities is what a room offers unless the engine is configured
// otherwise.
func DefaultCapabilities() domain.Capabilities {
	return domain.Capabilities{Codecs: []domain.Codec{
		{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000},
		{Kind: domain.KindVideo, MimeType: "video/H264", ClockRate: 90000},
	}}
}

func sameCodec(a, b domain.Codec) bool {
	return a.Kind == b.Kind &&
		strings.EqualFold(a.MimeType, b.MimeType) &&
		a.ClockRate == b.ClockRate
}

// MatchCodec reports whether caps contains a codec equivalent to c.
func MatchCodec(c domain.Codec, caps domain.Capabilities) bool {
	for _, cc := range caps.Codecs {
		if sameCodec(c, cc) {
			return true
		}
	}
	return false
}

// SelectCodec picks the codec a producer of kind will use: the first offered
// codec the router supports, falling back to the router's first codec of kind.
func SelectCodec(kind domain.MediaKind, offered []domain.Codec, router domain.Capabilities) (domain.Codec, bool) {
	for _, c := range offered {
		if c.Kind == kind && MatchCodec(c, router) {
			return c, true
		}
	}
	if len(offered) > 0 {
		return domain.Codec{}, false
	}
	for _, c := range router.Codecs {
		if c.Kind == kind {
			return c, true
		}
	}
	return domain.Codec{}, false
}
