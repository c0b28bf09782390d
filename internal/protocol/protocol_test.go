package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/core"
)

func TestResponseEnvelope(t *testing.T) {
	b, err := NewResponse("r1", ProduceResponse{ProducerID: "p1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"response","responseId":"r1","ok":true,"data":{"producerId":"p1"}}`, string(b))

	env, err := Decode(b)
	require.NoError(t, err)
	assert.True(t, env.Succeeded())
	var out ProduceResponse
	require.NoError(t, env.DecodeData(&out))
	assert.Equal(t, "p1", out.ProducerID)
}

func TestErrorResponseKeepsOkFalse(t *testing.T) {
	b, err := NewErrorResponse("r2", ErrorFrom(fmt.Errorf("consume: %w", core.ErrCapabilityMismatch)))
	require.NoError(t, err)

	env, err := Decode(b)
	require.NoError(t, err)
	require.NotNil(t, env.OK)
	assert.False(t, env.Succeeded())
	assert.Equal(t, CodeCapabilityMismatch, env.Error.Code)
	assert.ErrorIs(t, env.Error, core.ErrCapabilityMismatch)
}

func TestErrorFrom(t *testing.T) {
	cases := map[Code]error{
		CodeNotFound:           fmt.Errorf("x: %w", core.ErrNotFound),
		CodeForbidden:          core.ErrForbidden,
		CodeProtocol:           core.ErrProtocol,
		CodeCapabilityMismatch: core.ErrCapabilityMismatch,
		CodeInternal:           errors.New("boom"),
	}
	for code, err := range cases {
		assert.Equal(t, code, ErrorFrom(err).Code, "for %v", err)
	}
	assert.ErrorIs(t, &Error{Code: CodeForbidden}, core.ErrProtocol)
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"requestId":"1"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestTypeClassification(t *testing.T) {
	assert.True(t, TypeConsume.IsRequest())
	assert.False(t, TypeConsume.IsEvent())
	assert.True(t, TypeStreamClosed.IsEvent())
	assert.False(t, TypeResponse.IsRequest())
	assert.True(t, TypePauseConsumer.IsRequest())
	assert.False(t, TypePeerJoined.IsRequest())
}
