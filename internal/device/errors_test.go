package device

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesByKind(t *testing.T) {
	err := NewError(NotConnected, "link lost", nil)

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NotErrorIs(t, err, ErrReadFailed)
	assert.Equal(t, "not_connected: link lost", err.Error())
}

func TestErrorUnwrapsCause(t *testing.T) {
	err := NewError(ConnectionFailed, "", context.DeadlineExceeded)

	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "connection_error: context deadline exceeded", err.Error())
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := NewError(NotConnected, "", nil)

	assert.Same(t, inner, Wrap(ReadFailed, inner).(*Error))
	assert.Nil(t, Wrap(ReadFailed, nil))

	wrapped := Wrap(ReadFailed, errors.New("att error 0x0e"))
	assert.ErrorIs(t, wrapped, ErrReadFailed)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"sentinel", ErrOperationInProgress, OperationInProgress},
		{"wrapped with fmt", fmt.Errorf("connect: %w", ErrPermissionDenied), PermissionDenied},
		{"not found", &NotFoundError{Resource: "descriptor", UUIDs: []string{"180d", "2a37", "2902"}}, DescriptorNotFound},
		{"foreign", errors.New("boom"), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestNotFoundError(t *testing.T) {
	t.Run("service", func(t *testing.T) {
		err := &NotFoundError{Resource: "service", UUIDs: []string{"ffff"}}
		assert.Equal(t, `service "ffff" not found`, err.Error())
		assert.ErrorIs(t, err, ErrServiceNotFound)
		assert.NotErrorIs(t, err, ErrCharacteristicNotFound)
	})

	t.Run("characteristic in service", func(t *testing.T) {
		err := &NotFoundError{Resource: "characteristic", UUIDs: []string{"180f", "2a37"}}
		assert.Equal(t, `characteristic "2a37" not found in service "180f"`, err.Error())
		assert.ErrorIs(t, err, ErrCharacteristicNotFound)
	})

	t.Run("descriptor in characteristic", func(t *testing.T) {
		err := &NotFoundError{Resource: "descriptor", UUIDs: []string{"180d", "2a37", "2902"}}
		assert.Equal(t, `descriptor "2902" not found in characteristic "2a37"`, err.Error())
		assert.ErrorIs(t, err, ErrDescriptorNotFound)
	})
}

func TestOpKindFailureKind(t *testing.T) {
	assert.Equal(t, DiscoveryFailed, OpDiscover.FailureKind())
	assert.Equal(t, ReadFailed, OpReadCharacteristic.FailureKind())
	assert.Equal(t, ReadFailed, OpReadDescriptor.FailureKind())
	assert.Equal(t, WriteFailed, OpWriteCharacteristic.FailureKind())
	assert.Equal(t, WriteFailed, OpWriteDescriptor.FailureKind())
	assert.Equal(t, WriteFailed, OpSetNotify.FailureKind())
}

func TestPropertyString(t *testing.T) {
	assert.Equal(t, "read,notify", (PropRead | PropNotify).String())
	assert.Equal(t, "", Property(0).String())
	assert.True(t, (PropRead | PropWrite).Has(PropWrite))
	assert.False(t, PropRead.Has(PropWrite))
}

func TestParseProperties(t *testing.T) {
	p, err := ParseProperties("read, Notify,write-without-response")
	require.NoError(t, err)
	assert.Equal(t, PropRead|PropNotify|PropWriteWithoutResponse, p)

	p, err = ParseProperties("")
	require.NoError(t, err)
	assert.Equal(t, Property(0), p)

	round, err := ParseProperties((PropIndicate | PropWrite).String())
	require.NoError(t, err)
	assert.Equal(t, PropIndicate|PropWrite, round)

	_, err = ParseProperties("read,teleport")
	assert.ErrorContains(t, err, "teleport")
}
