package solarmanv5

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseGateDeliversToAwaiter(t *testing.T) {
	g := newResponseGate()
	ch, err := g.register()
	require.NoError(t, err)

	ok := g.deliver(gateResult{frame: []byte{0x01}})
	assert.True(t, ok)

	result := <-ch
	assert.Equal(t, []byte{0x01}, result.frame)
}

func TestResponseGateDropsUnsolicited(t *testing.T) {
	g := newResponseGate()
	// No awaiter registered: delivery is a no-op.
	ok := g.deliver(gateResult{frame: []byte{0x01}})
	assert.False(t, ok)
}

func TestResponseGateRendezvousIdempotence(t *testing.T) {
	g := newResponseGate()
	ch, err := g.register()
	require.NoError(t, err)

	first := g.deliver(gateResult{frame: []byte{0xAA}})
	second := g.deliver(gateResult{frame: []byte{0xBB}})

	assert.True(t, first)
	assert.False(t, second)

	result := <-ch
	assert.Equal(t, []byte{0xAA}, result.frame)
}

func TestResponseGateRejectsDoubleRegistration(t *testing.T) {
	g := newResponseGate()
	_, err := g.register()
	require.NoError(t, err)

	_, err = g.register()
	assert.ErrorIs(t, err, errAwaiterAlreadyRegistered)
}

func TestResponseGateCancelClearsSlot(t *testing.T) {
	g := newResponseGate()
	ch, err := g.register()
	require.NoError(t, err)

	g.cancel(ch)

	// The slot is free again: a fresh registration must succeed.
	_, err = g.register()
	assert.NoError(t, err)
}

func TestResponseGateCloseAwaitingDeliversChannelClosed(t *testing.T) {
	g := newResponseGate()
	ch, err := g.register()
	require.NoError(t, err)

	g.closeAwaiting()

	result := <-ch
	require.Error(t, result.err)
	var se *Error
	require.ErrorAs(t, result.err, &se)
	assert.Equal(t, KindChannelClosed, se.Kind)
}
