package solarmanv5

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigWithDefaults(t *testing.T) {
	c := Config{Host: "192.168.1.50", LoggerSerial: 12345}.WithDefaults()

	assert.Equal(t, DefaultPort, c.Port)
	assert.Equal(t, DefaultTimeout, c.Timeout)
	assert.Equal(t, DefaultRetries, c.Retries)
	if assert.NotNil(t, c.IdleTimeout) {
		assert.Equal(t, DefaultIdleTimeout, *c.IdleTimeout)
	}
	assert.Equal(t, "192.168.1.50:8899", c.Address())
}

func TestConfigExplicitIdleTimeoutDisabled(t *testing.T) {
	zero := time.Duration(0)
	c := Config{Host: "h", IdleTimeout: &zero}.WithDefaults()

	assert.False(t, c.idleWatchdogEnabled())
}

func TestConfigDoesNotMutateReceiver(t *testing.T) {
	original := Config{Host: "h"}
	_ = original.WithDefaults()
	assert.Equal(t, 0, original.Port)
	assert.Nil(t, original.IdleTimeout)
}

func TestReconnectPolicyConstructors(t *testing.T) {
	assert.Equal(t, "disabled", ReconnectDisabled().String())
	assert.Equal(t, "immediate", ReconnectImmediate().String())

	exp := ReconnectExponential(time.Second, 30*time.Second)
	assert.Contains(t, exp.String(), "exponential")
}

func TestClientStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "disconnecting", Disconnecting.String())
}
