package solarmanv5

import (
	"fmt"
	"time"
)

// ClientState is one of the four states of the connection lifecycle state
// machine.
type ClientState int

const (
	Disconnected ClientState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ClientState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("ClientState(%d)", int(s))
	}
}

// reconnectKind selects one of the three reconnection strategies.
type reconnectKind int

const (
	reconnectDisabled reconnectKind = iota
	reconnectImmediate
	reconnectExponential
)

// ReconnectPolicy configures what happens when a request needs the
// transport connected and it is not. The zero value is ReconnectDisabled().
type ReconnectPolicy struct {
	kind    reconnectKind
	Initial time.Duration
	Max     time.Duration
}

// ReconnectDisabled never reconnects transparently: NotConnected is
// returned without any I/O.
func ReconnectDisabled() ReconnectPolicy {
	return ReconnectPolicy{kind: reconnectDisabled}
}

// ReconnectImmediate attempts Connect() once per request attempt, with no
// delay and no backoff growth.
func ReconnectImmediate() ReconnectPolicy {
	return ReconnectPolicy{kind: reconnectImmediate}
}

// ReconnectExponential makes a first connection attempt at once, then
// sleeps for a growing delay (starting at initial, capped at max, doubling
// after every failed attempt) before each further attempt.
func ReconnectExponential(initial, max time.Duration) ReconnectPolicy {
	return ReconnectPolicy{kind: reconnectExponential, Initial: initial, Max: max}
}

func (p ReconnectPolicy) String() string {
	switch p.kind {
	case reconnectDisabled:
		return "disabled"
	case reconnectImmediate:
		return "immediate"
	case reconnectExponential:
		return fmt.Sprintf("exponential(initial=%s, max=%s)", p.Initial, p.Max)
	default:
		return "unknown"
	}
}

// Default configuration values.
const (
	DefaultPort        = 8899
	DefaultTimeout     = 60 * time.Second
	DefaultRetries     = 3
	DefaultIdleTimeout = 60 * time.Second
)

// Config is the client's immutable configuration record. Configuration is
// entirely in-process: there are no environment variables, no persisted
// state, and no config files read by this package.
type Config struct {
	// Host and Port identify the data-logging stick's TCP endpoint.
	// Port defaults to DefaultPort (8899) when zero.
	Host string
	Port int

	// LoggerSerial is the logging stick's serial number, placed in every
	// V5 envelope.
	LoggerSerial uint32

	// UnitID is the Modbus RTU unit (slave) id used for requests issued
	// directly against this Client. WithUnitID returns a view targeting a
	// different unit id sharing the same transport.
	UnitID byte

	// Timeout bounds one request/response exchange end-to-end. Defaults
	// to DefaultTimeout when zero.
	Timeout time.Duration

	// Retries is the number of additional attempts after the first one
	// fails with a retryable error. Defaults to DefaultRetries (3) when
	// zero, matching Port/Timeout's zero-means-default convention.
	Retries int

	// IdleTimeout is nullable: nil means "apply DefaultIdleTimeout",
	// a non-nil pointer to zero means "disabled" (no idle watchdog), and
	// any other non-nil value is used as-is. WithDefaults normalizes a
	// nil IdleTimeout to DefaultIdleTimeout.
	IdleTimeout *time.Duration

	// Reconnect selects the reconnection strategy consulted at the start
	// of each request attempt when the client is not Connected. The zero
	// value is ReconnectDisabled.
	Reconnect ReconnectPolicy

	// V5ErrorCorrection enables the double-CRC corrector (component D)
	// as a salvage step when the embedded Modbus RTU frame's CRC fails to
	// validate.
	V5ErrorCorrection bool

	// PowerOnTimeFunc, if set, supplies the power-on-time header field
	// instead of the fixed zero used by default (grounded in
	// evcc-io/evcc's time.Now().Unix() stamp). Most callers should leave
	// this nil.
	PowerOnTimeFunc func() uint32
}

// WithDefaults returns a copy of c with zero-valued fields replaced by the
// documented defaults. It does not mutate c.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries == 0 {
		c.Retries = DefaultRetries
	}
	if c.IdleTimeout == nil {
		d := DefaultIdleTimeout
		c.IdleTimeout = &d
	}
	return c
}

// Address returns the "host:port" dial string for this configuration.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// idleWatchdogEnabled reports whether the idle watchdog should run at all
// for this configuration.
func (c Config) idleWatchdogEnabled() bool {
	return c.IdleTimeout != nil && *c.IdleTimeout > 0
}

func (c Config) powerOnTime() uint32 {
	if c.PowerOnTimeFunc == nil {
		return 0
	}
	return c.PowerOnTimeFunc()
}
