package solarmanv5

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// badLogger writes raw bytes to the first connection it accepts, letting a
// test drive the decoder's error paths directly instead of through a
// well-formed fakeLogger exchange.
type badLogger struct {
	listener net.Listener
}

func newBadLogger(t *testing.T) *badLogger {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return &badLogger{listener: ln}
}

func (b *badLogger) addr() string { return b.listener.Addr().String() }

// writeThenHang accepts one connection, writes raw once the request frame
// has arrived, and leaves the connection open (so the client sees the
// malformed reply rather than a closed socket).
func (b *badLogger) writeThenHang(raw []byte) {
	go func() {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 256)
		if _, err := conn.Read(buf); err != nil {
			conn.Close()
			return
		}
		conn.Write(raw)
	}()
}

// writeThenClose accepts one connection, writes raw once the request frame
// has arrived, then closes the connection — used to drive the
// IncompleteFrameAtEOF path.
func (b *badLogger) writeThenClose(raw []byte) {
	go func() {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 256)
		if _, err := conn.Read(buf); err != nil {
			conn.Close()
			return
		}
		conn.Write(raw)
		conn.Close()
	}()
}

// TestTransportIdleTimeoutReconnectsOnNextRequest drives the connection
// lifecycle through idle timeout -> Disconnected -> reconnect under an
// Immediate policy: after the idle watchdog fires, the transport must be
// Disconnected, and the next request must transparently reconnect and
// succeed against a fresh connection.
func TestTransportIdleTimeoutReconnectsOnNextRequest(t *testing.T) {
	fake := newFakeLogger(t)
	fake.serveMany(0x0079)

	host, portStr, err := net.SplitHostPort(fake.addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	idle := 30 * time.Millisecond
	cfg := Config{
		Host:         host,
		Port:         port,
		LoggerSerial: 0x12345678,
		UnitID:       0x01,
		Timeout:      2 * time.Second,
		Retries:      0,
		IdleTimeout:  &idle,
		Reconnect:    ReconnectImmediate(),
	}
	c := New(cfg)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.Equal(t, Connected, c.State())

	require.Eventually(t, func() bool {
		return c.State() == Disconnected
	}, time.Second, 5*time.Millisecond, "idle watchdog never closed the transport")

	data, err := c.ReadHoldingRegisters(ctx, 0x0000, 1)
	require.NoError(t, err)
	require.Equal(t, uint16(0x0079), binary.BigEndian.Uint16(data))
	require.Equal(t, Connected, c.State())
}

// TestTransportSurfacesDecodeErrorReason drives a malformed reply (a bad
// start byte) through the live connection and asserts the resulting error
// carries the decoder's real reason and value rather than the generic
// DecodeFailure placeholder.
func TestTransportSurfacesDecodeErrorReason(t *testing.T) {
	bad := newBadLogger(t)
	bad.writeThenHang([]byte{0xFF, 0x00, 0x00, 0x00, 0x00})

	host, portStr, err := net.SplitHostPort(bad.addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := Config{
		Host:         host,
		Port:         port,
		LoggerSerial: 0x12345678,
		UnitID:       0x01,
		Timeout:      2 * time.Second,
		Retries:      0,
	}
	c := New(cfg)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	_, err = c.ReadHoldingRegisters(ctx, 0x0000, 1)
	require.Error(t, err)
	var se *Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, KindV5FrameError, se.Kind)
	require.Equal(t, "InvalidStartByte", se.FrameKind)
	require.Equal(t, 0xFF, se.FrameValue)
}

// TestTransportSurfacesIncompleteFrameAtEOF closes the connection mid-frame
// and asserts the exchange fails with IncompleteFrameAtEOF carrying the
// number of unconsumed bytes, instead of the generic ChannelClosed error.
func TestTransportSurfacesIncompleteFrameAtEOF(t *testing.T) {
	bad := newBadLogger(t)
	partial := []byte{startByte, 0x05, 0x00, 0x02, 0x00}
	bad.writeThenClose(partial)

	host, portStr, err := net.SplitHostPort(bad.addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := Config{
		Host:         host,
		Port:         port,
		LoggerSerial: 0x12345678,
		UnitID:       0x01,
		Timeout:      2 * time.Second,
		Retries:      0,
	}
	c := New(cfg)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	_, err = c.ReadHoldingRegisters(ctx, 0x0000, 1)
	require.Error(t, err)
	var se *Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, KindV5FrameError, se.Kind)
	require.Equal(t, "IncompleteFrameAtEOF", se.FrameKind)
	require.Equal(t, len(partial), se.FrameValue)
}
