package solarmanv5

import (
	"errors"
	"fmt"
)

// ErrorKind identifies one member of the closed error taxonomy. The set is
// closed: callers should switch on Kind rather than compare error values
// directly, and any future addition is a minor-version concern.
type ErrorKind uint8

const (
	// KindNotConnected means the client was not Connected and the
	// reconnection policy forbade transparently reconnecting.
	KindNotConnected ErrorKind = iota + 1
	// KindAlreadyConnected means Connect was called while already Connected.
	KindAlreadyConnected
	// KindConnectionFailed means the transport failed to establish.
	KindConnectionFailed
	// KindTimeout means the operation exceeded its configured deadline.
	KindTimeout
	// KindV5FrameError means a structural check on the V5 envelope failed.
	KindV5FrameError
	// KindSequenceMismatch means the response's low sequence byte disagreed
	// with the request's.
	KindSequenceMismatch
	// KindModbusException means the device returned a Modbus exception PDU.
	KindModbusException
	// KindRtuError means the embedded Modbus RTU frame failed CRC, length,
	// unit id or function code validation.
	KindRtuError
	// KindIoError means the transport failed on write or read.
	KindIoError
	// KindInvalidParameter means an argument failed its per-operation range check.
	KindInvalidParameter
	// KindChannelClosed means the transport went inactive while a request
	// was outstanding.
	KindChannelClosed
)

// label is the stable short string associated with each Kind, used for
// telemetry and for Error() text.
func (k ErrorKind) label() string {
	switch k {
	case KindNotConnected:
		return "not_connected"
	case KindAlreadyConnected:
		return "already_connected"
	case KindConnectionFailed:
		return "connection_failed"
	case KindTimeout:
		return "timeout"
	case KindV5FrameError:
		return "v5_frame_error"
	case KindSequenceMismatch:
		return "sequence_mismatch"
	case KindModbusException:
		return "modbus_exception"
	case KindRtuError:
		return "rtu_error"
	case KindIoError:
		return "io_error"
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindChannelClosed:
		return "channel_closed"
	default:
		return "unknown"
	}
}

func (k ErrorKind) String() string { return k.label() }

// retryable reports whether the retry loop in the request engine may
// consume an error of this kind and attempt another try.
func (k ErrorKind) retryable() bool {
	switch k {
	case KindConnectionFailed, KindTimeout, KindIoError, KindChannelClosed:
		return true
	default:
		return false
	}
}

// Error is the single concrete error type produced by this package. It
// carries a closed Kind, an optional wrapped cause, and the structured
// fields relevant to that Kind (sequence numbers, exception codes, frame
// error sub-kind, etc).
type Error struct {
	Kind ErrorKind

	// Msg is a human-readable detail, used when there is no more specific
	// structured field (ConnectionFailed, IoError, InvalidParameter, RtuError).
	Msg string

	// FrameKind holds the structural sub-kind for KindV5FrameError, e.g.
	// "FrameTooShort", "InvalidStartByte", or a decoder-level reason such
	// as "InvalidLength"/"IncompleteFrameAtEOF".
	FrameKind string

	// FrameValue holds the offending value associated with a decoder-level
	// FrameKind (e.g. the malformed length, or the remaining byte count for
	// IncompleteFrameAtEOF). Zero for the structural checks in frame.go,
	// which carry no such value.
	FrameValue int

	// ExpectedSeq/GotSeq are populated for KindSequenceMismatch.
	ExpectedSeq uint16
	GotSeq      uint16

	// ExceptionCode is populated for KindModbusException.
	ExceptionCode byte

	cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindSequenceMismatch:
		return fmt.Sprintf("solarmanv5: sequence mismatch: expected low byte of 0x%04X, got 0x%04X", e.ExpectedSeq, e.GotSeq)
	case KindV5FrameError:
		if e.FrameKind != "" {
			return fmt.Sprintf("solarmanv5: v5 frame error: %s", e.FrameKind)
		}
		return "solarmanv5: v5 frame error"
	case KindModbusException:
		return fmt.Sprintf("solarmanv5: modbus exception 0x%02X", e.ExceptionCode)
	default:
		if e.Msg != "" {
			return fmt.Sprintf("solarmanv5: %s: %s", e.Kind.label(), e.Msg)
		}
		return fmt.Sprintf("solarmanv5: %s", e.Kind.label())
	}
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the engine's retry loop may consume this error.
func (e *Error) Retryable() bool { return e.Kind.retryable() }

// Is reports whether target is an *Error of the same Kind, so
// errors.Is(err, &Error{Kind: KindTimeout}) matches by kind regardless of
// message or cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

func errNotConnected() *Error { return newError(KindNotConnected, "", nil) }

func errAlreadyConnected() *Error { return newError(KindAlreadyConnected, "", nil) }

func errConnectionFailed(msg string, cause error) *Error {
	return newError(KindConnectionFailed, msg, cause)
}

func errTimeout() *Error { return newError(KindTimeout, "", nil) }

func errIO(msg string, cause error) *Error { return newError(KindIoError, msg, cause) }

func errChannelClosed() *Error { return newError(KindChannelClosed, "", nil) }

func errInvalidParameter(msg string) *Error { return newError(KindInvalidParameter, msg, nil) }

func errRtu(msg string, cause error) *Error { return newError(KindRtuError, msg, cause) }

func errModbusException(code byte) *Error {
	return &Error{Kind: KindModbusException, ExceptionCode: code}
}

func errSequenceMismatch(expected, got uint16) *Error {
	return &Error{Kind: KindSequenceMismatch, ExpectedSeq: expected, GotSeq: got}
}

// FrameErrorKind enumerates the ordered structural checks performed on a
// candidate V5 envelope. The string value is used as Error.FrameKind and
// appears in the Error() text of a KindV5FrameError.
type FrameErrorKind string

const (
	FrameTooShort      FrameErrorKind = "FrameTooShort"
	InvalidStartByte   FrameErrorKind = "InvalidStartByte"
	InvalidEndByte     FrameErrorKind = "InvalidEndByte"
	LengthMismatch     FrameErrorKind = "LengthMismatch"
	InvalidChecksum    FrameErrorKind = "InvalidChecksum"
	InvalidControlCode FrameErrorKind = "InvalidControlCode"
	ModbusFrameTooSmall FrameErrorKind = "ModbusFrameTooSmall"
)

func errV5Frame(kind FrameErrorKind) *Error {
	return &Error{Kind: KindV5FrameError, FrameKind: string(kind)}
}

// errV5FrameFromDecode wraps a decoder-level DecodeError into the same
// V5FrameError taxonomy the structural checks in frame.go use, preserving
// its reason and offending value rather than collapsing it to a generic
// label. The DecodeError remains reachable via errors.Unwrap for callers
// that want its fields directly.
func errV5FrameFromDecode(de *DecodeError) *Error {
	return &Error{Kind: KindV5FrameError, FrameKind: de.Reason, FrameValue: de.Value, cause: de}
}

// decoder-level errors are reported through the same taxonomy but
// additionally carry enough context to be asserted on in tests.

// DecodeError is returned by Decoder.Feed/Decoder.Next on malformed input.
// It is always wrapped as a KindV5FrameError *Error from the caller-facing
// API, but is exported in its own right so Decoder can be used standalone.
type DecodeError struct {
	Reason string
	Value  int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("solarmanv5: decode: %s (%d)", e.Reason, e.Value)
}

func newDecodeError(reason string, value int) *DecodeError {
	return &DecodeError{Reason: reason, Value: value}
}
