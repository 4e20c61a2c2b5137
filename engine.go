package solarmanv5

import (
	"context"
	"errors"
	"time"

	"github.com/grid-x/modbus"
	"github.com/sirupsen/logrus"
)

// engine is the request/response dispatcher: exactly one exchange is ever
// in flight (enforced by mu), each attempt gets a fresh sequence number,
// and a retryable failure consumes one of Config.Retries before giving up.
// Built around the streaming decoder and response gate rather than one
// blocking conn.Read per exchange.
type engine struct {
	cfg Config
	t   *transport
	seq *sequenceGenerator

	mu       chan struct{} // 1-buffered: acts as a non-reentrant mutex with no lock/unlock asymmetry risk
	log      *logrus.Entry
	observer Observer
}

func newEngine(cfg Config, t *transport, log *logrus.Entry, observer Observer) *engine {
	mu := make(chan struct{}, 1)
	mu <- struct{}{}
	return &engine{
		cfg:      cfg,
		t:        t,
		seq:      newSequenceGenerator(),
		mu:       mu,
		log:      log,
		observer: observer,
	}
}

// do runs pdu against unitID, retrying retryable failures up to
// Config.Retries additional times.
func (e *engine) do(ctx context.Context, unitID byte, pdu *modbus.ProtocolDataUnit) (*modbus.ProtocolDataUnit, error) {
	select {
	case <-e.mu:
	case <-ctx.Done():
		return nil, errTimeout()
	}
	defer func() { e.mu <- struct{}{} }()

	var lastErr error
	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		if attempt > 0 {
			e.observer.Retry(pdu.FunctionCode)
			e.log.WithFields(logrus.Fields{"fc": pdu.FunctionCode, "attempt": attempt}).Warn("retrying request")
		}

		start := time.Now()
		resp, err := e.attempt(ctx, unitID, pdu)
		if err == nil {
			e.observer.RequestOK(pdu.FunctionCode, time.Since(start))
			return resp, nil
		}

		lastErr = err
		var se *Error
		if !errors.As(err, &se) || !se.Retryable() {
			break
		}
		e.t.Close()
	}

	e.observer.RequestErr(pdu.FunctionCode, errorLabel(lastErr))
	return nil, lastErr
}

func errorLabel(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind.label()
	}
	return "unknown"
}

// attempt performs exactly one request/response exchange: encode, wrap in
// a V5 envelope with a fresh sequence number, exchange over the transport,
// validate the envelope, optionally salvage a double-CRC'd RTU payload, and
// decode+verify the embedded RTU response.
func (e *engine) attempt(ctx context.Context, unitID byte, pdu *modbus.ProtocolDataUnit) (*modbus.ProtocolDataUnit, error) {
	rtuRequest, err := encodeRTU(unitID, pdu)
	if err != nil {
		return nil, err
	}

	attemptCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	seq := e.seq.next()
	reqFrame := buildRequest(e.cfg.LoggerSerial, seq, rtuRequest, e.cfg.powerOnTime())

	respFrame, err := e.t.Exchange(attemptCtx, reqFrame)
	if err != nil {
		return nil, err
	}

	resp, err := ParseResponse(respFrame)
	if err != nil {
		return nil, err
	}

	if resp.Sequence&0xFF != seq&0xFF {
		return nil, errSequenceMismatch(seq, resp.Sequence)
	}

	rtuResponse := resp.ModbusRTU()
	respUnitID, respPDU, decodeErr := decodeRTU(rtuResponse)
	if decodeErr != nil && e.cfg.V5ErrorCorrection {
		if fixed, ok := fixDoubleCRC(rtuResponse); ok {
			respUnitID, respPDU, decodeErr = decodeRTU(fixed)
		}
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	if err := verifyRTU(unitID, pdu, respUnitID, respPDU); err != nil {
		return nil, err
	}
	return respPDU, nil
}
