package solarmanv5

import (
	"context"
	"encoding/binary"

	"github.com/grid-x/modbus"
	"github.com/sirupsen/logrus"
)

// Modbus function codes used by Client's operations. Mirrors grid-x/modbus's
// own unexported constants of the same name.
const (
	fcReadCoils              = 0x01
	fcReadDiscreteInputs     = 0x02
	fcReadHoldingRegisters   = 0x03
	fcReadInputRegisters     = 0x04
	fcWriteSingleCoil        = 0x05
	fcWriteSingleRegister    = 0x06
	fcWriteMultipleCoils     = 0x0F
	fcWriteMultipleRegisters = 0x10
	fcMaskWriteRegister      = 0x16
	fcReadWriteRegisters     = 0x17
	fcReadFIFOQueue          = 0x18
)

const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger overrides the default logrus.Entry, replacing the package's
// own default logger (a freshly allocated logrus.New() at Info level).
func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

// WithObserver attaches a telemetry sink (default NoopObserver). A nil
// observer is replaced by NoopObserver.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		if observer == nil {
			observer = NoopObserver
		}
		c.observer = observer
	}
}

// Client is the public entry point: a Modbus-over-Solarman-V5 client bound
// to one logger serial and one default unit id, satisfying the same method
// set as grid-x/modbus's own modbus.Client.
type Client struct {
	cfg      Config
	unitID   byte
	t        *transport
	e        *engine
	log      *logrus.Entry
	observer Observer
}

// New builds a Client from cfg, applying WithDefaults() first.
func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.WithDefaults()

	c := &Client{
		cfg:      cfg,
		unitID:   cfg.UnitID,
		observer: NoopObserver,
	}
	logger := logrus.New()
	c.log = logger.WithField("component", "solarmanv5")

	for _, opt := range opts {
		opt(c)
	}

	c.t = newTransport(cfg, c.log, c.observer)
	c.e = newEngine(cfg, c.t, c.log, c.observer)
	return c
}

// WithUnitID returns a view of c addressed to a different Modbus unit id,
// sharing the same transport and engine (in the style of evcc's
// Connection.Clone(slaveID)). The returned Client shares its connection
// lifecycle with c: closing either one closes both.
func (c *Client) WithUnitID(unitID byte) *Client {
	return &Client{
		cfg:      c.cfg,
		unitID:   unitID,
		t:        c.t,
		e:        c.e,
		log:      c.log,
		observer: c.observer,
	}
}

// Connect dials the configured host:port.
func (c *Client) Connect(ctx context.Context) error { return c.t.Connect(ctx) }

// Close tears down the connection, releasing any outstanding request.
func (c *Client) Close() error { return c.t.Close() }

// IsConnected reports whether the transport is in the Connected state.
func (c *Client) IsConnected() bool { return c.t.IsConnected() }

// State returns the connection lifecycle's current state.
func (c *Client) State() ClientState { return c.t.State() }

func (c *Client) call(ctx context.Context, pdu *modbus.ProtocolDataUnit) (*modbus.ProtocolDataUnit, error) {
	return c.e.do(ctx, c.unitID, pdu)
}

// ReadCoils reads quantity coils starting at address (function code 0x01).
func (c *Client) ReadCoils(ctx context.Context, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > 2000 {
		return nil, errInvalidParameter("ReadCoils: quantity out of range 1..2000")
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], quantity)

	resp, err := c.call(ctx, &modbus.ProtocolDataUnit{FunctionCode: fcReadCoils, Data: data})
	if err != nil {
		return nil, err
	}
	return readByteCountedResponse(resp)
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address
// (function code 0x02).
func (c *Client) ReadDiscreteInputs(ctx context.Context, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > 2000 {
		return nil, errInvalidParameter("ReadDiscreteInputs: quantity out of range 1..2000")
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], quantity)

	resp, err := c.call(ctx, &modbus.ProtocolDataUnit{FunctionCode: fcReadDiscreteInputs, Data: data})
	if err != nil {
		return nil, err
	}
	return readByteCountedResponse(resp)
}

// ReadHoldingRegisters reads quantity holding registers starting at address
// (function code 0x03).
func (c *Client) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > 125 {
		return nil, errInvalidParameter("ReadHoldingRegisters: quantity out of range 1..125")
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], quantity)

	resp, err := c.call(ctx, &modbus.ProtocolDataUnit{FunctionCode: fcReadHoldingRegisters, Data: data})
	if err != nil {
		return nil, err
	}
	return readByteCountedResponse(resp)
}

// ReadInputRegisters reads quantity input registers starting at address
// (function code 0x04).
func (c *Client) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > 125 {
		return nil, errInvalidParameter("ReadInputRegisters: quantity out of range 1..125")
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], quantity)

	resp, err := c.call(ctx, &modbus.ProtocolDataUnit{FunctionCode: fcReadInputRegisters, Data: data})
	if err != nil {
		return nil, err
	}
	return readByteCountedResponse(resp)
}

// WriteSingleCoil writes value (true -> 0xFF00, false -> 0x0000) to address
// (function code 0x05).
func (c *Client) WriteSingleCoil(ctx context.Context, address uint16, value bool) ([]byte, error) {
	v := uint16(coilOff)
	if value {
		v = coilOn
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], v)

	resp, err := c.call(ctx, &modbus.ProtocolDataUnit{FunctionCode: fcWriteSingleCoil, Data: data})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// WriteSingleRegister writes value to address (function code 0x06).
func (c *Client) WriteSingleRegister(ctx context.Context, address, value uint16) ([]byte, error) {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], value)

	resp, err := c.call(ctx, &modbus.ProtocolDataUnit{FunctionCode: fcWriteSingleRegister, Data: data})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// WriteMultipleCoils writes quantity coils starting at address
// (function code 0x0F). values holds the coil states packed
// little-endian-bit-first, matching the Modbus RTU wire layout.
func (c *Client) WriteMultipleCoils(ctx context.Context, address uint16, quantity uint16, values []byte) ([]byte, error) {
	if quantity < 1 || quantity > 1968 {
		return nil, errInvalidParameter("WriteMultipleCoils: quantity out of range 1..1968")
	}
	data := make([]byte, 5+len(values))
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], quantity)
	data[4] = byte(len(values))
	copy(data[5:], values)

	resp, err := c.call(ctx, &modbus.ProtocolDataUnit{FunctionCode: fcWriteMultipleCoils, Data: data})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// WriteMultipleRegisters writes quantity registers, taken from values,
// starting at address (function code 0x10).
func (c *Client) WriteMultipleRegisters(ctx context.Context, address, quantity uint16, values []byte) ([]byte, error) {
	if quantity < 1 || quantity > 123 {
		return nil, errInvalidParameter("WriteMultipleRegisters: quantity out of range 1..123")
	}
	data := make([]byte, 5+len(values))
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], quantity)
	data[4] = byte(len(values))
	copy(data[5:], values)

	resp, err := c.call(ctx, &modbus.ProtocolDataUnit{FunctionCode: fcWriteMultipleRegisters, Data: data})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// MaskWriteRegister applies (current AND andMask) OR (orMask AND NOT
// andMask) to the register at address (function code 0x16).
func (c *Client) MaskWriteRegister(ctx context.Context, address, andMask, orMask uint16) ([]byte, error) {
	data := make([]byte, 6)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], andMask)
	binary.BigEndian.PutUint16(data[4:], orMask)

	resp, err := c.call(ctx, &modbus.ProtocolDataUnit{FunctionCode: fcMaskWriteRegister, Data: data})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ReadWriteMultipleRegisters writes writeValues starting at writeAddress,
// then reads readQuantity registers starting at readAddress, atomically on
// the device (function code 0x17).
func (c *Client) ReadWriteMultipleRegisters(ctx context.Context, readAddress, readQuantity, writeAddress, writeQuantity uint16, writeValues []byte) ([]byte, error) {
	if readQuantity < 1 || readQuantity > 125 {
		return nil, errInvalidParameter("ReadWriteMultipleRegisters: read quantity out of range 1..125")
	}
	if writeQuantity < 1 || writeQuantity > 121 {
		return nil, errInvalidParameter("ReadWriteMultipleRegisters: write quantity out of range 1..121")
	}
	data := make([]byte, 9+len(writeValues))
	binary.BigEndian.PutUint16(data[0:], readAddress)
	binary.BigEndian.PutUint16(data[2:], readQuantity)
	binary.BigEndian.PutUint16(data[4:], writeAddress)
	binary.BigEndian.PutUint16(data[6:], writeQuantity)
	data[8] = byte(len(writeValues))
	copy(data[9:], writeValues)

	resp, err := c.call(ctx, &modbus.ProtocolDataUnit{FunctionCode: fcReadWriteRegisters, Data: data})
	if err != nil {
		return nil, err
	}
	return readByteCountedResponse(resp)
}

// ReadFIFOQueue reads the FIFO queue register at address (function code
// 0x18).
func (c *Client) ReadFIFOQueue(ctx context.Context, address uint16) ([]byte, error) {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, address)

	resp, err := c.call(ctx, &modbus.ProtocolDataUnit{FunctionCode: fcReadFIFOQueue, Data: data})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 2 {
		return nil, errRtu("ReadFIFOQueue: response too short", nil)
	}
	return resp.Data[2:], nil
}

// RawRTU sends a caller-chosen function code and data over the V5
// envelope and returns the response PDU's data bytes (without unit id,
// function code or CRC): the CRC is computed and appended by encodeRTU,
// and validated on the way back in. Useful for function codes this Client
// has no dedicated method for.
func (c *Client) RawRTU(ctx context.Context, functionCode byte, data []byte) ([]byte, error) {
	if len(data)+2 < 2 {
		return nil, errInvalidParameter("RawRTU: frame must be at least 2 bytes")
	}
	resp, err := c.call(ctx, &modbus.ProtocolDataUnit{FunctionCode: functionCode, Data: data})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func readByteCountedResponse(resp *modbus.ProtocolDataUnit) ([]byte, error) {
	if len(resp.Data) < 1 {
		return nil, errRtu("response missing byte count", nil)
	}
	count := int(resp.Data[0])
	if len(resp.Data)-1 != count {
		return nil, errRtu("response byte count mismatch", nil)
	}
	return resp.Data[1:], nil
}
