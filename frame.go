package solarmanv5

import "encoding/binary"

// Wire constants for the V5 envelope.
const (
	startByte = 0xA5
	endByte   = 0x15

	requestControlCode  = 0x4510
	responseControlCode = 0x1510

	requestFrameType = 0x02
	sensorType       = 0x0000

	// requestHeaderSize is the fixed 11-byte header shared by request and
	// response forms (start, length, control code, sequence, logger serial).
	requestHeaderSize = 11

	// responseHeaderSize is the offset at which the embedded Modbus RTU
	// frame begins in a response envelope (11 header bytes + frame type +
	// 1-byte status + 3 x 4-byte time counters).
	responseHeaderSize = 25

	// minResponseSize is the enforced minimum total response envelope
	// length: 25 header bytes + 5 minimum Modbus RTU bytes + 2 trailer
	// bytes (checksum, end marker). Some loggers advertise a 28-byte
	// minimum in their documentation; this parser enforces 32 directly
	// since that is the true floor given the fixed header layout.
	minResponseSize = 25 + 5 + 2

	// minModbusRTUSize is the minimum size of the embedded Modbus RTU
	// frame itself (unit id + function code + at least one data/CRC byte
	// combination); retained for defense in depth even though the
	// minResponseSize check above already implies it at this fixed offset.
	minModbusRTUSize = 5

	// maxFrameSize bounds a single V5 frame as accepted by the streaming
	// decoder (component E); it has no bearing on frame.go itself but
	// lives here alongside the other wire constants.
	maxFrameSize = 1024
)

// BuildRequest lays out a request envelope around rtu (an already CRC'd
// Modbus RTU frame, treated as an opaque payload) addressed to the logger
// identified by serial, tagged with sequence. Header bytes outside
// sequence/serial/rtu are fixed for outgoing requests (frame type 0x02,
// sensor type 0, all three time counters zero).
func BuildRequest(serial uint32, sequence uint16, rtu []byte) []byte {
	return buildRequest(serial, sequence, rtu, 0)
}

// buildRequest is BuildRequest generalized with an explicit power-on-time
// value. The field defaults to zero for outgoing requests; Config's
// optional PowerOnTimeFunc is the only caller that ever passes a non-zero
// value.
func buildRequest(serial uint32, sequence uint16, rtu []byte, powerOnTime uint32) []byte {
	n := len(rtu)
	payloadLen := 15 + n
	total := requestHeaderSize + payloadLen + 2

	buf := make([]byte, total)
	buf[0] = startByte
	binary.LittleEndian.PutUint16(buf[1:3], uint16(payloadLen))
	binary.LittleEndian.PutUint16(buf[3:5], requestControlCode)
	binary.LittleEndian.PutUint16(buf[5:7], sequence)
	binary.LittleEndian.PutUint32(buf[7:11], serial)

	buf[11] = requestFrameType
	binary.LittleEndian.PutUint16(buf[12:14], sensorType)
	binary.LittleEndian.PutUint32(buf[14:18], 0) // total working time: fixed 0
	binary.LittleEndian.PutUint32(buf[18:22], powerOnTime)
	binary.LittleEndian.PutUint32(buf[22:26], 0) // offset time: fixed 0
	copy(buf[26:26+n], rtu)

	buf[total-2] = checksum(buf[1 : total-2])
	buf[total-1] = endByte
	return buf
}

// Response is a validated V5 response envelope: a product type only ever
// constructed by ParseResponse after every structural check has passed.
// Its ModbusRTU view is a bounded slice into its own private copy of the
// frame, so no reference into the original read buffer escapes.
type Response struct {
	Sequence         uint16
	LoggerSerial     uint32
	FrameType        byte
	Status           byte
	TotalWorkingTime uint32
	PowerOnTime      uint32
	OffsetTime       uint32

	raw              []byte
	rtuStart, rtuEnd int
}

// ModbusRTU returns the embedded Modbus RTU frame (unit id, function code,
// data, CRC-16) as found in the envelope, unmodified.
func (r *Response) ModbusRTU() []byte {
	return r.raw[r.rtuStart:r.rtuEnd]
}

// Bytes returns the full validated envelope, including header and trailer.
func (r *Response) Bytes() []byte {
	return r.raw
}

// ParseResponse performs the ordered structural checks against a complete
// candidate envelope and, on success, projects it into a Response. Checks
// run in a fixed order — size, then markers, then
// length, then checksum, then control code — because each guards the
// assumptions of the next (size before any indexed read; markers before the
// more expensive length/checksum comparisons; length before checksum, since
// a length lie combined with a crafted payload could otherwise produce a
// valid checksum over a shorter true frame; control code last, so only
// well-formed frames are misclassified as heartbeats/echoes).
func ParseResponse(data []byte) (*Response, error) {
	if len(data) < minResponseSize {
		return nil, errV5Frame(FrameTooShort)
	}
	if data[0] != startByte {
		return nil, errV5Frame(InvalidStartByte)
	}
	if data[len(data)-1] != endByte {
		return nil, errV5Frame(InvalidEndByte)
	}

	length := binary.LittleEndian.Uint16(data[1:3])
	if len(data) != int(length)+13 {
		return nil, errV5Frame(LengthMismatch)
	}

	want := checksum(data[1 : len(data)-2])
	got := data[len(data)-2]
	if want != got {
		return nil, errV5Frame(InvalidChecksum)
	}

	controlCode := binary.LittleEndian.Uint16(data[3:5])
	if controlCode != responseControlCode {
		return nil, errV5Frame(InvalidControlCode)
	}

	rtuStart := responseHeaderSize
	rtuEnd := len(data) - 2
	if rtuEnd-rtuStart < minModbusRTUSize {
		return nil, errV5Frame(ModbusFrameTooSmall)
	}

	raw := append([]byte(nil), data...)
	return &Response{
		Sequence:         binary.LittleEndian.Uint16(raw[5:7]),
		LoggerSerial:     binary.LittleEndian.Uint32(raw[7:11]),
		FrameType:        raw[11],
		Status:           raw[12],
		TotalWorkingTime: binary.LittleEndian.Uint32(raw[13:17]),
		PowerOnTime:      binary.LittleEndian.Uint32(raw[17:21]),
		OffsetTime:       binary.LittleEndian.Uint32(raw[21:25]),
		raw:              raw,
		rtuStart:         rtuStart,
		rtuEnd:           rtuEnd,
	}, nil
}
