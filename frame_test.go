package solarmanv5

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestScenario1(t *testing.T) {
	rtu := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}
	got := BuildRequest(0x12345678, 0x0001, rtu)

	want := []byte{
		0xA5, 0x17, 0x00, 0x10, 0x45, 0x01, 0x00, 0x78, 0x56, 0x34, 0x12,
		0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A,
		0x16, 0x15,
	}
	assert.Equal(t, want, got)
	assert.Equal(t, byte(0x16), got[len(got)-2])
}

func TestParseResponseRejectsInvalidStartByte(t *testing.T) {
	data := make([]byte, 34)
	_, err := ParseResponse(data)
	require.Error(t, err)
	var ve *Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, KindV5FrameError, ve.Kind)
	assert.Equal(t, string(InvalidStartByte), ve.FrameKind)
}

func TestParseResponseRejectsLengthMismatch(t *testing.T) {
	rtu := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}
	req := BuildRequest(0x12345678, 0x0001, rtu)
	req[1] = 0xFF

	_, err := ParseResponse(req)
	require.Error(t, err)
	var ve *Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, string(LengthMismatch), ve.FrameKind)
}

// buildResponseEnvelope constructs a well-formed response envelope around
// rtu, addressed with sequence/serial, for use by tests that need a
// round-trippable response rather than a request.
func buildResponseEnvelope(serial uint32, sequence uint16, rtu []byte) []byte {
	n := len(rtu)
	payloadLen := 14 + n
	total := requestHeaderSize + payloadLen + 2

	buf := make([]byte, total)
	buf[0] = startByte
	binary.LittleEndian.PutUint16(buf[1:3], uint16(payloadLen))
	binary.LittleEndian.PutUint16(buf[3:5], responseControlCode)
	binary.LittleEndian.PutUint16(buf[5:7], sequence)
	binary.LittleEndian.PutUint32(buf[7:11], serial)

	buf[11] = requestFrameType
	buf[12] = 0x01 // status
	binary.LittleEndian.PutUint32(buf[13:17], 0)
	binary.LittleEndian.PutUint32(buf[17:21], 0)
	binary.LittleEndian.PutUint32(buf[21:25], 0)
	copy(buf[25:25+n], rtu)

	buf[total-2] = checksum(buf[1 : total-2])
	buf[total-1] = endByte
	return buf
}

func TestParseResponseRoundTrip(t *testing.T) {
	rtu := []byte{0x01, 0x03, 0x02, 0x00, 0x01, 0x79, 0x84}
	envelope := buildResponseEnvelope(0x12345678, 0x0142, rtu)

	resp, err := ParseResponse(envelope)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0142), resp.Sequence)
	assert.Equal(t, uint32(0x12345678), resp.LoggerSerial)
	assert.Equal(t, rtu, resp.ModbusRTU())
}

func TestParseResponseRejectsShortFrame(t *testing.T) {
	_, err := ParseResponse([]byte{0xA5, 0x00})
	require.Error(t, err)
	var ve *Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, string(FrameTooShort), ve.FrameKind)
}
