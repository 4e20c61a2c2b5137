package solarmanv5

import (
	"encoding/binary"

	"github.com/grid-x/modbus"
)

// rtuMaxSize mirrors grid-x/modbus's own RTU ADU bound (address + function
// code + up to 252 bytes of data + 2-byte CRC); the Solarman V5 envelope
// wraps this frame unmodified, so the same bound applies to the payload we
// place inside it.
const rtuMaxSize = 256

// rtuMinSize is the smallest possible RTU ADU: unit id, function code, and
// a 2-byte CRC with no data (used by exception responses).
const rtuMinSize = 4

// encodeRTU lays out pdu as a Modbus RTU ADU addressed to unitID: unit id,
// function code, data, then a 2-byte little-endian CRC-16/Modbus, using
// the ProtocolDataUnit type grid-x/modbus's own Packager interface uses.
func encodeRTU(unitID byte, pdu *modbus.ProtocolDataUnit) ([]byte, error) {
	length := len(pdu.Data) + 4
	if length > rtuMaxSize {
		return nil, errInvalidParameter("encoded RTU frame exceeds maximum size")
	}

	adu := make([]byte, length)
	adu[0] = unitID
	adu[1] = pdu.FunctionCode
	copy(adu[2:], pdu.Data)

	crc := crc16Modbus(adu[:length-2])
	binary.LittleEndian.PutUint16(adu[length-2:], crc)
	return adu, nil
}

// decodeRTU extracts a ProtocolDataUnit from an RTU ADU, verifying its
// CRC-16 first. The unit id is returned separately since
// modbus.ProtocolDataUnit carries none.
func decodeRTU(adu []byte) (unitID byte, pdu *modbus.ProtocolDataUnit, err error) {
	if len(adu) < rtuMinSize {
		return 0, nil, errRtu("RTU frame shorter than minimum size", nil)
	}

	n := len(adu)
	want := crc16Modbus(adu[:n-2])
	got := binary.LittleEndian.Uint16(adu[n-2:])
	if want != got {
		return 0, nil, errRtu("RTU frame CRC mismatch", nil)
	}

	return adu[0], &modbus.ProtocolDataUnit{
		FunctionCode: adu[1],
		Data:         adu[2 : n-2],
	}, nil
}

// verifyRTU confirms a decoded response PDU actually answers requestPDU: the
// unit id must match, and the function code must match either exactly or
// with the Modbus exception bit (0x80) set.
func verifyRTU(requestUnitID byte, requestPDU *modbus.ProtocolDataUnit, responseUnitID byte, responsePDU *modbus.ProtocolDataUnit) error {
	if responseUnitID != requestUnitID {
		return errRtu("RTU unit id mismatch", nil)
	}

	const exceptionBit = 0x80
	fc := responsePDU.FunctionCode
	if fc&^exceptionBit != requestPDU.FunctionCode {
		return errRtu("RTU function code mismatch", nil)
	}
	if fc&exceptionBit != 0 {
		if len(responsePDU.Data) < 1 {
			return errRtu("RTU exception response missing exception code", nil)
		}
		return errModbusException(responsePDU.Data[0])
	}
	return nil
}
