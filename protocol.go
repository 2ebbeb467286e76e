package trfb

import (
	"encoding/binary"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// protocolVersionLen is the fixed wire length of a ProtocolVersion
// message: "RFB 003.0MM\n".
const protocolVersionLen = 12

var protocolVersionPattern = regexp.MustCompile(`^RFB (\d{3})\.(\d{3})\n$`)

// EncodeProtocolVersion renders the 12-byte ASCII ProtocolVersion
// message for the given minor version (3, 7, or 8).
func EncodeProtocolVersion(minor int) []byte {
	return []byte("RFB 003.00" + strconv.Itoa(minor) + "\n")
}

// DecodeProtocolVersion parses a 12-byte ProtocolVersion message. Any
// well-formed "RFB MMM.mmm\n" string decodes successfully; minor
// versions other than 3, 7, or 8 fall back to 3 per spec.md §4.3.
// Malformed input is a protocol error.
func DecodeProtocolVersion(b []byte) (int, error) {
	if len(b) != protocolVersionLen {
		return 0, newError("DecodeProtocolVersion", KindProtocolError, errors.Errorf("expected %d bytes, got %d", protocolVersionLen, len(b)))
	}
	m := protocolVersionPattern.FindSubmatch(b)
	if m == nil {
		return 0, newError("DecodeProtocolVersion", KindProtocolError, errors.Errorf("malformed protocol version %q", b))
	}
	minor, _ := strconv.Atoi(string(m[2]))
	switch minor {
	case 3, 7, 8:
		return minor, nil
	default:
		return 3, nil
	}
}

// pixelFormatWireLen is the fixed length of the 16-byte PixelFormat
// record on the wire.
const pixelFormatWireLen = 16

// EncodePixelFormat renders the 16-byte wire representation of a
// PixelFormat, including its 3 padding bytes.
func EncodePixelFormat(f PixelFormat) []byte {
	buf := make([]byte, pixelFormatWireLen)
	buf[0] = f.BPP
	buf[1] = f.Depth
	buf[2] = boolByte(f.BigEndian)
	buf[3] = boolByte(f.TrueColor)
	binary.BigEndian.PutUint16(buf[4:6], f.RedMax)
	binary.BigEndian.PutUint16(buf[6:8], f.GreenMax)
	binary.BigEndian.PutUint16(buf[8:10], f.BlueMax)
	buf[10] = f.RedShift
	buf[11] = f.GreenShift
	buf[12] = f.BlueShift
	// buf[13:16] left as padding.
	return buf
}

// DecodePixelFormat parses a 16-byte PixelFormat wire record.
func DecodePixelFormat(b []byte) (PixelFormat, error) {
	if len(b) != pixelFormatWireLen {
		return PixelFormat{}, newError("DecodePixelFormat", KindProtocolError, errors.Errorf("expected %d bytes, got %d", pixelFormatWireLen, len(b)))
	}
	return PixelFormat{
		BPP:        b[0],
		Depth:      b[1],
		BigEndian:  b[2] != 0,
		TrueColor:  b[3] != 0,
		RedMax:     binary.BigEndian.Uint16(b[4:6]),
		GreenMax:   binary.BigEndian.Uint16(b[6:8]),
		BlueMax:    binary.BigEndian.Uint16(b[8:10]),
		RedShift:   b[10],
		GreenShift: b[11],
		BlueShift:  b[12],
	}, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// EncodeServerInit renders the ServerInit message: width, height (u16
// BE), the 16-byte pixel format record, and a length-prefixed name.
func EncodeServerInit(width, height int, format PixelFormat, name string) []byte {
	nameBytes := []byte(name)
	buf := make([]byte, 4+pixelFormatWireLen+4+len(nameBytes))
	binary.BigEndian.PutUint16(buf[0:2], uint16(width))
	binary.BigEndian.PutUint16(buf[2:4], uint16(height))
	copy(buf[4:4+pixelFormatWireLen], EncodePixelFormat(format))
	binary.BigEndian.PutUint32(buf[4+pixelFormatWireLen:8+pixelFormatWireLen], uint32(len(nameBytes)))
	copy(buf[8+pixelFormatWireLen:], nameBytes)
	return buf
}

// Client -> server message type bytes (spec.md §4.3).
const (
	msgSetPixelFormat           byte = 0
	msgSetEncodings             byte = 2
	msgFramebufferUpdateRequest byte = 3
	msgKeyEvent                 byte = 4
	msgPointerEvent             byte = 5
	msgClientCutText            byte = 6
)

// msgFramebufferUpdate is the single server -> client message type this
// core emits.
const msgFramebufferUpdate byte = 0

// encodingRaw is the only RFB encoding this core honors.
const encodingRaw int32 = 0

// securityNone is the only RFB security type this core implements.
const securityNone byte = 1

// securityResultOK is the v8 SecurityResult value for a successful
// (here: unconditional) security handshake.
const securityResultOK uint32 = 0
