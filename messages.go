package trfb

import "encoding/binary"

// SetPixelFormatMsg is the decoded body of a SetPixelFormat message.
type SetPixelFormatMsg struct {
	Format PixelFormat
}

// SetEncodingsMsg is the decoded body of a SetEncodings message. The
// core honors only encodingRaw (0); everything else is recorded here
// for logging and otherwise ignored.
type SetEncodingsMsg struct {
	Encodings []int32
}

// FramebufferUpdateRequestMsg is the decoded body of a
// FramebufferUpdateRequest message. The Incremental flag is accepted
// but not honored: the core always sends the full requested rectangle
// (spec.md §9, Open Questions).
type FramebufferUpdateRequestMsg struct {
	Incremental bool
	X, Y, W, H  uint16
}

// KeyEventMsg is the decoded body of a KeyEvent message.
type KeyEventMsg struct {
	Down   bool
	Keysym uint32
}

// PointerEventMsg is the decoded body of a PointerEvent message.
type PointerEventMsg struct {
	ButtonMask uint8
	X, Y       uint16
}

// ClientCutTextMsg is the decoded body of a ClientCutText message.
type ClientCutTextMsg struct {
	Text []byte
}

// readSetPixelFormat reads the 3 padding bytes and 16-byte PixelFormat
// body of a SetPixelFormat message (the type byte has already been
// consumed by the caller).
func readSetPixelFormat(io *BufferedIO, timeoutMs int) (SetPixelFormatMsg, error) {
	var buf [3 + pixelFormatWireLen]byte
	if err := io.ReadFull(buf[:], timeoutMs); err != nil {
		return SetPixelFormatMsg{}, err
	}
	f, err := DecodePixelFormat(buf[3:])
	if err != nil {
		return SetPixelFormatMsg{}, err
	}
	return SetPixelFormatMsg{Format: f}, nil
}

// readSetEncodings reads the 1 padding byte, u16 BE count, and
// count*u32 encoding list of a SetEncodings message.
func readSetEncodings(io *BufferedIO, timeoutMs int) (SetEncodingsMsg, error) {
	var head [3]byte
	if err := io.ReadFull(head[:], timeoutMs); err != nil {
		return SetEncodingsMsg{}, err
	}
	count := binary.BigEndian.Uint16(head[1:3])
	encodings := make([]int32, count)
	if count > 0 {
		body := make([]byte, int(count)*4)
		if err := io.ReadFull(body, timeoutMs); err != nil {
			return SetEncodingsMsg{}, err
		}
		for i := range encodings {
			encodings[i] = int32(binary.BigEndian.Uint32(body[i*4 : i*4+4]))
		}
	}
	return SetEncodingsMsg{Encodings: encodings}, nil
}

// readFramebufferUpdateRequest reads the incremental flag and
// (x, y, w, h) rectangle of a FramebufferUpdateRequest message.
func readFramebufferUpdateRequest(io *BufferedIO, timeoutMs int) (FramebufferUpdateRequestMsg, error) {
	var buf [9]byte
	if err := io.ReadFull(buf[:], timeoutMs); err != nil {
		return FramebufferUpdateRequestMsg{}, err
	}
	return FramebufferUpdateRequestMsg{
		Incremental: buf[0] != 0,
		X:           binary.BigEndian.Uint16(buf[1:3]),
		Y:           binary.BigEndian.Uint16(buf[3:5]),
		W:           binary.BigEndian.Uint16(buf[5:7]),
		H:           binary.BigEndian.Uint16(buf[7:9]),
	}, nil
}

// readKeyEvent reads the down-flag, 2 padding bytes, and u32 keysym of
// a KeyEvent message.
func readKeyEvent(io *BufferedIO, timeoutMs int) (KeyEventMsg, error) {
	var buf [7]byte
	if err := io.ReadFull(buf[:], timeoutMs); err != nil {
		return KeyEventMsg{}, err
	}
	return KeyEventMsg{
		Down:   buf[0] != 0,
		Keysym: binary.BigEndian.Uint32(buf[3:7]),
	}, nil
}

// readPointerEvent reads the button mask and (x, y) of a PointerEvent
// message.
func readPointerEvent(io *BufferedIO, timeoutMs int) (PointerEventMsg, error) {
	var buf [5]byte
	if err := io.ReadFull(buf[:], timeoutMs); err != nil {
		return PointerEventMsg{}, err
	}
	return PointerEventMsg{
		ButtonMask: buf[0],
		X:          binary.BigEndian.Uint16(buf[1:3]),
		Y:          binary.BigEndian.Uint16(buf[3:5]),
	}, nil
}

// readClientCutText reads the 3 padding bytes, u32 length, and text
// body of a ClientCutText message.
func readClientCutText(io *BufferedIO, timeoutMs int) (ClientCutTextMsg, error) {
	var head [7]byte
	if err := io.ReadFull(head[:], timeoutMs); err != nil {
		return ClientCutTextMsg{}, err
	}
	length := binary.BigEndian.Uint32(head[3:7])
	text := make([]byte, length)
	if length > 0 {
		if err := io.ReadFull(text, timeoutMs); err != nil {
			return ClientCutTextMsg{}, err
		}
	}
	return ClientCutTextMsg{Text: text}, nil
}

// encodeFramebufferUpdateHeader renders the type byte, padding, and
// rectangle count prefix of a FramebufferUpdate message.
func encodeFramebufferUpdateHeader(rectCount int) []byte {
	buf := make([]byte, 4)
	buf[0] = msgFramebufferUpdate
	binary.BigEndian.PutUint16(buf[2:4], uint16(rectCount))
	return buf
}

// encodeRectangleHeader renders one rectangle's (x, y, w, h, encoding)
// header, always using the Raw encoding.
func encodeRectangleHeader(x, y, w, h int) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], uint16(x))
	binary.BigEndian.PutUint16(buf[2:4], uint16(y))
	binary.BigEndian.PutUint16(buf[4:6], uint16(w))
	binary.BigEndian.PutUint16(buf[6:8], uint16(h))
	binary.BigEndian.PutUint32(buf[8:12], uint32(encodingRaw))
	return buf
}
