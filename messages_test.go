package trfb

import (
	"net"
	"testing"
	"time"
)

func ioPipe(t *testing.T) (*BufferedIO, *BufferedIO) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	client, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	server := <-accepted

	wio, err := NewBufferedIO(client.(*net.TCPConn), NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	rio, err := NewBufferedIO(server.(*net.TCPConn), NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	return wio, rio
}

func TestReadKeyEvent(t *testing.T) {
	w, r := ioPipe(t)
	defer w.Free()
	defer r.Free()

	if err := w.WriteFull([]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x71}, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Flush(1000); err != nil {
		t.Fatal(err)
	}
	msg, err := readKeyEvent(r, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !msg.Down || msg.Keysym != 0x71 {
		t.Fatalf("got %+v", msg)
	}
}

func TestReadPointerEvent(t *testing.T) {
	w, r := ioPipe(t)
	defer w.Free()
	defer r.Free()

	if err := w.WriteFull([]byte{0x05, 0x00, 0x64, 0x00, 0xC8}, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Flush(1000); err != nil {
		t.Fatal(err)
	}
	msg, err := readPointerEvent(r, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ButtonMask != 0x05 || msg.X != 0x64 || msg.Y != 0xC8 {
		t.Fatalf("got %+v", msg)
	}
}

func TestReadSetEncodings(t *testing.T) {
	w, r := ioPipe(t)
	defer w.Free()
	defer r.Free()

	// pad byte, count=2 (BE), then two u32 encodings: Raw(0), Hextile(5).
	payload := []byte{0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05}
	if err := w.WriteFull(payload, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Flush(1000); err != nil {
		t.Fatal(err)
	}
	msg, err := readSetEncodings(r, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(msg.Encodings) != 2 || msg.Encodings[0] != 0 || msg.Encodings[1] != 5 {
		t.Fatalf("got %+v", msg.Encodings)
	}
}

func TestReadClientCutText(t *testing.T) {
	w, r := ioPipe(t)
	defer w.Free()
	defer r.Free()

	text := "clipboard"
	payload := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, byte(len(text))}
	payload = append(payload, []byte(text)...)
	if err := w.WriteFull(payload, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Flush(1000); err != nil {
		t.Fatal(err)
	}
	msg, err := readClientCutText(r, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Text) != text {
		t.Fatalf("got %q, want %q", msg.Text, text)
	}
}

func TestDecodeSetPixelFormat(t *testing.T) {
	w, r := ioPipe(t)
	defer w.Free()
	defer r.Free()

	payload := append([]byte{0x00, 0x00, 0x00}, EncodePixelFormat(serverOfferedFormat())...)
	if err := w.WriteFull(payload, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Flush(1000); err != nil {
		t.Fatal(err)
	}
	msg, err := readSetPixelFormat(r, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Format != serverOfferedFormat() {
		t.Fatalf("got %+v", msg.Format)
	}
}
