package trfb

import (
	"net"
	"testing"
	"time"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	s, err := NewServer(640, 480, 4, NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Bind("127.0.0.1", "0"); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Destroy() })
	return s, s.listener.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

// TestHandshakeV8None reproduces spec.md's scenario 1: a v8 client using
// security type None all the way through ServerInit.
func TestHandshakeV8None(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dial(t, addr)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	var offer [12]byte
	if _, err := readFull(conn, offer[:]); err != nil {
		t.Fatal(err)
	}
	if string(offer[:]) != "RFB 003.008\n" {
		t.Fatalf("got %q, want v8 offer", offer[:])
	}

	if _, err := conn.Write([]byte("RFB 003.008\n")); err != nil {
		t.Fatal(err)
	}

	var secTypes [2]byte
	if _, err := readFull(conn, secTypes[:]); err != nil {
		t.Fatal(err)
	}
	if secTypes != [2]byte{0x01, 0x01} {
		t.Fatalf("got % X, want [01 01]", secTypes)
	}

	if _, err := conn.Write([]byte{0x01}); err != nil {
		t.Fatal(err)
	}

	var result [4]byte
	if _, err := readFull(conn, result[:]); err != nil {
		t.Fatal(err)
	}
	if result != [4]byte{0, 0, 0, 0} {
		t.Fatalf("got % X, want SecurityResult OK", result)
	}

	if _, err := conn.Write([]byte{0x01}); err != nil { // shared-flag
		t.Fatal(err)
	}

	serverInit := make([]byte, 4+pixelFormatWireLen+4+4)
	if _, err := readFull(conn, serverInit); err != nil {
		t.Fatal(err)
	}
	if serverInit[0] != 0x02 || serverInit[1] != 0x80 {
		t.Fatalf("width wrong: % X", serverInit[0:2])
	}
	if serverInit[2] != 0x01 || serverInit[3] != 0xE0 {
		t.Fatalf("height wrong: % X", serverInit[2:4])
	}
	format := serverInit[4 : 4+pixelFormatWireLen]
	if format[0] != 32 || format[1] != 24 || format[2] != 0 || format[3] != 1 {
		t.Fatalf("format wrong: % X", format)
	}
	if string(serverInit[len(serverInit)-4:]) != "TEST" {
		t.Fatalf("name wrong: %q", serverInit[len(serverInit)-4:])
	}
}

// TestHandshakeV3Fallback reproduces spec.md's scenario 2.
func TestHandshakeV3Fallback(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dial(t, addr)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	var offer [12]byte
	if _, err := readFull(conn, offer[:]); err != nil {
		t.Fatal(err)
	}

	if _, err := conn.Write([]byte("RFB 003.003\n")); err != nil {
		t.Fatal(err)
	}

	var sec [4]byte
	if _, err := readFull(conn, sec[:]); err != nil {
		t.Fatal(err)
	}
	if sec != [4]byte{0, 0, 0, 1} {
		t.Fatalf("got % X, want [00 00 00 01]", sec)
	}

	// No SecurityResult for v3; proceed straight to ClientInit.
	if _, err := conn.Write([]byte{0x01}); err != nil {
		t.Fatal(err)
	}

	serverInit := make([]byte, 4+pixelFormatWireLen+4+4)
	if _, err := readFull(conn, serverInit); err != nil {
		t.Fatal(err)
	}
}

// TestKeyEventDelivery reproduces spec.md's scenario 4.
func TestKeyEventDelivery(t *testing.T) {
	s, addr := startTestServer(t)
	conn := dial(t, addr)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if err := completeHandshake(conn); err != nil {
		t.Fatal(err)
	}

	if _, err := conn.Write([]byte{0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x71}); err != nil {
		t.Fatal(err)
	}

	var e Event
	var ok bool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e, ok = s.PollEvent()
		if ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !ok {
		t.Fatal("expected a key event to be delivered")
	}
	if e.Kind != EventKey || !e.KeyDown || e.KeyCode != 0x71 {
		t.Fatalf("got %+v", e)
	}
}

// TestCooperativeShutdown reproduces spec.md's scenario 5.
func TestCooperativeShutdown(t *testing.T) {
	s, addr := startTestServer(t)
	conn := dial(t, addr)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	if err := completeHandshake(conn); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop took %v, want under 3s (two 1s polling periods plus slack)", elapsed)
	}

	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if n != 0 || err == nil {
		t.Fatalf("expected EOF on client socket, got n=%d err=%v", n, err)
	}
}

// TestUnknownMessageTypeIsGraceful reproduces spec.md's scenario 6.
func TestUnknownMessageTypeIsGraceful(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dial(t, addr)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if err := completeHandshake(conn); err != nil {
		t.Fatal(err)
	}

	if _, err := conn.Write([]byte{0x7F}); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if n != 0 || err == nil {
		t.Fatal("expected the connection to be closed after an unknown message type")
	}

	// The accept loop must still be serving new connections.
	second := dial(t, addr)
	defer second.Close()
	second.SetDeadline(time.Now().Add(2 * time.Second))
	var offer [12]byte
	if _, err := readFull(second, offer[:]); err != nil {
		t.Fatalf("server stopped accepting new connections: %v", err)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// completeHandshake drives the v8/None handshake to ClientInit/ServerInit
// without asserting on the bytes, for tests that only care about what
// follows.
func completeHandshake(conn net.Conn) error {
	var offer [12]byte
	if _, err := readFull(conn, offer[:]); err != nil {
		return err
	}
	if _, err := conn.Write([]byte("RFB 003.008\n")); err != nil {
		return err
	}
	var secTypes [2]byte
	if _, err := readFull(conn, secTypes[:]); err != nil {
		return err
	}
	if _, err := conn.Write([]byte{0x01}); err != nil {
		return err
	}
	var result [4]byte
	if _, err := readFull(conn, result[:]); err != nil {
		return err
	}
	if _, err := conn.Write([]byte{0x01}); err != nil {
		return err
	}
	serverInit := make([]byte, 4+pixelFormatWireLen+4+4)
	_, err := readFull(conn, serverInit)
	return err
}
