package trfb

import (
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// Connection is a single client's handshake state machine and message
// loop, per spec.md §3/§4.4. The accept thread creates and owns it;
// the worker goroutine (run) only borrows it and must not free it.
type Connection struct {
	server *Server
	id     uint64

	mu      sync.Mutex
	state   State
	version int // negotiated ProtocolVersion minor: 3, 7, or 8

	remoteAddr string
	name       string

	io *BufferedIO

	clientFB  *Framebuffer
	clientFmt PixelFormat

	logger Logger
	done   chan struct{}
}

func newConnection(s *Server, id uint64, netConn *net.TCPConn) (*Connection, error) {
	io, err := NewBufferedIO(netConn, s.logger)
	if err != nil {
		return nil, err
	}
	remote := netConn.RemoteAddr().String()
	return &Connection{
		server:     s,
		id:         id,
		state:      StateWorking,
		remoteAddr: remote,
		name:       connectionName(remote),
		io:         io,
		clientFmt:  serverOfferedFormat(),
		logger:     s.logger,
		done:       make(chan struct{}),
	}, nil
}

func connectionName(remoteAddr string) string {
	if remoteAddr != "" {
		return remoteAddr
	}
	return fmt.Sprintf("client-%08x", rand.Uint32())
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// RequestStop asks the connection to stop at its next polling point.
// It has no effect on a connection that has already reached a terminal
// state.
func (c *Connection) RequestStop() {
	c.mu.Lock()
	if c.state == StateWorking {
		c.state = StateStop
	}
	c.mu.Unlock()
}

func (c *Connection) stopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateStop
}

// finished reports whether the worker goroutine has fully exited and
// released its resources, so the accept thread's sweep can safely
// unlink it.
func (c *Connection) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// run is the worker goroutine's entry point: negotiate the handshake,
// then loop over client messages until a stop request, protocol error,
// or transport error ends the connection. It always ends by releasing
// the BufferedIO and signaling done; the accept thread is responsible
// for unlinking the Connection afterwards.
func (c *Connection) run() {
	defer close(c.done)
	defer func() {
		if err := c.io.Free(); err != nil {
			c.logger.Warnf("%s: closing connection: %v", c.name, err)
		}
	}()

	if err := c.negotiate(); err != nil {
		c.setState(StateError)
		c.logger.Errorf("%s: handshake failed: %v", c.name, err)
		return
	}
	c.logger.Infof("%s: connected (RFB 3.%d)", c.name, c.version)

	c.messageLoop()

	switch c.State() {
	case StateStop, StateStopped:
		c.setState(StateStopped)
		c.logger.Infof("%s: disconnected", c.name)
	case StateError:
		c.logger.Errorf("%s: disconnected on error", c.name)
	}
}

func (c *Connection) messageLoop() {
	var typeBuf [1]byte
	for {
		if c.stopRequested() {
			return
		}
		n, err := c.io.Read(typeBuf[:], defaultPollTimeoutMs)
		if err != nil {
			c.setState(StateError)
			c.logger.Errorf("%s: %v", c.name, err)
			return
		}
		if n == 0 {
			continue // timeout; re-check stop flag
		}
		if err := c.dispatch(typeBuf[0]); err != nil {
			c.setState(StateError)
			c.logger.Errorf("%s: %v", c.name, err)
			return
		}
	}
}

func (c *Connection) dispatch(msgType byte) error {
	switch msgType {
	case msgSetPixelFormat:
		return c.handleSetPixelFormat()
	case msgSetEncodings:
		return c.handleSetEncodings()
	case msgFramebufferUpdateRequest:
		return c.handleUpdateRequest()
	case msgKeyEvent:
		return c.handleKeyEvent()
	case msgPointerEvent:
		return c.handlePointerEvent()
	case msgClientCutText:
		return c.handleCutText()
	default:
		return newError("dispatch", KindProtocolError, errors.Errorf("unknown message type %d", msgType))
	}
}

// negotiate runs the ProtocolVersion exchange, the version-dependent
// security handshake, and ClientInit/ServerInit (spec.md §4.3/§4.4).
func (c *Connection) negotiate() error {
	if err := c.io.WriteFull(EncodeProtocolVersion(8), defaultPollTimeoutMs); err != nil {
		return err
	}
	if _, err := c.io.Flush(defaultPollTimeoutMs); err != nil {
		return err
	}

	var verBuf [protocolVersionLen]byte
	if err := c.io.ReadFull(verBuf[:], defaultPollTimeoutMs); err != nil {
		return err
	}
	version, err := DecodeProtocolVersion(verBuf[:])
	if err != nil {
		return err
	}
	c.version = version

	if err := c.negotiateSecurity(); err != nil {
		return err
	}

	var shared [1]byte
	if err := c.io.ReadFull(shared[:], defaultPollTimeoutMs); err != nil {
		return err
	}
	c.logger.Infof("%s: shared-flag=%v", c.name, shared[0] != 0)

	width, height := c.server.Framebuffer().Dimensions()
	init := EncodeServerInit(width, height, serverOfferedFormat(), "TEST")
	if err := c.io.WriteFull(init, defaultPollTimeoutMs); err != nil {
		return err
	}
	if _, err := c.io.Flush(defaultPollTimeoutMs); err != nil {
		return err
	}
	return nil
}

func (c *Connection) negotiateSecurity() error {
	switch c.version {
	case 3:
		var buf [4]byte
		buf[3] = securityNone
		if err := c.io.WriteFull(buf[:], defaultPollTimeoutMs); err != nil {
			return err
		}
		if _, err := c.io.Flush(defaultPollTimeoutMs); err != nil {
			return err
		}
	case 7, 8:
		if err := c.io.WriteFull([]byte{1, securityNone}, defaultPollTimeoutMs); err != nil {
			return err
		}
		if _, err := c.io.Flush(defaultPollTimeoutMs); err != nil {
			return err
		}
		var chosen [1]byte
		if err := c.io.ReadFull(chosen[:], defaultPollTimeoutMs); err != nil {
			return err
		}
		if chosen[0] != securityNone {
			return newError("negotiateSecurity", KindProtocolError, errors.Errorf("client requested unsupported security type %d", chosen[0]))
		}
		if c.version == 8 {
			var result [4]byte
			// result is already zero (securityResultOK).
			_ = securityResultOK
			if err := c.io.WriteFull(result[:], defaultPollTimeoutMs); err != nil {
				return err
			}
			if _, err := c.io.Flush(defaultPollTimeoutMs); err != nil {
				return err
			}
		}
	default:
		return newError("negotiateSecurity", KindProtocolError, errors.Errorf("unsupported protocol version 3.%d", c.version))
	}
	return nil
}

func (c *Connection) handleSetPixelFormat() error {
	msg, err := readSetPixelFormat(c.io, defaultPollTimeoutMs)
	if err != nil {
		return err
	}
	width, height := c.server.Framebuffer().Dimensions()
	fb, err := NewFramebufferOfFormat(width, height, msg.Format)
	if err != nil {
		return err
	}
	c.clientFB = fb
	c.clientFmt = msg.Format
	c.logger.Infof("%s: set pixel format bpp=%d truecolor=%v bigendian=%v", c.name, msg.Format.BPP, msg.Format.TrueColor, msg.Format.BigEndian)
	return nil
}

func (c *Connection) handleSetEncodings() error {
	msg, err := readSetEncodings(c.io, defaultPollTimeoutMs)
	if err != nil {
		return err
	}
	c.logger.Infof("%s: client encodings: %v (only Raw is honored)", c.name, msg.Encodings)
	return nil
}

func (c *Connection) handleUpdateRequest() error {
	msg, err := readFramebufferUpdateRequest(c.io, defaultPollTimeoutMs)
	if err != nil {
		return err
	}

	if err := c.refreshClientFramebuffer(); err != nil {
		return err
	}

	x, y, w, h := int(msg.X), int(msg.Y), int(msg.W), int(msg.H)
	fbWidth, fbHeight := c.clientFB.Width(), c.clientFB.Height()
	if x < 0 || y < 0 || x >= fbWidth || y >= fbHeight {
		c.logger.Warnf("%s: update request origin (%d,%d) outside %dx%d, ignoring", c.name, x, y, fbWidth, fbHeight)
		return nil
	}
	if x+w > fbWidth {
		w = fbWidth - x
	}
	if y+h > fbHeight {
		h = fbHeight - y
	}

	return c.sendFramebufferUpdate(x, y, w, h)
}

// refreshClientFramebuffer lazily creates the per-client framebuffer as
// a copy of the server framebuffer on first use, or otherwise converts
// the live server framebuffer into it and applies the client's
// negotiated endianness (spec.md §4.4 step 3).
func (c *Connection) refreshClientFramebuffer() error {
	if c.clientFB == nil {
		c.server.LockFb(false)
		c.clientFB = c.server.Framebuffer().Copy()
		c.server.UnlockFb()
		return c.clientFB.Endian(c.clientFmt.BigEndian)
	}
	c.server.LockFb(false)
	err := Convert(c.clientFB, c.server.Framebuffer())
	c.server.UnlockFb()
	if err != nil {
		return err
	}
	return c.clientFB.Endian(c.clientFmt.BigEndian)
}

func (c *Connection) sendFramebufferUpdate(x, y, w, h int) error {
	if err := c.io.WriteFull(encodeFramebufferUpdateHeader(1), defaultPollTimeoutMs); err != nil {
		return err
	}
	if err := c.io.WriteFull(encodeRectangleHeader(x, y, w, h), defaultPollTimeoutMs); err != nil {
		return err
	}
	c.clientFB.Lock()
	for row := 0; row < h; row++ {
		if err := c.io.WriteFull(c.clientFB.RowSlice(x, y+row, w), defaultPollTimeoutMs); err != nil {
			c.clientFB.Unlock()
			return err
		}
	}
	c.clientFB.Unlock()
	_, err := c.io.Flush(defaultPollTimeoutMs)
	return err
}

func (c *Connection) handleKeyEvent() error {
	msg, err := readKeyEvent(c.io, defaultPollTimeoutMs)
	if err != nil {
		return err
	}
	if addErr := c.server.AddEvent(NewKeyEvent(msg.Down, msg.Keysym)); addErr != nil {
		c.logger.Warnf("%s: dropping key event, queue full", c.name)
	}
	return nil
}

func (c *Connection) handlePointerEvent() error {
	msg, err := readPointerEvent(c.io, defaultPollTimeoutMs)
	if err != nil {
		return err
	}
	if addErr := c.server.AddEvent(NewPointerEvent(msg.ButtonMask, msg.X, msg.Y)); addErr != nil {
		c.logger.Warnf("%s: dropping pointer event, queue full", c.name)
	}
	return nil
}

func (c *Connection) handleCutText() error {
	msg, err := readClientCutText(c.io, defaultPollTimeoutMs)
	if err != nil {
		return err
	}
	if addErr := c.server.AddEvent(NewCutTextEvent(msg.Text)); addErr != nil {
		c.logger.Warnf("%s: dropping cut-text event, queue full", c.name)
	}
	return nil
}
