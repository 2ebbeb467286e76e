package trfb

import (
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// bufSize is the fixed size of BufferedIO's internal read and write
// buffers (spec.md §3, "B=2048").
const bufSize = 2048

// Transport is what BufferedIO wraps: a byte stream with access to its
// underlying file descriptor, so reads and writes can be bounded by an
// explicit millisecond timeout via select(2) rather than relying on
// net.Conn deadlines. *net.TCPConn satisfies this; it is what the
// server's accept loop hands to each new Connection.
type Transport interface {
	net.Conn
	syscall.Conn
}

// BufferedIO is a timeout-bounded buffered reader/writer over an
// arbitrary Transport. Every blocking operation takes an explicit
// timeout in milliseconds (0 means block indefinitely) so a connection
// worker can poll its own stop flag between attempts instead of relying
// on asynchronous cancellation.
type BufferedIO struct {
	transport Transport
	fd        int
	logger    Logger

	rbuf         [bufSize]byte
	rHead, rTail int

	wbuf [bufSize]byte
	wLen int
}

// NewBufferedIO wraps transport, extracting its raw file descriptor for
// later select(2)-based readiness waits.
func NewBufferedIO(transport Transport, logger Logger) (*BufferedIO, error) {
	if logger == nil {
		logger = NewNopLogger()
	}
	raw, err := transport.SyscallConn()
	if err != nil {
		return nil, wrapError("NewBufferedIO", KindTransportError, err, "obtaining raw connection")
	}
	var fd int
	ctrlErr := raw.Control(func(p uintptr) {
		fd = int(p)
	})
	if ctrlErr != nil {
		return nil, wrapError("NewBufferedIO", KindTransportError, ctrlErr, "extracting file descriptor")
	}
	return &BufferedIO{transport: transport, fd: fd, logger: logger}, nil
}

func timevalFromMillis(timeoutMs int) *unix.Timeval {
	if timeoutMs <= 0 {
		return nil
	}
	tv := unix.NsecToTimeval(int64(timeoutMs) * int64(time.Millisecond))
	return &tv
}

// waitReady blocks until fd is ready for the requested direction or
// timeoutMs elapses, retrying transparently on EINTR. timeoutMs == 0
// blocks indefinitely.
func (b *BufferedIO) waitReady(forWrite bool, timeoutMs int) (bool, error) {
	deadline := time.Time{}
	if timeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}
	for {
		remaining := timeoutMs
		if timeoutMs > 0 {
			remaining = int(time.Until(deadline) / time.Millisecond)
			if remaining <= 0 {
				return false, nil
			}
		}
		var rfds, wfds unix.FdSet
		set := &rfds
		if forWrite {
			set = &wfds
		}
		fdSet(set, b.fd)
		n, err := unix.Select(b.fd+1, &rfds, &wfds, nil, timevalFromMillis(remaining))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return false, wrapError("select", KindTransportError, err, "waiting for readiness")
		}
		if n == 0 {
			return false, nil
		}
		return true, nil
	}
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

// Read fills buf from the internal read buffer, refilling it with a
// single transport read (bounded by timeoutMs) if empty. It returns the
// number of bytes placed into buf (1..len(buf)) on success, 0 on
// timeout, and a non-nil error otherwise. Once data is buffered,
// subsequent calls drain it without re-entering select.
func (b *BufferedIO) Read(buf []byte, timeoutMs int) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if b.rHead == b.rTail {
		ready, err := b.waitReady(false, timeoutMs)
		if err != nil {
			return -1, err
		}
		if !ready {
			return 0, nil
		}
		n, err := b.rawRead(b.rbuf[:])
		if err != nil {
			return -1, err
		}
		b.rHead, b.rTail = 0, n
	}
	n := copy(buf, b.rbuf[b.rHead:b.rTail])
	b.rHead += n
	return n, nil
}

// ReadFull repeatedly calls Read until buf is completely filled,
// retrying on timeout. It returns once all of buf is filled or a
// transport error occurs.
func (b *BufferedIO) ReadFull(buf []byte, timeoutMs int) error {
	total := 0
	for total < len(buf) {
		n, err := b.Read(buf[total:], timeoutMs)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		total += n
	}
	return nil
}

func (b *BufferedIO) rawRead(p []byte) (int, error) {
	for {
		n, err := unix.Read(b.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			ready, werr := b.waitReady(false, 0)
			if werr != nil {
				return 0, werr
			}
			if !ready {
				continue
			}
			continue
		}
		if err != nil {
			return 0, newError("read", KindTransportError, err)
		}
		if n == 0 {
			return 0, newError("read", KindTransportError, errDisconnected)
		}
		return n, nil
	}
}

func (b *BufferedIO) rawWrite(p []byte) (int, error) {
	for {
		n, err := unix.Write(b.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			ready, werr := b.waitReady(true, 0)
			if werr != nil {
				return 0, werr
			}
			if !ready {
				continue
			}
			continue
		}
		if err != nil {
			return 0, newError("write", KindTransportError, err)
		}
		return n, nil
	}
}

// Write appends data into the internal write buffer, up to the space
// remaining, without performing transport I/O. If the write buffer
// becomes completely full, Flush is called automatically. It returns
// the number of bytes actually absorbed in this call.
func (b *BufferedIO) Write(data []byte, timeoutMs int) (int, error) {
	space := bufSize - b.wLen
	n := len(data)
	if n > space {
		n = space
	}
	copy(b.wbuf[b.wLen:b.wLen+n], data[:n])
	b.wLen += n
	if b.wLen == bufSize {
		if _, err := b.Flush(timeoutMs); err != nil {
			return -1, err
		}
	}
	return n, nil
}

// WriteFull repeatedly calls Write (flushing as needed) until all of
// data has been absorbed into the write buffer or the transport.
func (b *BufferedIO) WriteFull(data []byte, timeoutMs int) error {
	for len(data) > 0 {
		n, err := b.Write(data, timeoutMs)
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := b.Flush(timeoutMs); err != nil {
				return err
			}
			continue
		}
		data = data[n:]
	}
	return nil
}

// Flush drains the write buffer to the transport. It returns the
// number of bytes still unwritten on partial progress (e.g. a
// timeout), 0 once the buffer is fully drained, and a non-nil error on
// transport failure.
func (b *BufferedIO) Flush(timeoutMs int) (int, error) {
	for b.wLen > 0 {
		ready, err := b.waitReady(true, timeoutMs)
		if err != nil {
			return -1, err
		}
		if !ready {
			return b.wLen, nil
		}
		n, err := b.rawWrite(b.wbuf[:b.wLen])
		if err != nil {
			return -1, err
		}
		copy(b.wbuf[:], b.wbuf[n:b.wLen])
		b.wLen -= n
	}
	return 0, nil
}

// Free flushes any buffered writes best-effort and closes the
// underlying transport.
func (b *BufferedIO) Free() error {
	_, _ = b.Flush(1000)
	if err := b.transport.Close(); err != nil {
		return errors.WithMessage(err, "closing transport")
	}
	return nil
}
