package trfb

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// acceptPollInterval bounds how long the accept loop's AcceptTCP call
// blocks (via the listener deadline) before it rechecks Server.state and sweeps finished connections,
// matching the 1-second cooperative-cancellation granularity used
// throughout this package.
const acceptPollInterval = time.Second

// defaultPollTimeoutMs is the default BufferedIO timeout connections
// use at every blocking point, so a Stop request is observed within
// about a second (spec.md §4.2 rationale).
const defaultPollTimeoutMs = 1000

// Server is the listen socket, accept loop, connection set, shared
// framebuffer, and event queue described in spec.md §3/§4.5. The
// embedder creates one with NewServer, binds it with Bind or
// SetSocket, and starts the accept loop with Start.
type Server struct {
	mu    sync.Mutex
	state State

	listener *net.TCPListener

	fb      *Framebuffer
	updated int64 // atomic; incremented on client reads, zeroed on embedder writes

	clients    map[uint64]*Connection
	nextID     uint64
	acceptDone chan struct{}
	wg         sync.WaitGroup

	events eventRing

	logger      Logger
	ioTimeoutMs int
}

// NewServer allocates the shared server framebuffer (width x height,
// bpp bytes per pixel) and returns a Server ready to Bind or
// SetSocket. A nil logger defaults to the process-wide stderr sink.
func NewServer(width, height, bpp int, logger Logger) (*Server, error) {
	fb, err := NewFramebuffer(width, height, bpp)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &Server{
		state:       StateStopped,
		fb:          fb,
		clients:     make(map[uint64]*Connection),
		logger:      logger,
		ioTimeoutMs: defaultPollTimeoutMs,
	}, nil
}

// Bind resolves host:port (accepting both IPv4 and IPv6) and installs
// the resulting listening socket. It is rejected unless the server is
// currently Stopped.
func (s *Server) Bind(host, port string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return newError("Bind", KindInvalidArgument, errors.Errorf("server state is %s, want stopped", s.state))
	}
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return wrapError("Bind", KindTransportError, err, "resolving address")
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return wrapError("Bind", KindTransportError, err, "listening")
	}
	s.listener = ln
	return nil
}

// SetSocket installs a pre-listened TCP socket as the server's listener,
// as an alternative to Bind. It is rejected unless state is Stopped.
func (s *Server) SetSocket(ln *net.TCPListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return newError("SetSocket", KindInvalidArgument, errors.Errorf("server state is %s, want stopped", s.state))
	}
	if ln == nil {
		return newError("SetSocket", KindInvalidArgument, errors.New("nil listener"))
	}
	s.listener = ln
	return nil
}

// Start spawns the accept thread and blocks until it has begun polling
// the listen socket, or returns an error if it could not start.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return newError("Start", KindInvalidArgument, errors.Errorf("server state is %s, want stopped", s.state))
	}
	if s.listener == nil {
		s.mu.Unlock()
		return newError("Start", KindInvalidArgument, errors.New("no listener bound; call Bind or SetSocket first"))
	}
	s.state = StateWorking
	s.acceptDone = make(chan struct{})
	s.mu.Unlock()

	ready := make(chan error, 1)
	go s.acceptLoop(ready)
	return <-ready
}

// Stop requests the accept thread to stop, waits for every connection
// to reach Stopped or Error and be joined, and waits for the accept
// thread itself to exit before returning.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != StateWorking {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStop
	done := s.acceptDone
	s.mu.Unlock()
	<-done
	return nil
}

// Destroy stops the server if it is running, then closes the listening
// socket and releases the framebuffer.
func (s *Server) Destroy() error {
	if s.State() == StateWorking {
		if err := s.Stop(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.fb = nil
	return nil
}

// State returns the server's current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Framebuffer returns the shared server framebuffer. Callers must use
// LockFb/UnlockFb around any read or write of its pixels.
func (s *Server) Framebuffer() *Framebuffer {
	return s.fb
}

// LockFb takes the server framebuffer's mutex. Pass write=true when the
// embedder is about to paint a new frame (this zeroes the Updated
// counter); pass write=false when a worker is about to read it for a
// client (this increments Updated), per spec.md §4.5.
func (s *Server) LockFb(write bool) {
	s.fb.Lock()
	if write {
		atomic.StoreInt64(&s.updated, 0)
	} else {
		atomic.AddInt64(&s.updated, 1)
	}
}

// UnlockFb releases the server framebuffer's mutex.
func (s *Server) UnlockFb() {
	s.fb.Unlock()
}

// Updated returns the number of client reads since the embedder's last
// write, letting the embedder decide whether to bother producing a new
// frame.
func (s *Server) Updated() int64 {
	return atomic.LoadInt64(&s.updated)
}

// AddEvent pushes e onto the bounded event queue. It returns a
// KindQueueFull error if the queue is full; the event is dropped.
func (s *Server) AddEvent(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.events.push(e) {
		return newError("AddEvent", KindQueueFull, errors.New("event queue full"))
	}
	return nil
}

// PollEvent pops the oldest queued Event. It returns false (and a zero
// Event) when the queue is empty; it never blocks.
func (s *Server) PollEvent() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.pop()
}

func (s *Server) acceptLoop(ready chan<- error) {
	defer close(s.acceptDone)
	ready <- nil

	for s.State() == StateWorking {
		_ = s.listener.SetDeadline(time.Now().Add(acceptPollInterval))
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.sweepConnections()
				continue
			}
			s.logger.Errorf("accept: %v", err)
			s.mu.Lock()
			s.state = StateError
			s.mu.Unlock()
			break
		}
		s.acceptConnection(conn)
		s.sweepConnections()
	}

	s.shutdownConnections()

	s.mu.Lock()
	if s.state != StateError {
		s.state = StateStopped
	}
	s.mu.Unlock()
}

func (s *Server) acceptConnection(netConn *net.TCPConn) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	c, err := newConnection(s, id, netConn)
	if err != nil {
		s.logger.Errorf("accepting connection: %v", err)
		_ = netConn.Close()
		return
	}

	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.run()
	}()
}

// sweepConnections removes finished connections from the client set.
func (s *Server) sweepConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		if c.finished() {
			delete(s.clients, id)
		}
	}
}

// shutdownConnections asks every remaining connection to stop and
// waits for all worker goroutines to exit.
func (s *Server) shutdownConnections() {
	s.mu.Lock()
	for _, c := range s.clients {
		c.RequestStop()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.mu.Lock()
	s.clients = make(map[uint64]*Connection)
	s.mu.Unlock()
}

// ConnectionCount returns the number of currently tracked connections,
// for tests and embedders that want visibility into client churn.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
