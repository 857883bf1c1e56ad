// Package server implements the UDP and TCP listeners that feed
// inbound wire queries into a pkg/handler.Handler, grounded on the
// teacher's pkg/server goroutine-per-connection/per-datagram model
// but driving a single root Handler instead of a plugin chain.
package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/handler"
)

var (
	ErrServerClosed      = errors.New("server: closed")
	errMissingDNSHandler = errors.New("server: missing handler")
)

var nopLogger = zap.NewNop()

// Opts configures a Server.
type Opts struct {
	// Logger optionally receives per-connection diagnostics. A nil
	// Logger disables logging.
	Logger *zap.Logger

	// Handler answers every inbound message. Required.
	Handler handler.Handler

	// IdleTimeout bounds how long a TCP connection may sit idle
	// between queries before it is closed. Zero disables the limit.
	IdleTimeout time.Duration
}

func (o *Opts) init() {
	if o.Logger == nil {
		o.Logger = nopLogger
	}
}

// Server tracks the listeners/connections it owns so Close can shut
// all of them down together, matching the teacher's pkg/server.Server.
type Server struct {
	opts Opts

	m             sync.Mutex
	closed        bool
	closerTracker map[io.Closer]struct{}
	wg            sync.WaitGroup

	addr net.Addr
}

// Addr returns the address of the listener/socket ServeUDP or
// ServeTCP was handed, or nil before serving has started.
func (s *Server) Addr() net.Addr {
	s.m.Lock()
	defer s.m.Unlock()
	return s.addr
}

// New constructs a Server. opts.Handler must be non-nil.
func New(opts Opts) *Server {
	opts.init()
	return &Server{opts: opts}
}

// Closed reports whether Close has been called.
func (s *Server) Closed() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closed
}

// trackCloser adds or removes c from the set of closers Close() will
// shut down, returning false if the server is already closed.
func (s *Server) trackCloser(c io.Closer, add bool) bool {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closerTracker == nil {
		s.closerTracker = make(map[io.Closer]struct{})
	}

	if add {
		if s.closed {
			return false
		}
		s.closerTracker[c] = struct{}{}
		return true
	}
	delete(s.closerTracker, c)
	return true
}

// Close shuts down every tracked listener/connection and waits for
// their serving goroutines to return.
func (s *Server) Close() {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return
	}
	s.closed = true

	closers := make([]io.Closer, 0, len(s.closerTracker))
	for c := range s.closerTracker {
		closers = append(closers, c)
	}
	s.closerTracker = nil
	s.m.Unlock()

	for _, c := range closers {
		_ = c.Close()
	}
	s.wg.Wait()
}
