package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ZentaChain/zentalk-peer/pkg/logging"
	"github.com/ZentaChain/zentalk-peer/pkg/protocol"
)

// ServerState is the lifecycle state of a Server
type ServerState int

const (
	StateIdle ServerState = iota
	StateListening
	StateStopped
)

func (s ServerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("ServerState(%d)", int(s))
	}
}

// Server accepts peer connections and dispatches their frames.
//
// Idle -> Listening -> Stopped. A stopped server may be started again.
type Server struct {
	cfg      Config
	dispatch dispatchTable
	log      logging.Sink
	metrics  *Metrics

	mu       sync.Mutex
	state    ServerState
	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group
	conns    map[string]*Connection
	connWG   sync.WaitGroup
}

// NewServer creates an idle server
func NewServer(cfg Config, h Handler, log logging.Sink, metrics *Metrics) *Server {
	if log == nil {
		log = logging.Discard()
	}
	return &Server{
		cfg:      cfg,
		dispatch: newDispatchTable(h),
		log:      log,
		metrics:  orNewMetrics(metrics),
		conns:    make(map[string]*Connection),
	}
}

// State returns the current lifecycle state
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the listener address while listening
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of open inbound connections
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Start begins listening. Cancelling ctx stops the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateListening {
		return fmt.Errorf("%w: server is already listening", ErrInvalidOperation)
	}

	lc := net.ListenConfig{KeepAliveConfig: s.cfg.KeepAlive}
	listener, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr(), err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	s.listener = listener
	s.cancel = cancel
	s.group = group
	s.state = StateListening

	group.Go(func() error { return s.acceptLoop(groupCtx, listener) })
	group.Go(func() error { return s.idleSweep(groupCtx) })
	group.Go(func() error {
		<-groupCtx.Done()
		s.shutdown(listener)
		return nil
	})

	s.log.LogInformation(fmt.Sprintf("server listening on %s", listener.Addr()))
	return nil
}

// Stop closes the listener and every open connection and waits for all
// server goroutines to return.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != StateListening {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: server is %s", ErrInvalidOperation, state)
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	return s.Wait()
}

// Wait blocks until the server goroutines of the current run have returned
func (s *Server) Wait() error {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()

	var err error
	if group != nil {
		err = group.Wait()
	}
	s.connWG.Wait()
	return err
}

// shutdown runs once per start when the run context ends
func (s *Server) shutdown(listener net.Listener) {
	listener.Close()

	s.mu.Lock()
	if s.listener == listener {
		s.state = StateStopped
		s.listener = nil
	}
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	s.log.LogInformation("server stopped")
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.log.LogError("accept failed", err)
			return err
		}

		c := newConnection(conn, s.cfg.ReceiveBufferSize)
		if !s.track(ctx, c) {
			c.Close()
			return nil
		}

		s.metrics.ConnectionsAccepted.Inc()
		logging.Debugf(s.log, "connection %s from %s", c.ID(), c.RemoteAddr())

		go s.serve(ctx, c)
	}
}

// track registers a connection unless the server is shutting down
func (s *Server) track(ctx context.Context, c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	s.conns[c.ID()] = c
	s.connWG.Add(1)
	s.metrics.ConnectionsActive.Inc()
	return true
}

func (s *Server) untrack(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c.ID())
	s.mu.Unlock()
	s.metrics.ConnectionsActive.Dec()
}

// serve reads frames from one connection until it closes
func (s *Server) serve(ctx context.Context, c *Connection) {
	defer s.connWG.Done()
	defer s.untrack(c)
	defer c.Close()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.cfg.FramesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.FramesPerSecond), 1)
	}

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		buffers, err := c.Receive(ctx, s.cfg.MaxFrameSize, 0)
		if err != nil {
			s.receiveFailed(c, err)
			return
		}

		s.handleFrame(c, buffers)
	}
}

func (s *Server) receiveFailed(c *Connection, err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, context.Canceled), errors.Is(err, ErrConnectionClosed):
		logging.Debugf(s.log, "connection %s closed", c.ID())
	case errors.Is(err, protocol.ErrFrameTooLarge):
		s.metrics.FrameErrors.WithLabelValues("too_large").Inc()
		s.log.LogWarning(fmt.Sprintf("closing %s: oversized frame", c.RemoteAddr()), err)
	case errors.Is(err, protocol.ErrFrameCorrupted):
		s.metrics.FrameErrors.WithLabelValues("corrupted").Inc()
		s.log.LogWarning(fmt.Sprintf("closing %s: corrupted frame", c.RemoteAddr()), err)
	default:
		s.log.LogWarning(fmt.Sprintf("closing %s", c.RemoteAddr()), err)
	}
}

// handleFrame dispatches one frame. A bad shape drops the frame only; a
// panicking handler is logged and the connection keeps reading.
func (s *Server) handleFrame(c *Connection, buffers [][]byte) {
	shape, fn, err := s.dispatch.lookup(buffers)
	if err != nil {
		s.metrics.FrameErrors.WithLabelValues("shape").Inc()
		s.log.LogWarning(fmt.Sprintf("dropping frame from %s", c.RemoteAddr()), err)
		return
	}

	s.metrics.FramesReceived.WithLabelValues(shape).Inc()
	logging.Debugf(s.log, "frame %s from %s", shape, c.RemoteAddr())

	defer func() {
		if r := recover(); r != nil {
			s.metrics.FrameErrors.WithLabelValues("panic").Inc()
			s.log.LogError(fmt.Sprintf("handler panic on %s frame", shape), fmt.Errorf("%v", r))
		}
	}()
	fn(c, buffers)
}

// idleSweep closes connections silent for longer than IdleTimeout
func (s *Server) idleSweep(ctx context.Context) error {
	if s.cfg.IdleTimeout <= 0 || s.cfg.IdleSweepInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.cfg.IdleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.closeIdle()
		}
	}
}

func (s *Server) closeIdle() {
	s.mu.Lock()
	var idle []*Connection
	for _, c := range s.conns {
		if !c.Closed() && c.IdleFor() > s.cfg.IdleTimeout {
			idle = append(idle, c)
		}
	}
	s.mu.Unlock()

	for _, c := range idle {
		s.metrics.ConnectionsIdled.Inc()
		logging.Debugf(s.log, "closing idle connection %s", c.ID())
		c.Close()
	}
}
