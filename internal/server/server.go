// Package server accepts TCP connections and serves one request on each.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Brownie44l1/cgiserve/internal/logger"
	"github.com/Brownie44l1/cgiserve/internal/request"
)

var ErrServerClosed = errors.New("server closed")

const (
	defaultReadTimeout    = 30 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultMaxConnections = 256
)

// Options configures a Server. Zero values take defaults.
type Options struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int64
	Limits         request.Limits
	Logger         logger.Logger
	Metrics        *Metrics
}

type Server struct {
	handler Handler
	opts    Options
	logger  logger.Logger
	metrics *Metrics

	sem *semaphore.Weighted

	// acceptCtx ends the accept loop; connCtx is handed to handlers and
	// only ends on Close.
	acceptCtx    context.Context
	stopAccept   context.CancelFunc
	connCtx      context.Context
	cancelConns  context.CancelFunc
	closed       atomic.Bool
	mu           sync.Mutex
	listener     net.Listener
	activeConns  map[net.Conn]struct{}
	connsRunning sync.WaitGroup
}

func New(handler Handler, opts Options) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = defaultMaxConnections
	}
	if opts.Logger == nil {
		opts.Logger = &logger.NullLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	s := &Server{
		handler:     handler,
		opts:        opts,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		sem:         semaphore.NewWeighted(opts.MaxConnections),
		activeConns: make(map[net.Conn]struct{}),
	}
	s.acceptCtx, s.stopAccept = context.WithCancel(context.Background())
	s.connCtx, s.cancelConns = context.WithCancel(context.Background())
	return s
}

// Metrics returns the live metrics of s.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// ListenAndServe listens on all interfaces at port and serves until the
// server is shut down.
func (s *Server) ListenAndServe(port uint16) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l. A connection slot is reserved before each
// Accept, so at most MaxConnections requests are in flight and further
// clients wait in the listen backlog.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("listening", logger.F("addr", l.Addr().String()), logger.F("max_connections", s.opts.MaxConnections))

	var backoff time.Duration
	for {
		if err := s.sem.Acquire(s.acceptCtx, 1); err != nil {
			return ErrServerClosed
		}

		rwc, err := l.Accept()
		if err != nil {
			s.sem.Release(1)
			if s.closed.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			backoff = nextBackoff(backoff)
			s.logger.Error("error accepting connection", logger.F("error", err), logger.F("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		// Registering under mu orders every Add before Shutdown's Wait.
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			rwc.Close()
			s.sem.Release(1)
			return ErrServerClosed
		}
		s.activeConns[rwc] = struct{}{}
		s.connsRunning.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.connsRunning.Done()
			defer s.sem.Release(1)
			defer s.untrack(rwc)

			s.metrics.ActiveConnections.Add(1)
			defer s.metrics.ActiveConnections.Add(-1)

			c := newConn(s, rwc)
			c.serve(s.connCtx)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeConns, c)
}

// Shutdown stops accepting and waits for in-flight connections to finish or
// for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopListening()

	done := make(chan struct{})
	go func() {
		s.connsRunning.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting, cancels running scripts and closes every open
// connection.
func (s *Server) Close() error {
	err := s.stopListening()
	s.cancelConns()

	s.mu.Lock()
	for c := range s.activeConns {
		c.Close()
	}
	s.mu.Unlock()
	return err
}

func (s *Server) stopListening() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	s.stopAccept()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
