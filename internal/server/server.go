// Package server runs the TCP front end: the accept loop, per-connection
// framing, and the dispatch of decoded requests onto the worker pool.
//
// Each connection is single-flight: the reader decodes one frame, hands it
// to the pool and waits for the response write before reading the next.
// Requests from one client therefore execute and respond in order, while
// different clients proceed in parallel across the workers.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"skintrade/internal/pool"
	"skintrade/internal/protocol"
)

// maxClients caps simultaneous connections; further dials are answered
// with SERVER_FULL and closed.
const maxClients = 64

// Server owns the TCP listener and connection lifecycles.
type Server struct {
	addr     string
	pool     *pool.Pool
	dispatch *Dispatcher
	logger   *slog.Logger

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// New builds a server listening on port (0 picks an ephemeral port).
func New(port int, p *pool.Pool, d *Dispatcher, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     fmt.Sprintf(":%d", port),
		pool:     p,
		dispatch: d,
		logger:   logger.With("component", "server"),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and begins accepting.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.logger.Info("listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr reports the bound listen address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Stop closes the listener and every open connection, then joins the
// connection goroutines. The worker pool is owned by the caller.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.cancel()
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
	s.logger.Info("server stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		if !s.track(conn) {
			s.reject(conn)
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// track registers a connection, refusing past the client cap or after Stop.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.conns) >= maxClients {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// reject answers an over-capacity dial with a SERVER_FULL error frame.
func (s *Server) reject(conn net.Conn) {
	defer conn.Close()
	s.logger.Warn("connection refused, at capacity", "remote", conn.RemoteAddr().String())
	_ = protocol.WriteFrame(conn, &protocol.Frame{
		Type:    protocol.MsgError,
		Payload: protocol.EncodeError(0, protocol.CodeServerFull),
	})
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		s.untrack(conn)
		conn.Close()
		s.wg.Done()
	}()

	remote := conn.RemoteAddr().String()
	s.logger.Info("client connected", "remote", remote)

	cs := &connState{}
	for {
		req, err := protocol.ReadFrame(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.logger.Info("client disconnected", "remote", remote)
			case protocol.IsFramingError(err):
				s.logger.Warn("framing error, closing connection", "remote", remote, "error", err)
			case s.ctx.Err() == nil:
				s.logger.Warn("read failed", "remote", remote, "error", err)
			}
			return
		}

		done := make(chan struct{})
		job := func() {
			defer close(done)
			resp := s.dispatch.Handle(s.ctx, cs, req)
			if err := protocol.WriteFrame(conn, resp); err != nil {
				s.logger.Warn("write failed", "remote", remote, "error", err)
				conn.Close()
			}
		}
		if err := s.pool.Submit(job); err != nil {
			return
		}

		select {
		case <-done:
		case <-s.ctx.Done():
			return
		}
	}
}
