package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polisai/decodeguard/internal/hook"
	"github.com/polisai/decodeguard/pkg/domain"
)

// DecodeSymbol is the name under which the server registers its decode entry point.
const DecodeSymbol = hook.DecodeSymbol

// Disconnect reasons used by the server itself.
const (
	ReasonRejected      = "message rejected"
	ReasonServerStopped = "server shutting down"
)

// Config configures a Server.
type Config struct {
	ListenAddress string
	MaxFrameBytes int
	// WriteTimeout bounds each write to a peer. Zero means DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// Stats is a snapshot of server activity.
type Stats struct {
	ActiveConnections int   `json:"activeConnections"`
	Accepted          int64 `json:"accepted"`
	Frames            int64 `json:"frames"`
	Messages          int64 `json:"messages"`
	Rejected          int64 `json:"rejected"`
}

// Server accepts peers and routes every inbound frame through its decode entry
// point. It implements guard.Host.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	symbols *hook.SymbolTable
	entry   *hook.EntryPoint

	mu       sync.Mutex
	listener net.Listener
	conns    map[domain.ConnectionID]*Conn
	closing  bool
	wg       sync.WaitGroup

	accepted atomic.Int64
	frames   atomic.Int64
	messages atomic.Int64
	rejected atomic.Int64
}

// NewServer creates a server and registers its decode entry point.
func NewServer(cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.MaxFrameBytes <= 0 {
		return nil, fmt.Errorf("max frame bytes must be positive, got %d", cfg.MaxFrameBytes)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		symbols: hook.NewSymbolTable(),
		conns:   make(map[domain.ConnectionID]*Conn),
	}
	s.entry = hook.NewEntryPoint(DecodeSymbol, hook.DecodeSignature, s.processMessages)
	if err := s.symbols.Register(s.entry); err != nil {
		return nil, err
	}
	return s, nil
}

// Lookup resolves an entry point exported by the server.
func (s *Server) Lookup(name string) (*hook.EntryPoint, bool) {
	return s.symbols.Lookup(name)
}

// ReportError receives fatal errors from embedded subsystems.
func (s *Server) ReportError(err error) {
	s.logger.Error("Subsystem reported an error", "error", err)
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddress, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown is called or ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.logger.Info("Message host listening", "address", ln.Addr().String())

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		c := newConn(nc, s.cfg.WriteTimeout)
		if !s.track(c) {
			_ = c.Shutdown(ReasonServerStopped)
			return nil
		}
		s.accepted.Add(1)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(c)
		}()
	}
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c.ID()] = c
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.ID())
}

func (s *Server) handleConn(c *Conn) {
	defer s.untrack(c)

	logger := s.logger.With("connection_id", c.ID().String(), "remote", c.RemoteAddr().String())
	logger.Debug("Peer connected")

	for {
		frame, err := ReadFrame(c.conn, s.cfg.MaxFrameBytes)
		if err != nil {
			switch {
			case errors.Is(err, ErrFrameTooLarge):
				logger.Warn("Dropping peer", "error", err)
				_ = c.Shutdown(ReasonRejected)
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), c.isClosed():
				c.close()
			default:
				logger.Debug("Read failed", "error", err)
				c.close()
			}
			logger.Debug("Peer disconnected", "reason", c.Reason())
			return
		}

		s.frames.Add(1)
		if !s.entry.Call(c, frame) {
			s.rejected.Add(1)
			// The governor may already have shut the connection down with its
			// own reason; Shutdown keeps the first one.
			_ = c.Shutdown(ReasonRejected)
			logger.Debug("Peer disconnected", "reason", c.Reason())
			return
		}
	}
}

// processMessages is the original decode implementation behind DecodeSymbol.
func (s *Server) processMessages(ch domain.Channel, frame []byte) bool {
	msgs, err := ParseMessages(frame)
	if err != nil {
		s.logger.Debug("Rejecting frame", "connection_id", ch.ID().String(), "error", err)
		return false
	}

	c, _ := ch.(*Conn)
	for _, m := range msgs {
		s.messages.Add(1)
		switch m.Type {
		case MsgNop:
		case MsgEcho:
			if c == nil {
				continue
			}
			if err := c.Send(Message{Type: MsgEcho, Payload: m.Payload}); err != nil {
				return false
			}
		case MsgDisconnect:
			return false
		default:
			s.logger.Debug("Unknown message type", "connection_id", ch.ID().String(), "type", m.Type)
			return false
		}
	}
	return true
}

// Shutdown stops accepting, disconnects every peer and waits for connection
// handlers to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	ln := s.listener
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	// Peers are shut down in parallel so one slow disconnect write cannot
	// hold the rest past ctx.
	var stopping sync.WaitGroup
	for _, c := range conns {
		stopping.Add(1)
		go func() {
			defer stopping.Done()
			_ = c.Shutdown(ReasonServerStopped)
		}()
	}

	done := make(chan struct{})
	go func() {
		stopping.Wait()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns counters accumulated since the server was created.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	active := len(s.conns)
	s.mu.Unlock()

	return Stats{
		ActiveConnections: active,
		Accepted:          s.accepted.Load(),
		Frames:            s.frames.Load(),
		Messages:          s.messages.Load(),
		Rejected:          s.rejected.Load(),
	}
}
