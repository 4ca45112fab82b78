// Package server is the inspector for editor tooling: a read-only HTTP API
// over the tree library and registry, and a websocket stream of runtime
// events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/zeusync/behaviortree/internal/core/bt"
	"github.com/zeusync/behaviortree/internal/core/events/bus"
	"github.com/zeusync/behaviortree/internal/core/observability/log"
	"github.com/zeusync/behaviortree/internal/library"
)

// Config holds server configuration
type Config struct {
	// Network settings
	ListenAddr string

	// Token, when set, is required as a bearer token or a token query
	// parameter on every request.
	Token string

	// Websocket settings
	MaxClients   int
	ClientBuffer int
	WriteTimeout time.Duration

	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8080",
		MaxClients:      64,
		ClientBuffer:    256,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: empty listen address", ErrInvalidConfig)
	}
	if c.MaxClients <= 0 || c.ClientBuffer <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: client limits must be positive", ErrInvalidConfig)
	}
	return nil
}

// Server serves the inspector API.
type Server struct {
	config Config
	lib    *library.Library
	reg    *bt.Registry
	events bus.EventBus
	logger log.Log
	hub    *hub

	httpServer *http.Server
	addr       atomic.Value // string
	sub        bus.Subscription

	// Server state
	running int32 // atomic bool
	closed  int32 // atomic bool
}

// NewServer creates a server. A nil registry means the default catalog; a
// nil bus disables the event stream.
func NewServer(config Config, lib *library.Library, reg *bt.Registry, events bus.EventBus, logger log.Log) *Server {
	if reg == nil {
		reg = bt.Default()
	}
	if logger == nil {
		logger = log.Provide()
	}
	s := &Server{
		config: config,
		lib:    lib,
		reg:    reg,
		events: events,
		logger: logger.With(log.String("component", "server")),
	}
	s.hub = newHub(config, s.logger)

	s.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.Int("max_clients", config.MaxClients))
	return s
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if err := s.config.validate(); err != nil {
		return err
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error("Failed to create listener", log.Error(err))
		return err
	}
	s.addr.Store(ln.Addr().String())
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	if s.events != nil {
		sub, err := s.events.Subscribe(bus.All, s.hub.broadcast)
		if err != nil {
			_ = ln.Close()
			atomic.StoreInt32(&s.running, 0)
			return err
		}
		s.sub = sub
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed", log.Error(err))
		}
	}()

	s.logger.Info("Server listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound listen address once started.
func (s *Server) Addr() string {
	addr, _ := s.addr.Load().(string)
	return addr
}

// Stop shuts the HTTP server down and disconnects stream clients.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}
	s.logger.Info("Stopping server")

	if s.sub != nil {
		_ = s.sub.Cancel()
		s.sub = nil
	}
	s.hub.close()

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	err := s.httpServer.Shutdown(ctx)

	s.logger.Info("Server stopped")
	return err
}

// Close closes the server and releases all resources
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil // Already closed
	}
	if atomic.LoadInt32(&s.running) == 1 {
		return s.Stop(context.Background())
	}
	return nil
}

// Stats contains server statistics
type Stats struct {
	Trees   int  `json:"trees"`
	Kinds   int  `json:"kinds"`
	Clients int  `json:"clients"`
	Running bool `json:"running"`
}

func (s *Server) GetStats() Stats {
	st := Stats{
		Kinds:   len(s.reg.Kinds()),
		Clients: s.hub.len(),
		Running: atomic.LoadInt32(&s.running) == 1,
	}
	if s.lib != nil {
		st.Trees = len(s.lib.Names())
	}
	return st
}
