package telnet

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/pires/go-proxyproto"
)

// ConnHandler serves one accepted connection. It owns conn and must close it.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Server accepts connections and runs each one in its own goroutine.
type Server struct {
	Name          string
	Address       string
	ProxyProtocol bool
	Handler       ConnHandler
	Logger        *slog.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// Listen binds the listening socket; ListenAndServe calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.Address)
	if err != nil {
		return err
	}
	if s.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
		s.logger().Info("PROXY protocol enabled", "listener", s.Name)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ListenAndServe accepts until ctx is cancelled or Stop is called, then
// waits for every connection goroutine to finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	ln := s.listener()
	s.logger().Info("Telnet server listening", "listener", s.Name, "addr", ln.Addr())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				// Connections watch ctx; wait for them to drain.
				cancel()
				s.wg.Wait()
				return nil
			}
			s.logger().Error("Telnet accept error", "listener", s.Name, "err", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Handler(ctx, conn)
		}()
	}
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) listener() net.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
