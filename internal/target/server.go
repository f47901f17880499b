package target

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"tn3270kit/internal/apps"
	"tn3270kit/internal/config"
	"tn3270kit/internal/network/telnet"
	"tn3270kit/internal/obs"
	"tn3270kit/internal/registry"
	"tn3270kit/internal/store"
	"tn3270kit/internal/tn3270"
)

const listenerName = "target"

// Server is the simulated host: every connection gets an LU from the pool,
// negotiates TN3270 or TN3270E and is then served by the configured apps.
type Server struct {
	config  config.TargetConfig
	lus     *registry.Registry
	apps    *apps.Registry
	history *store.Store
	logger  *slog.Logger

	tls  telnet.TLSOptions
	opts tn3270.Options
	srv  *telnet.Server
}

// New prepares a Server. history may be nil to disable connection records.
func New(cfg config.TargetConfig, lus *registry.Registry, appReg *apps.Registry, history *store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if appReg.Get(cfg.InitialApp) == nil {
		return nil, fmt.Errorf("target: unknown initialApp %q", cfg.InitialApp)
	}

	mode, err := telnet.ParseTLSMode(cfg.TLSMode)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	tlsOpts := telnet.TLSOptions{Mode: mode}
	if mode != telnet.TLSNone {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("target: loading certificate: %w", err)
		}
		tlsOpts.Config = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	s := &Server{
		config:  cfg,
		lus:     lus,
		apps:    appReg,
		history: history,
		logger:  logger,
		tls:     tlsOpts,
		opts: tn3270.Options{
			TN3270E:   cfg.TN3270E,
			BindImage: cfg.BindImage,
			Devname:   cfg.Devname,
			Query:     cfg.Query,
		},
	}
	s.srv = &telnet.Server{
		Name:          listenerName,
		Address:       cfg.Addr(),
		ProxyProtocol: cfg.ProxyProtocol,
		Handler:       s.handle,
		Logger:        logger,
	}
	return s, nil
}

// WithTLSConfig replaces the certificate configuration loaded by New.
func (s *Server) WithTLSConfig(cfg *tls.Config) *Server {
	s.tls.Config = cfg
	return s
}

func (s *Server) Listen() error {
	return s.srv.Listen()
}

func (s *Server) Addr() net.Addr {
	return s.srv.Addr()
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	return s.srv.ListenAndServe(ctx)
}

func (s *Server) Stop() error {
	return s.srv.Stop()
}

func (s *Server) handle(ctx context.Context, raw net.Conn) {
	started := time.Now()
	peer := raw.RemoteAddr().String()
	log := s.logger.With("peer", peer)

	obs.ConnectionsTotal.WithLabelValues(listenerName).Inc()
	obs.ActiveConnections.WithLabelValues(listenerName).Inc()
	defer func() {
		obs.ActiveConnections.WithLabelValues(listenerName).Dec()
		obs.SessionDuration.WithLabelValues(listenerName).Observe(time.Since(started).Seconds())
	}()

	conn := &countingConn{Conn: raw}
	record := &store.Connection{Kind: store.KindTarget, Peer: peer, StartedAt: started}
	defer s.record(log, record, conn)

	lu, err := s.lus.Acquire()
	if err != nil {
		obs.LUsExhaustedTotal.Inc()
		obs.CountFailure(err)
		log.Warn("Connection refused", "err", err)
		conn.Write([]byte(err.Error() + "\r\n"))
		conn.Close()
		record.Error = err.Error()
		return
	}
	obs.LUsInUse.Set(float64(s.lus.InUse()))
	record.LU = lu.TerminalID
	defer func() {
		s.lus.Release(lu)
		obs.LUsInUse.Set(float64(s.lus.InUse()))
		if err := s.lus.Forget(context.Background(), peer); err != nil {
			log.Warn("Failed to clear switch state", "err", err)
		}
	}()

	log = log.With("lu", lu.TerminalID)
	log.Info("Connection accepted")

	tc := telnet.NewConnection(conn, log)
	defer tc.Close()
	if s.tls.Mode != telnet.TLSNone {
		tc.EnableTLS(s.tls)
	}

	term := &terminal{
		ctx: ctx,
		log: log,
		term: &apps.Terminal{
			Peer:     peer,
			LU:       lu,
			Registry: s.lus,
		},
	}
	term.dispatcher = apps.NewDispatcher(s.apps, term.term, s.config.InitialApp, log)
	sess := tn3270.NewSession(tc, lu, s.opts, term)

	err = tc.Serve(ctx, s.config.ReadPoll)
	if err != nil {
		if !sess.In3270() || tc.HungUp() {
			obs.CountFailure(err)
		}
		log.Warn("Connection ended", "err", err)
		record.Error = err.Error()
	} else {
		log.Info("Connection closed")
	}

	if tc.Secure() {
		obs.TLSUpgradesTotal.WithLabelValues(s.tls.Mode.String()).Inc()
	}
	record.Secure = tc.Secure()
	record.TerminalType = sess.TerminalType()
	record.Devname = sess.Devname()
	record.TN3270E = sess.TN3270E()
	record.Functions = store.JoinFunctions(sess.Functions())
}

func (s *Server) record(log *slog.Logger, c *store.Connection, conn *countingConn) {
	c.EndedAt = time.Now()
	c.BytesIn = conn.in.Load()
	c.BytesOut = conn.out.Load()
	if s.history == nil {
		return
	}
	if err := s.history.RecordConnection(c); err != nil {
		log.Error("Failed to record connection", "err", err)
	}
}

// terminal connects a negotiated Session to the app dispatcher.
type terminal struct {
	ctx        context.Context
	log        *slog.Logger
	term       *apps.Terminal
	dispatcher *apps.Dispatcher
	entered    bool
}

func (t *terminal) Enter3270(s *tn3270.Session) {
	t.term.Screen = s
	if !t.entered {
		t.entered = true
		protocol := "tn3270"
		if s.TN3270E() {
			protocol = "tn3270e"
		}
		obs.SessionsTotal.WithLabelValues(protocol).Inc()
	}
	if err := t.dispatcher.Start(t.ctx); err != nil {
		t.fail(s, err)
	}
}

func (t *terminal) Receive(s *tn3270.Session, h tn3270.Header, data []byte) {
	if h.Type != tn3270.Type3270Data {
		t.log.Debug("Record ignored", "type", h.Type, "seq", h.Seq, "len", len(data))
		return
	}
	if err := t.dispatcher.Handle(t.ctx, data); err != nil {
		t.fail(s, err)
	}
}

func (t *terminal) fail(s *tn3270.Session, err error) {
	t.log.Error("Application failed", "app", t.dispatcher.Active(), "err", err)
	s.Conn().Hangup(fmt.Errorf("application %s: %w", t.dispatcher.Active(), err))
}

// countingConn tallies bytes on the raw socket, below any TLS layer.
type countingConn struct {
	net.Conn
	in  atomic.Int64
	out atomic.Int64
}

func (c *countingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.in.Add(int64(n))
	return n, err
}

func (c *countingConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.out.Add(int64(n))
	return n, err
}
