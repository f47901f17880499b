package relay

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/pkg/errors"

	"tn3270kit/internal/config"
	"tn3270kit/internal/network/telnet"
	"tn3270kit/internal/obs"
	"tn3270kit/internal/store"
)

const listenerName = "relay"

// Relay terminates STARTTLS for clients and forwards the decrypted stream to
// a plaintext host.
type Relay struct {
	config  config.RelayConfig
	history *store.Store
	logger  *slog.Logger

	tls    telnet.TLSOptions
	dialer net.Dialer
	srv    *telnet.Server
}

// New prepares a Relay. history may be nil to disable connection records.
func New(cfg config.RelayConfig, history *store.Store, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		return nil, errors.New("relay: host is required")
	}

	mode, err := telnet.ParseTLSMode(cfg.TLSMode)
	if err != nil {
		return nil, errors.Wrap(err, "relay")
	}
	tlsOpts := telnet.TLSOptions{Mode: mode, Mandatory: cfg.Mandatory}
	if mode != telnet.TLSNone {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "relay: loading certificate")
		}
		tlsOpts.Config = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	r := &Relay{
		config:  cfg,
		history: history,
		logger:  logger,
		tls:     tlsOpts,
		dialer:  net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive},
	}
	r.srv = &telnet.Server{
		Name:          listenerName,
		Address:       cfg.Addr(),
		ProxyProtocol: cfg.ProxyProtocol,
		Handler:       r.handle,
		Logger:        logger,
	}
	return r, nil
}

// WithTLSConfig replaces the certificate configuration loaded by New.
func (r *Relay) WithTLSConfig(cfg *tls.Config) *Relay {
	r.tls.Config = cfg
	return r
}

func (r *Relay) Listen() error {
	return r.srv.Listen()
}

func (r *Relay) Addr() net.Addr {
	return r.srv.Addr()
}

func (r *Relay) ListenAndServe(ctx context.Context) error {
	return r.srv.ListenAndServe(ctx)
}

func (r *Relay) Stop() error {
	return r.srv.Stop()
}

func (r *Relay) handle(ctx context.Context, raw net.Conn) {
	started := time.Now()
	peer := raw.RemoteAddr().String()
	log := r.logger.With("peer", peer, "host", r.config.Host)

	obs.ConnectionsTotal.WithLabelValues(listenerName).Inc()
	obs.ActiveConnections.WithLabelValues(listenerName).Inc()
	defer func() {
		obs.ActiveConnections.WithLabelValues(listenerName).Dec()
		obs.SessionDuration.WithLabelValues(listenerName).Observe(time.Since(started).Seconds())
	}()

	record := &store.Connection{Kind: store.KindRelay, Peer: peer, StartedAt: started}
	defer r.record(log, record)

	if err := setKeepAlive(raw, r.config.KeepAlive); err != nil {
		log.Debug("TCP keepalive not set", "err", err)
	}

	client, secure, err := r.secure(ctx, raw, log)
	if err != nil {
		obs.CountFailure(err)
		log.Warn("Client negotiation failed", "err", err)
		record.Error = err.Error()
		raw.Close()
		return
	}
	if client == nil {
		raw.Close()
		return
	}
	record.Secure = secure
	if record.Secure {
		obs.TLSUpgradesTotal.WithLabelValues(r.tls.Mode.String()).Inc()
	}

	host, err := r.dialer.DialContext(ctx, "tcp", r.config.Host)
	if err != nil {
		err = errors.Wrapf(err, "dial %s", r.config.Host)
		log.Error("Host unreachable", "err", err)
		client.Write([]byte("Host unavailable, closing connection.\r\n"))
		client.Close()
		record.Error = err.Error()
		return
	}
	log.Info("Relaying", "secure", record.Secure)

	bridge := NewBridge(client, host, r.config.IdleTimeout, log)
	if err := bridge.Run(ctx); err != nil {
		log.Warn("Relay ended", "err", err)
		record.Error = err.Error()
	} else {
		log.Info("Relay closed", "in", bridge.BytesIn(), "out", bridge.BytesOut())
	}
	record.BytesIn = bridge.BytesIn()
	record.BytesOut = bridge.BytesOut()
}

// secure runs any TLS negotiation with the client and returns the transport
// to relay. A nil conn and nil error mean ctx ended first.
func (r *Relay) secure(ctx context.Context, raw net.Conn, log *slog.Logger) (net.Conn, bool, error) {
	if r.tls.Mode == telnet.TLSNone {
		return raw, false, nil
	}

	tc := telnet.NewConnection(raw, log)
	tc.EnableTLS(r.tls)
	if err := tc.Negotiate(ctx, time.Second); err != nil {
		return nil, false, errors.Wrap(err, "client negotiation")
	}
	if !tc.NegotiationComplete() {
		return nil, false, nil
	}
	return tc.Conn(), tc.Secure(), nil
}

func (r *Relay) record(log *slog.Logger, c *store.Connection) {
	c.EndedAt = time.Now()
	if r.history == nil {
		return
	}
	if err := r.history.RecordConnection(c); err != nil {
		log.Error("Failed to record connection", "err", err)
	}
}

// setKeepAlive enables TCP keepalive probes on conn, looking through a
// PROXY protocol wrapper when there is one.
func setKeepAlive(conn net.Conn, period time.Duration) error {
	if period <= 0 {
		return nil
	}
	if w, ok := conn.(interface{ Raw() net.Conn }); ok {
		conn = w.Raw()
	}
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcp.SetKeepAlive(true); err != nil {
		return errors.Wrap(err, "keepalive")
	}
	return errors.Wrap(tcp.SetKeepAlivePeriod(period), "keepalive period")
}
