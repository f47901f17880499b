package telnet

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TLSMode selects how a connection is secured.
type TLSMode int

const (
	TLSNone TLSMode = iota
	// TLSImmediate wraps the transport in TLS before any Telnet bytes.
	TLSImmediate
	// TLSNegotiated upgrades in-band with the STARTTLS option.
	TLSNegotiated
)

func (m TLSMode) String() string {
	switch m {
	case TLSNone:
		return "none"
	case TLSImmediate:
		return "immediate"
	case TLSNegotiated:
		return "negotiated"
	}
	return fmt.Sprintf("TLSMode(%d)", int(m))
}

// ParseTLSMode parses "none", "immediate" or "negotiated".
func ParseTLSMode(s string) (TLSMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TLSNone, nil
	case "immediate":
		return TLSImmediate, nil
	case "negotiated":
		return TLSNegotiated, nil
	}
	return TLSNone, fmt.Errorf("unknown TLS mode %q", s)
}

const (
	// UnsolicitedWait is how long a negotiated-mode connection waits for
	// the peer to speak first before sending DO STARTTLS.
	UnsolicitedWait = 2 * time.Second
	// NegotiationTimeout bounds the whole STARTTLS exchange.
	NegotiationTimeout = 5 * time.Second

	// First byte of a TLS handshake record.
	tlsHandshakeRecord = 0x16
)

var (
	ErrNegotiationTimeout = errors.New("STARTTLS negotiation timed out")
	ErrStartTLSMandatory  = errors.New("STARTTLS is mandatory")
)

type TLSOptions struct {
	Mode   TLSMode
	Config *tls.Config
	// Mandatory refuses the plaintext fallback when the peer declines or
	// sends a malformed STARTTLS sub-negotiation.
	Mandatory       bool
	UnsolicitedWait time.Duration
	Timeout         time.Duration
}

type tlsState struct {
	opts     TLSOptions
	begun    bool
	deadline time.Time
	complete bool
	follows  bool
	secure   bool
}

// EnableTLS configures the upgrade performed when Serve or Negotiate starts.
func (c *Connection) EnableTLS(opts TLSOptions) {
	if opts.UnsolicitedWait <= 0 {
		opts.UnsolicitedWait = UnsolicitedWait
	}
	if opts.Timeout <= 0 {
		opts.Timeout = NegotiationTimeout
	}
	c.tls = &tlsState{opts: opts}
}

// NegotiationComplete reports whether reads are now application traffic,
// i.e. TLS is established or was declined without being mandatory.
func (c *Connection) NegotiationComplete() bool {
	return c.tls == nil || c.tls.complete
}

// Secure reports whether the transport has been upgraded to TLS.
func (c *Connection) Secure() bool {
	return c.tls != nil && c.tls.secure
}

func (c *Connection) beginTLS(ctx context.Context, poll time.Duration) error {
	if c.tls == nil || c.tls.begun {
		return nil
	}
	t := c.tls
	t.begun = true
	t.deadline = time.Now().Add(t.opts.Timeout)

	switch t.opts.Mode {
	case TLSNone:
		t.complete = true
		return nil
	case TLSImmediate:
		return c.handshake(nil)
	}

	// Give the peer a chance to speak first; a TLS ClientHello means it
	// wants TLS without any Telnet exchange.
	wait := time.Now().Add(t.opts.UnsolicitedWait)
	var first [1]byte
	for time.Now().Before(wait) {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		step := time.Until(wait)
		if step > poll {
			step = poll
		}
		c.conn.SetReadDeadline(time.Now().Add(step))
		n, err := c.conn.Read(first[:])
		if n == 1 {
			c.conn.SetReadDeadline(time.Time{})
			if first[0] == tlsHandshakeRecord {
				c.logger.Debug("TLS handshake without STARTTLS negotiation")
				return c.handshake(first[:])
			}
			if err := c.feed(first[:]); err != nil {
				return err
			}
			break
		}
		if err != nil && !isTimeout(err) {
			return err
		}
	}
	c.conn.SetReadDeadline(time.Time{})

	if !c.tls.complete && !c.tls.follows && !c.hungUp {
		return c.SendDo(StartTLS)
	}
	return nil
}

func (c *Connection) checkTLSDeadline() error {
	if c.tls == nil || c.tls.complete || !c.tls.begun {
		return nil
	}
	if time.Now().After(c.tls.deadline) {
		c.logger.Warn("STARTTLS negotiation timed out", "addr", c.RemoteAddr())
		return ErrNegotiationTimeout
	}
	return nil
}

// handshake runs the TLS server handshake, replaying peeked bytes that were
// already read from the socket.
func (c *Connection) handshake(peeked []byte) error {
	t := c.tls
	t.follows = false
	if t.opts.Config == nil {
		return errors.New("TLS requested without a certificate configuration")
	}

	raw := c.conn
	if len(peeked) > 0 {
		raw = newPeekedConn(c.conn, peeked)
	}
	tconn := tls.Server(raw, t.opts.Config)

	ctx, cancel := context.WithDeadline(c.ctx, t.deadline)
	defer cancel()
	tconn.SetDeadline(t.deadline)
	if err := tconn.HandshakeContext(ctx); err != nil {
		if time.Now().After(t.deadline) {
			return ErrNegotiationTimeout
		}
		return fmt.Errorf("TLS handshake: %w", err)
	}
	tconn.SetDeadline(time.Time{})

	c.conn = tconn
	c.writer = NewWriter(tconn)
	t.complete = true
	t.secure = true
	c.logger.Debug("TLS established", "mode", t.opts.Mode, "version", tls.VersionName(tconn.ConnectionState().Version))
	return nil
}

func (c *Connection) tlsAcceptable() bool {
	return c.tls != nil && c.tls.opts.Mode == TLSNegotiated && !c.tls.complete
}

func (c *Connection) tlsAgreed() {
	c.SendSubNegotiation(StartTLS, []byte{FOLLOWS})
}

func (c *Connection) tlsSubnegotiation(body []byte) {
	if c.tls == nil || c.tls.complete {
		return
	}
	if len(body) != 1 || body[0] != FOLLOWS {
		c.logger.Warn("Malformed STARTTLS sub-negotiation", "body", fmt.Sprintf("% x", body))
		c.SendDont(StartTLS)
		c.tlsFallback("malformed STARTTLS sub-negotiation")
		return
	}
	c.tls.follows = true
	c.parser.Pause()
}

func (c *Connection) tlsFallback(reason string) {
	if c.tls == nil || c.tls.complete {
		return
	}
	if c.tls.opts.Mandatory {
		c.Disconnect(ErrStartTLSMandatory.Error(), ErrStartTLSMandatory)
		return
	}
	c.logger.Warn("Continuing without TLS", "reason", reason)
	c.tls.complete = true
	if c.handOff {
		c.parser.Pause()
	}
}
