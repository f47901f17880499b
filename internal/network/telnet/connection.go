package telnet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Handler is the negotiation and data contract a Connection drives. The
// approval methods are asked before the Connection replies on the wire.
type Handler interface {
	OnData(p []byte)
	OnCommand(cmd byte)
	// OnWill approves the peer enabling option on its side.
	OnWill(opt Option) bool
	OnWont(opt Option)
	// OnDo approves enabling option on our side.
	OnDo(opt Option) bool
	// OnDont reports the peer asking us to disable option; returning true
	// confirms with WONT when the option was enabled.
	OnDont(opt Option) bool
	OnSubnegotiation(opt Option, body []byte)
	// OnAgreed is called once an option is enabled and any reply is written.
	OnAgreed(opt Option, local bool)
}

// Starter is implemented by handlers that begin negotiating once any TLS
// upgrade has settled.
type Starter interface {
	OnStart()
}

// NopHandler refuses every option and discards data.
type NopHandler struct{}

func (NopHandler) OnData([]byte)                   {}
func (NopHandler) OnCommand(byte)                  {}
func (NopHandler) OnWill(Option) bool              { return false }
func (NopHandler) OnWont(Option)                   {}
func (NopHandler) OnDo(Option) bool                { return false }
func (NopHandler) OnDont(Option) bool              { return true }
func (NopHandler) OnSubnegotiation(Option, []byte) {}
func (NopHandler) OnAgreed(Option, bool)           {}

// ErrHangup is returned by Serve when a handler closed the connection
// without a more specific reason.
var ErrHangup = errors.New("connection closed by handler")

// Connection holds one peer socket plus its accumulated negotiation state.
// It is owned by the goroutine that calls Serve.
type Connection struct {
	conn    net.Conn
	parser  *Parser
	writer  *Writer
	handler Handler
	logger  *slog.Logger
	ctx     context.Context

	// State tracking
	mu     sync.RWMutex
	mine   OptionSet // Options WE have agreed to (WILL)
	theirs OptionSet // Options THE PEER has agreed to (DO)

	// Negotiation tracking (to avoid loops)
	sentWill map[Option]bool
	sentDo   map[Option]bool

	tls     *tlsState
	started bool
	// handOff stops parsing at a plaintext TLS fallback so the remaining
	// bytes stay readable on Conn().
	handOff bool

	hungUp    bool
	hangupErr error
}

func NewConnection(conn net.Conn, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		conn:     conn,
		handler:  NopHandler{},
		logger:   logger,
		ctx:      context.Background(),
		sentWill: make(map[Option]bool),
		sentDo:   make(map[Option]bool),
	}
	c.parser = NewParser(c)
	c.writer = NewWriter(conn)
	return c
}

// SetHandler installs the consumer of negotiation events and data.
func (c *Connection) SetHandler(h Handler) {
	c.handler = h
}

func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// Conn returns the current transport, which is a *tls.Conn after an upgrade.
func (c *Connection) Conn() net.Conn {
	return c.conn
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ParserState returns the state of the inbound byte decoder.
func (c *Connection) ParserState() ParserState {
	return c.parser.State()
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

// Write sends p as escaped Telnet data without record framing.
func (c *Connection) Write(p []byte) (n int, err error) {
	return c.writer.Write(p)
}

// SendRecord sends p as one data unit, terminated by IAC EOR when record
// framing is active.
func (c *Connection) SendRecord(p []byte) error {
	return c.writer.WriteRecord(p, c.RecordFramed())
}

// Hangup asks Serve to return reason after the current event.
func (c *Connection) Hangup(reason error) {
	if c.hungUp {
		return
	}
	if reason == nil {
		reason = ErrHangup
	}
	c.hungUp = true
	c.hangupErr = reason
}

// Disconnect sends an explanatory plaintext message and hangs up.
func (c *Connection) Disconnect(msg string, reason error) {
	c.logger.Warn("Telnet disconnect", "msg", msg, "err", reason)
	if _, err := c.Write([]byte(msg + "\r\n")); err != nil {
		c.logger.Debug("Telnet disconnect message not sent", "err", err)
	}
	c.Hangup(reason)
}

// HungUp reports whether a handler asked to close the connection.
func (c *Connection) HungUp() bool {
	return c.hungUp
}

// Serve reads from the peer until it disconnects, ctx is cancelled or a
// handler hangs up. Reads are bounded by poll so cancellation is observed
// promptly.
func (c *Connection) Serve(ctx context.Context, poll time.Duration) error {
	return c.run(ctx, poll, nil)
}

// Negotiate runs the read loop only until any TLS negotiation completes.
// Bytes after the upgrade or the plaintext fallback are left unread on
// Conn(), which has no read deadline set on return.
func (c *Connection) Negotiate(ctx context.Context, poll time.Duration) error {
	c.handOff = true
	return c.run(ctx, poll, c.NegotiationComplete)
}

func (c *Connection) run(ctx context.Context, poll time.Duration, until func() bool) error {
	c.ctx = ctx
	defer func() { c.conn.SetReadDeadline(time.Time{}) }()
	if poll <= 0 || poll > time.Second {
		poll = time.Second
	}

	if err := c.beginTLS(ctx, poll); err != nil {
		return c.readErr(err)
	}
	c.start()

	buf := make([]byte, 4096)
	for {
		if c.hungUp {
			return c.hangupErr
		}
		if until != nil && until() {
			return nil
		}
		if err := c.checkTLSDeadline(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(poll))
		n, err := c.conn.Read(buf)
		if n > 0 {
			if ferr := c.feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if c.hungUp {
				return c.hangupErr
			}
			return c.readErr(err)
		}
	}
}

func (c *Connection) readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// feed pushes raw bytes through the parser, handing any bytes that follow a
// STARTTLS confirmation to the TLS handshake. Bytes left after a handed-off
// fallback are replayed by the next read of Conn().
func (c *Connection) feed(p []byte) error {
	n := c.parser.Feed(p)
	p = p[n:]
	switch {
	case c.tls != nil && c.tls.follows:
		if err := c.handshake(p); err != nil {
			return err
		}
		c.parser.Resume()
	case len(p) > 0:
		c.conn = newPeekedConn(c.conn, p)
	}
	c.start()
	return nil
}

func (c *Connection) start() {
	if c.started || c.hungUp || !c.NegotiationComplete() {
		return
	}
	c.started = true
	if s, ok := c.handler.(Starter); ok {
		s.OnStart()
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// RecordFramed implements CommandHandler. Data is delimited by IAC EOR once
// BINARY and EOR are agreed in both directions, or TN3270E is in effect.
func (c *Connection) RecordFramed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.mine.Has(TN3270E) || c.theirs.Has(TN3270E) {
		return true
	}
	return c.mine.Has(Binary) && c.theirs.Has(Binary) &&
		c.mine.Has(EndOfRecord) && c.theirs.Has(EndOfRecord)
}

// HandleData implements CommandHandler
func (c *Connection) HandleData(p []byte) {
	if c.hungUp {
		return
	}
	c.handler.OnData(p)
}

// HandleCommand implements CommandHandler
func (c *Connection) HandleCommand(cmd byte) {
	if c.hungUp {
		return
	}
	c.logger.Debug("Telnet command [IN]", "cmd", commandName(cmd))
	c.handler.OnCommand(cmd)
}

// HandleNegotiation implements CommandHandler
func (c *Connection) HandleNegotiation(cmd byte, opt Option) {
	if c.hungUp {
		return
	}
	c.logCommand("IN", cmd, opt)

	switch cmd {
	case WILL:
		// Peer wants to enable an option on its side
		requested := c.clearSent(c.sentDo, opt)
		if !c.modify(&c.theirs, opt, true) {
			return
		}
		if !c.approveWill(opt) {
			c.modify(&c.theirs, opt, false)
			c.writeCommand(DONT, opt)
			return
		}
		if !requested {
			c.writeCommand(DO, opt)
		}
		c.agreed(opt, false)

	case WONT:
		c.clearSent(c.sentDo, opt)
		if c.modify(&c.theirs, opt, false) {
			c.writeCommand(DONT, opt)
		}
		if opt == StartTLS {
			c.tlsFallback("peer refused STARTTLS")
			return
		}
		c.handler.OnWont(opt)

	case DO:
		// Peer wants US to enable an option
		requested := c.clearSent(c.sentWill, opt)
		if c.IsLocalOptionEnabled(opt) {
			return
		}
		if !requested && (opt == TimingMark || opt == StartTLS || !c.handler.OnDo(opt)) {
			c.writeCommand(WONT, opt)
			return
		}
		c.modify(&c.mine, opt, true)
		if !requested {
			c.writeCommand(WILL, opt)
		}
		c.agreed(opt, true)

	case DONT:
		c.clearSent(c.sentWill, opt)
		if c.modify(&c.mine, opt, false) {
			if c.handler.OnDont(opt) {
				c.writeCommand(WONT, opt)
			}
			return
		}
		c.handler.OnDont(opt)
	}
}

// HandleSubNegotiation implements CommandHandler
func (c *Connection) HandleSubNegotiation(option Option, data []byte) {
	if c.hungUp {
		return
	}
	if !c.IsLocalOptionEnabled(option) && !c.IsRemoteOptionEnabled(option) {
		c.logger.Debug("Telnet sub-negotiation for inactive option discarded", "opt", option, "len", len(data))
		return
	}
	c.logger.Debug("Telnet sub-negotiation [IN]", "opt", option, "len", len(data))

	if option == StartTLS {
		c.tlsSubnegotiation(data)
		return
	}
	c.handler.OnSubnegotiation(option, data)
}

func (c *Connection) approveWill(opt Option) bool {
	if opt == StartTLS {
		return c.tlsAcceptable()
	}
	return c.handler.OnWill(opt)
}

func (c *Connection) agreed(opt Option, local bool) {
	if opt == StartTLS && !local {
		c.tlsAgreed()
		return
	}
	c.handler.OnAgreed(opt, local)
}

func (c *Connection) modify(set *OptionSet, opt Option, add bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if add {
		return set.Add(opt)
	}
	return set.Remove(opt)
}

func (c *Connection) clearSent(sent map[Option]bool, opt Option) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := sent[opt]
	delete(sent, opt)
	return was
}

// EnableLocalOption marks an option as enabled for our side
func (c *Connection) EnableLocalOption(option Option) {
	c.modify(&c.mine, option, true)
}

// DisableLocalOption marks an option as disabled for our side
func (c *Connection) DisableLocalOption(option Option) {
	c.modify(&c.mine, option, false)
}

// EnableRemoteOption marks an option as enabled for the peer side
func (c *Connection) EnableRemoteOption(option Option) {
	c.modify(&c.theirs, option, true)
}

// DisableRemoteOption marks an option as disabled for the peer side
func (c *Connection) DisableRemoteOption(option Option) {
	c.modify(&c.theirs, option, false)
}

// IsLocalOptionEnabled checks if we have enabled a specific option
func (c *Connection) IsLocalOptionEnabled(option Option) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mine.Has(option)
}

// IsRemoteOptionEnabled checks if the peer has enabled a specific option
func (c *Connection) IsRemoteOptionEnabled(option Option) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.theirs.Has(option)
}

// Mine returns the options we have agreed to, in negotiation order.
func (c *Connection) Mine() []Option {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mine.List()
}

// Theirs returns the options the peer has agreed to, in negotiation order.
func (c *Connection) Theirs() []Option {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.theirs.List()
}

func (c *Connection) logCommand(direction string, cmd byte, option Option) {
	c.logger.Debug("Telnet command ["+direction+"]", "cmd", commandName(cmd), "opt", option)
}

func (c *Connection) writeCommand(cmd byte, option Option) error {
	c.logCommand("OUT", cmd, option)
	err := c.writer.WriteCommand(cmd, byte(option))
	if err != nil {
		c.logger.Debug("Telnet command write failed", "err", err)
	}
	return err
}

// SendCommand sends a raw Telnet command
func (c *Connection) SendCommand(cmd byte) error {
	c.logger.Debug("Telnet command [OUT]", "cmd", commandName(cmd))
	return c.writer.WriteCommand(cmd)
}

// SendWill sends IAC WILL <option> unless the option is already enabled or
// requested.
func (c *Connection) SendWill(option Option) error {
	c.mu.Lock()
	if c.mine.Has(option) || c.sentWill[option] {
		c.mu.Unlock()
		return nil
	}
	c.sentWill[option] = true
	c.mu.Unlock()
	return c.writeCommand(WILL, option)
}

// SendWont sends IAC WONT <option> unless the option is already disabled.
func (c *Connection) SendWont(option Option) error {
	c.mu.Lock()
	if !c.mine.Has(option) && !c.sentWill[option] {
		c.mu.Unlock()
		return nil
	}
	c.mine.Remove(option)
	delete(c.sentWill, option)
	c.mu.Unlock()
	return c.writeCommand(WONT, option)
}

// SendDo sends IAC DO <option> unless the peer already enabled it or it was
// already requested.
func (c *Connection) SendDo(option Option) error {
	c.mu.Lock()
	if c.theirs.Has(option) || c.sentDo[option] {
		c.mu.Unlock()
		return nil
	}
	c.sentDo[option] = true
	c.mu.Unlock()
	return c.writeCommand(DO, option)
}

// SendDont sends IAC DONT <option> unless the option is already disabled.
func (c *Connection) SendDont(option Option) error {
	c.mu.Lock()
	if !c.theirs.Has(option) && !c.sentDo[option] {
		c.mu.Unlock()
		return nil
	}
	c.theirs.Remove(option)
	delete(c.sentDo, option)
	c.mu.Unlock()
	return c.writeCommand(DONT, option)
}

// SendSubNegotiation sends a sub-negotiation sequence
func (c *Connection) SendSubNegotiation(option Option, data []byte) error {
	c.logger.Debug("Telnet sub-negotiation [OUT]", "opt", option, "len", len(data))
	return c.writer.WriteSubNegotiation(option, data)
}

// Undo withdraws every negotiated option except STARTTLS, so a fresh
// sub-protocol can be negotiated on the same connection.
func (c *Connection) Undo() {
	for _, opt := range c.Mine() {
		if opt != StartTLS {
			c.SendWont(opt)
		}
	}
	for _, opt := range c.Theirs() {
		if opt != StartTLS {
			c.SendDont(opt)
		}
	}

	// Unanswered requests are void; the new sub-protocol asks again.
	c.mu.Lock()
	for opt := range c.sentWill {
		if opt != StartTLS {
			delete(c.sentWill, opt)
		}
	}
	for opt := range c.sentDo {
		if opt != StartTLS {
			delete(c.sentDo, opt)
		}
	}
	c.mu.Unlock()
}
