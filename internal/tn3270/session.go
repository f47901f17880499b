package tn3270

import (
	"errors"
	"log/slog"

	"tn3270kit/internal/network/telnet"
	"tn3270kit/internal/registry"
)

var (
	ErrRequiredOption = errors.New("required Telnet option refused")
	ErrDevnameLoop    = errors.New("DEVNAME loop detected")
)

// Options selects which parts of the TN3270 negotiation a Session offers.
type Options struct {
	// TN3270E offers the extended option; plain TN3270 otherwise.
	TN3270E bool
	// BindImage allows the BIND-IMAGE function.
	BindImage bool
	// Devname asks the peer for its DEVNAME over NEW-ENVIRON.
	Devname bool
	// Query sends a Read Partition Query to extended terminals.
	Query bool
}

func DefaultOptions() Options {
	return Options{TN3270E: true, BindImage: true, Devname: true, Query: true}
}

// Consumer receives 3270 traffic once a Session is in 3270 mode.
type Consumer interface {
	Enter3270(s *Session)
	Receive(s *Session, h Header, data []byte)
}

// Session drives TN3270 or TN3270E negotiation on a telnet.Connection and
// frames 3270 data once it completes.
type Session struct {
	conn     *telnet.Connection
	lu       registry.LU
	opts     Options
	consumer Consumer
	logger   *slog.Logger

	tn3270e    bool // TN3270E attempted and not abandoned
	fellBack   bool
	sentDevReq bool

	negotiatedTerminal  bool
	negotiatedFunctions bool
	terminalType        string
	display             DisplayInfo
	functions           []Function
	proposed            []Function
	bindEnabled         bool
	seq                 Sequencer

	in3270       bool
	queryPending bool

	devname  string
	devnames devnameGuard

	// options withdrawn by Renegotiate whose acknowledgements are expected
	withdrawn map[telnet.Option]bool
}

// NewSession installs a Session as conn's handler.
func NewSession(conn *telnet.Connection, lu registry.LU, opts Options, consumer Consumer) *Session {
	s := &Session{
		conn:      conn,
		lu:        lu,
		opts:      opts,
		consumer:  consumer,
		logger:    conn.Logger().With("lu", lu.TerminalID),
		devnames:  newDevnameGuard(),
		withdrawn: make(map[telnet.Option]bool),
	}
	conn.SetHandler(s)
	return s
}

func (s *Session) Conn() *telnet.Connection { return s.conn }
func (s *Session) LU() registry.LU          { return s.lu }
func (s *Session) Logger() *slog.Logger     { return s.logger }
func (s *Session) TerminalType() string     { return s.terminalType }
func (s *Session) Display() DisplayInfo     { return s.display }
func (s *Session) Devname() string          { return s.devname }
func (s *Session) In3270() bool             { return s.in3270 }

// TN3270E reports whether the extended protocol is in effect.
func (s *Session) TN3270E() bool {
	return s.tn3270e && s.negotiatedTerminal && s.negotiatedFunctions
}

// framed reports whether records carry a TN3270E header.
func (s *Session) framed() bool {
	return s.tn3270e && (s.conn.IsLocalOptionEnabled(telnet.TN3270E) || s.conn.IsRemoteOptionEnabled(telnet.TN3270E))
}

func (s *Session) TerminalNegotiated() bool  { return s.negotiatedTerminal }
func (s *Session) FunctionsNegotiated() bool { return s.negotiatedFunctions }

// Functions returns the agreed TN3270E functions in negotiation order.
func (s *Session) Functions() []Function {
	return append([]Function(nil), s.functions...)
}

func (s *Session) BindEnabled() bool { return s.bindEnabled }

// Rows and Cols give the geometry 3270 data should be built for.
func (s *Session) Rows() int { return s.display.AltRows }
func (s *Session) Cols() int { return s.display.AltCols }

// OnStart implements telnet.Starter
func (s *Session) OnStart() {
	s.begin()
}

func (s *Session) begin() {
	if s.opts.TN3270E && !s.fellBack {
		s.tn3270e = true
		s.conn.SendDo(telnet.TN3270E)
	} else {
		s.conn.SendDo(telnet.TType)
	}
	if s.opts.Devname {
		s.conn.SendDo(telnet.NewEnviron)
	}
}

// OnWill implements telnet.Handler
func (s *Session) OnWill(opt telnet.Option) bool {
	switch opt {
	case telnet.TN3270E:
		return s.opts.TN3270E && !s.fellBack
	case telnet.TType, telnet.Binary, telnet.EndOfRecord:
		return true
	case telnet.NewEnviron:
		return s.opts.Devname
	}
	return false
}

// OnDo implements telnet.Handler
func (s *Session) OnDo(opt telnet.Option) bool {
	switch opt {
	case telnet.TN3270E:
		return s.opts.TN3270E && !s.fellBack
	case telnet.Binary, telnet.EndOfRecord:
		return true
	}
	return false
}

// OnWont implements telnet.Handler
func (s *Session) OnWont(opt telnet.Option) {
	if s.acknowledged(opt) {
		return
	}
	s.refused(opt)
}

// OnDont implements telnet.Handler
func (s *Session) OnDont(opt telnet.Option) bool {
	if !s.acknowledged(opt) {
		s.refused(opt)
	}
	return true
}

func (s *Session) acknowledged(opt telnet.Option) bool {
	if s.withdrawn[opt] {
		delete(s.withdrawn, opt)
		return true
	}
	return false
}

func (s *Session) refused(opt telnet.Option) {
	switch opt {
	case telnet.TN3270E:
		if s.tn3270e {
			s.abandonTN3270E("peer refused TN3270E")
		}
	case telnet.Binary, telnet.EndOfRecord:
		if !s.tn3270e && s.negotiatedTerminal {
			s.conn.Disconnect("This server requires BINARY and EOR for 3270 mode.", ErrRequiredOption)
		}
	case telnet.TType:
		if !s.tn3270e && !s.negotiatedTerminal {
			s.conn.Disconnect("This server requires a 3270 terminal.", ErrRequiredOption)
		}
	}
}

// OnAgreed implements telnet.Handler
func (s *Session) OnAgreed(opt telnet.Option, local bool) {
	switch opt {
	case telnet.TN3270E:
		s.requestDeviceType()
	case telnet.TType:
		if !local && !s.tn3270e {
			s.conn.SendSubNegotiation(telnet.TType, []byte{telnet.SEND})
		}
	case telnet.NewEnviron:
		if !local {
			s.conn.SendSubNegotiation(telnet.NewEnviron, telnet.BuildEnvironSend("DEVNAME"))
		}
	case telnet.Binary, telnet.EndOfRecord:
		s.checkPlain3270()
	}
}

// OnCommand implements telnet.Handler
func (s *Session) OnCommand(cmd byte) {}

// OnSubnegotiation implements telnet.Handler
func (s *Session) OnSubnegotiation(opt telnet.Option, body []byte) {
	switch opt {
	case telnet.TN3270E:
		s.tn3270eSubnegotiation(body)
	case telnet.TType:
		s.ttypeSubnegotiation(body)
	case telnet.NewEnviron:
		s.environSubnegotiation(body)
	}
}

// OnData implements telnet.Handler
func (s *Session) OnData(record []byte) {
	h := Header{Type: Type3270Data}
	payload := record
	if s.framed() {
		var err error
		h, payload, err = ParseHeader(record)
		if err != nil {
			s.logger.Warn("TN3270E record dropped", "err", err, "len", len(record))
			return
		}
		if !h.Type.Known() {
			s.logger.Debug("TN3270E record with unknown data type", "type", h.Type)
		}
	}

	if h.Type == Type3270Data && s.queryPending && len(payload) > 0 && payload[0] == AIDStructuredField {
		s.queryPending = false
		if ok, reason := s.display.ApplyQueryReply(payload); !ok {
			s.logger.Warn("Query reply ignored", "reason", reason)
		} else {
			s.logger.Debug("Query reply applied", "rows", s.display.AltRows, "cols", s.display.AltCols)
		}
		return
	}

	if !s.in3270 {
		s.logger.Debug("Data before 3270 mode discarded", "len", len(payload))
		return
	}
	s.consumer.Receive(s, h, payload)
}

// Send writes one 3270 data stream, prefixed with a TN3270E header when the
// extended protocol is in effect.
func (s *Session) Send(data []byte) error {
	return s.SendType(Type3270Data, data)
}

// SendType writes data with an explicit TN3270E data type. Without TN3270E
// only 3270 data can be sent and the type is ignored.
func (s *Session) SendType(t DataType, data []byte) error {
	if s.framed() {
		return s.conn.SendRecord(s.seq.Next(t).Frame(data))
	}
	return s.conn.SendRecord(data)
}

// Renegotiate withdraws every negotiated option except STARTTLS and starts
// the TN3270 negotiation again on the same connection.
func (s *Session) Renegotiate() {
	for _, opt := range s.conn.Mine() {
		if opt != telnet.StartTLS {
			s.withdrawn[opt] = true
		}
	}
	for _, opt := range s.conn.Theirs() {
		if opt != telnet.StartTLS {
			s.withdrawn[opt] = true
		}
	}
	s.conn.Undo()
	s.reset()
	s.fellBack = false
	s.begin()
}

func (s *Session) reset() {
	s.tn3270e = false
	s.sentDevReq = false
	s.negotiatedTerminal = false
	s.negotiatedFunctions = false
	s.terminalType = ""
	s.functions = nil
	s.proposed = nil
	s.bindEnabled = false
	s.in3270 = false
	s.queryPending = false
	s.seq.Reset()
}

func (s *Session) enter3270() {
	if s.in3270 {
		return
	}
	s.in3270 = true
	s.logger.Info("Entering 3270 mode",
		"ttype", s.terminalType,
		"tn3270e", s.TN3270E(),
		"functions", s.functions,
	)

	if s.opts.Query && s.display.Extended && !s.display.Queried() {
		s.queryPending = true
		if err := s.Send(readPartitionQuery); err != nil {
			s.logger.Debug("Query not sent", "err", err)
			s.queryPending = false
		}
	}
	if s.consumer != nil {
		s.consumer.Enter3270(s)
	}
}

// checkPlain3270 enters 3270 mode once a plain TN3270 terminal has its type
// and record framing agreed.
func (s *Session) checkPlain3270() {
	if s.tn3270e || !s.negotiatedTerminal || s.in3270 {
		return
	}
	if s.conn.RecordFramed() {
		s.enter3270()
	}
}

func (s *Session) ttypeSubnegotiation(body []byte) {
	if s.tn3270e || s.negotiatedTerminal {
		return
	}
	if len(body) == 0 || body[0] != telnet.IS {
		s.logger.Debug("Unexpected TTYPE sub-negotiation", "len", len(body))
		return
	}
	ttype := string(body[1:])
	display, err := NewDisplayInfo(ttype)
	if err != nil {
		s.conn.Disconnect("Unsupported terminal type "+ttype, ErrUnsupportedTerminal)
		return
	}
	s.negotiatedTerminal = true
	s.terminalType = ttype
	s.display = display
	s.logger.Debug("Terminal type negotiated", "ttype", ttype)

	s.conn.SendDo(telnet.EndOfRecord)
	s.conn.SendWill(telnet.EndOfRecord)
	s.conn.SendDo(telnet.Binary)
	s.conn.SendWill(telnet.Binary)
	s.checkPlain3270()
}

func (s *Session) environSubnegotiation(body []byte) {
	_, vars, err := telnet.ParseEnviron(body)
	if err != nil {
		s.logger.Warn("Malformed NEW-ENVIRON sub-negotiation", "err", err)
	}
	for _, v := range vars {
		if v.Name != "DEVNAME" || !v.HasValue {
			continue
		}
		if err := s.devnames.observe(v.Value); err != nil {
			s.conn.Disconnect("DEVNAME "+v.Value+" repeated, closing connection.", err)
			return
		}
		s.devname = v.Value
		s.logger.Debug("DEVNAME received", "devname", v.Value)
	}
}

// devnameGuard detects a peer resending the same DEVNAME back to back. The
// guard is armed until the peer first changes its value.
type devnameGuard struct {
	last  string
	seen  bool
	armed bool
}

func newDevnameGuard() devnameGuard {
	return devnameGuard{armed: true}
}

func (g *devnameGuard) observe(value string) error {
	if g.seen && value == g.last {
		if g.armed {
			return ErrDevnameLoop
		}
		return nil
	}
	if g.seen {
		g.armed = false
	}
	g.seen = true
	g.last = value
	return nil
}
