package telnet

import "bytes"

// ParserState is the state of the Telnet byte decoder.
type ParserState int

const (
	StateData ParserState = iota
	StateIAC
	StateWill
	StateWont
	StateDo
	StateDont
	StateSB
	StateSBIAC
)

var stateNames = [...]string{"Data", "IAC", "Will", "Wont", "Do", "Dont", "SB", "SBIAC"}

func (s ParserState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Invalid"
}

// CommandHandler receives the events classified by a Parser.
type CommandHandler interface {
	// HandleData receives one record when RecordFramed is true, otherwise a
	// single data byte.
	HandleData(p []byte)
	HandleCommand(cmd byte)
	HandleNegotiation(cmd byte, option Option)
	HandleSubNegotiation(option Option, data []byte)
	// RecordFramed reports whether data is currently delimited by IAC EOR.
	RecordFramed() bool
}

// Parser converts an arbitrary split of raw inbound bytes into Telnet events.
// Bytes are scanned strictly left to right, one at a time.
type Parser struct {
	state   ParserState
	dataBuf bytes.Buffer // Accumulated data waiting for dispatch
	sbBuf   bytes.Buffer // Sub-negotiation payload
	handler CommandHandler
	paused  bool
}

func NewParser(handler CommandHandler) *Parser {
	return &Parser{handler: handler}
}

// State returns the current decoder state.
func (p *Parser) State() ParserState {
	return p.state
}

// Pause stops Feed after the byte currently being processed. It is used when
// the remaining bytes belong to another protocol, e.g. a TLS handshake.
func (p *Parser) Pause() {
	p.paused = true
}

// Resume clears a previous Pause.
func (p *Parser) Resume() {
	p.paused = false
}

// Feed processes buf and returns the number of bytes consumed. Unless the
// parser was paused by a handler, all of buf is consumed.
func (p *Parser) Feed(buf []byte) int {
	for i, b := range buf {
		if p.paused {
			return i
		}
		p.step(b)
	}
	return len(buf)
}

func (p *Parser) step(b byte) {
	switch p.state {
	case StateData:
		if b == IAC {
			p.state = StateIAC
			return
		}
		p.appendData(b)

	case StateIAC:
		p.state = StateData
		switch b {
		case IAC:
			p.appendData(IAC)
		case DO:
			p.state = StateDo
		case DONT:
			p.state = StateDont
		case WILL:
			p.state = StateWill
		case WONT:
			p.state = StateWont
		case SB:
			p.state = StateSB
			p.sbBuf.Reset()
		case EOR:
			if p.handler.RecordFramed() && p.dataBuf.Len() > 0 {
				p.flush()
			}
		default:
			p.handler.HandleCommand(b)
		}

	case StateWill:
		p.state = StateData
		p.handler.HandleNegotiation(WILL, Option(b))
	case StateWont:
		p.state = StateData
		p.handler.HandleNegotiation(WONT, Option(b))
	case StateDo:
		p.state = StateData
		p.handler.HandleNegotiation(DO, Option(b))
	case StateDont:
		p.state = StateData
		p.handler.HandleNegotiation(DONT, Option(b))

	case StateSB:
		if b == IAC {
			p.state = StateSBIAC
			return
		}
		p.sbBuf.WriteByte(b)

	case StateSBIAC:
		if b != SE {
			// IAC IAC inside a sub-negotiation is a literal 0xff; anything
			// else is kept as-is.
			p.sbBuf.WriteByte(b)
			p.state = StateSB
			return
		}
		p.state = StateData
		data := p.sbBuf.Bytes()
		if len(data) > 0 {
			body := make([]byte, len(data)-1)
			copy(body, data[1:])
			p.handler.HandleSubNegotiation(Option(data[0]), body)
		}
		p.sbBuf.Reset()
	}
}

func (p *Parser) appendData(b byte) {
	p.dataBuf.WriteByte(b)
	if !p.handler.RecordFramed() {
		p.flush()
	}
}

func (p *Parser) flush() {
	record := make([]byte, p.dataBuf.Len())
	copy(record, p.dataBuf.Bytes())
	p.dataBuf.Reset()
	p.handler.HandleData(record)
}
