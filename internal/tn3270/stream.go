package tn3270

import (
	"bytes"
	"errors"
	"fmt"
)

// Commands
const (
	CmdWrite               = 0xf1
	CmdEraseWrite          = 0xf5
	CmdEraseWriteAlternate = 0x7e
	CmdWSF                 = 0xf3
)

// Orders
const (
	OrderSF  = 0x1d
	OrderSBA = 0x11
	OrderIC  = 0x13
)

// WCCReset resets the keyboard and MDT flags and sounds no alarm.
const WCCReset = 0xc3

// Field attribute bits, before translation through the I/O code table.
const (
	AttrProtected   = 0x20
	AttrNumeric     = 0x10
	AttrIntensified = 0x08
	AttrHidden      = 0x0c
)

// AIDs
const (
	AIDNone  = 0x60
	AIDEnter = 0x7d
	AIDClear = 0x6d
	AIDPA1   = 0x6c
	AIDPA2   = 0x6e
	AIDPF1   = 0xf1
	AIDPF3   = 0xf3
	AIDPF12  = 0x7c
)

// Stream builds an outbound 3270 data stream for one screen geometry.
type Stream struct {
	buf  bytes.Buffer
	rows int
	cols int
}

func NewStream(rows, cols int) *Stream {
	return &Stream{rows: rows, cols: cols}
}

// EraseWrite starts the stream with Erase/Write (or Erase/Write Alternate)
// and the given write control character.
func (s *Stream) EraseWrite(alternate bool, wcc byte) *Stream {
	if alternate {
		s.buf.WriteByte(CmdEraseWriteAlternate)
	} else {
		s.buf.WriteByte(CmdEraseWrite)
	}
	s.buf.WriteByte(wcc)
	return s
}

// SetAddress emits SBA to row, col.
func (s *Stream) SetAddress(row, col int) *Stream {
	a := EncodeAddress(BaseAddress(row, col, s.cols), s.rows, s.cols)
	s.buf.WriteByte(OrderSBA)
	s.buf.Write(a[:])
	return s
}

// StartField emits a Start Field order with attribute bits attr.
func (s *Stream) StartField(attr byte) *Stream {
	s.buf.WriteByte(OrderSF)
	s.buf.WriteByte(codes[attr&0x3f])
	return s
}

func (s *Stream) Text(text string) *Stream {
	s.buf.Write(ToEBCDIC(text))
	return s
}

func (s *Stream) InsertCursor() *Stream {
	s.buf.WriteByte(OrderIC)
	return s
}

func (s *Stream) Bytes() []byte {
	return s.buf.Bytes()
}

// InboundField is the modified content of one field, keyed by the buffer
// address of its first character.
type InboundField struct {
	Address int
	Text    string
}

// Inbound is a decoded Read Modified response.
type Inbound struct {
	AID    byte
	Cursor int
	Fields []InboundField
}

var ErrEmptyInbound = errors.New("empty inbound record")

// ParseInbound decodes a Read Modified response. Short reads (AID only) are
// returned with no cursor or fields.
func ParseInbound(p []byte) (Inbound, error) {
	var in Inbound
	if len(p) == 0 {
		return in, ErrEmptyInbound
	}
	in.AID = p[0]
	if len(p) < 3 {
		return in, nil
	}

	cursor, err := DecodeAddress([2]byte{p[1], p[2]})
	if err != nil {
		return in, fmt.Errorf("cursor address: %w", err)
	}
	in.Cursor = cursor

	rest := p[3:]
	for len(rest) > 0 {
		if rest[0] != OrderSBA || len(rest) < 3 {
			return in, fmt.Errorf("unexpected inbound byte %02x", rest[0])
		}
		addr, err := DecodeAddress([2]byte{rest[1], rest[2]})
		if err != nil {
			return in, fmt.Errorf("field address: %w", err)
		}
		rest = rest[3:]
		end := bytes.IndexByte(rest, OrderSBA)
		if end < 0 {
			end = len(rest)
		}
		in.Fields = append(in.Fields, InboundField{Address: addr, Text: FromEBCDIC(rest[:end])})
		rest = rest[end:]
	}
	return in, nil
}
