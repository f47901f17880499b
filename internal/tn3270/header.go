package tn3270

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the size of the TN3270E data header.
const HeaderLen = 5

// DataType is the TN3270E header data-type. Values outside the defined set
// are carried through rather than rejected.
type DataType byte

const (
	Type3270Data   DataType = 0
	TypeSCSData    DataType = 1
	TypeResponse   DataType = 2
	TypeBindImage  DataType = 3
	TypeUnbind     DataType = 4
	TypeNVTData    DataType = 5
	TypeRequest    DataType = 6
	TypeSSCPLUData DataType = 7
	TypePrintEOJ   DataType = 8
	TypeBID        DataType = 9
)

var dataTypeNames = map[DataType]string{
	Type3270Data:   "3270-DATA",
	TypeSCSData:    "SCS-DATA",
	TypeResponse:   "RESPONSE",
	TypeBindImage:  "BIND-IMAGE",
	TypeUnbind:     "UNBIND",
	TypeNVTData:    "NVT-DATA",
	TypeRequest:    "REQUEST",
	TypeSSCPLUData: "SSCP-LU-DATA",
	TypePrintEOJ:   "PRINT-EOJ",
	TypeBID:        "BID",
}

func (t DataType) Known() bool {
	_, ok := dataTypeNames[t]
	return ok
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", byte(t))
}

// Header is the 5-byte prefix of every TN3270E data record.
type Header struct {
	Type     DataType
	Request  byte
	Response byte
	Seq      uint16
}

func (h Header) Bytes() []byte {
	b := []byte{byte(h.Type), h.Request, h.Response, 0, 0}
	binary.BigEndian.PutUint16(b[3:], h.Seq)
	return b
}

// Frame returns the header followed by payload.
func (h Header) Frame(payload []byte) []byte {
	return append(h.Bytes(), payload...)
}

var ErrShortHeader = errors.New("TN3270E record shorter than its header")

// ParseHeader splits a TN3270E record into its header and payload.
func ParseHeader(record []byte) (Header, []byte, error) {
	if len(record) < HeaderLen {
		return Header{}, nil, ErrShortHeader
	}
	h := Header{
		Type:     DataType(record[0]),
		Request:  record[1],
		Response: record[2],
		Seq:      binary.BigEndian.Uint16(record[3:]),
	}
	return h, record[HeaderLen:], nil
}

// Sequencer numbers outbound headers. The counter wraps at 65536.
type Sequencer struct {
	next uint16
}

func (s *Sequencer) Next(t DataType) Header {
	h := Header{Type: t, Seq: s.next}
	s.next++
	return h
}

func (s *Sequencer) Reset() {
	s.next = 0
}
