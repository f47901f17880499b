package telnet

import (
	"bytes"
	"io"
	"sync"
)

type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Escape doubles every IAC byte in p.
func Escape(p []byte) []byte {
	if bytes.IndexByte(p, IAC) == -1 {
		return p
	}

	var buf bytes.Buffer
	buf.Grow(len(p) + len(p)/10)
	for _, b := range p {
		buf.WriteByte(b)
		if b == IAC {
			buf.WriteByte(IAC)
		}
	}
	return buf.Bytes()
}

// Write sends p as Telnet data, escaping IAC -> IAC IAC.
func (w *Writer) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err = w.w.Write(Escape(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteRecord sends p as Telnet data and, when eor is set, terminates it with
// IAC EOR.
func (w *Writer) WriteRecord(p []byte, eor bool) error {
	escaped := Escape(p)
	buf := make([]byte, 0, len(escaped)+2)
	buf = append(buf, escaped...)
	if eor {
		buf = append(buf, IAC, EOR)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(buf)
	return err
}

// WriteCommand sends a Telnet command sequence.
// It automatically prepends IAC.
// Example: WriteCommand(WILL, byte(Echo)) sends IAC WILL ECHO
func (w *Writer) WriteCommand(cmds ...byte) error {
	data := make([]byte, 1+len(cmds))
	data[0] = IAC
	copy(data[1:], cmds)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(data)
	return err
}

// WriteSubNegotiation sends a sub-negotiation sequence.
// It wraps the data in IAC SB ... IAC SE, escaping IAC bytes in data.
func (w *Writer) WriteSubNegotiation(option Option, data []byte) error {
	escaped := Escape(data)
	buf := make([]byte, 0, 5+len(escaped))
	buf = append(buf, IAC, SB, byte(option))
	buf = append(buf, escaped...)
	buf = append(buf, IAC, SE)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(buf)
	return err
}
