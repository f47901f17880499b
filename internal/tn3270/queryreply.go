package tn3270

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// AIDStructuredField introduces an inbound structured field, which is
	// how a terminal answers a Read Partition Query.
	AIDStructuredField = 0x88

	sfQueryReply     = 0x81
	qcodeUsableArea  = 0x81
	qcodeRPQNames    = 0xa1
	usableAreaMinLen = 10

	// Largest buffer 14-bit addressing can reach.
	maxBufferCells = 1 << 14
)

var ErrQueryReply = errors.New("invalid query reply")

// QueryReply is the subset of a Query Reply this server acts on.
type QueryReply struct {
	UsableArea bool
	Rows       int
	Cols       int
	RPQNames   []byte
}

// readPartitionQuery asks the terminal for its Query Replies.
var readPartitionQuery = []byte{CmdWSF, 0x00, 0x05, 0x01, 0xff, 0x02}

// ParseQueryReply walks the structured fields of an inbound Query Reply
// record (starting at the AID byte). Subfield lengths below 2 or past the end
// of the record are rejected.
func ParseQueryReply(p []byte) (QueryReply, error) {
	var qr QueryReply
	if len(p) == 0 || p[0] != AIDStructuredField {
		return qr, fmt.Errorf("%w: not a structured field reply", ErrQueryReply)
	}

	for i := 1; i < len(p); {
		if len(p)-i < 2 {
			return qr, fmt.Errorf("%w: truncated subfield length at offset %d", ErrQueryReply, i)
		}
		l := int(binary.BigEndian.Uint16(p[i:]))
		if l < 2 {
			return qr, fmt.Errorf("%w: subfield length %d at offset %d", ErrQueryReply, l, i)
		}
		if l > len(p)-i {
			return qr, fmt.Errorf("%w: subfield length %d exceeds %d remaining bytes", ErrQueryReply, l, len(p)-i)
		}
		sf := p[i : i+l]
		i += l

		if len(sf) < 4 || sf[2] != sfQueryReply {
			continue
		}
		switch sf[3] {
		case qcodeUsableArea:
			if len(sf) < usableAreaMinLen {
				return qr, fmt.Errorf("%w: usable area subfield of %d bytes", ErrQueryReply, len(sf))
			}
			qr.UsableArea = true
			qr.Cols = int(binary.BigEndian.Uint16(sf[6:]))
			qr.Rows = int(binary.BigEndian.Uint16(sf[8:]))
			for qr.Cols > 0 && qr.Rows*qr.Cols >= maxBufferCells {
				qr.Rows--
			}
		case qcodeRPQNames:
			qr.RPQNames = append([]byte{}, sf[4:]...)
		}
	}

	if qr.UsableArea && (qr.Rows <= 0 || qr.Cols <= 0) {
		return qr, fmt.Errorf("%w: usable area %dx%d", ErrQueryReply, qr.Rows, qr.Cols)
	}
	return qr, nil
}
