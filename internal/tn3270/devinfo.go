package tn3270

import (
	"errors"
	"regexp"
)

const (
	DefaultRows = 24
	DefaultCols = 80

	DynamicTerminal = "IBM-DYNAMIC"
)

var ErrUnsupportedTerminal = errors.New("unsupported terminal type")

var terminalPattern = regexp.MustCompile(`^IBM-327([89])-([2-5])(-E)?$`)

// ValidTerminalType reports whether ttype is one of the accepted 3278/3279
// models (optionally with -E) or IBM-DYNAMIC.
func ValidTerminalType(ttype string) bool {
	return ttype == DynamicTerminal || terminalPattern.MatchString(ttype)
}

// DisplayInfo is the screen geometry derived from a terminal type.
type DisplayInfo struct {
	TerminalType string
	Model        byte
	Extended     bool
	Dynamic      bool
	AltRows      int
	AltCols      int
	RPQNames     []byte

	queried bool
}

var modelSizes = map[byte][2]int{
	'2': {24, 80},
	'3': {32, 80},
	'4': {43, 80},
	'5': {27, 132},
}

// NewDisplayInfo derives geometry from a terminal type. Fixed models carry
// their alternate size; IBM-DYNAMIC starts at 24x80 until a Query Reply says
// otherwise.
func NewDisplayInfo(ttype string) (DisplayInfo, error) {
	if ttype == DynamicTerminal {
		return DisplayInfo{
			TerminalType: ttype,
			Model:        '2',
			Extended:     true,
			Dynamic:      true,
			AltRows:      DefaultRows,
			AltCols:      DefaultCols,
		}, nil
	}

	m := terminalPattern.FindStringSubmatch(ttype)
	if m == nil {
		return DisplayInfo{}, ErrUnsupportedTerminal
	}
	model := m[2][0]
	size := modelSizes[model]
	return DisplayInfo{
		TerminalType: ttype,
		Model:        model,
		Extended:     m[1] == "9" || m[3] != "",
		AltRows:      size[0],
		AltCols:      size[1],
	}, nil
}

// Queried reports whether a Query Reply has already updated the geometry.
func (d *DisplayInfo) Queried() bool {
	return d.queried
}

// ApplyQueryReply updates the geometry from a Query Reply. On failure the
// previous geometry stays in effect and the reason is returned.
func (d *DisplayInfo) ApplyQueryReply(p []byte) (bool, string) {
	if d.queried {
		return false, "query reply already applied"
	}
	qr, err := ParseQueryReply(p)
	if err != nil {
		return false, err.Error()
	}
	if qr.UsableArea {
		d.AltRows = qr.Rows
		d.AltCols = qr.Cols
	}
	if qr.RPQNames != nil {
		d.RPQNames = qr.RPQNames
	}
	d.queried = true
	return true, ""
}
