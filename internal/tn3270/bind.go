package tn3270

import "strings"

// Presentation space size codes carried in byte 24 of the BIND image.
const (
	Size24x80          byte = 0x02
	SizeQueryAlternate byte = 0x03
	SizeAlternate      byte = 0x7f
)

// bindPrefix is the fixed session parameter block: LU type 2, 3270 data
// stream, no chaining restrictions beyond the defaults.
var bindPrefix = [20]byte{
	0x31, 0x01, 0x03, 0x03, 0xb1, 0x90, 0x30, 0x80,
	0x00, 0x00, 0x85, 0x85, 0x00, 0x00, 0x02,
	0x00, 0x00, 0x00, 0x00, 0x00,
}

// ScreenSizeCode picks the BIND presentation size code for a display.
func ScreenSizeCode(d DisplayInfo) byte {
	switch {
	case d.Dynamic:
		return SizeQueryAlternate
	case d.AltRows == DefaultRows && d.AltCols == DefaultCols:
		return Size24x80
	}
	return SizeAlternate
}

// BuildBind builds the BIND image sent as a BIND-IMAGE record. systemName
// is the primary LU name, upper-cased and encoded in EBCDIC.
func BuildBind(d DisplayInfo, systemName string) []byte {
	name := ToEBCDIC(strings.ToUpper(systemName))
	if len(name) > 255 {
		name = name[:255]
	}

	b := make([]byte, 0, 28+len(name))
	b = append(b, bindPrefix[:]...)
	b = append(b,
		DefaultRows, DefaultCols,
		byte(d.AltRows), byte(d.AltCols),
		ScreenSizeCode(d),
		0x00, 0x00,
		byte(len(name)),
	)
	return append(b, name...)
}
