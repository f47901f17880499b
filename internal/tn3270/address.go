package tn3270

import "fmt"

// Screens with at least this many cells need 14-bit addressing.
const fourteenBitThreshold = 1 << 12

// codes are the 3270 control character I/O codes, translating a 6-bit value
// into the byte used by 12-bit buffer addresses and field attributes.
var codes = [64]byte{0x40, 0xc1, 0xc2, 0xc3, 0xc4, 0xc5, 0xc6, 0xc7, 0xc8,
	0xc9, 0x4a, 0x4b, 0x4c, 0x4d, 0x4e, 0x4f, 0x50, 0xd1, 0xd2, 0xd3, 0xd4,
	0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0x5a, 0x5b, 0x5c, 0x5d, 0x5e, 0x5f, 0x60,
	0x61, 0xe2, 0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9, 0x6a, 0x6b, 0x6c,
	0x6d, 0x6e, 0x6f, 0xf0, 0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
	0xf9, 0x7a, 0x7b, 0x7c, 0x7d, 0x7e, 0x7f}

// decodeCode reverses the codes table lookup.
func decodeCode(b byte) (int, bool) {
	for i, c := range codes {
		if c == b {
			return i, true
		}
	}
	return 0, false
}

// BaseAddress returns the linear buffer address of row, col (both 0-based).
func BaseAddress(row, col, cols int) int {
	return row*cols + col
}

// Uses14Bit reports whether a rows x cols buffer is addressed with 14-bit
// binary addresses rather than 12-bit coded ones.
func Uses14Bit(rows, cols int) bool {
	return rows*cols >= fourteenBitThreshold
}

// EncodeAddress encodes a buffer address for a rows x cols screen.
func EncodeAddress(addr, rows, cols int) [2]byte {
	if Uses14Bit(rows, cols) {
		return [2]byte{byte((addr >> 8) & 0x3f), byte(addr & 0xff)}
	}
	return [2]byte{codes[(addr>>6)&0x3f], codes[addr&0x3f]}
}

// DecodeAddress decodes a 2-byte buffer address. The two high-order bits of
// the first byte select the scheme: 00 is 14-bit binary, anything else is a
// 12-bit coded address.
func DecodeAddress(raw [2]byte) (int, error) {
	if raw[0]&0xc0 == 0 {
		return int(raw[0]&0x3f)<<8 | int(raw[1]), nil
	}

	hi, ok := decodeCode(raw[0])
	if !ok {
		return 0, fmt.Errorf("invalid 12-bit address byte %02x", raw[0])
	}
	lo, ok := decodeCode(raw[1])
	if !ok {
		return 0, fmt.Errorf("invalid 12-bit address byte %02x", raw[1])
	}
	return hi<<6 | lo, nil
}
