package tn3270

import "golang.org/x/text/encoding/charmap"

// ToEBCDIC encodes s in code page 037. Characters outside the code page
// become the substitution character.
func ToEBCDIC(s string) []byte {
	out, err := charmap.CodePage037.NewEncoder().Bytes([]byte(s))
	if err != nil {
		out = make([]byte, 0, len(s))
		for _, r := range s {
			b, ok := charmap.CodePage037.EncodeRune(r)
			if !ok {
				b = 0x3f
			}
			out = append(out, b)
		}
	}
	return out
}

// FromEBCDIC decodes code page 037 bytes.
func FromEBCDIC(p []byte) string {
	out, err := charmap.CodePage037.NewDecoder().Bytes(p)
	if err != nil {
		return string(p)
	}
	return string(out)
}
