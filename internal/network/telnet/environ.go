package telnet

import (
	"errors"
	"fmt"
)

// EnvTag is a NEW-ENVIRON object tag (RFC 1572). Bytes outside the defined
// tags are kept as Unknown values rather than rejected.
type EnvTag byte

const (
	EnvVar     EnvTag = 0
	EnvValue   EnvTag = 1
	EnvEsc     EnvTag = 2
	EnvUserVar EnvTag = 3
)

func (t EnvTag) Known() bool {
	return t <= EnvUserVar
}

func (t EnvTag) String() string {
	switch t {
	case EnvVar:
		return "VAR"
	case EnvValue:
		return "VALUE"
	case EnvEsc:
		return "ESC"
	case EnvUserVar:
		return "USERVAR"
	}
	return fmt.Sprintf("Unknown(%d)", byte(t))
}

// EnvVariable is one NEW-ENVIRON variable as sent by the peer.
type EnvVariable struct {
	Tag      EnvTag
	Name     string
	Value    string
	HasValue bool
}

var ErrEnvironTruncated = errors.New("NEW-ENVIRON escape at end of data")

// ParseEnviron decodes an IS or INFO NEW-ENVIRON body (without the option
// byte). The first byte is the qualifier.
func ParseEnviron(body []byte) (qualifier byte, vars []EnvVariable, err error) {
	if len(body) == 0 {
		return 0, nil, errors.New("empty NEW-ENVIRON sub-negotiation")
	}
	qualifier = body[0]
	if qualifier != IS && qualifier != INFO {
		return qualifier, nil, fmt.Errorf("unexpected NEW-ENVIRON qualifier %d", qualifier)
	}

	var cur *EnvVariable
	var text []byte
	inValue := false

	finish := func() {
		if cur == nil {
			return
		}
		if inValue {
			cur.Value = string(text)
		} else {
			cur.Name = string(text)
		}
		vars = append(vars, *cur)
	}

	for i := 1; i < len(body); i++ {
		b := body[i]
		switch EnvTag(b) {
		case EnvEsc:
			if i+1 >= len(body) {
				finish()
				return qualifier, vars, ErrEnvironTruncated
			}
			i++
			text = append(text, body[i])
		case EnvValue:
			if cur == nil || inValue {
				text = append(text, b)
				continue
			}
			cur.Name = string(text)
			cur.HasValue = true
			text = text[:0]
			inValue = true
		case EnvVar, EnvUserVar:
			finish()
			cur = &EnvVariable{Tag: EnvTag(b)}
			text = text[:0]
			inValue = false
		default:
			if cur == nil {
				// Data before any tag: keep it under an unknown tag.
				cur = &EnvVariable{Tag: EnvTag(b)}
				continue
			}
			text = append(text, b)
		}
	}
	finish()
	return qualifier, vars, nil
}

// BuildEnvironSend builds a SEND request for the named user variables.
func BuildEnvironSend(userVars ...string) []byte {
	buf := []byte{SEND}
	for _, name := range userVars {
		buf = append(buf, byte(EnvUserVar))
		buf = appendEnvEscaped(buf, name)
	}
	return buf
}

func appendEnvEscaped(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch EnvTag(s[i]) {
		case EnvVar, EnvValue, EnvEsc, EnvUserVar:
			buf = append(buf, byte(EnvEsc))
		}
		buf = append(buf, s[i])
	}
	return buf
}
