package telnet

import "fmt"

// RFCs of particular interest:
// - RFC 854  : Telnet Protocol Specification
// - RFC 856  : Telnet Binary Transmission
// - RFC 860  : Telnet Timing Mark Option
// - RFC 885  : Telnet End of Record Option
// - RFC 1091 : Telnet Terminal-Type Option
// - RFC 1572 : Telnet Environment Option
// - RFC 2355 : TN3270 Enhancements
// - draft-altman-telnet-starttls : Telnet START-TLS Option

const (
	// RFC 854: Telnet Protocol Specification
	EOR  byte = 239 // End of Record (RFC 885)
	SE   byte = 240 // Sub negotiation End
	NOP  byte = 241 // No Operation
	DM   byte = 242 // Data Mark
	BRK  byte = 243 // Break
	IP   byte = 244 // Interrupt Process
	AO   byte = 245 // Abort Output
	AYT  byte = 246 // Are You There?
	EC   byte = 247 // Erase Character
	EL   byte = 248 // Erase Line
	GA   byte = 249 // Go Ahead
	SB   byte = 250 // Sub negotiation Begin
	WILL byte = 251 // Will
	WONT byte = 252 // Won't
	DO   byte = 253 // Do
	DONT byte = 254 // Don't
	IAC  byte = 255 // Interpret As Command

	// Sub-negotiation Commands
	IS   byte = 0
	SEND byte = 1
	INFO byte = 2

	// STARTTLS sub-negotiation verb
	FOLLOWS byte = 1
)

// Option is a Telnet option code. Peers may offer codes this package has no
// name for; those still compare and hash by value and print as Unknown(n).
type Option byte

// Telnet Options
const (
	Binary      Option = 0  // RFC 856
	Echo        Option = 1  // RFC 857
	SGA         Option = 3  // RFC 858 - Suppress Go Ahead
	TimingMark  Option = 6  // RFC 860
	TType       Option = 24 // RFC 1091 - Terminal Type
	EndOfRecord Option = 25 // RFC 885
	NAWS        Option = 31 // RFC 1073
	NewEnviron  Option = 39 // RFC 1572
	TN3270E     Option = 40 // RFC 2355
	StartTLS    Option = 46
)

var optionNames = map[Option]string{
	Binary:      "Binary",
	Echo:        "Echo",
	SGA:         "SGA",
	TimingMark:  "TimingMark",
	TType:       "TType",
	EndOfRecord: "EOR",
	NAWS:        "NAWS",
	NewEnviron:  "NewEnviron",
	TN3270E:     "TN3270E",
	StartTLS:    "StartTLS",
}

// Known reports whether o is one of the options named by this package.
func (o Option) Known() bool {
	_, ok := optionNames[o]
	return ok
}

func (o Option) String() string {
	if name, ok := optionNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", byte(o))
}

// CommandNames maps Telnet command bytes to their string representation.
var CommandNames = map[byte]string{
	EOR:  "EOR",
	SE:   "SE",
	NOP:  "NOP",
	DM:   "DM",
	BRK:  "BRK",
	IP:   "IP",
	AO:   "AO",
	AYT:  "AYT",
	EC:   "EC",
	EL:   "EL",
	GA:   "GA",
	SB:   "SB",
	WILL: "WILL",
	WONT: "WONT",
	DO:   "DO",
	DONT: "DONT",
	IAC:  "IAC",
}

func commandName(cmd byte) string {
	if name, ok := CommandNames[cmd]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", cmd)
}
