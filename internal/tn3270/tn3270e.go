package tn3270

import "fmt"

// TN3270E sub-negotiation operations (RFC 2355).
const (
	OpAssociate  = 0
	OpConnect    = 1
	OpDeviceType = 2
	OpFunctions  = 3
	OpIs         = 4
	OpReason     = 5
	OpReject     = 6
	OpRequest    = 7
	OpSend       = 8
)

// DEVICE-TYPE REJECT reason codes.
const (
	ReasonConnPartner    = 0
	ReasonDeviceInUse    = 1
	ReasonInvAssociate   = 2
	ReasonInvName        = 3
	ReasonInvDeviceType  = 4
	ReasonTypeNameError  = 5
	ReasonUnknownError   = 6
	ReasonUnsupportedReq = 7
)

// Function is a TN3270E function code.
type Function byte

const (
	FuncBindImage     Function = 0
	FuncDataStreamCtl Function = 1
	FuncResponses     Function = 2
	FuncSCSCtlCodes   Function = 3
	FuncSysreq        Function = 4
)

func (f Function) Known() bool {
	return f <= FuncSysreq
}

func (f Function) String() string {
	switch f {
	case FuncBindImage:
		return "BIND-IMAGE"
	case FuncDataStreamCtl:
		return "DATA-STREAM-CTL"
	case FuncResponses:
		return "RESPONSES"
	case FuncSCSCtlCodes:
		return "SCS-CTL-CODES"
	case FuncSysreq:
		return "SYSREQ"
	}
	return fmt.Sprintf("Unknown(%d)", byte(f))
}

func functionBytes(fs []Function) []byte {
	b := make([]byte, len(fs))
	for i, f := range fs {
		b[i] = byte(f)
	}
	return b
}

func toFunctions(b []byte) []Function {
	fs := make([]Function, len(b))
	for i, c := range b {
		fs[i] = Function(c)
	}
	return fs
}

// sameFunctions compares two function lists as sets.
func sameFunctions(a, b []Function) bool {
	seen := make(map[Function]bool, len(a))
	for _, f := range a {
		seen[f] = true
	}
	other := make(map[Function]bool, len(b))
	for _, f := range b {
		if !seen[f] {
			return false
		}
		other[f] = true
	}
	return len(seen) == len(other)
}

func hasFunction(fs []Function, f Function) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}
	return false
}
