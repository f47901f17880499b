package obs

import (
	"errors"

	"tn3270kit/internal/network/telnet"
	"tn3270kit/internal/registry"
	"tn3270kit/internal/tn3270"
)

var reasons = []struct {
	err   error
	label string
}{
	{telnet.ErrNegotiationTimeout, "starttls_timeout"},
	{telnet.ErrStartTLSMandatory, "starttls_mandatory"},
	{tn3270.ErrRequiredOption, "required_option"},
	{tn3270.ErrUnsupportedTerminal, "terminal_type"},
	{tn3270.ErrDevnameLoop, "devname_loop"},
	{registry.ErrExhausted, "lu_exhausted"},
}

// FailureReason maps a connection error to its NegotiationErrors label.
// Errors outside the negotiation taxonomy are reported as "other".
func FailureReason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}

// CountFailure increments NegotiationErrors for err, ignoring nil.
func CountFailure(err error) {
	if err == nil {
		return
	}
	NegotiationErrors.WithLabelValues(FailureReason(err)).Inc()
}
