package tn3270

import "tn3270kit/internal/network/telnet"

// requestDeviceType opens the TN3270E handshake.
func (s *Session) requestDeviceType() {
	if s.sentDevReq || !s.tn3270e {
		return
	}
	s.sentDevReq = true
	s.conn.SendSubNegotiation(telnet.TN3270E, []byte{OpSend, OpDeviceType})
}

func (s *Session) tn3270eSubnegotiation(body []byte) {
	if !s.tn3270e || len(body) < 2 {
		s.logger.Debug("TN3270E sub-negotiation ignored", "len", len(body))
		return
	}
	switch body[0] {
	case OpDeviceType:
		if body[1] != OpRequest {
			s.logger.Debug("Unexpected DEVICE-TYPE verb", "verb", body[1])
			return
		}
		s.deviceTypeRequest(body[2:])
	case OpFunctions:
		switch body[1] {
		case OpRequest:
			s.functionsRequest(toFunctions(body[2:]))
		case OpIs:
			s.functionsIs(toFunctions(body[2:]))
		default:
			s.logger.Debug("Unexpected FUNCTIONS verb", "verb", body[1])
		}
	default:
		s.logger.Debug("Unhandled TN3270E operation", "op", body[0])
	}
}

// deviceTypeRequest handles DEVICE-TYPE REQUEST <ttype> [CONNECT|ASSOCIATE
// <name>]. The pool assignment wins over any LU the peer names.
func (s *Session) deviceTypeRequest(p []byte) {
	end := len(p)
	for i, b := range p {
		if b == OpConnect || b == OpAssociate {
			end = i
			break
		}
	}
	ttype := string(p[:end])
	if end < len(p) {
		s.logger.Debug("Peer named a device, using pool assignment",
			"requested", string(p[end+1:]),
			"assigned", s.lu.TerminalID,
		)
	}

	display, err := NewDisplayInfo(ttype)
	if err != nil {
		s.logger.Warn("Device type rejected", "ttype", ttype)
		s.conn.SendSubNegotiation(telnet.TN3270E, []byte{
			OpDeviceType, OpReject, OpReason, ReasonInvDeviceType,
		})
		return
	}

	s.negotiatedTerminal = true
	s.terminalType = ttype
	s.display = display

	reply := []byte{OpDeviceType, OpIs}
	reply = append(reply, ttype...)
	reply = append(reply, OpConnect)
	reply = append(reply, s.lu.TerminalID...)
	s.conn.SendSubNegotiation(telnet.TN3270E, reply)
	s.logger.Debug("Device type negotiated", "ttype", ttype)
	s.maybeReady()
}

func (s *Session) supportedFunctions() []Function {
	if s.opts.BindImage {
		return []Function{FuncBindImage}
	}
	return []Function{}
}

// functionsRequest accepts an empty set or the BIND-IMAGE singleton and
// counter-proposes everything else once. A second unacceptable request
// abandons TN3270E.
func (s *Session) functionsRequest(req []Function) {
	switch {
	case len(req) == 0,
		len(req) == 1 && req[0] == FuncBindImage && s.opts.BindImage,
		s.proposed != nil && sameFunctions(req, s.proposed):
		s.agreeFunctions(req)
	case s.proposed != nil:
		s.abandonTN3270E("FUNCTIONS did not converge")
	default:
		s.proposed = s.supportedFunctions()
		reply := append([]byte{OpFunctions, OpRequest}, functionBytes(s.proposed)...)
		s.conn.SendSubNegotiation(telnet.TN3270E, reply)
	}
}

func (s *Session) agreeFunctions(fs []Function) {
	reply := append([]byte{OpFunctions, OpIs}, functionBytes(fs)...)
	s.conn.SendSubNegotiation(telnet.TN3270E, reply)
	s.functionsNegotiated(fs)
}

// functionsIs handles the peer's IS, which must match our last proposal.
func (s *Session) functionsIs(fs []Function) {
	if s.proposed == nil || !sameFunctions(fs, s.proposed) {
		s.abandonTN3270E("FUNCTIONS IS does not match proposal")
		return
	}
	s.functionsNegotiated(fs)
}

func (s *Session) functionsNegotiated(fs []Function) {
	s.functions = fs
	s.negotiatedFunctions = true
	s.logger.Debug("Functions negotiated", "functions", fs)
	s.maybeReady()
}

// maybeReady sends the BIND image and enters 3270 mode once device type and
// functions are both agreed.
func (s *Session) maybeReady() {
	if !s.negotiatedTerminal || !s.negotiatedFunctions || s.in3270 {
		return
	}
	s.bindEnabled = hasFunction(s.functions, FuncBindImage)
	if s.bindEnabled {
		if err := s.SendType(TypeBindImage, BuildBind(s.display, s.lu.SystemName)); err != nil {
			s.logger.Debug("BIND image not sent", "err", err)
		}
	}
	s.enter3270()
}

// abandonTN3270E withdraws TN3270E and falls back to plain TN3270 through
// TERMINAL-TYPE.
func (s *Session) abandonTN3270E(reason string) {
	s.logger.Warn("Falling back to TN3270", "reason", reason)
	s.reset()
	s.fellBack = true
	s.conn.SendWont(telnet.TN3270E)
	s.conn.SendDont(telnet.TN3270E)

	if s.conn.IsRemoteOptionEnabled(telnet.TType) {
		s.conn.SendSubNegotiation(telnet.TType, []byte{telnet.SEND})
		return
	}
	s.conn.SendDo(telnet.TType)
}
