package telnet

import "net"

// peekedConn replays bytes already read from conn before reading from it
// again.
type peekedConn struct {
	net.Conn
	peeked []byte
}

func newPeekedConn(conn net.Conn, peeked []byte) *peekedConn {
	buf := make([]byte, len(peeked))
	copy(buf, peeked)
	return &peekedConn{Conn: conn, peeked: buf}
}

func (conn *peekedConn) Read(b []byte) (n int, err error) {
	if len(conn.peeked) > 0 {
		n = copy(b, conn.peeked)
		conn.peeked = conn.peeked[n:]
		if len(conn.peeked) == 0 {
			conn.peeked = nil // release underlying array
		}
		return
	}

	return conn.Conn.Read(b)
}
