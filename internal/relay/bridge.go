package relay

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"tn3270kit/internal/network/telnet"
	"tn3270kit/internal/obs"
)

// Telnet NOP sent to an idle side to keep middleboxes from dropping it.
var telnetNOP = []byte{telnet.IAC, telnet.NOP}

const keepaliveWriteTimeout = 10 * time.Second

// Bridge copies bytes both ways between a client and the host until either
// side closes or ctx is cancelled.
type Bridge struct {
	client      net.Conn
	host        net.Conn
	idleTimeout time.Duration
	logger      *slog.Logger

	bytesIn  atomic.Int64 // client -> host
	bytesOut atomic.Int64 // host -> client

	lastClientActive atomic.Int64 // unix nanoseconds
	lastHostActive   atomic.Int64
}

func NewBridge(client, host net.Conn, idleTimeout time.Duration, logger *slog.Logger) *Bridge {
	b := &Bridge{
		client:      client,
		host:        host,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
	now := time.Now().UnixNano()
	b.lastClientActive.Store(now)
	b.lastHostActive.Store(now)
	return b
}

// BytesIn is the number of bytes relayed from the client to the host.
func (b *Bridge) BytesIn() int64 { return b.bytesIn.Load() }

// BytesOut is the number of bytes relayed from the host to the client.
func (b *Bridge) BytesOut() int64 { return b.bytesOut.Load() }

// Run blocks until one direction ends, then closes both connections. The
// first error other than a clean close is returned.
func (b *Bridge) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)

	go func() {
		defer wg.Done()
		errs <- b.copy(b.host, b.client, &b.bytesIn, &b.lastClientActive, "client_to_host")
	}()
	go func() {
		defer wg.Done()
		errs <- b.copy(b.client, b.host, &b.bytesOut, &b.lastHostActive, "host_to_client")
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	stop := make(chan struct{})
	go b.keepalive(stop)

	var err error
	select {
	case err = <-errs:
	case <-ctx.Done():
	}
	close(stop)

	// Close both sides so the other copy returns.
	b.client.Close()
	b.host.Close()
	<-done

	b.logger.Debug("Bridge closed", "in", b.BytesIn(), "out", b.BytesOut())
	return err
}

func (b *Bridge) copy(dst, src net.Conn, counter, lastActive *atomic.Int64, direction string) error {
	buf := make([]byte, 4096)
	metric := obs.RelayBytesTotal.WithLabelValues(direction)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			lastActive.Store(time.Now().UnixNano())
			written, writeErr := dst.Write(buf[:n])
			if written > 0 {
				counter.Add(int64(written))
				metric.Add(float64(written))
			}
			if writeErr != nil {
				return quiet(errors.Wrapf(writeErr, "%s write", direction))
			}
		}
		if readErr != nil {
			return quiet(errors.Wrapf(readErr, "%s read", direction))
		}
	}
}

// quiet drops errors that only mean the connection was closed.
func quiet(err error) error {
	cause := errors.Cause(err)
	if cause == io.EOF || errors.Is(cause, net.ErrClosed) {
		return nil
	}
	return err
}

// keepalive sends a Telnet NOP to whichever side has been idle for
// idleTimeout.
func (b *Bridge) keepalive(stop chan struct{}) {
	if b.idleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(b.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !b.nopIfIdle(b.client, &b.lastClientActive, "client") {
				return
			}
			if !b.nopIfIdle(b.host, &b.lastHostActive, "host") {
				return
			}
		}
	}
}

func (b *Bridge) nopIfIdle(conn net.Conn, lastActive *atomic.Int64, side string) bool {
	idle := time.Since(time.Unix(0, lastActive.Load()))
	if idle < b.idleTimeout {
		return true
	}

	conn.SetWriteDeadline(time.Now().Add(keepaliveWriteTimeout))
	_, err := conn.Write(telnetNOP)
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		b.logger.Warn("Keepalive failed", "side", side, "err", err)
		conn.Close()
		return false
	}
	b.logger.Debug("Keepalive NOP sent", "side", side, "idle", idle.Round(time.Second))
	return true
}
