package telnet_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tn3270kit/internal/network/telnet"
)

func selfSigned() tls.Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	Expect(err).NotTo(HaveOccurred())
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	Expect(err).NotTo(HaveOccurred())
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

var _ = Describe("STARTTLS", func() {
	var (
		serverConn net.Conn
		clientConn net.Conn
		connection *telnet.Connection
		handler    *testHandler
		serverTLS  *tls.Config
		clientTLS  *tls.Config
		cancel     context.CancelFunc
		done       chan error
	)

	doStartTLS := iac(telnet.DO, byte(telnet.StartTLS))
	follows := iac(telnet.SB, byte(telnet.StartTLS), telnet.FOLLOWS, telnet.IAC, telnet.SE)

	send := func(p ...byte) {
		_, err := clientConn.Write(p)
		Expect(err).NotTo(HaveOccurred())
	}

	expectRead := func(expected []byte) {
		buf := make([]byte, len(expected))
		clientConn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, err := io.ReadFull(clientConn, buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf).To(Equal(expected))
	}

	serve := func(opts telnet.TLSOptions, negotiateOnly bool) {
		opts.Config = serverTLS
		connection.EnableTLS(opts)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		go func() {
			if negotiateOnly {
				done <- connection.Negotiate(ctx, 20*time.Millisecond)
				return
			}
			done <- connection.Serve(ctx, 20*time.Millisecond)
		}()
	}

	BeforeEach(func() {
		serverConn, clientConn = net.Pipe()
		connection = telnet.NewConnection(serverConn, logger)
		handler = newTestHandler()
		connection.SetHandler(handler)
		done = make(chan error, 1)

		serverTLS = &tls.Config{Certificates: []tls.Certificate{selfSigned()}}
		clientTLS = &tls.Config{InsecureSkipVerify: true}
	})

	AfterEach(func() {
		cancel()
		clientConn.Close()
		connection.Close()
		Eventually(done, 3*time.Second).Should(Receive())
	})

	It("asks a silent peer to negotiate and gives up after the timeout", func() {
		serve(telnet.TLSOptions{
			Mode:            telnet.TLSNegotiated,
			UnsolicitedWait: 100 * time.Millisecond,
			Timeout:         500 * time.Millisecond,
		}, false)

		expectRead(doStartTLS)
		Eventually(done, 2*time.Second).Should(Receive(MatchError(telnet.ErrNegotiationTimeout)))
		Expect(handler.Started()).To(BeZero())
		done <- nil
	})

	It("upgrades after the FOLLOWS exchange", func() {
		serve(telnet.TLSOptions{Mode: telnet.TLSNegotiated, UnsolicitedWait: 100 * time.Millisecond}, false)

		expectRead(doStartTLS)
		send(telnet.IAC, telnet.WILL, byte(telnet.StartTLS))
		expectRead(follows)
		send(follows...)

		client := tls.Client(clientConn, clientTLS)
		Expect(client.Handshake()).To(Succeed())
		_, err := client.Write([]byte("hi"))
		Expect(err).NotTo(HaveOccurred())

		Eventually(handler.Data).Should(Equal([]byte("hi")))
		Expect(connection.Secure()).To(BeTrue())
		Expect(handler.Started()).To(Equal(1))
	})

	It("upgrades a peer that opens with a TLS ClientHello", func() {
		serve(telnet.TLSOptions{Mode: telnet.TLSNegotiated, UnsolicitedWait: time.Second}, false)

		client := tls.Client(clientConn, clientTLS)
		Expect(client.Handshake()).To(Succeed())
		_, err := client.Write([]byte("ok"))
		Expect(err).NotTo(HaveOccurred())

		Eventually(handler.Data).Should(Equal([]byte("ok")))
		Expect(connection.Secure()).To(BeTrue())
	})

	It("wraps the socket before any Telnet bytes in immediate mode", func() {
		serve(telnet.TLSOptions{Mode: telnet.TLSImmediate}, true)

		client := tls.Client(clientConn, clientTLS)
		Expect(client.Handshake()).To(Succeed())
		Eventually(done).Should(Receive(BeNil()))
		Expect(connection.NegotiationComplete()).To(BeTrue())
		Expect(connection.Secure()).To(BeTrue())
		done <- nil
	})

	It("refuses a malformed sub-negotiation and continues in plaintext", func() {
		serve(telnet.TLSOptions{Mode: telnet.TLSNegotiated, UnsolicitedWait: 100 * time.Millisecond}, false)

		expectRead(doStartTLS)
		send(telnet.IAC, telnet.WILL, byte(telnet.StartTLS))
		expectRead(follows)
		send(telnet.IAC, telnet.SB, byte(telnet.StartTLS), 0x07, telnet.IAC, telnet.SE)
		expectRead(iac(telnet.DONT, byte(telnet.StartTLS)))

		send('z')
		Eventually(handler.Data).Should(Equal([]byte("z")))
		Expect(connection.Secure()).To(BeFalse())
		Expect(handler.Started()).To(Equal(1))
	})

	It("disconnects on a malformed sub-negotiation when TLS is mandatory", func() {
		serve(telnet.TLSOptions{
			Mode:            telnet.TLSNegotiated,
			Mandatory:       true,
			UnsolicitedWait: 100 * time.Millisecond,
		}, false)

		expectRead(doStartTLS)
		send(telnet.IAC, telnet.WILL, byte(telnet.StartTLS))
		expectRead(follows)
		send(telnet.IAC, telnet.SB, byte(telnet.StartTLS), telnet.IAC, telnet.SE)
		expectRead(iac(telnet.DONT, byte(telnet.StartTLS)))
		expectRead([]byte("STARTTLS is mandatory\r\n"))

		Eventually(done).Should(Receive(MatchError(telnet.ErrStartTLSMandatory)))
		done <- nil
	})

	It("falls back to plaintext when the peer refuses", func() {
		serve(telnet.TLSOptions{Mode: telnet.TLSNegotiated, UnsolicitedWait: 100 * time.Millisecond}, false)

		expectRead(doStartTLS)
		send(telnet.IAC, telnet.WONT, byte(telnet.StartTLS))

		Eventually(handler.Started).Should(Equal(1))
		Expect(connection.NegotiationComplete()).To(BeTrue())
	})

	It("leaves plaintext after a refusal readable without a deadline", func() {
		serve(telnet.TLSOptions{Mode: telnet.TLSNegotiated, UnsolicitedWait: 50 * time.Millisecond}, true)

		expectRead(doStartTLS)
		send(append(iac(telnet.WONT, byte(telnet.StartTLS)), "one"...)...)
		Eventually(done).Should(Receive(BeNil()))
		Expect(connection.Secure()).To(BeFalse())

		read := make(chan string, 1)
		go func() {
			defer GinkgoRecover()
			buf := make([]byte, 6)
			_, err := io.ReadFull(connection.Conn(), buf)
			Expect(err).NotTo(HaveOccurred())
			read <- string(buf)
		}()

		// Well past the 20ms read poll used during negotiation.
		time.Sleep(200 * time.Millisecond)
		send([]byte("two")...)
		Eventually(read).Should(Receive(Equal("onetwo")))
		done <- nil
	})
})

var _ = Describe("TLS modes", func() {
	It("parses configuration strings", func() {
		mode, err := telnet.ParseTLSMode("Negotiated")
		Expect(err).NotTo(HaveOccurred())
		Expect(mode).To(Equal(telnet.TLSNegotiated))
		Expect(mode.String()).To(Equal("negotiated"))

		mode, err = telnet.ParseTLSMode("")
		Expect(err).NotTo(HaveOccurred())
		Expect(mode).To(Equal(telnet.TLSNone))

		_, err = telnet.ParseTLSMode("sometimes")
		Expect(err).To(HaveOccurred())
	})
})
