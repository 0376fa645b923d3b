package channel

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"io"
	"math/big"
	"net"
	"time"

	quicgo "github.com/quic-go/quic-go"
)

const quicProto = "ipcwire"

// quicEndpoint carries channels over one bidirectional QUIC stream per
// connection. The dialer opens the stream; the listener accepts it.
// Identity is expected to be verified above this layer, so the client
// side skips certificate verification and the server uses an ephemeral
// self-signed certificate.
type quicEndpoint struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

// QUIC returns a QUIC endpoint with an ephemeral server certificate.
func QUIC() Endpoint {
	cert, _ := selfSignedCert()
	return &quicEndpoint{
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{quicProto},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{},
	}
}

func (e *quicEndpoint) Kind() string { return "quic" }

func (e *quicEndpoint) Listen(ctx context.Context, address string) (Listener, error) {
	l, err := quicgo.ListenAddr(address, e.tlsConf, e.quicConf)
	if err != nil {
		return nil, err
	}
	ql := &quicListener{l: l, newCh: make(chan *quicConn, 8), closeCh: make(chan struct{})}
	go ql.acceptLoop(ctx)
	go func() {
		<-ctx.Done()
		_ = ql.Close()
	}()
	return ql, nil
}

func (e *quicEndpoint) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	tlsClient := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicProto},
		MinVersion:         tls.VersionTLS13,
	}
	c, err := quicgo.DialAddr(ctx, address, tlsClient, e.quicConf)
	if err != nil {
		return nil, err
	}
	st, err := c.OpenStreamSync(ctx)
	if err != nil {
		_ = c.CloseWithError(0, "open stream failed")
		return nil, err
	}
	return &quicConn{c: c, st: st}, nil
}

type quicListener struct {
	l       *quicgo.Listener
	newCh   chan *quicConn
	closeCh chan struct{}
}

func (l *quicListener) acceptLoop(ctx context.Context) {
	for {
		c, err := l.l.Accept(ctx)
		if err != nil {
			return
		}
		go func() {
			st, err := c.AcceptStream(ctx)
			if err != nil {
				_ = c.CloseWithError(0, "accept stream failed")
				return
			}
			qc := &quicConn{c: c, st: st}
			select {
			case l.newCh <- qc:
			case <-l.closeCh:
				_ = qc.Close()
			}
		}()
	}
}

func (l *quicListener) Addr() net.Addr { return l.l.Addr() }

func (l *quicListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, net.ErrClosed
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *quicListener) Close() error {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	return l.l.Close()
}

// quicConn exposes the control stream as a plain byte pipe.
type quicConn struct {
	c  *quicgo.Conn
	st *quicgo.Stream
}

func (q *quicConn) Read(b []byte) (int, error)  { return q.st.Read(b) }
func (q *quicConn) Write(b []byte) (int, error) { return q.st.Write(b) }

func (q *quicConn) Close() error {
	_ = q.st.Close()
	return q.c.CloseWithError(0, "")
}

// selfSignedCert generates a short-lived certificate for local use.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
