package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strconv"
	"time"
)

// netProber is the real TCP/TLS prober.
type netProber struct {
	timeout time.Duration
}

var _ Prober = (*netProber)(nil)

// ProbeTCP reports whether a plain TCP connect to addr succeeds within the
// timeout.
func (p *netProber) ProbeTCP(ctx context.Context, addr string) bool {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ProbeTLS attempts an implicit-TLS handshake. The handshake itself accepts
// any certificate; the chain is then verified separately so an untrusted
// certificate still counts as "TLS supported".
func (p *netProber) ProbeTLS(ctx context.Context, host string, port int) (bool, bool) {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false, false
	}
	defer conn.Close()

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	})

	hctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		return false, false
	}

	return true, verifyPeer(tlsConn.ConnectionState(), host) == nil
}

// verifyPeer verifies the presented certificate chain against the system
// roots for the probed host.
func verifyPeer(state tls.ConnectionState, host string) error {
	if len(state.PeerCertificates) == 0 {
		return errors.New("no peer certificates presented")
	}

	opts := x509.VerifyOptions{
		DNSName:       host,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range state.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}

	_, err := state.PeerCertificates[0].Verify(opts)
	return err
}
