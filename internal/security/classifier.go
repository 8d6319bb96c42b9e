package security

import (
	"context"
	"net"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/HimanshuParihar99/Inboxly/pkg/types"
)

// Resolver is the DNS surface the classifier needs. *net.Resolver implements
// it; tests substitute fakes.
type Resolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, domain string) ([]string, error)
}

// Prober performs the TCP and TLS reachability checks against a mail
// exchanger.
type Prober interface {
	// ProbeTCP reports whether a plain TCP connect to addr succeeds.
	ProbeTCP(ctx context.Context, addr string) bool
	// ProbeTLS attempts an implicit-TLS handshake with host on the given
	// port and reports whether it succeeded and, when it did, whether the
	// peer certificate chain verified for the host.
	ProbeTLS(ctx context.Context, host string, port int) (ok bool, authorized bool)
}

// Classifier derives the transport security posture of fetched messages. It
// never fails a classification: every signal degrades to a nil field on its
// own, so one bad signal cannot block the ingestion pipeline.
type Classifier struct {
	resolver Resolver
	prober   Prober
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewClassifier creates a classifier backed by the system resolver and real
// network probes.
func NewClassifier(logger *logrus.Logger, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Classifier{
		resolver: net.DefaultResolver,
		prober:   &netProber{timeout: timeout},
		timeout:  timeout,
		logger:   logger,
	}
}

// NewClassifierWith creates a classifier with injected resolver and prober.
func NewClassifierWith(resolver Resolver, prober Prober, timeout time.Duration, logger *logrus.Logger) *Classifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Classifier{
		resolver: resolver,
		prober:   prober,
		timeout:  timeout,
		logger:   logger,
	}
}

// Classify computes the security classification of one message. Fields that
// could not be determined are left nil.
func (c *Classifier) Classify(ctx context.Context, msg *types.Message) types.SecurityClassification {
	result := types.SecurityClassification{
		SenderDomain: senderDomain(msg),
		TimeDeltaMs:  timeDelta(msg),
	}
	result.ESP = c.detectESP(ctx, msg, result.SenderDomain)

	if result.SenderDomain == "" {
		return result
	}

	mxHost := c.lowestMX(ctx, result.SenderDomain)
	if mxHost == "" {
		return result
	}

	result.OpenRelay = c.probeOpenRelay(ctx, mxHost)
	result.TLSSupport, result.ValidCertificate = c.probeTLS(ctx, mxHost)
	return result
}

// senderDomain extracts the domain of the primary From address, lower-cased.
func senderDomain(msg *types.Message) string {
	if len(msg.From) == 0 {
		return ""
	}
	addr := msg.From[0].Address
	idx := strings.LastIndex(addr, "@")
	if idx < 0 || idx == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[idx+1:])
}

// timeDelta computes receipt minus declared send time in milliseconds, using
// the date token of the most recent Received header (the text after its last
// semicolon). Nil when the header is absent or unparsable.
func timeDelta(msg *types.Message) *int64 {
	if msg.Date.IsZero() {
		return nil
	}
	received := msg.Header("Received")
	if len(received) == 0 {
		return nil
	}

	// Topmost Received header is the most recent hop.
	latest := received[0]
	idx := strings.LastIndex(latest, ";")
	if idx < 0 {
		return nil
	}
	ts, err := mail.ParseDate(strings.TrimSpace(latest[idx+1:]))
	if err != nil {
		return nil
	}

	delta := ts.Sub(msg.Date).Milliseconds()
	return &delta
}

// lowestMX resolves the domain's lowest-preference mail exchanger, or ""
// when resolution fails.
func (c *Classifier) lowestMX(ctx context.Context, domain string) string {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	records, err := c.resolver.LookupMX(cctx, domain)
	if err != nil || len(records) == 0 {
		c.logger.WithField("domain", domain).Debug("MX resolution failed")
		return ""
	}

	best := records[0]
	for _, r := range records[1:] {
		if r.Pref < best.Pref {
			best = r
		}
	}
	return strings.TrimSuffix(best.Host, ".")
}

// probeOpenRelay attempts a plain TCP connect to the MX host on port 25.
// This establishes reachability only; a real relay test would require an
// authenticated send attempt, so either outcome reports "not an open relay".
func (c *Classifier) probeOpenRelay(ctx context.Context, mxHost string) *bool {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.prober.ProbeTCP(cctx, net.JoinHostPort(mxHost, "25"))
	relay := false
	return &relay
}

// probeTLS checks the MX host's TLS posture: an implicit-TLS handshake on
// 465 first, falling back to plain TCP reachability of the STARTTLS port 587
// (which yields "TLS supported, certificate validity unknown"). Both fields
// stay nil when neither succeeds.
func (c *Classifier) probeTLS(ctx context.Context, mxHost string) (tlsSupport, validCert *bool) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if ok, authorized := c.prober.ProbeTLS(cctx, mxHost, 465); ok {
		supported := true
		valid := authorized
		return &supported, &valid
	}

	cctx2, cancel2 := context.WithTimeout(ctx, c.timeout)
	defer cancel2()

	if c.prober.ProbeTCP(cctx2, net.JoinHostPort(mxHost, "587")) {
		supported := true
		return &supported, nil
	}

	return nil, nil
}
