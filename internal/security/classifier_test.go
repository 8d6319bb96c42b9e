package security

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HimanshuParihar99/Inboxly/pkg/types"
)

type fakeResolver struct {
	mx     []*net.MX
	mxErr  error
	txt    []string
	txtErr error
}

func (r *fakeResolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	return r.mx, r.mxErr
}

func (r *fakeResolver) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	return r.txt, r.txtErr
}

type fakeProber struct {
	tcpOK   bool
	tlsOK   bool
	tlsAuth bool

	tcpAddrs []string
	tlsHosts []string
}

func (p *fakeProber) ProbeTCP(ctx context.Context, addr string) bool {
	p.tcpAddrs = append(p.tcpAddrs, addr)
	return p.tcpOK
}

func (p *fakeProber) ProbeTLS(ctx context.Context, host string, port int) (bool, bool) {
	p.tlsHosts = append(p.tlsHosts, host)
	return p.tlsOK, p.tlsAuth
}

func testClassifier(resolver Resolver, prober Prober) *Classifier {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClassifierWith(resolver, prober, time.Second, logger)
}

func testMessage(from string, headers map[string][]string) *types.Message {
	msg := &types.Message{
		Date:    time.Date(2024, 5, 12, 9, 30, 0, 0, time.UTC),
		Headers: headers,
	}
	if from != "" {
		msg.From = []types.Address{{Name: "Sender", Address: from}}
	}
	return msg
}

func TestClassifySenderDomain(t *testing.T) {
	resolver := &fakeResolver{mxErr: errors.New("no such host")}
	c := testClassifier(resolver, &fakeProber{})

	tests := []struct {
		name string
		from string
		want string
	}{
		{"plain address", "alice@Example.COM", "example.com"},
		{"subdomain", "noreply@mail.shop.example.org", "mail.shop.example.org"},
		{"no at sign", "not-an-address", ""},
		{"trailing at", "broken@", ""},
		{"no from", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(context.Background(), testMessage(tt.from, nil))
			assert.Equal(t, tt.want, got.SenderDomain)
		})
	}
}

func TestClassifyTimeDelta(t *testing.T) {
	resolver := &fakeResolver{mxErr: errors.New("no such host")}
	c := testClassifier(resolver, &fakeProber{})

	msg := testMessage("alice@example.com", map[string][]string{
		"received": {
			"from mta.example.com by mx.dest.com; Sun, 12 May 2024 09:30:02 +0000",
			"from client by mta.example.com; Sun, 12 May 2024 09:29:58 +0000",
		},
	})

	got := c.Classify(context.Background(), msg)
	require.NotNil(t, got.TimeDeltaMs)
	// Topmost hop minus the declared date: 2 seconds.
	assert.Equal(t, int64(2000), *got.TimeDeltaMs)
}

func TestClassifyTimeDeltaUnparsable(t *testing.T) {
	resolver := &fakeResolver{mx: []*net.MX{{Host: "mx.example.com.", Pref: 10}}}
	prober := &fakeProber{tlsOK: true, tlsAuth: true}
	c := testClassifier(resolver, prober)

	msg := testMessage("alice@example.com", map[string][]string{
		"received": {"from somewhere by elsewhere; not a date"},
	})

	got := c.Classify(context.Background(), msg)
	// The broken header degrades only its own field.
	assert.Nil(t, got.TimeDeltaMs)
	assert.Equal(t, "example.com", got.SenderDomain)
	require.NotNil(t, got.TLSSupport)
	assert.True(t, *got.TLSSupport)
}

func TestClassifyTimeDeltaMissingReceived(t *testing.T) {
	resolver := &fakeResolver{mxErr: errors.New("no such host")}
	c := testClassifier(resolver, &fakeProber{})

	got := c.Classify(context.Background(), testMessage("alice@example.com", nil))
	assert.Nil(t, got.TimeDeltaMs)
}

func TestDetectESPFromHeaders(t *testing.T) {
	resolver := &fakeResolver{mxErr: errors.New("no such host")}
	c := testClassifier(resolver, &fakeProber{})

	tests := []struct {
		name    string
		headers map[string][]string
		want    string
	}{
		{"sendgrid", map[string][]string{"x-sg-eid": {"abc123"}}, "SendGrid"},
		{"ses", map[string][]string{"x-ses-outgoing": {"2024.05.12-54.240.8.91"}}, "Amazon SES"},
		{"mailgun", map[string][]string{"x-mailgun-sid": {"WyIxYSJd"}}, "Mailgun"},
		{"postmark", map[string][]string{"x-pm-message-id": {"uuid"}}, "Postmark"},
		{"zoho via mailer value", map[string][]string{"x-mailer": {"Zoho Mail"}}, "Zoho"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(context.Background(), testMessage("a@example.com", tt.headers))
			require.NotNil(t, got.ESP)
			assert.Equal(t, tt.want, *got.ESP)
		})
	}
}

func TestDetectESPMailerWithoutMatchingValue(t *testing.T) {
	resolver := &fakeResolver{mxErr: errors.New("no such host")}
	c := testClassifier(resolver, &fakeProber{})

	got := c.Classify(context.Background(), testMessage("a@example.com", map[string][]string{
		"x-mailer": {"Thunderbird 115"},
	}))
	assert.Nil(t, got.ESP)
}

func TestDetectESPFromDKIM(t *testing.T) {
	resolver := &fakeResolver{mxErr: errors.New("no such host")}
	c := testClassifier(resolver, &fakeProber{})

	got := c.Classify(context.Background(), testMessage("a@example.com", map[string][]string{
		"dkim-signature": {"v=1; a=rsa-sha256; d=amazonses.com; s=ug7nbtf4gccm"},
	}))
	require.NotNil(t, got.ESP)
	assert.Equal(t, "Amazon SES", *got.ESP)
}

func TestDetectESPHeaderBeatsDKIM(t *testing.T) {
	resolver := &fakeResolver{mxErr: errors.New("no such host")}
	c := testClassifier(resolver, &fakeProber{})

	got := c.Classify(context.Background(), testMessage("a@example.com", map[string][]string{
		"x-sg-eid":       {"abc"},
		"dkim-signature": {"v=1; d=amazonses.com"},
	}))
	require.NotNil(t, got.ESP)
	assert.Equal(t, "SendGrid", *got.ESP)
}

func TestDetectESPFromReturnPath(t *testing.T) {
	resolver := &fakeResolver{mxErr: errors.New("no such host")}
	c := testClassifier(resolver, &fakeProber{})

	got := c.Classify(context.Background(), testMessage("a@example.com", map[string][]string{
		"return-path": {"<bounce+123@em.sendgrid.net>"},
	}))
	require.NotNil(t, got.ESP)
	assert.Equal(t, "SendGrid", *got.ESP)
}

func TestDetectESPFromSPF(t *testing.T) {
	resolver := &fakeResolver{
		mxErr: errors.New("no such host"),
		txt: []string{
			"google-site-verification=abcdef",
			"v=spf1 include:mailgun.org ~all",
		},
	}
	c := testClassifier(resolver, &fakeProber{})

	got := c.Classify(context.Background(), testMessage("a@example.com", nil))
	require.NotNil(t, got.ESP)
	assert.Equal(t, "Mailgun", *got.ESP)
}

func TestDetectESPNoSignals(t *testing.T) {
	resolver := &fakeResolver{mxErr: errors.New("no such host"), txtErr: errors.New("no such host")}
	c := testClassifier(resolver, &fakeProber{})

	got := c.Classify(context.Background(), testMessage("a@selfhosted.example", nil))
	assert.Nil(t, got.ESP)
}

func TestClassifyProbesLowestPreferenceMX(t *testing.T) {
	resolver := &fakeResolver{mx: []*net.MX{
		{Host: "backup.example.com.", Pref: 20},
		{Host: "primary.example.com.", Pref: 10},
	}}
	prober := &fakeProber{tlsOK: true, tlsAuth: true}
	c := testClassifier(resolver, prober)

	got := c.Classify(context.Background(), testMessage("a@example.com", nil))

	require.NotEmpty(t, prober.tlsHosts)
	assert.Equal(t, "primary.example.com", prober.tlsHosts[0])
	require.NotNil(t, got.TLSSupport)
	assert.True(t, *got.TLSSupport)
	require.NotNil(t, got.ValidCertificate)
	assert.True(t, *got.ValidCertificate)
}

func TestClassifyTLSFallsBackToSubmissionPort(t *testing.T) {
	resolver := &fakeResolver{mx: []*net.MX{{Host: "mx.example.com.", Pref: 10}}}
	prober := &fakeProber{tlsOK: false, tcpOK: true}
	c := testClassifier(resolver, prober)

	got := c.Classify(context.Background(), testMessage("a@example.com", nil))

	require.NotNil(t, got.TLSSupport)
	assert.True(t, *got.TLSSupport)
	// Reachability of 587 says nothing about the certificate.
	assert.Nil(t, got.ValidCertificate)
	assert.Contains(t, prober.tcpAddrs, "mx.example.com:587")
}

func TestClassifyTLSUnreachable(t *testing.T) {
	resolver := &fakeResolver{mx: []*net.MX{{Host: "mx.example.com.", Pref: 10}}}
	prober := &fakeProber{}
	c := testClassifier(resolver, prober)

	got := c.Classify(context.Background(), testMessage("a@example.com", nil))
	assert.Nil(t, got.TLSSupport)
	assert.Nil(t, got.ValidCertificate)
}

func TestClassifyOpenRelayAlwaysNegative(t *testing.T) {
	resolver := &fakeResolver{mx: []*net.MX{{Host: "mx.example.com.", Pref: 10}}}

	for _, reachable := range []bool{true, false} {
		prober := &fakeProber{tcpOK: reachable}
		c := testClassifier(resolver, prober)

		got := c.Classify(context.Background(), testMessage("a@example.com", nil))
		require.NotNil(t, got.OpenRelay)
		assert.False(t, *got.OpenRelay)
		assert.Contains(t, prober.tcpAddrs, "mx.example.com:25")
	}
}

func TestClassifySkipsProbesWithoutMX(t *testing.T) {
	resolver := &fakeResolver{mxErr: errors.New("no such host")}
	prober := &fakeProber{tcpOK: true, tlsOK: true}
	c := testClassifier(resolver, prober)

	got := c.Classify(context.Background(), testMessage("a@example.com", nil))
	assert.Nil(t, got.OpenRelay)
	assert.Nil(t, got.TLSSupport)
	assert.Empty(t, prober.tcpAddrs)
	assert.Empty(t, prober.tlsHosts)
}

func TestClassifySkipsEverythingWithoutSender(t *testing.T) {
	resolver := &fakeResolver{mx: []*net.MX{{Host: "mx.example.com.", Pref: 10}}}
	prober := &fakeProber{tcpOK: true, tlsOK: true}
	c := testClassifier(resolver, prober)

	got := c.Classify(context.Background(), testMessage("", nil))
	assert.Empty(t, got.SenderDomain)
	assert.Nil(t, got.OpenRelay)
	assert.Empty(t, prober.tlsHosts)
}
