package security

import (
	"context"
	"strings"

	"github.com/HimanshuParihar99/Inboxly/pkg/types"
)

// headerPattern matches a provider-specific header, optionally requiring a
// value substring.
type headerPattern struct {
	header string
	substr string
	esp    string
}

var headerPatterns = []headerPattern{
	{header: "x-ses-outgoing", esp: "Amazon SES"},
	{header: "x-ses-receipt", esp: "Amazon SES"},
	{header: "x-sg-eid", esp: "SendGrid"},
	{header: "x-sg-id", esp: "SendGrid"},
	{header: "x-mailgun-sid", esp: "Mailgun"},
	{header: "x-mailgun-sending-ip", esp: "Mailgun"},
	{header: "x-pm-message-id", esp: "Postmark"},
	{header: "x-mandrill-user", esp: "Mandrill"},
	{header: "x-mc-user", esp: "Mailchimp"},
	{header: "x-msfbl", esp: "SparkPost"},
	{header: "x-sfmc-stack", esp: "Salesforce Marketing Cloud"},
	{header: "x-google-smtp-source", esp: "Gmail"},
	{header: "x-mailer", substr: "zoho", esp: "Zoho"},
}

// providerDomains maps sending infrastructure domains to providers. Used for
// DKIM d=, Return-Path, and SPF include targets alike.
var providerDomains = map[string]string{
	"amazonses.com":          "Amazon SES",
	"sendgrid.net":           "SendGrid",
	"sendgrid.me":            "SendGrid",
	"mailgun.org":            "Mailgun",
	"mandrillapp.com":        "Mandrill",
	"mailchimp.com":          "Mailchimp",
	"mcsv.net":               "Mailchimp",
	"rsgsv.net":              "Mailchimp",
	"postmarkapp.com":        "Postmark",
	"mtasv.net":              "Postmark",
	"sparkpostmail.com":      "SparkPost",
	"gmail.com":              "Gmail",
	"google.com":             "Gmail",
	"outlook.com":            "Microsoft 365",
	"protection.outlook.com": "Microsoft 365",
	"zoho.com":               "Zoho",
	"zohomail.com":           "Zoho",
	"sendinblue.com":         "Brevo",
	"brevo.com":              "Brevo",
}

// detectESP identifies the sending Email Service Provider, first match wins:
// provider-specific headers, then the DKIM signing domain, then the
// Return-Path domain, then the domain's SPF include targets. Nil when
// nothing matches.
func (c *Classifier) detectESP(ctx context.Context, msg *types.Message, domain string) *string {
	for _, p := range headerPatterns {
		values := msg.Header(p.header)
		if len(values) == 0 {
			continue
		}
		if p.substr == "" {
			return espPtr(p.esp)
		}
		for _, v := range values {
			if strings.Contains(strings.ToLower(v), p.substr) {
				return espPtr(p.esp)
			}
		}
	}

	for _, sig := range msg.Header("DKIM-Signature") {
		if d := dkimDomain(sig); d != "" {
			if esp := providerForDomain(d); esp != "" {
				return espPtr(esp)
			}
		}
	}

	for _, rp := range msg.Header("Return-Path") {
		if d := addressDomain(rp); d != "" {
			if esp := providerForDomain(d); esp != "" {
				return espPtr(esp)
			}
		}
	}

	if domain != "" {
		if esp := c.espFromSPF(ctx, domain); esp != "" {
			return espPtr(esp)
		}
	}

	return nil
}

// espFromSPF matches the domain's SPF include targets against the provider
// map. DNS failures degrade to no match.
func (c *Classifier) espFromSPF(ctx context.Context, domain string) string {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	records, err := c.resolver.LookupTXT(cctx, domain)
	if err != nil {
		c.logger.WithField("domain", domain).Debug("TXT resolution failed")
		return ""
	}

	for _, record := range records {
		if !strings.HasPrefix(record, "v=spf1") {
			continue
		}
		for _, field := range strings.Fields(record) {
			target, ok := strings.CutPrefix(field, "include:")
			if !ok {
				continue
			}
			if esp := providerForDomain(strings.ToLower(target)); esp != "" {
				return esp
			}
		}
	}
	return ""
}

// providerForDomain matches a domain against the provider map, exactly or as
// a parent-domain suffix.
func providerForDomain(domain string) string {
	if esp, ok := providerDomains[domain]; ok {
		return esp
	}
	for parent, esp := range providerDomains {
		if strings.HasSuffix(domain, "."+parent) {
			return esp
		}
	}
	return ""
}

// dkimDomain extracts the d= tag of a DKIM-Signature header value.
func dkimDomain(sig string) string {
	for _, part := range strings.Split(sig, ";") {
		part = strings.TrimSpace(part)
		if d, ok := strings.CutPrefix(part, "d="); ok {
			return strings.ToLower(strings.TrimSpace(d))
		}
	}
	return ""
}

// addressDomain extracts the lower-cased domain of an address like
// "<bounce@mail.example.com>".
func addressDomain(addr string) string {
	addr = strings.Trim(strings.TrimSpace(addr), "<>")
	idx := strings.LastIndex(addr, "@")
	if idx < 0 || idx == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[idx+1:])
}

func espPtr(esp string) *string {
	return &esp
}
