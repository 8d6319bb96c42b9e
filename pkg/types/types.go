package types

import (
	"bytes"
	"strings"
	"time"
)

// Address is a single mailbox address with an optional display name.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Folder represents one node of a server-side mailbox hierarchy.
type Folder struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Delimiter  string    `json:"delimiter"`
	Attributes []string  `json:"attributes,omitempty"`
	Children   []*Folder `json:"children,omitempty"`
}

// HasAttribute reports whether the server flagged the folder with the given
// attribute (e.g. \Noselect). Comparison is case-insensitive.
func (f *Folder) HasAttribute(attr string) bool {
	for _, a := range f.Attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// Message is an in-flight message pulled from a source folder. It is never
// persisted by the core; Source carries the raw RFC822 bytes and is required
// for a transfer to the destination.
type Message struct {
	UID     uint32              `json:"uid"`
	Flags   []string            `json:"flags,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	Date    time.Time           `json:"date"`
	Size    uint32              `json:"size"`
	From    []Address           `json:"from,omitempty"`
	To      []Address           `json:"to,omitempty"`
	Cc      []Address           `json:"cc,omitempty"`
	Bcc     []Address           `json:"bcc,omitempty"`
	Source  []byte              `json:"-"`
}

// Header returns all values for a header name (case-insensitive), in the
// order they appear in the message, topmost first.
func (m *Message) Header(name string) []string {
	if m.Headers == nil {
		return nil
	}
	return m.Headers[strings.ToLower(name)]
}

// HeaderValue returns the header's values joined with ", ", or "" when the
// header is absent.
func (m *Message) HeaderValue(name string) string {
	return strings.Join(m.Header(name), ", ")
}

// RawHeaderBlock returns the raw header block of the message source: every
// byte up to the first blank line. Returns nil when the source is missing.
func (m *Message) RawHeaderBlock() []byte {
	if len(m.Source) == 0 {
		return nil
	}
	if idx := bytes.Index(m.Source, []byte("\r\n\r\n")); idx >= 0 {
		return m.Source[:idx]
	}
	if idx := bytes.Index(m.Source, []byte("\n\n")); idx >= 0 {
		return m.Source[:idx]
	}
	return m.Source
}

// ConnectionStatus is a point-in-time snapshot of one pooled connection.
type ConnectionStatus struct {
	User         string    `json:"user"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	State        string    `json:"state"`
	LastActivity time.Time `json:"last_activity"`
	LastError    string    `json:"last_error,omitempty"`
}

// SecurityClassification is the classifier's per-message output. Nil pointer
// fields mean the corresponding signal could not be determined.
type SecurityClassification struct {
	SenderDomain     string `json:"sender_domain"`
	ESP              *string `json:"esp,omitempty"`
	TimeDeltaMs      *int64  `json:"time_delta_ms,omitempty"`
	OpenRelay        *bool   `json:"open_relay,omitempty"`
	TLSSupport       *bool   `json:"tls_support,omitempty"`
	ValidCertificate *bool   `json:"valid_certificate,omitempty"`
}
