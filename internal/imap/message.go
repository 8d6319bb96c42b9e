package imap

import (
	"bufio"
	"bytes"
	"net/textproto"
	"strings"

	"github.com/jhillyerd/enmime"
)

// ParseHeaders parses the header block of a raw RFC822 message into a
// case-insensitive map keyed by lower-cased header name. Values keep the
// order they appear in, topmost first.
func ParseHeaders(raw []byte) (map[string][]string, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err == nil && env.Root != nil {
		return lowerHeaders(env.Root.Header), nil
	}

	// Malformed MIME still usually carries a readable header block.
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	hdr, herr := tp.ReadMIMEHeader()
	if len(hdr) > 0 {
		return lowerHeaders(hdr), nil
	}
	if err == nil {
		err = herr
	}
	return nil, err
}

// lowerHeaders copies a MIME header into a map with lower-cased keys.
func lowerHeaders(hdr textproto.MIMEHeader) map[string][]string {
	out := make(map[string][]string, len(hdr))
	for key, values := range hdr {
		out[strings.ToLower(key)] = append([]string(nil), values...)
	}
	return out
}
