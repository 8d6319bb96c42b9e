package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	raw := []byte("Received: from a by b; Sun, 12 May 2024 09:30:02 +0000\r\n" +
		"Received: from c by a; Sun, 12 May 2024 09:29:58 +0000\r\n" +
		"From: Alice <alice@example.com>\r\n" +
		"Subject: hello\r\n" +
		"X-SG-EID: abc123\r\n" +
		"\r\n" +
		"body text\r\n")

	headers, err := ParseHeaders(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"hello"}, headers["subject"])
	assert.Equal(t, []string{"abc123"}, headers["x-sg-eid"])

	received := headers["received"]
	require.Len(t, received, 2)
	assert.Contains(t, received[0], "from a by b")
	assert.Contains(t, received[1], "from c by a")
}

func TestParseHeadersMalformedMIME(t *testing.T) {
	// Broken content-type still yields the raw header block.
	raw := []byte("Subject: broken\r\n" +
		"Content-Type: multipart/mixed; boundary\r\n" +
		"\r\n" +
		"body\r\n")

	headers, err := ParseHeaders(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"broken"}, headers["subject"])
}

func TestParseHeadersEmpty(t *testing.T) {
	_, err := ParseHeaders([]byte(""))
	assert.Error(t, err)
}
