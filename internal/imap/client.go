package imap

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/HimanshuParihar99/Inboxly/internal/config"
	"github.com/HimanshuParihar99/Inboxly/pkg/types"
)

// Client wraps an IMAP client connection.
type Client struct {
	config *config.ConnectionConfig
	client *client.Client
	logger *logrus.Logger
}

var _ Session = (*Client)(nil)

// Dial establishes and authenticates a connection to the configured server.
func Dial(cfg *config.ConnectionConfig, logger *logrus.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var cl *client.Client
	var err error
	if cfg.TLS {
		cl, err = client.DialTLS(addr, &tls.Config{
			ServerName:         cfg.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureTLS,
		})
	} else {
		cl, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := cl.Login(cfg.User, cfg.Password); err != nil {
		cl.Logout() //nolint:errcheck
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host": cfg.Host,
		"user": cfg.User,
	}).Info("Connected to IMAP server")

	return &Client{
		config: cfg,
		client: cl,
		logger: logger,
	}, nil
}

// Noop sends a NOOP to verify the connection is still alive.
func (c *Client) Noop() error {
	return c.client.Noop()
}

// Logout ends the session.
func (c *Client) Logout() error {
	return c.client.Logout()
}

// ListFolders returns the server's flat folder listing.
func (c *Client) ListFolders() ([]FolderInfo, error) {
	mailboxes := make(chan *goimap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.client.List("", "*", mailboxes)
	}()

	var folders []FolderInfo
	for m := range mailboxes {
		folders = append(folders, FolderInfo{
			Name:       m.Name,
			Delimiter:  m.Delimiter,
			Attributes: append([]string(nil), m.Attributes...),
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return folders, nil
}

// OpenFolder selects a folder and returns its message count.
func (c *Client) OpenFolder(path string, readOnly bool) (uint32, error) {
	mbox, err := c.client.Select(path, readOnly)
	if err != nil {
		return 0, fmt.Errorf("failed to select folder: %w", err)
	}
	return mbox.Messages, nil
}

// FetchMessages fetches messages in the given sequence range, with flags,
// envelope addressing and the full raw source. The folder is selected
// read-only so fetching never sets \Seen on the source.
func (c *Client) FetchMessages(path string, from, to uint32) ([]*types.Message, error) {
	mbox, err := c.client.Select(path, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select folder: %w", err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	if from == 0 {
		from = 1
	}
	if to == 0 || to > mbox.Messages {
		to = mbox.Messages
	}

	seqSet := new(goimap.SeqSet)
	seqSet.AddRange(from, to)

	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{
		goimap.FetchEnvelope,
		goimap.FetchFlags,
		goimap.FetchUid,
		goimap.FetchRFC822Size,
		section.FetchItem(),
	}

	messages := make(chan *goimap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.client.Fetch(seqSet, items, messages)
	}()

	var result []*types.Message
	for msg := range messages {
		result = append(result, c.parseMessage(msg, section))
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return result, nil
}

// FetchHeaderBlocks fetches the raw header block of every message in a
// folder. Used for duplicate detection before appending.
func (c *Client) FetchHeaderBlocks(path string) ([]string, error) {
	mbox, err := c.client.Select(path, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select folder: %w", err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	seqSet := new(goimap.SeqSet)
	seqSet.AddRange(1, mbox.Messages)

	section := &goimap.BodySectionName{
		BodyPartName: goimap.BodyPartName{Specifier: goimap.HeaderSpecifier},
		Peek:         true,
	}

	messages := make(chan *goimap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.client.Fetch(seqSet, []goimap.FetchItem{section.FetchItem()}, messages)
	}()

	var blocks []string
	for msg := range messages {
		if literal := msg.GetBody(section); literal != nil {
			blocks = append(blocks, string(readLiteral(literal)))
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch header blocks: %w", err)
	}

	return blocks, nil
}

// Append stores a raw message into a folder with the given flags and
// original date.
func (c *Client) Append(path string, flags []string, date time.Time, raw []byte) error {
	if err := c.client.Append(path, flags, date, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// CreateFolder creates a folder by full path.
func (c *Client) CreateFolder(path string) error {
	if err := c.client.Create(path); err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

// parseMessage converts a fetched IMAP message into our Message type.
func (c *Client) parseMessage(msg *goimap.Message, section *goimap.BodySectionName) *types.Message {
	m := &types.Message{
		UID:   msg.Uid,
		Flags: append([]string(nil), msg.Flags...),
		Size:  msg.Size,
	}

	if msg.Envelope != nil {
		m.Date = msg.Envelope.Date
		m.From = parseAddresses(msg.Envelope.From)
		m.To = parseAddresses(msg.Envelope.To)
		m.Cc = parseAddresses(msg.Envelope.Cc)
		m.Bcc = parseAddresses(msg.Envelope.Bcc)
	}

	if literal := msg.GetBody(section); literal != nil {
		m.Source = readLiteral(literal)
	}

	if len(m.Source) > 0 {
		headers, err := ParseHeaders(m.Source)
		if err != nil {
			c.logger.WithError(err).WithField("uid", m.UID).Debug("Failed to parse message headers")
		}
		m.Headers = headers
	}

	return m
}

// parseAddresses converts envelope addresses to our Address type.
func parseAddresses(addrs []*goimap.Address) []types.Address {
	var out []types.Address
	for _, a := range addrs {
		out = append(out, types.Address{
			Name:    a.PersonalName,
			Address: a.Address(),
		})
	}
	return out
}

// readLiteral drains an IMAP literal into a byte slice.
func readLiteral(literal goimap.Literal) []byte {
	data, err := io.ReadAll(literal)
	if err != nil {
		return data
	}
	return data
}
