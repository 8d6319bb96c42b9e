package imap

import (
	"time"

	"github.com/HimanshuParihar99/Inboxly/pkg/types"
)

// FolderInfo is one entry of the server's flat LIST response. The folder
// synchronizer turns these into a hierarchy.
type FolderInfo struct {
	Name       string
	Delimiter  string
	Attributes []string
}

// Session is the surface of one authenticated IMAP connection that the pool
// and the folder synchronizer drive. *Client implements it against a real
// server; tests substitute fakes.
type Session interface {
	// Noop verifies liveness of the underlying connection.
	Noop() error
	// ListFolders returns the server's flat folder listing.
	ListFolders() ([]FolderInfo, error)
	// OpenFolder selects a folder and returns its message count.
	OpenFolder(path string, readOnly bool) (uint32, error)
	// FetchMessages fetches the messages with sequence numbers in [from, to]
	// from a folder, including their raw source bytes.
	FetchMessages(path string, from, to uint32) ([]*types.Message, error)
	// FetchHeaderBlocks fetches the raw header block of every message in a
	// folder, in sequence order.
	FetchHeaderBlocks(path string) ([]string, error)
	// Append stores a raw message into a folder with the given flags and
	// original date.
	Append(path string, flags []string, date time.Time, raw []byte) error
	// CreateFolder creates a folder by full path.
	CreateFolder(path string) error
	// Logout ends the session.
	Logout() error
}
