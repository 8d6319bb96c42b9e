package mailsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HimanshuParihar99/Inboxly/internal/imap"
	"github.com/HimanshuParihar99/Inboxly/internal/pool"
	"github.com/HimanshuParihar99/Inboxly/pkg/types"
)

// fakeSession is an in-memory imap.Session for tests.
type fakeSession struct {
	mu         sync.Mutex
	folders    []imap.FolderInfo
	messages   map[string][]*types.Message
	created    []string
	appends    int
	failCreate map[string]bool
	failOpen   map[string]bool
	listErr    error
	// fetchGate, when non-nil, blocks FetchMessages until the channel is
	// closed, so tests can inject control calls at a known point.
	fetchGate chan struct{}
	loggedOut bool
}

func newFakeSession(folders ...imap.FolderInfo) *fakeSession {
	return &fakeSession{
		folders:    folders,
		messages:   make(map[string][]*types.Message),
		failCreate: make(map[string]bool),
		failOpen:   make(map[string]bool),
	}
}

func (s *fakeSession) Noop() error { return nil }

func (s *fakeSession) ListFolders() ([]imap.FolderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]imap.FolderInfo(nil), s.folders...), nil
}

func (s *fakeSession) OpenFolder(path string, readOnly bool) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOpen[path] {
		return 0, fmt.Errorf("select refused: %s", path)
	}
	if !s.hasFolderLocked(path) {
		return 0, fmt.Errorf("no such folder: %s", path)
	}
	return uint32(len(s.messages[path])), nil
}

func (s *fakeSession) FetchMessages(path string, from, to uint32) ([]*types.Message, error) {
	s.mu.Lock()
	gate := s.fetchGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasFolderLocked(path) {
		return nil, fmt.Errorf("no such folder: %s", path)
	}
	return append([]*types.Message(nil), s.messages[path]...), nil
}

func (s *fakeSession) FetchHeaderBlocks(path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var blocks []string
	for _, msg := range s.messages[path] {
		blocks = append(blocks, string(msg.RawHeaderBlock()))
	}
	return blocks, nil
}

func (s *fakeSession) Append(path string, flags []string, date time.Time, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasFolderLocked(path) {
		return fmt.Errorf("no such folder: %s", path)
	}
	s.appends++
	s.messages[path] = append(s.messages[path], &types.Message{
		Flags:  append([]string(nil), flags...),
		Date:   date,
		Source: append([]byte(nil), raw...),
	})
	return nil
}

func (s *fakeSession) CreateFolder(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate[path] {
		return fmt.Errorf("create refused: %s", path)
	}
	s.folders = append(s.folders, imap.FolderInfo{Name: path, Delimiter: "/"})
	s.created = append(s.created, path)
	return nil
}

func (s *fakeSession) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = true
	return nil
}

func (s *fakeSession) hasFolderLocked(path string) bool {
	for _, f := range s.folders {
		if f.Name == path {
			return true
		}
	}
	return false
}

func (s *fakeSession) seed(path string, msgs ...*types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[path] = append(s.messages[path], msgs...)
}

func (s *fakeSession) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[path])
}

func (s *fakeSession) createdFolders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.created...)
}

// fakeSource is an in-memory SessionSource.
type fakeSource struct {
	sessions map[pool.Key]imap.Session
	errs     map[pool.Key]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		sessions: make(map[pool.Key]imap.Session),
		errs:     make(map[pool.Key]error),
	}
}

func (f *fakeSource) Get(ctx context.Context, key pool.Key) (imap.Session, error) {
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	session, ok := f.sessions[key]
	if !ok {
		return nil, pool.ErrNotFound
	}
	return session, nil
}

// rawMessage builds a message whose source carries the given subject, so
// header blocks stay distinct across messages.
func rawMessage(uid uint32, subject string, flags ...string) *types.Message {
	source := fmt.Sprintf("From: alice@example.com\r\nSubject: %s\r\n\r\nbody of %s\r\n", subject, subject)
	return &types.Message{
		UID:    uid,
		Flags:  flags,
		Date:   time.Date(2024, 5, 12, 9, 30, 0, 0, time.UTC),
		Source: []byte(source),
	}
}
