package mailsync

import (
	"sync"

	"github.com/HimanshuParihar99/Inboxly/internal/pool"
)

// TaskState is the lifecycle state of one sync task.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskPaused    TaskState = "paused"
	TaskCanceled  TaskState = "canceled"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// terminal reports whether the state admits no further transitions.
func (s TaskState) terminal() bool {
	return s == TaskCanceled || s == TaskCompleted || s == TaskFailed
}

// Progress is a task's cumulative progress. FolderErrors records per-folder
// failures that did not stop the task.
type Progress struct {
	FoldersTotal       int               `json:"folders_total"`
	FoldersDone        int               `json:"folders_done"`
	CurrentFolder      string            `json:"current_folder,omitempty"`
	FolderMessagesDone int               `json:"folder_messages_done"`
	FolderMessagesTotal int              `json:"folder_messages_total"`
	MessagesTransferred int              `json:"messages_transferred"`
	MessageErrors      int               `json:"message_errors"`
	FolderErrors       map[string]string `json:"folder_errors,omitempty"`
	LastError          string            `json:"last_error,omitempty"`
}

// TaskStatus is a point-in-time snapshot of one task, as exposed to callers.
type TaskStatus struct {
	TaskID    string    `json:"task_id"`
	SourceKey string    `json:"source"`
	DestKey   string    `json:"destination"`
	State     TaskState `json:"state"`
	Paused    bool      `json:"paused"`
	Canceled  bool      `json:"canceled"`
	Progress  Progress  `json:"progress"`
}

// Summary aggregates all tasks for statusAll callers.
type Summary struct {
	Active int          `json:"active"`
	Paused int          `json:"paused"`
	Tasks  []TaskStatus `json:"tasks"`
}

// task is the orchestrator's view of one sync. The mutex guards every field;
// the supervising goroutine and the control surface both touch it.
type task struct {
	id        string
	sourceKey pool.Key
	destKey   pool.Key

	mu       sync.Mutex
	state    TaskState
	paused   bool
	canceled bool
	// supervising reports whether a run goroutine is currently active, so
	// Resume knows when it has to relaunch one.
	supervising bool
	progress    Progress
}

func (t *task) snapshot() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	progress := t.progress
	if t.progress.FolderErrors != nil {
		progress.FolderErrors = make(map[string]string, len(t.progress.FolderErrors))
		for k, v := range t.progress.FolderErrors {
			progress.FolderErrors[k] = v
		}
	}

	return TaskStatus{
		TaskID:    t.id,
		SourceKey: t.sourceKey.String(),
		DestKey:   t.destKey.String(),
		State:     t.state,
		Paused:    t.paused,
		Canceled:  t.canceled,
		Progress:  progress,
	}
}

func (t *task) isCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

func (t *task) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *task) recordFolderError(folder string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.progress.FolderErrors == nil {
		t.progress.FolderErrors = make(map[string]string)
	}
	t.progress.FolderErrors[folder] = err.Error()
	t.progress.LastError = err.Error()
}
