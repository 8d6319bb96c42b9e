package mailsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/HimanshuParihar99/Inboxly/internal/imap"
	"github.com/HimanshuParihar99/Inboxly/internal/pool"
	"github.com/HimanshuParihar99/Inboxly/pkg/types"
)

// SessionSource hands out live sessions by pool key. *pool.Pool implements
// it; tests substitute fakes.
type SessionSource interface {
	Get(ctx context.Context, key pool.Key) (imap.Session, error)
}

// Classifier computes the security posture of one message.
type Classifier interface {
	Classify(ctx context.Context, msg *types.Message) types.SecurityClassification
}

// Recorder persists sync results when attached. Both methods are best-effort
// from the orchestrator's point of view.
type Recorder interface {
	RecordSyncRun(status TaskStatus) error
	RecordClassification(taskID string, msg *types.Message, c types.SecurityClassification) error
}

// Options tunes the orchestrator. Classifier and Recorder are optional.
type Options struct {
	PausePoll  time.Duration
	Classifier Classifier
	Recorder   Recorder
}

// Orchestrator supervises sync tasks: one goroutine per active task, with
// cooperative pause/resume/cancel observed at per-folder and per-message
// checkpoints.
type Orchestrator struct {
	mu    sync.Mutex
	tasks map[string]*task

	sessions   SessionSource
	syncer     *Synchronizer
	classifier Classifier
	recorder   Recorder
	events     *Broadcaster
	logger     *logrus.Logger
	pausePoll  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates a sync orchestrator.
func NewOrchestrator(sessions SessionSource, syncer *Synchronizer, logger *logrus.Logger, opts Options) *Orchestrator {
	if opts.PausePoll <= 0 {
		opts.PausePoll = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		tasks:      make(map[string]*task),
		sessions:   sessions,
		syncer:     syncer,
		classifier: opts.Classifier,
		recorder:   opts.Recorder,
		events:     NewBroadcaster(),
		logger:     logger,
		pausePoll:  opts.PausePoll,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Events returns the orchestrator's progress event broadcaster.
func (o *Orchestrator) Events() *Broadcaster {
	return o.events
}

// Shutdown stops every supervising goroutine at its next checkpoint.
func (o *Orchestrator) Shutdown() {
	o.cancel()
}

// Start begins a sync from the source connection to the destination
// connection in the background and returns the task id immediately.
func (o *Orchestrator) Start(sourceKey, destKey pool.Key) string {
	t := &task{
		id:          uuid.NewString(),
		sourceKey:   sourceKey,
		destKey:     destKey,
		state:       TaskRunning,
		supervising: true,
	}

	o.mu.Lock()
	o.tasks[t.id] = t
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"task":        t.id,
		"source":      sourceKey.String(),
		"destination": destKey.String(),
	}).Info("Starting sync task")

	go o.run(t)
	return t.id
}

// Pause pauses a running task. Unknown or terminal task ids are silently
// ignored; sync control is best-effort.
func (o *Orchestrator) Pause(taskID string) {
	t := o.lookup(taskID)
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.state == TaskRunning {
		t.paused = true
		t.state = TaskPaused
	}
	t.mu.Unlock()
}

// Resume resumes a paused task. When no supervising goroutine is active for
// the task, a fresh run is relaunched from the task's saved position.
func (o *Orchestrator) Resume(taskID string) {
	t := o.lookup(taskID)
	if t == nil {
		return
	}

	relaunch := false
	t.mu.Lock()
	if t.state == TaskPaused {
		t.paused = false
		t.state = TaskRunning
		if !t.supervising {
			t.supervising = true
			relaunch = true
		}
	}
	t.mu.Unlock()

	if relaunch {
		go o.run(t)
	}
}

// Cancel cancels a task from any non-terminal state. The cancellation is
// observed cooperatively at the task's next checkpoint.
func (o *Orchestrator) Cancel(taskID string) {
	t := o.lookup(taskID)
	if t == nil {
		return
	}
	t.mu.Lock()
	if !t.state.terminal() {
		t.canceled = true
		t.state = TaskCanceled
	}
	t.mu.Unlock()
}

// Status returns a snapshot of one task.
func (o *Orchestrator) Status(taskID string) (TaskStatus, bool) {
	t := o.lookup(taskID)
	if t == nil {
		return TaskStatus{}, false
	}
	return t.snapshot(), true
}

// StatusAll returns a snapshot of every task alongside active/paused counts.
func (o *Orchestrator) StatusAll() Summary {
	o.mu.Lock()
	tasks := make([]*task, 0, len(o.tasks))
	for _, t := range o.tasks {
		tasks = append(tasks, t)
	}
	o.mu.Unlock()

	summary := Summary{Tasks: make([]TaskStatus, 0, len(tasks))}
	for _, t := range tasks {
		status := t.snapshot()
		switch status.State {
		case TaskRunning:
			summary.Active++
		case TaskPaused:
			summary.Paused++
		}
		summary.Tasks = append(summary.Tasks, status)
	}
	return summary
}

func (o *Orchestrator) lookup(taskID string) *task {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tasks[taskID]
}

// run supervises one sync end to end. Connect and hierarchy discovery
// failures fail the task; per-folder and per-message failures are recorded
// and the loop continues.
func (o *Orchestrator) run(t *task) {
	defer func() {
		t.mu.Lock()
		t.supervising = false
		t.mu.Unlock()
	}()

	log := o.logger.WithField("task", t.id)

	src, err := o.sessions.Get(o.ctx, t.sourceKey)
	if err != nil {
		o.failTask(t, fmt.Errorf("source connection: %w", err))
		return
	}
	dst, err := o.sessions.Get(o.ctx, t.destKey)
	if err != nil {
		o.failTask(t, fmt.Errorf("destination connection: %w", err))
		return
	}

	srcFolders, err := o.syncer.ListHierarchy(src)
	if err != nil {
		o.failTask(t, fmt.Errorf("source hierarchy: %w", err))
		return
	}
	dstFolders, err := o.syncer.ListHierarchy(dst)
	if err != nil {
		o.failTask(t, fmt.Errorf("destination hierarchy: %w", err))
		return
	}
	if _, err := o.syncer.Reconcile(o.ctx, srcFolders, dstFolders, dst); err != nil {
		o.failTask(t, fmt.Errorf("reconcile hierarchies: %w", err))
		return
	}

	delim := DestinationDelimiter(dstFolders)

	plans := make([]FolderPlan, 0)
	for _, plan := range o.syncer.Plan(srcFolders) {
		if plan.Folder.HasAttribute(`\Noselect`) {
			continue
		}
		plans = append(plans, plan)
	}

	t.mu.Lock()
	t.progress.FoldersTotal = len(plans)
	start := t.progress.FoldersDone
	t.mu.Unlock()

	for i := start; i < len(plans); i++ {
		if !o.checkpoint(t) {
			return
		}
		plan := plans[i]

		t.mu.Lock()
		t.progress.CurrentFolder = plan.SourcePath
		msgStart := t.progress.FolderMessagesDone
		t.mu.Unlock()

		o.events.Publish(Event{Type: EventFolderStart, TaskID: t.id, Folder: plan.SourcePath})

		count, err := src.OpenFolder(plan.SourcePath, true)
		if err != nil {
			o.folderError(t, plan.SourcePath, err)
			continue
		}
		if count == 0 {
			// Opened only to validate the folder exists.
			o.completeFolder(t, plan.SourcePath)
			continue
		}

		messages, err := src.FetchMessages(plan.SourcePath, 1, count)
		if err != nil {
			o.folderError(t, plan.SourcePath, err)
			continue
		}

		t.mu.Lock()
		t.progress.FolderMessagesTotal = len(messages)
		t.mu.Unlock()

		destPath := plan.DestPath(delim)
		for j := msgStart; j < len(messages); j++ {
			if !o.checkpoint(t) {
				return
			}
			msg := messages[j]

			if o.classifier != nil {
				classification := o.classifier.Classify(o.ctx, msg)
				if o.recorder != nil {
					if err := o.recorder.RecordClassification(t.id, msg, classification); err != nil {
						log.WithError(err).Warn("Failed to record classification")
					}
				}
			}

			if err := o.syncer.TransferMessage(dst, destPath, msg); err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"folder": plan.SourcePath,
					"uid":    msg.UID,
				}).Warn("Failed to transfer message")
				t.mu.Lock()
				t.progress.MessageErrors++
				t.progress.LastError = err.Error()
				t.mu.Unlock()
			} else {
				t.mu.Lock()
				t.progress.MessagesTransferred++
				t.mu.Unlock()
			}

			t.mu.Lock()
			t.progress.FolderMessagesDone = j + 1
			t.mu.Unlock()

			o.events.Publish(Event{
				Type:    EventFolderProgress,
				TaskID:  t.id,
				Folder:  plan.SourcePath,
				Percent: (j + 1) * 100 / len(messages),
			})
		}

		o.completeFolder(t, plan.SourcePath)
	}

	t.mu.Lock()
	if !t.state.terminal() {
		t.state = TaskCompleted
	}
	t.mu.Unlock()

	status := t.snapshot()
	o.events.Publish(Event{Type: EventTaskComplete, TaskID: t.id})
	o.recordRun(status)
	log.WithFields(logrus.Fields{
		"folders":     status.Progress.FoldersDone,
		"transferred": status.Progress.MessagesTransferred,
		"errors":      status.Progress.MessageErrors,
	}).Info("Sync task completed")
}

// checkpoint observes cancel and pause. Returns false when the run must
// exit; while paused it polls at the configured interval until the task is
// resumed or canceled.
func (o *Orchestrator) checkpoint(t *task) bool {
	for {
		if o.ctx.Err() != nil {
			return false
		}
		if t.isCanceled() {
			return false
		}
		if !t.isPaused() {
			return true
		}
		select {
		case <-time.After(o.pausePoll):
		case <-o.ctx.Done():
			return false
		}
	}
}

// folderError records a non-fatal folder failure and moves on.
func (o *Orchestrator) folderError(t *task, folder string, err error) {
	o.logger.WithError(err).WithFields(logrus.Fields{
		"task":   t.id,
		"folder": folder,
	}).Warn("Failed to sync folder")
	t.recordFolderError(folder, err)
	o.events.Publish(Event{Type: EventFolderError, TaskID: t.id, Folder: folder, Error: err.Error()})
	o.advanceFolder(t)
}

// completeFolder publishes folder completion and advances the cursor.
func (o *Orchestrator) completeFolder(t *task, folder string) {
	o.events.Publish(Event{Type: EventFolderComplete, TaskID: t.id, Folder: folder})
	o.advanceFolder(t)
}

func (o *Orchestrator) advanceFolder(t *task) {
	t.mu.Lock()
	t.progress.FoldersDone++
	t.progress.FolderMessagesDone = 0
	t.progress.FolderMessagesTotal = 0
	t.progress.CurrentFolder = ""
	t.mu.Unlock()
}

// failTask marks a task failed and publishes the terminal error event.
func (o *Orchestrator) failTask(t *task, err error) {
	o.logger.WithError(err).WithField("task", t.id).Error("Sync task failed")

	t.mu.Lock()
	if !t.state.terminal() {
		t.state = TaskFailed
	}
	t.progress.LastError = err.Error()
	t.mu.Unlock()

	o.events.Publish(Event{Type: EventTaskError, TaskID: t.id, Error: err.Error()})
	o.recordRun(t.snapshot())
}

func (o *Orchestrator) recordRun(status TaskStatus) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordSyncRun(status); err != nil {
		o.logger.WithError(err).WithField("task", status.TaskID).Warn("Failed to record sync run")
	}
}
