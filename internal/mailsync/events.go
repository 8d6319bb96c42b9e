package mailsync

import (
	"sync"
	"time"
)

// EventType names a progress event emitted by the orchestrator.
type EventType string

const (
	EventFolderStart    EventType = "sync:folder:start"
	EventFolderProgress EventType = "sync:folder:progress"
	EventFolderComplete EventType = "sync:folder:complete"
	EventFolderError    EventType = "sync:folder:error"
	EventTaskComplete   EventType = "sync:completed"
	EventTaskError      EventType = "sync:error"
)

// Event is one progress notification for external observers.
type Event struct {
	Type    EventType `json:"type"`
	TaskID  string    `json:"task_id"`
	Folder  string    `json:"folder,omitempty"`
	Percent int       `json:"percent,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Broadcaster fans events out to subscribers. Delivery never blocks the sync
// loop: a subscriber whose channel is full misses the event.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster creates an event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with the given channel buffer and returns
// the event channel plus a cancel function. Cancel closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish sends an event to every subscriber, fire-and-forget.
func (b *Broadcaster) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
