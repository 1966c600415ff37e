package engine

import (
	"sync"
	"time"
)

// Notification kinds published by the engine. The dashboard is a pure
// subscriber; nothing in the engine depends on who is listening.
const (
	NotifyEngineState  = "engineStateChanged"
	NotifyUIDStarted   = "uidStarted"
	NotifyUIDResult    = "uidResult"
	NotifyUIDStage     = "uidStage"
	NotifyQuotaUpdated = "quotaUpdated"
)

// Notification is one state-transition message for the rendering layer.
type Notification struct {
	Kind    string         `json:"kind"`
	UID     string         `json:"uid,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// Notifier fans engine notifications out to subscribers. Publishing never
// blocks: a subscriber that stops draining its channel loses messages
// rather than stalling the engine loop.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	nextID int
	closed bool
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Notification)}
}

// Subscribe registers a listener with the given buffer size and returns its
// channel plus a cancel func. The channel is closed on cancel or Close.
func (n *Notifier) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		ch := make(chan Notification)
		close(ch)
		return ch, func() {}
	}

	id := n.nextID
	n.nextID++
	ch := make(chan Notification, buffer)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the notification to every subscriber that has room.
func (n *Notifier) Publish(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	for _, ch := range n.subs {
		select {
		case ch <- note:
		default:
		}
	}
}

// Close closes all subscriber channels. Further publishes are dropped.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
