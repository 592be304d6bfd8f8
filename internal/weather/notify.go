package weather

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType names a notification emitted after a cycle.
type EventType string

const (
	EventDataUpdated       EventType = "data_updated"
	EventNextUpdateChanged EventType = "next_update_changed"
)

// Event is a fire-and-forget notification for the host.
type Event struct {
	ID       string     `json:"id"`
	Type     EventType  `json:"type"`
	Time     time.Time  `json:"time"`
	Key      string     `json:"key"`
	Previous *time.Time `json:"previous,omitempty"`
	Next     *time.Time `json:"next,omitempty"`
}

// Notifier consumes events. Implementations must not block.
type Notifier interface {
	Notify(e Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(e Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// ChannelNotifier publishes events on a buffered channel. When the buffer is
// full the event is dropped and counted.
type ChannelNotifier struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChannelNotifier creates a notifier with the given buffer size.
func NewChannelNotifier(size int) *ChannelNotifier {
	if size <= 0 {
		size = 1
	}
	return &ChannelNotifier{ch: make(chan Event, size)}
}

func (n *ChannelNotifier) Notify(e Event) {
	select {
	case n.ch <- e:
	default:
		n.dropped.Add(1)
	}
}

// Events returns the receive side of the channel.
func (n *ChannelNotifier) Events() <-chan Event { return n.ch }

// Dropped returns how many events were discarded.
func (n *ChannelNotifier) Dropped() int64 { return n.dropped.Load() }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// EventLog keeps the most recent events in a fixed-size ring.
type EventLog struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
}

// NewEventLog creates a log holding up to size events.
func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = 1
	}
	return &EventLog{buf: make([]Event, size)}
}

func (l *EventLog) Notify(e Event) {
	l.mu.Lock()
	l.buf[l.next] = e
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
}

// Recent returns the kept events, oldest first.
func (l *EventLog) Recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		return append([]Event(nil), l.buf[:l.next]...)
	}
	out := make([]Event, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	return append(out, l.buf[:l.next]...)
}
