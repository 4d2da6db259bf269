package server

import (
	"sync"
	"time"

	"github.com/woozymasta/farmcanvas/internal/canvas"
)

// Event kinds added by the bridge on top of the controller events.
const (
	EventCapture canvas.EventKind = "capture"
	EventSave    canvas.EventKind = "save"
)

const eventLogSize = 256

// loggedEvent is an event with the sequence number the host UI polls by.
type loggedEvent struct {
	Seq uint64    `json:"seq"`
	At  time.Time `json:"at"`
	canvas.Event
}

// eventLog keeps the most recent events in a ring.
type eventLog struct {
	mu   sync.Mutex
	seq  uint64
	ring []loggedEvent
	next int
	full bool
}

func newEventLog(size int) *eventLog {
	return &eventLog{ring: make([]loggedEvent, size)}
}

// Add appends an event, dropping the oldest when full.
func (l *eventLog) Add(ev canvas.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.ring[l.next] = loggedEvent{Seq: l.seq, At: time.Now(), Event: ev}
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
}

// Since returns the retained events with a sequence above seq, oldest first,
// and the latest sequence number.
func (l *eventLog) Since(seq uint64) ([]loggedEvent, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start, n := 0, l.next
	if l.full {
		start, n = l.next, len(l.ring)
	}
	out := make([]loggedEvent, 0)
	for i := 0; i < n; i++ {
		ev := l.ring[(start+i)%len(l.ring)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out, l.seq
}
