package g

import (
	"sync"

	"github.com/fixkme/plua/ds/staticlist"
	"github.com/fixkme/plua/errs"
)

const (
	DefaultMailboxSize = 4096
	maxMailboxSize     = 102400
)

// Mailbox is the callback queue and its dispatch signal. Producers on any
// goroutine Post; a single consumer waits on Signal and then Takes.
//
// Every successful Post pushes one event and sends one token, both under
// mu. The signal buffer has the queue's capacity, so the send never
// blocks, and a consumer holding a token always finds an event to Take.
type Mailbox struct {
	mu     sync.Mutex
	queue  *staticlist.Queue[Event]
	signal chan struct{}
	closed bool
}

func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = DefaultMailboxSize
	} else if size > maxMailboxSize {
		size = maxMailboxSize
	}
	return &Mailbox{
		queue:  staticlist.NewQueue[Event](size),
		signal: make(chan struct{}, size),
	}
}

// Post enqueues ev and releases one signal token. It never waits for the
// consumer: a full queue is reported as errs.QueueFull.
func (mb *Mailbox) Post(ev Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return errs.SubmitAfterShutdown.Printf("%s", ev)
	}
	if mb.queue.Push(ev) == nil {
		return errs.QueueFull.Printf("%s, depth %d", ev, mb.queue.Len())
	}
	mb.signal <- struct{}{}
	return nil
}

// Signal yields one token per posted event.
func (mb *Mailbox) Signal() <-chan struct{} {
	return mb.signal
}

// Take pops the oldest event. After receiving a token it only fails if
// the mailbox was closed in between.
func (mb *Mailbox) Take() (Event, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.queue.Pop()
}

func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.queue.Len()
}

func (mb *Mailbox) Cap() int {
	return mb.queue.Cap()
}

func (mb *Mailbox) IsClosed() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.closed
}

// Close rejects further posts and discards queued events along with
// their tokens. It returns the number discarded.
func (mb *Mailbox) Close() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return 0
	}
	mb.closed = true
	dropped := mb.queue.Len()
	mb.queue.Clear()
	for i := 0; i < dropped; i++ {
		select {
		case <-mb.signal:
		default:
		}
	}
	return dropped
}
