package clock

import (
	"math"
	"sync"
	"time"

	"github.com/fixkme/plua/errs"
	"github.com/fixkme/plua/mlog"
)

// Receiver takes an expired timer. It runs on the timer's own goroutine
// and must not block on the dispatcher.
type Receiver func(p *Promise) error

// Manager owns the live timer set. Ids are chosen by the caller; at most
// one live timer exists per id.
//
// Expiry and Cancel both remove the id from the live set with a single
// compare-and-remove under mu. Whichever runs first wins; the loser sees
// the id gone and does nothing, so a timer is either delivered or
// cancelled, never both.
type Manager struct {
	mu       sync.Mutex
	live     map[int64]*Timer
	receiver Receiver
	closed   bool
}

func NewManager(receiver Receiver) *Manager {
	return &Manager{
		live:     make(map[int64]*Timer),
		receiver: receiver,
	}
}

// MaxDelay is the longest delay a timer can be armed with, about 292 years.
const MaxDelay = time.Duration(math.MaxInt64)

// MillisDelay converts a millisecond count to a delay. Counts too large
// for a Duration, +Inf included, saturate to MaxDelay; negative counts
// become zero. ok is false for NaN.
func MillisDelay(ms float64) (d time.Duration, ok bool) {
	switch {
	case math.IsNaN(ms):
		return 0, false
	case ms <= 0:
		return 0, true
	case ms >= float64(MaxDelay/time.Millisecond):
		return MaxDelay, true
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}

// Create schedules id to expire after delay. A negative delay is treated
// as zero. Reusing an id that is still live returns errs.DuplicateTimer.
func (m *Manager) Create(id int64, delay time.Duration) (*Timer, error) {
	if delay < 0 {
		delay = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errs.SubmitAfterShutdown.Printf("timer %d created after close", id)
	}
	if _, ok := m.live[id]; ok {
		return nil, errs.DuplicateTimer.Printf("id=%d", id)
	}
	t := &Timer{
		id:    id,
		delay: delay,
		when:  time.Now().Add(delay).UnixMilli(),
	}
	m.live[id] = t
	// fire blocks on mu until this function returns, so t.t is set first
	t.t = time.AfterFunc(delay, func() { m.fire(t) })
	mlog.Tracef("timer %d created, delay %v", id, delay)
	return t, nil
}

// Cancel removes id from the live set and stops its wait. It reports
// whether id was live; a second Cancel of the same id returns false.
func (m *Manager) Cancel(id int64) bool {
	m.mu.Lock()
	t, ok := m.live[id]
	if ok {
		delete(m.live, id)
	}
	m.mu.Unlock()

	if !ok {
		mlog.Tracef("timer %d not live, cancel ignored", id)
		return false
	}
	// best effort: the callback may already be running, it will find the
	// id gone and drop itself
	t.t.Stop()
	mlog.Tracef("timer %d cancelled", id)
	return true
}

// CancelAll cancels every live timer and returns how many there were.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	timers := make([]*Timer, 0, len(m.live))
	for id, t := range m.live {
		timers = append(timers, t)
		delete(m.live, id)
	}
	m.mu.Unlock()

	for _, t := range timers {
		t.t.Stop()
	}
	return len(timers)
}

// Close cancels all live timers and rejects later Create calls.
func (m *Manager) Close() int {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.CancelAll()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) IsLive(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[id]
	return ok
}

func (m *Manager) fire(t *Timer) {
	if !m.take(t) {
		mlog.Tracef("timer %d expired after cancel, dropped", t.id)
		return
	}
	p := &Promise{TimerId: t.id, NowTs: time.Now().UnixMilli(), Delay: t.delay}
	if err := m.receiver(p); err != nil {
		mlog.Warnf("timer %d delivery failed: %v", t.id, err)
	}
}

// take removes t if it is still the live entry for its id. Comparing the
// pointer keeps a stale expiry from claiming a newer timer with the same id.
func (m *Manager) take(t *Timer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.live[t.id]
	if !ok || cur != t {
		return false
	}
	delete(m.live, t.id)
	return true
}
