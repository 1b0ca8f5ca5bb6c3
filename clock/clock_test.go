package clock

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fixkme/plua/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	fired map[int64]int
	at    map[int64]time.Time
	ch    chan int64
}

func newRecorder() *recorder {
	return &recorder{
		fired: make(map[int64]int),
		at:    make(map[int64]time.Time),
		ch:    make(chan int64, 1024),
	}
}

func (r *recorder) receive(p *Promise) error {
	r.mu.Lock()
	r.fired[p.TimerId]++
	r.at[p.TimerId] = time.Now()
	r.mu.Unlock()
	r.ch <- p.TimerId
	return nil
}

func (r *recorder) count(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fired[id]
}

func TestCancelBeforeExpiry(t *testing.T) {
	rec := newRecorder()
	m := NewManager(rec.receive)

	_, err := m.Create(1, 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, m.Cancel(1))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, rec.count(1))
	assert.Equal(t, 0, m.Len())
}

func TestExpiryDeliversOnce(t *testing.T) {
	rec := newRecorder()
	m := NewManager(rec.receive)

	start := time.Now()
	tm, err := m.Create(2, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tm.Id())
	assert.Equal(t, 10*time.Millisecond, tm.Delay())

	select {
	case id := <-rec.ch:
		assert.Equal(t, int64(2), id)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	rec.mu.Lock()
	firedAt := rec.at[2]
	rec.mu.Unlock()
	assert.GreaterOrEqual(t, firedAt.Sub(start), 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.count(2))
	assert.False(t, m.IsLive(2))
}

func TestCancelIsIdempotent(t *testing.T) {
	m := NewManager(newRecorder().receive)

	_, err := m.Create(3, time.Hour)
	require.NoError(t, err)
	assert.True(t, m.Cancel(3))
	assert.False(t, m.Cancel(3))
	assert.False(t, m.Cancel(404))
}

func TestCancelAfterDispatchReturnsFalse(t *testing.T) {
	rec := newRecorder()
	m := NewManager(rec.receive)

	_, err := m.Create(4, time.Millisecond)
	require.NoError(t, err)
	<-rec.ch
	assert.False(t, m.Cancel(4))
	assert.False(t, m.Cancel(4))
}

func TestDuplicateLiveId(t *testing.T) {
	rec := newRecorder()
	m := NewManager(rec.receive)

	_, err := m.Create(5, time.Hour)
	require.NoError(t, err)
	_, err = m.Create(5, time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.DuplicateTimer))

	// id is reusable once it is no longer live
	require.True(t, m.Cancel(5))
	_, err = m.Create(5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(5), <-rec.ch)
}

func TestStaleExpiryDoesNotClaimNewTimer(t *testing.T) {
	rec := newRecorder()
	m := NewManager(rec.receive)

	old, err := m.Create(6, time.Hour)
	require.NoError(t, err)
	require.True(t, m.Cancel(6))
	_, err = m.Create(6, time.Hour)
	require.NoError(t, err)

	// the old timer's callback was already running when it was cancelled
	m.fire(old)
	assert.Equal(t, 0, rec.count(6))
	assert.True(t, m.IsLive(6))
	assert.True(t, m.Cancel(6))
}

func TestCloseCancelsOutstanding(t *testing.T) {
	rec := newRecorder()
	m := NewManager(rec.receive)

	for i := int64(0); i < 10; i++ {
		_, err := m.Create(i, 20*time.Millisecond)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, m.Close())
	assert.Equal(t, 0, m.Len())

	_, err := m.Create(99, time.Millisecond)
	assert.True(t, errors.Is(err, errs.SubmitAfterShutdown))

	time.Sleep(60 * time.Millisecond)
	for i := int64(0); i < 10; i++ {
		assert.Equal(t, 0, rec.count(i))
	}
}

func TestReceiverErrorIsContained(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(func(p *Promise) error {
		calls.Add(1)
		return errs.QueueFull
	})
	_, err := m.Create(7, time.Millisecond)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, m.IsLive(7))
}

// Every timer ends exactly one way: delivered, or cancelled with Cancel
// returning true.
func TestCancelFireRaceExactlyOnce(t *testing.T) {
	const n = 500
	rec := newRecorder()
	m := NewManager(rec.receive)

	var cancelled [n]bool
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		_, err := m.Create(int64(i), time.Duration(rand.Intn(3))*time.Millisecond)
		require.NoError(t, err)
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			time.Sleep(time.Duration(rand.Intn(3000)) * time.Microsecond)
			cancelled[id] = m.Cancel(int64(id))
		}(i)
	}
	wg.Wait()
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < n; i++ {
		fired := rec.count(int64(i))
		if cancelled[i] {
			assert.Equal(t, 0, fired, "timer %d cancelled and fired", i)
		} else {
			assert.Equal(t, 1, fired, "timer %d neither cancelled nor fired once", i)
		}
	}
	assert.Equal(t, 0, m.Len())
}

func TestMillisDelay(t *testing.T) {
	for _, c := range []struct {
		ms   float64
		want time.Duration
	}{
		{-5, 0},
		{0, 0},
		{1.5, 1500 * time.Microsecond},
		{1e13, MaxDelay},
		{1e300, MaxDelay},
		{math.Inf(1), MaxDelay},
		{math.Inf(-1), 0},
	} {
		d, ok := MillisDelay(c.ms)
		assert.True(t, ok, c.ms)
		assert.Equal(t, c.want, d, c.ms)
	}
	_, ok := MillisDelay(math.NaN())
	assert.False(t, ok)
}

func TestMaxDelayStaysLive(t *testing.T) {
	rec := newRecorder()
	m := NewManager(rec.receive)
	defer m.Close()
	_, err := m.Create(1, MaxDelay)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.count(1))
	assert.True(t, m.Cancel(1))
}
