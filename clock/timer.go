package clock

import "time"

// Promise is handed to the Receiver when a timer expires.
type Promise struct {
	TimerId int64
	NowTs   int64 // expiry time, ms
	Delay   time.Duration
}

type Timer struct {
	id    int64
	delay time.Duration
	when  int64 // due time, ms
	t     *time.Timer
}

func (t *Timer) Id() int64 {
	return t.id
}

func (t *Timer) Delay() time.Duration {
	return t.delay
}

// When is the due time as a unix millisecond timestamp.
func (t *Timer) When() int64 {
	return t.when
}
