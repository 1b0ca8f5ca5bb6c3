package g

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fixkme/plua/errs"
	"github.com/fixkme/plua/mlog"
	"github.com/fixkme/plua/util"
)

var (
	ErrRoutineClosed = errors.New("routine agent is closed")
	ErrReentrant     = errors.New("routine agent called from its own goroutine")
)

type State int32

const (
	StateIdle State = iota
	StateExecuting
)

func (s State) String() string {
	if s == StateExecuting {
		return "executing"
	}
	return "idle"
}

// Invoker runs one event against the engine. It is only ever called from
// the agent's goroutine.
type Invoker interface {
	Invoke(ev Event) error
}

type InvokerFunc func(ev Event) error

func (f InvokerFunc) Invoke(ev Event) error { return f(ev) }

// Observer is told about every dispatched event.
type Observer interface {
	Dispatched(ev Event, elapsed time.Duration, err error)
}

// RoutineAgent is the dispatch loop: one goroutine that owns the engine
// and runs queued events one at a time, in arrival order. It is started
// lazily by the first Post or Do.
type RoutineAgent struct {
	mailbox  *Mailbox
	invoker  Invoker
	observer Observer
	tasks    chan func()
	closeSig chan struct{}
	done     chan struct{}

	mutex    sync.Mutex
	started  bool
	isClosed bool
	gid      atomic.Int64
	state    atomic.Int32

	panicHandler func(r any)
}

func NewRoutineAgent(mailbox *Mailbox, invoker Invoker) *RoutineAgent {
	if mailbox == nil {
		mailbox = NewMailbox(DefaultMailboxSize)
	}
	return &RoutineAgent{
		mailbox:  mailbox,
		invoker:  invoker,
		tasks:    make(chan func()),
		closeSig: make(chan struct{}),
		done:     make(chan struct{}),
		panicHandler: func(r any) {
			mlog.Errorf("routine agent panic: %v\n%s", r, debug.Stack())
		},
	}
}

func (a *RoutineAgent) SetObserver(o Observer) {
	a.observer = o
}

func (a *RoutineAgent) SetPanicHandler(h func(r any)) {
	if h != nil {
		a.panicHandler = h
	}
}

func (a *RoutineAgent) Mailbox() *Mailbox {
	return a.mailbox
}

func (a *RoutineAgent) State() State {
	return State(a.state.Load())
}

func (a *RoutineAgent) IsRunning() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.started && !a.isClosed
}

func (a *RoutineAgent) IsClosed() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.isClosed
}

// Start launches the loop goroutine if it is not running yet.
func (a *RoutineAgent) Start() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.isClosed {
		return ErrRoutineClosed
	}
	if a.started {
		return nil
	}
	a.started = true
	go a.run()
	return nil
}

// Post queues ev for dispatch. Safe from any goroutine.
func (a *RoutineAgent) Post(ev Event) error {
	if err := a.Start(); err != nil {
		return errs.SubmitAfterShutdown.Printf("%s", ev)
	}
	return a.mailbox.Post(ev)
}

// Do runs f on the loop goroutine between events and waits for it. If ctx
// ends first Do returns ctx.Err(), but a task already handed over still
// runs to completion.
func (a *RoutineAgent) Do(ctx context.Context, f func()) error {
	if a.onLoop() {
		return ErrReentrant
	}
	if err := a.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	var perr any
	task := func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				perr = r
				a.panicHandler(r)
			}
		}()
		f()
	}

	select {
	case a.tasks <- task:
	case <-a.closeSig:
		return ErrRoutineClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		if perr != nil {
			return errs.CallbackFailure.Printf("panic: %v", perr)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the loop. An invocation in progress finishes first; events
// still queued are discarded and their count returned. Stop from inside an
// invocation does not wait for itself.
func (a *RoutineAgent) Stop() int {
	a.mutex.Lock()
	if a.isClosed {
		a.mutex.Unlock()
		return 0
	}
	a.isClosed = true
	started := a.started
	close(a.closeSig)
	a.mutex.Unlock()

	dropped := a.mailbox.Close()
	if dropped > 0 {
		mlog.Warnf("routine agent stopped, %d queued events dropped", dropped)
	}
	if started && !a.onLoop() {
		<-a.done
	}
	return dropped
}

func (a *RoutineAgent) run() {
	a.gid.Store(int64(util.GoroutineID()))
	defer close(a.done)

	for {
		select {
		case <-a.closeSig:
			return
		case <-a.mailbox.Signal():
			ev, ok := a.mailbox.Take()
			if !ok {
				continue
			}
			a.dispatch(ev)
		case task := <-a.tasks:
			a.state.Store(int32(StateExecuting))
			task()
			a.state.Store(int32(StateIdle))
		}
	}
}

func (a *RoutineAgent) dispatch(ev Event) {
	a.state.Store(int32(StateExecuting))
	start := time.Now()
	err := a.invoke(ev)
	elapsed := time.Since(start)
	a.state.Store(int32(StateIdle))

	if err != nil {
		mlog.Errorf("%s failed: %v", ev, err)
	}
	if a.observer != nil {
		a.observer.Dispatched(ev, elapsed, err)
	}
}

func (a *RoutineAgent) invoke(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.panicHandler(r)
			err = errs.CallbackFailure.Printf("panic: %v", r)
		}
	}()
	if err = a.invoker.Invoke(ev); err != nil && errs.CodeOf(err) == errs.ErrCode_Unknown {
		err = errs.CallbackFailure.Wrap(err)
	}
	return
}

func (a *RoutineAgent) onLoop() bool {
	gid := a.gid.Load()
	return gid != 0 && gid == int64(util.GoroutineID())
}
