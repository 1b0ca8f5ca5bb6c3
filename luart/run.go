package luart

import (
	"context"
	"errors"
	"time"

	"github.com/fixkme/plua/engine"
	"github.com/fixkme/plua/mlog"
)

const (
	durationTick = time.Second
	foreverTick  = 10 * time.Second
)

type State struct {
	Session    string               `json:"session"`
	Loop       string               `json:"loop"`
	Running    bool                 `json:"running"`
	LiveTimers int                  `json:"live_timers"`
	QueueDepth int                  `json:"queue_depth"`
	Uptime     float64              `json:"uptime_seconds"`
	Script     *engine.RuntimeState `json:"script,omitempty"`
}

// State snapshots the runtime. The script counters need the dispatch
// goroutine; if ctx ends first they are left out.
func (r *Runtime) State(ctx context.Context) State {
	st := State{
		Session:    r.session,
		Loop:       r.agent.State().String(),
		Running:    r.agent.IsRunning(),
		LiveTimers: r.clock.Len(),
		QueueDepth: r.agent.Mailbox().Len(),
		Uptime:     time.Since(r.started).Seconds(),
	}
	if !st.Running {
		return st
	}
	var rs engine.RuntimeState
	err := r.do(ctx, func() error {
		var err error
		rs, err = r.engine.RuntimeState()
		return err
	})
	if err == nil {
		st.Script = &rs
	}
	return st
}

// Run keeps the runtime alive until ctx ends, duration elapses (zero
// means forever) or the script's isRunning hook returns false. The hook
// is polled every second with a duration, every ten seconds without.
func (r *Runtime) Run(ctx context.Context, duration time.Duration) error {
	if err := r.Start(); err != nil {
		return err
	}
	tick := foreverTick
	var deadline <-chan time.Time
	if duration > 0 {
		tick = durationTick
		t := time.NewTimer(duration)
		defer t.Stop()
		deadline = t.C
		mlog.Debugf("running for %v", duration)
	} else {
		mlog.Debugf("running forever")
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			mlog.Debugf("run duration %v reached", duration)
			return nil
		case <-ticker.C:
		}

		keep, err := r.CheckRunning(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if !keep {
			mlog.Debugf("script ended by isRunning hook at check %d", n)
			return nil
		}
		if mlog.IsLevelEnabled(mlog.DebugLevel) {
			st := r.State(ctx)
			if st.Script != nil {
				mlog.Debugf("status %d - timers: %d, callbacks: %d, queued: %d",
					n, st.Script.ActiveTimers, st.Script.PendingCallbacks, st.QueueDepth)
			}
		}
	}
}

// Job is one invocation of the runtime: fragments first, then a file or
// an inline script, then Run.
type Job struct {
	Fragments  []string
	File       string
	Script     string
	ScriptName string
	Duration   time.Duration
}

func (j Job) Empty() bool {
	return len(j.Fragments) == 0 && j.File == "" && j.Script == ""
}

// Execute runs job and stops the runtime when it ends.
func (r *Runtime) Execute(ctx context.Context, job Job) error {
	defer r.Stop()
	if err := r.ExecuteFragments(ctx, job.Fragments); err != nil {
		return err
	}
	switch {
	case job.File != "":
		if err := r.ExecuteFile(ctx, job.File); err != nil {
			return err
		}
	case job.Script != "":
		if err := r.ExecuteScript(ctx, job.Script, job.ScriptName); err != nil {
			return err
		}
	}
	return r.Run(ctx, job.Duration)
}
