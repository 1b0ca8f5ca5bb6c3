// Package luart assembles the script runtime: one Lua engine driven by a
// single dispatch goroutine, fed by timers and by callbacks submitted from
// any goroutine.
package luart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fixkme/plua/clock"
	"github.com/fixkme/plua/engine"
	"github.com/fixkme/plua/engine/exports"
	"github.com/fixkme/plua/errs"
	g "github.com/fixkme/plua/framework/go"
	"github.com/fixkme/plua/metrics"
	"github.com/fixkme/plua/mlog"
	"github.com/fixkme/plua/netbridge"
	"github.com/fixkme/plua/poller"
	"github.com/google/uuid"
)

const Version = "1.0.0"

// Extension contributes host functions and is closed with the runtime.
type Extension interface {
	Name() string
	Exports(submit g.SubmitFunc) []exports.Func
	Close()
}

type Config struct {
	Debug       bool
	WebMode     bool
	Stdout      io.Writer
	QueueSize   int
	OutputLines int
	// Settings echoed to scripts as get_config().runtime_config.
	Settings   map[string]any
	Extensions []Extension
}

type Runtime struct {
	cfg     Config
	session string
	started time.Time

	engine   *engine.Engine
	clock    *clock.Manager
	agent    *g.RoutineAgent
	bridge   *netbridge.Bridge
	poller   *poller.Poller
	metrics  *metrics.Metrics
	registry *exports.Registry

	stopOnce sync.Once
}

func New(cfg Config) (*Runtime, error) {
	r := &Runtime{
		cfg:     cfg,
		session: uuid.NewString(),
		started: time.Now(),
		metrics: metrics.New(),
	}
	r.engine = engine.New(engine.Options{
		Debug:       cfg.Debug,
		Stdout:      cfg.Stdout,
		WebMode:     cfg.WebMode,
		OutputLines: cfg.OutputLines,
	})
	r.clock = clock.NewManager(r.deliver)
	r.agent = g.NewRoutineAgent(g.NewMailbox(cfg.QueueSize), g.InvokerFunc(r.invoke))
	r.agent.SetObserver(r.metrics)
	r.bridge = netbridge.New()
	r.poller = poller.New(r.Submit)

	r.metrics.WatchTimers(r.clock.Len)
	r.metrics.WatchQueue(r.agent.Mailbox().Len)

	info := exports.SystemInfo{Version: Version, Debug: cfg.Debug, Runtime: cfg.Settings}
	r.registry = exports.Standard(info)
	if err := r.addExports(r.timerExports()); err != nil {
		return nil, err
	}
	if err := r.addExports(r.bridge.Exports()); err != nil {
		return nil, err
	}
	if err := r.addExports(r.poller.Exports()); err != nil {
		return nil, err
	}
	for _, ext := range cfg.Extensions {
		if err := r.addExports(ext.Exports(r.Submit)); err != nil {
			return nil, fmt.Errorf("extension %s: %w", ext.Name(), err)
		}
	}
	r.registry.Install(r.engine)
	r.engine.SetField("config", exports.SystemConfig(info))
	r.engine.SetField("session_id", r.session)

	if err := r.engine.Boot(); err != nil {
		r.engine.Close()
		return nil, err
	}
	mlog.Infof("lua runtime %s created", r.session)
	return r, nil
}

func (r *Runtime) addExports(fs []exports.Func) error {
	for _, f := range fs {
		if err := r.registry.Add(f); err != nil {
			return errs.Config.Wrap(err)
		}
	}
	return nil
}

// Start launches the dispatch loop. Submit and the Execute methods start
// it lazily, so calling Start is optional.
func (r *Runtime) Start() error {
	if err := r.agent.Start(); err != nil {
		return errs.SubmitAfterShutdown.Wrap(err)
	}
	return nil
}

// Submit queues ev for the dispatch loop. It never waits for the loop and
// is safe from any goroutine.
func (r *Runtime) Submit(ev g.Event) error {
	err := r.agent.Post(ev)
	if err != nil {
		r.metrics.Rejected(err)
		mlog.Warnf("submit %s rejected: %v", ev, err)
	}
	return err
}

// SubmitCallback resumes script callback id with data.
func (r *Runtime) SubmitCallback(id int64, data any) error {
	return r.Submit(g.CallbackEvent(id, data))
}

// deliver runs on a timer goroutine.
func (r *Runtime) deliver(p *clock.Promise) error {
	return r.Submit(g.TimerEvent(p.TimerId))
}

// invoke runs on the dispatch goroutine, one event at a time.
func (r *Runtime) invoke(ev g.Event) error {
	switch ev.Kind {
	case g.KindTimer:
		found, err := r.engine.TimerExpired(ev.Id)
		if err == nil && !found {
			mlog.Tracef("timer %d no longer known to the script", ev.Id)
		}
		return err
	case g.KindCallback:
		found, err := r.engine.ExecuteCallback(ev.Id, ev.Payload)
		if err == nil && !found {
			mlog.Debugf("callback %d not registered, dropped", ev.Id)
		}
		return err
	}
	return errs.CallbackFailure.Printf("unknown event kind %s", ev.Kind)
}

// do runs f on the dispatch goroutine and returns its error.
func (r *Runtime) do(ctx context.Context, f func() error) error {
	var err error
	if derr := r.agent.Do(ctx, func() { err = f() }); derr != nil {
		if errors.Is(derr, g.ErrRoutineClosed) {
			return errs.SubmitAfterShutdown.Wrap(derr)
		}
		return derr
	}
	return err
}

// ExecuteScript runs src as chunk name.
func (r *Runtime) ExecuteScript(ctx context.Context, src, name string) error {
	return r.do(ctx, func() error {
		return r.engine.ExecString(src, name)
	})
}

// ExecuteFile runs path through the script's main file hook.
func (r *Runtime) ExecuteFile(ctx context.Context, path string) error {
	return r.do(ctx, func() error {
		return r.engine.ExecFile(path)
	})
}

// ExecuteFragments runs each fragment in order as fragment_1, fragment_2...
// and stops at the first failure.
func (r *Runtime) ExecuteFragments(ctx context.Context, fragments []string) error {
	for i, src := range fragments {
		name := fmt.Sprintf("fragment_%d", i+1)
		if err := r.ExecuteScript(ctx, src, name); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// CheckRunning asks the script's isRunning hook whether to continue.
func (r *Runtime) CheckRunning(ctx context.Context) (bool, error) {
	keep := make(chan bool, 1)
	err := r.do(ctx, func() error {
		k, err := r.engine.CheckRunning()
		keep <- k
		return err
	})
	if err != nil {
		// the hook may still be running when ctx ends first
		return true, err
	}
	return <-keep, nil
}

func (r *Runtime) Session() string {
	return r.session
}

// Output drains the print buffer.
func (r *Runtime) Output() string {
	return r.engine.Output()
}

func (r *Runtime) Metrics() *metrics.Metrics {
	return r.metrics
}

func (r *Runtime) Exports() *exports.Registry {
	return r.registry
}

func (r *Runtime) Poller() *poller.Poller {
	return r.poller
}

// Stop cancels outstanding timers, lets the event in flight finish, drops
// whatever is still queued and releases the engine. Later submissions
// fail with errs.SubmitAfterShutdown.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() {
		r.poller.Stop()
		if n := r.clock.Close(); n > 0 {
			mlog.Infof("cancelled %d outstanding timers", n)
		}
		r.agent.Stop()
		for _, ext := range r.cfg.Extensions {
			ext.Close()
		}
		r.bridge.Close()
		r.engine.Close()
		mlog.Infof("lua runtime %s stopped", r.session)
	})
}
