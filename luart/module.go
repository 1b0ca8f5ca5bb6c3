package luart

import (
	"context"

	"github.com/fixkme/plua/mlog"
)

// Module runs a Job as an app module. When the job ends by itself, exit
// is called so the app can shut the other modules down.
type Module struct {
	rt     *Runtime
	job    Job
	exit   func()
	ctx    context.Context
	cancel context.CancelFunc
	err    error
}

func NewModule(rt *Runtime, job Job, exit func()) *Module {
	ctx, cancel := context.WithCancel(context.Background())
	return &Module{rt: rt, job: job, exit: exit, ctx: ctx, cancel: cancel}
}

func (m *Module) Name() string {
	return "luart"
}

func (m *Module) OnInit() error {
	return m.rt.Start()
}

func (m *Module) Run() {
	err := m.rt.Execute(m.ctx, m.job)
	if m.ctx.Err() == nil {
		m.err = err
		if err != nil {
			mlog.Errorf("script failed: %v", err)
		}
		if m.exit != nil {
			m.exit()
		}
	}
}

func (m *Module) Destroy() {
	m.cancel()
	m.rt.Stop()
}

// Err is the job's failure, if any. Read it after the app has stopped.
func (m *Module) Err() error {
	return m.err
}
