package core

import (
	"fmt"
	"sync/atomic"

	"github.com/fixkme/plua/framework/config"
	g "github.com/fixkme/plua/framework/go"
	"github.com/fixkme/plua/ingress"
	"github.com/fixkme/plua/mlog"
	"github.com/panjf2000/gnet/v2"
)

var Ingress *IngressModule

type IngressModule struct {
	server atomic.Pointer[ingress.Server]
	conf   *config.IngressConfig
	submit g.SubmitFunc
	name   string
}

func InitIngressModule(name string, conf *config.IngressConfig, submit g.SubmitFunc) error {
	if submit == nil {
		return fmt.Errorf("Ingress submit func is nil")
	}
	Ingress = &IngressModule{
		conf:   conf,
		submit: submit,
		name:   name,
	}
	return nil
}

func (s *IngressModule) OnInit() error {
	opt := &ingress.Options{
		Options: gnet.Options{Multicore: s.conf.IngressMulticore, ReuseAddr: true},
		Addr:    s.conf.IngressListenAddr,
	}
	s.server.Store(ingress.NewServer(opt, s.submit))
	return nil
}

func (s *IngressModule) Run() {
	if err := s.server.Load().Run(); err != nil {
		mlog.Errorf("Ingress.Run err:%v", err)
	}
}

func (s *IngressModule) Destroy() {
	s.server.Load().Stop()
}

func (s *IngressModule) Name() string {
	return s.name
}

func (s *IngressModule) Server() *ingress.Server {
	return s.server.Load()
}
