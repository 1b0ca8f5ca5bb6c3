package core

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/fixkme/plua/framework/config"
	"github.com/fixkme/plua/httpapi"
	"github.com/fixkme/plua/mlog"
	"github.com/gin-gonic/gin"
)

var HttpApi *HttpApiModule

type HttpApiModule struct {
	router  atomic.Pointer[httpapi.Server]
	conf    *config.HttpApiConfig
	opt     *httpapi.Options
	backend httpapi.Backend
	name    string
}

func InitHttpApiModule(name string, conf *config.HttpApiConfig, backend httpapi.Backend, metrics http.Handler, debug bool, middlewares []gin.HandlerFunc) error {
	if backend == nil {
		return fmt.Errorf("HttpApi backend is nil")
	}
	opt := &httpapi.Options{
		ApiVersion:  conf.ApiVersion,
		Middlewares: middlewares,
		Metrics:     metrics,
		Debug:       debug,
	}
	HttpApi = &HttpApiModule{
		conf:    conf,
		opt:     opt,
		backend: backend,
		name:    name,
	}
	return nil
}

func (s *HttpApiModule) OnInit() error {
	router, err := httpapi.NewWeb("tcp", s.conf.ApiListenAddr, s.backend, s.opt)
	if err != nil {
		return err
	}
	s.router.Store(router)
	return nil
}

func (s *HttpApiModule) Run() {
	if err := s.router.Load().Run(); err != nil {
		mlog.Errorf("HttpApi.Run err:%v", err)
	}
}

func (s *HttpApiModule) Destroy() {
	s.router.Load().Stop()
}

func (s *HttpApiModule) Name() string {
	return s.name
}

// Addr 实际监听地址，OnInit 之后有效
func (s *HttpApiModule) Addr() string {
	router := s.router.Load()
	if router == nil {
		return ""
	}
	return router.Addr
}
