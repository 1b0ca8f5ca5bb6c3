package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fixkme/plua/luart"
	"github.com/fixkme/plua/mlog"
	"github.com/gin-gonic/gin"
)

// Backend is the part of the runtime the API talks to.
type Backend interface {
	State(ctx context.Context) luart.State
	SubmitCallback(id int64, data any) error
	ExecuteScript(ctx context.Context, src, name string) error
	Output() string
}

type Server struct {
	opt     *Options
	backend Backend
	Addr    string
	Ln      net.Listener
	Router  *gin.Engine
	srv     *http.Server
}

type Options struct {
	// 版本号，可以为空
	ApiVersion string
	// Middlewares 里可以添加鉴权的逻辑
	Middlewares []gin.HandlerFunc
	// Metrics is served at /metrics when set.
	Metrics http.Handler
	// Timeout bounds requests that wait for the dispatch loop.
	Timeout time.Duration
	Debug   bool
}

func NewWeb(network, addr string, backend Backend, opt *Options) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("httpapi: nil backend")
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 5 * time.Second
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}

	setMode(opt.Debug)
	s := &Server{
		opt:     opt,
		backend: backend,
		Addr:    ln.Addr().String(),
		Ln:      ln,
		Router:  gin.New(),
	}
	s.Router.Use(gin.Recovery())
	s.regWebRouter()
	s.srv = &http.Server{Handler: s.Router}
	return s, nil
}

func setMode(debug bool) {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
}

func (s *Server) Start() {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				mlog.Warnf("web recover error: %v.", r)
			}
		}()
		if err := s.Run(); err != nil {
			mlog.Warnf("web run error: %v", err)
		}
	}()
}

// Run serves until Stop. A stopped server returns nil.
func (s *Server) Run() error {
	mlog.Infof("http api listening on %s", s.Addr)
	if err := s.srv.Serve(s.Ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		mlog.Warnf("web stop error %v", err)
	}
}

func (s *Server) regWebRouter() {
	v0 := s.Router.Group("/v0")
	v0.GET("/myip", s.clientIPHandler)
	v0.POST("/myip", s.clientIPHandler)

	if s.opt.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.opt.Metrics))
	}

	groupName := "/api"
	if s.opt.ApiVersion != "" {
		groupName = fmt.Sprintf("/api/%s", s.opt.ApiVersion)
	}
	apiGroup := s.Router.Group(groupName)
	if len(s.opt.Middlewares) > 0 {
		apiGroup.Use(s.opt.Middlewares...)
	}
	apiGroup.GET("/status", s.statusHandler)
	apiGroup.GET("/output", s.outputHandler)
	apiGroup.POST("/callback/:id", s.callbackHandler)
	apiGroup.POST("/execute", s.executeHandler)
}

func (s *Server) statusHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opt.Timeout)
	defer cancel()
	ResponseSuccess(c, s.backend.State(ctx))
}

func (s *Server) outputHandler(c *gin.Context) {
	ResponseSuccess(c, gin.H{"output": s.backend.Output()})
}

// callbackHandler resumes script callback :id with the JSON body as data.
// It only queues the callback; the reply does not wait for the script.
func (s *Server) callbackHandler(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		ResponseError(c, http.StatusBadRequest, fmt.Errorf("invalid callback id %q", c.Param("id")))
		return
	}
	var data any
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&data); err != nil {
			ResponseError(c, http.StatusBadRequest, err)
			mlog.Warnf("HTTP request bind json error: %s", err)
			return
		}
	}
	if err := s.backend.SubmitCallback(id, data); err != nil {
		ResponseError(c, http.StatusServiceUnavailable, err)
		return
	}
	Response(c, http.StatusAccepted, &ResponseResult{Data: gin.H{"queued": id}})
}

type executeRequest struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name"`
}

func (s *Server) executeHandler(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ResponseError(c, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		req.Name = "api"
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opt.Timeout)
	defer cancel()
	if err := s.backend.ExecuteScript(ctx, req.Code, req.Name); err != nil {
		mlog.Errorf("HTTP execute %s error: %s", req.Name, err)
		ResponseError(c, http.StatusUnprocessableEntity, err)
		return
	}
	ResponseSuccess(c, gin.H{"output": s.backend.Output()})
}

type myIP struct {
	// IP 客户端连接IP
	IP string `json:"ip"`
}

// 回复客户端使用的IP
func (s *Server) clientIPHandler(c *gin.Context) {
	c.JSON(http.StatusOK, myIP{IP: c.ClientIP()})
}
