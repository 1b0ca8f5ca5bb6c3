// Package ingress accepts callback events over TCP. Each line a client
// sends is a JSON object {"id": <callback id>, "data": <any>}; the server
// queues it for the dispatch loop and answers "ok" or "error: <reason>".
package ingress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fixkme/plua/errs"
	g "github.com/fixkme/plua/framework/go"
	"github.com/fixkme/plua/mlog"
	"github.com/panjf2000/gnet/v2"
	"github.com/tidwall/gjson"
)

const MaxLineSize = 1 << 20

var (
	errLineTooLong = errors.New("line too long")
	errBadMessage  = errors.New("want {\"id\": <number>, \"data\": <any>}")
)

type Options struct {
	gnet.Options
	// Addr 如 tcp://127.0.0.1:8889
	Addr string
}

type Server struct {
	gnet.BuiltinEventEngine
	eng    gnet.Engine
	opt    *Options
	submit g.SubmitFunc
	booted chan struct{}
	exited chan struct{}

	conns    atomic.Int32
	accepted atomic.Int64
	rejected atomic.Int64
}

func NewServer(opt *Options, submit g.SubmitFunc) *Server {
	return &Server{
		opt:    opt,
		submit: submit,
		booted: make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.eng = eng
	close(s.booted)
	mlog.Infof("ingress listening on %s", s.opt.Addr)
	return gnet.None
}

func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	s.conns.Add(1)
	mlog.Debugf("ingress conn from %s", c.RemoteAddr())
	return nil, gnet.None
}

func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	s.conns.Add(-1)
	if err != nil {
		mlog.Debugf("ingress conn %s closed: %v", c.RemoteAddr(), err)
	}
	return gnet.None
}

func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	for {
		buf, err := c.Peek(-1)
		if err != nil || len(buf) == 0 {
			return gnet.None
		}
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			if len(buf) > MaxLineSize {
				c.Write([]byte("error: " + errLineTooLong.Error() + "\n"))
				return gnet.Close
			}
			return gnet.None
		}
		line := bytes.TrimSpace(buf[:idx])
		var reply []byte
		shutdown := false
		if len(line) > 0 {
			if err := s.handle(line); err != nil {
				s.rejected.Add(1)
				shutdown = isShutdown(err)
				reply = []byte("error: " + err.Error() + "\n")
			} else {
				s.accepted.Add(1)
				reply = []byte("ok\n")
			}
		}
		// line aliases the inbound buffer, so it is consumed only after use
		c.Discard(idx + 1)
		if reply != nil {
			if _, err := c.Write(reply); err != nil {
				return gnet.Close
			}
		}
		if shutdown {
			return gnet.Close
		}
	}
}

func (s *Server) handle(line []byte) error {
	if !gjson.ValidBytes(line) {
		return errBadMessage
	}
	id := gjson.GetBytes(line, "id")
	if id.Type != gjson.Number || id.Int() <= 0 || id.Float() != float64(id.Int()) {
		return errBadMessage
	}
	var data any
	if v := gjson.GetBytes(line, "data"); v.Exists() {
		data = v.Value()
	}
	return s.submit(g.CallbackEvent(id.Int(), data))
}

// Run serves until Stop.
func (s *Server) Run() error {
	defer close(s.exited)
	opts := s.opt.Options
	if err := gnet.Run(s, s.opt.Addr, gnet.WithOptions(opts)); err != nil {
		return fmt.Errorf("ingress run %s: %w", s.opt.Addr, err)
	}
	return nil
}

// WaitBooted blocks until the listener is up or ctx ends.
func (s *Server) WaitBooted(ctx context.Context) error {
	select {
	case <-s.booted:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends Run. It waits for the listener to come up when Run is still
// booting.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	select {
	case <-s.booted:
	case <-s.exited:
		return
	case <-ctx.Done():
		mlog.Warnf("ingress stop: %s never booted", s.opt.Addr)
		return
	}
	if err := s.eng.Stop(ctx); err != nil {
		mlog.Warnf("ingress stop error %v", err)
	}
}

// Stats reports open connections and the accepted/rejected line counts.
func (s *Server) Stats() (conns int, accepted, rejected int64) {
	return int(s.conns.Load()), s.accepted.Load(), s.rejected.Load()
}

func isShutdown(err error) bool {
	return errors.Is(err, errs.SubmitAfterShutdown)
}
