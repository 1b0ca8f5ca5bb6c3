package ingress

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fixkme/plua/errs"
	g "github.com/fixkme/plua/framework/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu     sync.Mutex
	events []g.Event
	closed bool
}

func (s *sink) submit(ev g.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.SubmitAfterShutdown
	}
	s.events = append(s.events, ev)
	return nil
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func startServer(t *testing.T, sk *sink) string {
	t.Helper()
	addr := freeAddr(t)
	s := NewServer(&Options{Addr: "tcp://" + addr}, sk.submit)
	errc := make(chan error, 1)
	go func() { errc <- s.Run() }()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.WaitBooted(ctx))
	t.Cleanup(func() {
		s.Stop()
		assert.NoError(t, <-errc)
	})
	return addr
}

func TestLinesBecomeCallbacks(t *testing.T) {
	sk := &sink{}
	addr := startServer(t, sk)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	send := func(line string) string {
		_, err := fmt.Fprintf(conn, "%s\n", line)
		require.NoError(t, err)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		reply, err := r.ReadString('\n')
		require.NoError(t, err)
		return reply
	}

	assert.Equal(t, "ok\n", send(`{"id": 3, "data": {"k": [1, "two"]}}`))
	assert.Equal(t, "ok\n", send(`{"id": 4}`))
	assert.Contains(t, send(`{"id": "x"}`), "error:")
	assert.Contains(t, send(`{"id": 1.9}`), "error:")
	assert.Contains(t, send(`{"id": 1e30}`), "error:")
	assert.Contains(t, send(`not json`), "error:")

	sk.mu.Lock()
	defer sk.mu.Unlock()
	require.Len(t, sk.events, 2)
	assert.Equal(t, g.CallbackEvent(3, map[string]any{"k": []any{float64(1), "two"}}), sk.events[0])
	assert.Equal(t, int64(4), sk.events[1].Id)
	assert.Nil(t, sk.events[1].Payload)
}

func TestShutdownClosesConnection(t *testing.T) {
	sk := &sink{closed: true}
	addr := startServer(t, sk)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	fmt.Fprint(conn, `{"id": 1}`+"\n")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	reply, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, reply, errs.SubmitAfterShutdown.Error())
	_, err = r.ReadString('\n')
	assert.Error(t, err)
}
