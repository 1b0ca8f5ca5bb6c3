package poller

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fixkme/plua/engine"
	"github.com/fixkme/plua/engine/exports"
	g "github.com/fixkme/plua/framework/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

type sink struct {
	mu     sync.Mutex
	events []g.Event
}

func (s *sink) submit(ev g.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *sink) snapshot() []g.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]g.Event(nil), s.events...)
}

func TestRingKeepsNewest(t *testing.T) {
	p := New(nil)
	for i := 0; i < MaxEvents+5; i++ {
		p.AddEvent(fmt.Sprintf(`{"n":%d}`, i))
	}
	events, last := p.Events(0)
	assert.Len(t, events, MaxEvents)
	assert.Equal(t, `{"n":5}`, events[0])
	assert.EqualValues(t, MaxEvents+5, last)

	events, _ = p.Events(last - 2)
	assert.Equal(t, []string{fmt.Sprintf(`{"n":%d}`, MaxEvents+3), fmt.Sprintf(`{"n":%d}`, MaxEvents+4)}, events)
}

func TestAddEventSubmitsToCallback(t *testing.T) {
	s := &sink{}
	p := New(s.submit)
	p.AddEvent(`{"a":1}`)
	assert.Empty(t, s.snapshot(), "nothing is delivered before a callback is bound")

	p.SetCallback(7)
	p.AddEvent(`{"a":2}`)
	got := s.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, g.CallbackEvent(7, `{"a":2}`), got[0])
}

func TestPollLoop(t *testing.T) {
	var (
		calls atomic.Int32
		lasts = make(chan string, 4)
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.URL.Query().Get("rand"))
		lasts <- r.URL.Query().Get("last")
		switch calls.Add(1) {
		case 1:
			fmt.Fprint(w, `{"last":42,"events":[{"type":"DevicePropertyUpdatedEvent"},{"type":"SceneStartedEvent"}]}`)
		case 2:
			fmt.Fprint(w, `{"last":43}`)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	s := &sink{}
	p := New(s.submit)
	p.SetCallback(1)
	p.Start(10, srv.URL+"/api/refreshStates?last=", Options{
		Headers:  map[string]string{"Authorization": "secret"},
		Interval: 10 * time.Millisecond,
	})

	require.Eventually(t, func() bool { return !p.Status().Running }, 2*time.Second, 5*time.Millisecond,
		"a 401 ends the loop")
	assert.Equal(t, "10", <-lasts)
	assert.Equal(t, "42", <-lasts)
	assert.Equal(t, "43", <-lasts)

	st := p.Status()
	assert.EqualValues(t, 43, st.Last)
	assert.EqualValues(t, 10, st.Start)

	got := s.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, `{"type":"DevicePropertyUpdatedEvent"}`, got[0].Payload)
	assert.Equal(t, `{"type":"SceneStartedEvent"}`, got[1].Payload)
	assert.False(t, p.Stop())
}

func TestStopEndsLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"last":1,"events":[]}`)
	}))
	defer srv.Close()

	p := New(nil)
	p.Start(0, srv.URL+"/?last=", Options{Interval: 5 * time.Millisecond})
	assert.True(t, p.Status().Running)
	assert.True(t, p.Stop())
	assert.False(t, p.Status().Running)
	assert.False(t, p.Stop())
}

func TestConnectionErrorsEndLoop(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := New(nil)
	p.Start(0, url+"/?last=", Options{Interval: time.Millisecond})
	require.Eventually(t, func() bool { return !p.Status().Running }, 2*time.Second, 5*time.Millisecond)
}

func TestScriptBindings(t *testing.T) {
	s := &sink{}
	p := New(s.submit)
	r := exports.NewRegistry()
	r.MustAdd(p.Exports()...)

	e := engine.New(engine.Options{Stdout: &bytes.Buffer{}})
	defer e.Close()
	r.Install(e)
	e.Register("pythonTimer", func(*lua.LState) int { return 0 })
	e.Register("pythonCancelTimer", func(*lua.LState) int { return 0 })
	require.NoError(t, e.Boot())

	require.NoError(t, e.ExecString(`
		function _PY.newRefreshStatesEvent(json)
			print("hook " .. json)
		end
		print(_PY.addEvent({type = "a"}).event_count)
		print(_PY.addEventFromLua('{"type":"b"}').status)
		print(_PY.addEventFromLua('{bad').status)
		local res = _PY.getEvents(1)
		print(res.status, res.last, #res.events, res.events[1].type)
		print(_PY.getRefreshStatesStatus().running)
	`, "poll"))
	assert.Equal(t, "1\nadded\nerror\nIDLE 2 1 b\nfalse", e.Output())

	got := s.snapshot()
	require.Len(t, got, 2)
	cb := p.Callback()
	require.NotZero(t, cb)
	for _, ev := range got {
		assert.Equal(t, cb, ev.Id)
	}

	// delivering through the callback reaches the script hook
	found, err := e.ExecuteCallback(cb, got[0].Payload)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `hook {"type":"a"}`, e.Output())
}
