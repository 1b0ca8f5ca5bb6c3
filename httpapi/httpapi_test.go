package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fixkme/plua/errs"
	"github.com/fixkme/plua/luart"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	callbacks map[int64]any
	scripts   []string
	closed    bool
}

func (b *fakeBackend) State(context.Context) luart.State {
	return luart.State{Session: "s-1", Loop: "Idle", Running: true, LiveTimers: 2}
}

func (b *fakeBackend) SubmitCallback(id int64, data any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errs.SubmitAfterShutdown
	}
	b.callbacks[id] = data
	return nil
}

func (b *fakeBackend) ExecuteScript(_ context.Context, src, name string) error {
	if strings.Contains(src, "error") {
		return errs.Script.Printf("%s: boom", name)
	}
	b.mu.Lock()
	b.scripts = append(b.scripts, name)
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) Output() string { return "printed" }

type reply struct {
	Status int             `json:"status"`
	Error  string          `json:"error"`
	Data   json.RawMessage `json:"data"`
}

func newServer(t *testing.T, opt *Options) (*Server, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{callbacks: map[int64]any{}}
	s, err := NewWeb("tcp", "127.0.0.1:0", b, opt)
	require.NoError(t, err)
	t.Cleanup(func() { s.Ln.Close() })
	return s, b
}

func do(t *testing.T, s *Server, method, path, body string) (int, reply) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	var r reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r), w.Body.String())
	return w.Code, r
}

func TestStatus(t *testing.T) {
	s, _ := newServer(t, &Options{})
	code, r := do(t, s, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, r.Status)

	var st luart.State
	require.NoError(t, json.Unmarshal(r.Data, &st))
	assert.Equal(t, "s-1", st.Session)
	assert.Equal(t, 2, st.LiveTimers)
}

func TestCallbackQueues(t *testing.T) {
	s, b := newServer(t, &Options{ApiVersion: "v1"})
	code, r := do(t, s, http.MethodPost, "/api/v1/callback/7", `{"k":"v"}`)
	assert.Equal(t, http.StatusAccepted, code)
	assert.JSONEq(t, `{"queued":7}`, string(r.Data))
	assert.Equal(t, map[string]any{"k": "v"}, b.callbacks[7])

	code, _ = do(t, s, http.MethodPost, "/api/v1/callback/8", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Contains(t, b.callbacks, int64(8))

	code, _ = do(t, s, http.MethodPost, "/api/v1/callback/x", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodPost, "/api/v1/callback/9", `{`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCallbackAfterShutdown(t *testing.T) {
	s, b := newServer(t, &Options{})
	b.closed = true
	code, r := do(t, s, http.MethodPost, "/api/callback/1", `1`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, errs.ErrCode_SubmitAfterShutdown, r.Status)
}

func TestExecute(t *testing.T) {
	s, b := newServer(t, &Options{})
	code, r := do(t, s, http.MethodPost, "/api/execute", `{"code":"print(1)"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"output":"printed"}`, string(r.Data))
	assert.Equal(t, []string{"api"}, b.scripts)

	code, r = do(t, s, http.MethodPost, "/api/execute", `{"code":"error()","name":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, errs.ErrCode_Script, r.Status)
	assert.Contains(t, r.Error, "x: boom")

	code, _ = do(t, s, http.MethodPost, "/api/execute", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMiddlewareGuardsApi(t *testing.T) {
	deny := func(c *gin.Context) {
		ResponseError(c, http.StatusForbidden, errs.Unknown.Print("denied"))
		c.Abort()
	}
	s, _ := newServer(t, &Options{Middlewares: []gin.HandlerFunc{deny}})
	code, r := do(t, s, http.MethodGet, "/api/output", "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "UNKNOWN,denied", r.Error)

	req := httptest.NewRequest(http.MethodGet, "/v0/myip", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.JSONEq(t, `{"ip":"10.1.2.3"}`, w.Body.String())
}

func TestMetricsAndServe(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("plua_up 1\n"))
	})
	s, _ := newServer(t, &Options{Metrics: metrics})
	s.Start()
	defer s.Stop()

	resp, err := http.Get("http://" + s.Addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
