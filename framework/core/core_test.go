package core

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fixkme/plua/framework/app"
	"github.com/fixkme/plua/framework/config"
	"github.com/fixkme/plua/luart"
	"github.com/fixkme/plua/mlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().String()
}

func TestModulesDriveRuntime(t *testing.T) {
	mlog.UseStdLogger(mlog.DebugLevel)
	rt, err := luart.New(luart.Config{Stdout: io.Discard})
	require.NoError(t, err)

	job := luart.Job{Script: `
		_PY.registerCallback(function(data) print("via " .. data.from) end, true)
	`}
	a := app.New()
	lua := luart.NewModule(rt, job, a.Stop)

	require.NoError(t, InitHttpApiModule("httpapi", &config.HttpApiConfig{ApiVersion: "v1", ApiListenAddr: "127.0.0.1:0"},
		rt, rt.Metrics().Handler(), false, nil))
	ingressAddr := freePort(t)
	require.NoError(t, InitIngressModule("ingress", &config.IngressConfig{IngressListenAddr: "tcp://" + ingressAddr}, rt.Submit))

	done := make(chan error, 1)
	go func() { done <- a.Run(lua, HttpApi, Ingress) }()
	defer func() {
		a.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.Eventually(t, func() bool { return HttpApi.Addr() != "" && Ingress.Server() != nil }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, Ingress.Server().WaitBooted(ctx))
	require.Eventually(t, func() bool {
		st := rt.State(ctx)
		return st.Script != nil && st.Script.PendingCallbacks == 1
	}, 3*time.Second, 5*time.Millisecond)

	conn, err := net.Dial("tcp", ingressAddr)
	require.NoError(t, err)
	defer conn.Close()
	fmt.Fprint(conn, `{"id": 1, "data": {"from": "ingress"}}`+"\n")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ok\n", reply)

	base := "http://" + HttpApi.Addr()
	resp, err := http.Post(base+"/api/v1/callback/1", "application/json", strings.NewReader(`{"from":"http"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out strings.Builder
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/output")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Data struct {
				Output string `json:"output"`
			} `json:"data"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Data.Output != "" {
			out.WriteString(body.Data.Output + "\n")
		}
		return strings.Contains(out.String(), "via ingress") && strings.Contains(out.String(), "via http")
	}, 3*time.Second, 20*time.Millisecond)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	metrics, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(metrics), `plua_events_dispatched_total{kind="callback"} 2`)
}

func TestRedisDisabled(t *testing.T) {
	assert.ErrorIs(t, InitRedis(&config.RedisConfig{}), ErrRedisDisabled)
	assert.Error(t, InitRedis(nil))
}
