package redis

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fixkme/plua/errs"
	"github.com/fixkme/plua/framework/config"
	"github.com/fixkme/plua/luart"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFromConfig(t *testing.T) {
	opt, err := OptionsFromConfig(&config.RedisConfig{RedisAddr: "127.0.0.1:6379", RedisDB: 3, RedisPassword: "pw"})
	require.NoError(t, err)
	single := opt.(*redis.Options)
	assert.Equal(t, "127.0.0.1:6379", single.Addr)
	assert.Equal(t, 3, single.DB)
	assert.Equal(t, "pw", single.Password)

	opt, err = OptionsFromConfig(&config.RedisConfig{RedisMode: RedisMode_Sentinel, RedisAddr: "a:1, b:2", RedisMasterName: "m"})
	require.NoError(t, err)
	failover := opt.(*redis.FailoverOptions)
	assert.Equal(t, []string{"a:1", "b:2"}, failover.SentinelAddrs)
	assert.Equal(t, "m", failover.MasterName)

	opt, err = OptionsFromConfig(&config.RedisConfig{RedisMode: RedisMode_Cluster, RedisAddr: "a:1,b:2,"})
	require.NoError(t, err)
	assert.Len(t, opt.(*redis.ClusterOptions).Addrs, 2)

	_, err = OptionsFromConfig(&config.RedisConfig{RedisAddr: " , "})
	assert.ErrorIs(t, err, errs.Config)
	_, err = OptionsFromConfig(nil)
	assert.ErrorIs(t, err, errs.Config)
}

func TestNewRedisRejectsWrongOptions(t *testing.T) {
	_, err := NewRedis(RedisMode_Cluster, &redis.Options{})
	assert.Error(t, err)
}

// The remaining tests need a live server: REDIS_ADDR=127.0.0.1:6379.
func liveRedis(t *testing.T) *RedisImpl {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	db, err := NewFromConfig(&config.RedisConfig{RedisMode: RedisMode_Single, RedisAddr: addr})
	require.NoError(t, err)
	return db
}

func TestSourceDeliversMessages(t *testing.T) {
	src := NewSource(liveRedis(t))
	rt, err := luart.New(luart.Config{Stdout: io.Discard, Extensions: []luart.Extension{src}})
	require.NoError(t, err)
	t.Cleanup(rt.Stop)

	ctx := context.Background()
	require.NoError(t, rt.ExecuteScript(ctx, `
		sub = _PY.redis_subscribe("plua.test.*", function(msg)
			print(msg.channel, msg.pattern, msg.payload)
		end)
		print(_PY.redis_set("plua:test:key", "v", 10), _PY.redis_get("plua:test:key"), _PY.redis_get("plua:test:none"))
	`, "sub"))
	assert.Equal(t, "true v nil", rt.Output())
	assert.Equal(t, 1, src.Len())

	require.NoError(t, rt.ExecuteScript(ctx, `_PY.redis_publish("plua.test.a", "hello")`, "pub"))
	var out strings.Builder
	require.Eventually(t, func() bool {
		out.WriteString(rt.Output())
		return strings.Contains(out.String(), "plua.test.a plua.test.* hello")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, rt.ExecuteScript(ctx, `print(_PY.redis_unsubscribe(sub), _PY.redis_unsubscribe(sub))`, "unsub"))
	assert.Equal(t, "true false", rt.Output())
	assert.Equal(t, 0, src.Len())

	require.NoError(t, rt.ExecuteScript(ctx, `
		local k = "plua:test:lock"
		print(_PY.redis_lock(k, 10), _PY.redis_unlock(k), _PY.redis_unlock(k))
	`, "lock"))
	assert.Equal(t, "true true false", rt.Output())
}

func TestSubscribeAfterClose(t *testing.T) {
	src := NewSource(liveRedis(t))
	src.Close()
	assert.ErrorIs(t, src.Subscribe(1, "x"), errs.SubmitAfterShutdown)
}
