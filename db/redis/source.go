package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fixkme/plua/engine"
	"github.com/fixkme/plua/engine/exports"
	"github.com/fixkme/plua/errs"
	g "github.com/fixkme/plua/framework/go"
	"github.com/fixkme/plua/lock"
	"github.com/fixkme/plua/mlog"
	"github.com/redis/go-redis/v9"
	lua "github.com/yuin/gopher-lua"
)

const (
	retryDur   = 5 * time.Second
	cmdTimeout = 3 * time.Second
	lockRetry  = 50 * time.Millisecond
)

type subscription struct {
	pattern string
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	done    chan struct{}
}

// Source lets scripts subscribe to redis channels. Every message becomes
// a callback event for the dispatch loop; the receiving goroutines never
// touch the script state.
type Source struct {
	db     *RedisImpl
	locker *lock.RedLock
	submit g.SubmitFunc

	mu     sync.Mutex
	subs   map[int64]*subscription
	closed bool
}

func NewSource(db *RedisImpl) *Source {
	return &Source{
		db:     db,
		locker: lock.NewRedLock(db.GetCmdable(), ""),
		subs:   make(map[int64]*subscription),
	}
}

func (s *Source) Name() string { return "redis" }

func (s *Source) Exports(submit g.SubmitFunc) []exports.Func {
	s.submit = submit
	return []exports.Func{
		{Name: "redis_subscribe", Category: "redis", Description: "Subscribe a callback to a redis channel pattern", Fn: s.luaSubscribe},
		{Name: "redis_unsubscribe", Category: "redis", Description: "Cancel a redis subscription", Fn: s.luaUnsubscribe},
		{Name: "redis_publish", Category: "redis", Description: "Publish a message to a redis channel", Fn: s.luaPublish},
		{Name: "redis_get", Category: "redis", Description: "Get a redis string value", Fn: s.luaGet},
		{Name: "redis_set", Category: "redis", Description: "Set a redis string value with optional ttl in seconds", Fn: s.luaSet},
		{Name: "redis_lock", Category: "redis", Description: "Take a redis lock for ttl seconds, waiting up to wait seconds", Fn: s.luaLock},
		{Name: "redis_unlock", Category: "redis", Description: "Release a redis lock held by this runtime", Fn: s.luaUnlock},
	}
}

// Subscribe starts delivering messages matching pattern to callback id.
func (s *Source) Subscribe(id int64, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.SubmitAfterShutdown.Print("redis source closed")
	}
	if _, ok := s.subs[id]; ok {
		return errs.Bridge.Printf("callback %d already subscribed", id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sctx, scancel := context.WithTimeout(ctx, cmdTimeout)
	defer scancel()
	pubsub, err := s.db.subscribe(sctx, pattern)
	if err != nil {
		cancel()
		return errs.Bridge.Wrap(err)
	}
	sub := &subscription{pattern: pattern, pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	s.subs[id] = sub
	go s.receive(ctx, id, sub)
	return nil
}

// receive 在新的routine不断收到订阅消息，转成回调事件投递
func (s *Source) receive(ctx context.Context, id int64, sub *subscription) {
	defer close(sub.done)
	defer func() {
		if r := recover(); r != nil {
			mlog.Errorf("redis pubsub %s routine recover error %v", sub.pattern, r)
		}
		mlog.Debugf("redis pubsub %s routine quited", sub.pattern)
	}()
	for {
		msg, err := sub.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			mlog.Warnf("redis pubsub %s error %s, retry after %s", sub.pattern, err, retryDur)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDur):
			}
			continue
		}
		data := map[string]any{
			"channel": msg.Channel,
			"pattern": msg.Pattern,
			"payload": msg.Payload,
		}
		if err := s.submit(g.CallbackEvent(id, data)); err != nil {
			if errors.Is(err, errs.SubmitAfterShutdown) {
				return
			}
			mlog.Warnf("redis pubsub %s message dropped: %v", msg.Channel, err)
		}
	}
}

// Unsubscribe stops subscription id and waits for its goroutine.
func (s *Source) Unsubscribe(id int64) bool {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	sub.stop()
	return true
}

func (sub *subscription) stop() {
	sub.cancel()
	sub.pubsub.Close()
	<-sub.done
}

func (s *Source) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close ends every subscription and the connection.
func (s *Source) Close() {
	s.mu.Lock()
	s.closed = true
	subs := s.subs
	s.subs = make(map[int64]*subscription)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
	if len(subs) > 0 {
		mlog.Infof("closed %d redis subscriptions", len(subs))
	}
	s.db.Stop()
}

func pushErr(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

// redis_subscribe(pattern, fn) returns the callback id fn was registered under.
func (s *Source) luaSubscribe(L *lua.LState) int {
	pattern := L.CheckString(1)
	fn := L.CheckFunction(2)
	id, err := engine.RegisterCallback(L, fn, true)
	if err != nil {
		return pushErr(L, err)
	}
	if err := s.Subscribe(id, pattern); err != nil {
		engine.UnregisterCallback(L, id)
		return pushErr(L, err)
	}
	L.Push(lua.LNumber(id))
	return 1
}

func (s *Source) luaUnsubscribe(L *lua.LState) int {
	id := L.CheckInt64(1)
	ok := s.Unsubscribe(id)
	if ok {
		if _, err := engine.UnregisterCallback(L, id); err != nil {
			mlog.Warnf("unregister redis callback %d: %v", id, err)
		}
	}
	L.Push(lua.LBool(ok))
	return 1
}

func (s *Source) luaPublish(L *lua.LState) int {
	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	n, err := s.db.GetCmdable().Publish(ctx, L.CheckString(1), L.CheckString(2)).Result()
	if err != nil {
		return pushErr(L, err)
	}
	L.Push(lua.LNumber(n))
	return 1
}

func (s *Source) luaGet(L *lua.LState) int {
	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	v, err := s.db.GetCmdable().Get(ctx, L.CheckString(1)).Result()
	if err == redis.Nil {
		L.Push(lua.LNil)
		return 1
	}
	if err != nil {
		return pushErr(L, err)
	}
	L.Push(lua.LString(v))
	return 1
}

func (s *Source) luaSet(L *lua.LState) int {
	key, value := L.CheckString(1), L.CheckString(2)
	ttl := time.Duration(float64(L.OptNumber(3, 0)) * float64(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	if err := s.db.GetCmdable().Set(ctx, key, value, ttl).Err(); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// redis_lock(key, ttl [, wait]) blocks the dispatch loop while it waits.
func (s *Source) luaLock(L *lua.LState) int {
	key := L.CheckString(1)
	ttl := time.Duration(float64(L.CheckNumber(2)) * float64(time.Second))
	wait := time.Duration(float64(L.OptNumber(3, 0)) * float64(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), wait+cmdTimeout)
	defer cancel()
	if err := s.locker.Lock(ctx, key, ttl, wait, lockRetry); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func (s *Source) luaUnlock(L *lua.LState) int {
	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	ok, err := s.locker.UnLock(ctx, L.CheckString(1))
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LBool(ok))
	return 1
}
