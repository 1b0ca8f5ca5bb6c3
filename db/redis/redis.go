package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fixkme/plua/errs"
	"github.com/fixkme/plua/framework/config"
	"github.com/redis/go-redis/v9"
)

const (
	RedisMode_Single   = "single"
	RedisMode_Sentinel = "sentinel"
	RedisMode_Cluster  = "cluster"
)

const pingTimeout = 3 * time.Second

type RedisImpl struct {
	client  *redis.Client
	cluster *redis.ClusterClient
}

// OptionsFromConfig maps the redis config section onto the go-redis
// options type for its mode.
func OptionsFromConfig(conf *config.RedisConfig) (any, error) {
	if conf == nil {
		return nil, errs.Config.Printf("redis config is nil")
	}
	var addrs []string
	for _, a := range strings.Split(conf.RedisAddr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return nil, errs.Config.Printf("redis addr invalid (%s)", conf.RedisAddr)
	}
	switch conf.RedisMode {
	case RedisMode_Cluster:
		return &redis.ClusterOptions{
			Addrs:    addrs,
			Password: conf.RedisPassword,
		}, nil
	case RedisMode_Sentinel:
		return &redis.FailoverOptions{
			MasterName:    conf.RedisMasterName,
			SentinelAddrs: addrs,
			Password:      conf.RedisPassword,
			DB:            conf.RedisDB,
		}, nil
	default:
		return &redis.Options{
			Addr:     addrs[0],
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		}, nil
	}
}

func NewRedis(mode string, opts any) (*RedisImpl, error) {
	db := &RedisImpl{}
	switch mode {
	case RedisMode_Cluster:
		o, ok := opts.(*redis.ClusterOptions)
		if !ok {
			return nil, fmt.Errorf("redis %s mode wants *ClusterOptions, got %T", mode, opts)
		}
		db.cluster = redis.NewClusterClient(o)
	case RedisMode_Sentinel:
		o, ok := opts.(*redis.FailoverOptions)
		if !ok {
			return nil, fmt.Errorf("redis %s mode wants *FailoverOptions, got %T", mode, opts)
		}
		db.client = redis.NewFailoverClient(o)
	default: // 默认single模式
		o, ok := opts.(*redis.Options)
		if !ok {
			return nil, fmt.Errorf("redis %s mode wants *Options, got %T", mode, opts)
		}
		db.client = redis.NewClient(o)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.GetCmdable().Ping(ctx).Err(); err != nil {
		db.Stop()
		return nil, err
	}
	return db, nil
}

// NewFromConfig connects using the redis config section.
func NewFromConfig(conf *config.RedisConfig) (*RedisImpl, error) {
	opts, err := OptionsFromConfig(conf)
	if err != nil {
		return nil, err
	}
	return NewRedis(conf.RedisMode, opts)
}

func (db *RedisImpl) Client() *redis.Client {
	return db.client
}

func (db *RedisImpl) ClusterClient() *redis.ClusterClient {
	return db.cluster
}

func (db *RedisImpl) Stop() {
	if db.client != nil {
		db.client.Close()
	}
	if db.cluster != nil {
		db.cluster.Close()
	}
}

func (db *RedisImpl) GetCmdable() redis.Cmdable {
	if db.client != nil {
		return db.client
	}
	if db.cluster != nil {
		return db.cluster
	}
	return nil
}

// 订阅redis消息
func (db *RedisImpl) subscribe(ctx context.Context, pattern string) (*redis.PubSub, error) {
	var pubsub *redis.PubSub
	if db.client != nil {
		pubsub = db.client.PSubscribe(ctx, pattern)
	} else if db.cluster != nil {
		pubsub = db.cluster.PSubscribe(ctx, pattern)
	}
	if pubsub == nil {
		return nil, fmt.Errorf("redis subscribe %s failed, nil pubsub", pattern)
	}
	// 等待订阅确认
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}
	return pubsub, nil
}
