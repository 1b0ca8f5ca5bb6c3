package core

import (
	"errors"

	rdb "github.com/fixkme/plua/db/redis"
	"github.com/fixkme/plua/framework/config"
)

var Redis *rdb.RedisImpl

// InitRedis 连接redis, 地址为空时返回 ErrRedisDisabled
func InitRedis(conf *config.RedisConfig) (err error) {
	if conf == nil {
		return errors.New("redis config is nil")
	}
	if conf.RedisAddr == "" {
		return ErrRedisDisabled
	}
	Redis, err = rdb.NewFromConfig(conf)
	return
}

var ErrRedisDisabled = errors.New("redis addr not configured")
