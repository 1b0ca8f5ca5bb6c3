package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	rdb "github.com/fixkme/plua/db/redis"
	"github.com/fixkme/plua/framework/app"
	"github.com/fixkme/plua/framework/config"
	"github.com/fixkme/plua/framework/core"
	"github.com/fixkme/plua/luart"
	"github.com/fixkme/plua/mlog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Options holds the command line flags. Flags that are set win over the
// config file and the environment.
type Options struct {
	ConfigFile  string
	Fragments   []string
	Duration    int
	Debug       bool
	WebMode     bool
	LogLevel    string
	ApiAddr     string
	IngressAddr string
	RedisAddr   string
}

func NewRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "plua [file]",
		Short: "Lua runtime with timers and asynchronous callbacks",
		Long: `Run a Lua script on a single dispatch goroutine. Timers, HTTP and TCP
callbacks and redis messages are queued and executed one at a time.

Example:
  plua main.lua --duration 30
  plua -e 'setTimeout(function() print("hi") end, 100)' --duration 1
  plua main.lua --api-addr 127.0.0.1:8888 --ingress-addr tcp://127.0.0.1:8889`,
		Args:          cobra.MaximumNArgs(1),
		Version:       luart.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			if len(args) == 1 {
				file = args[0]
			}
			return run(cmd, opts, file)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigFile, "config", "c", "", "config file (.json, .yaml or .yml)")
	f.StringArrayVarP(&opts.Fragments, "execute", "e", nil, "Lua fragment to run before the file, repeatable")
	f.IntVarP(&opts.Duration, "duration", "d", 0, "seconds to run, 0 runs until the script ends or a signal arrives")
	f.BoolVar(&opts.Debug, "debug", false, "debug logging and script debug mode")
	f.BoolVar(&opts.WebMode, "web-mode", false, "keep HTML in print output")
	f.StringVar(&opts.LogLevel, "log-level", "", "trace, debug, info, notice, warn or error")
	f.StringVar(&opts.ApiAddr, "api-addr", "", "serve the HTTP API on this address")
	f.StringVar(&opts.IngressAddr, "ingress-addr", "", "accept TCP callback lines on this address, e.g. tcp://127.0.0.1:8889")
	f.StringVar(&opts.RedisAddr, "redis-addr", "", "redis address(es) for the redis_* script functions")
	return cmd
}

func loadConfig(cmd *cobra.Command, opts *Options) (*config.AppConfig, error) {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf(".env: %w", err)
	}
	err := config.LoadConfig(opts.ConfigFile, func(conf *config.AppConfig) error {
		if err := config.LoadEnv(conf); err != nil {
			return err
		}
		f := cmd.Flags()
		if f.Changed("duration") {
			conf.Duration = opts.Duration
		}
		if f.Changed("debug") {
			conf.IsDebug = opts.Debug
		}
		if f.Changed("web-mode") {
			conf.WebMode = opts.WebMode
		}
		if f.Changed("log-level") {
			conf.LogLevel = opts.LogLevel
		}
		if f.Changed("api-addr") {
			conf.ApiListenAddr = opts.ApiAddr
		}
		if f.Changed("ingress-addr") {
			conf.IngressListenAddr = opts.IngressAddr
		}
		if f.Changed("redis-addr") {
			conf.RedisAddr = opts.RedisAddr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return config.Config, nil
}

func setupLog(ctx context.Context, wg *sync.WaitGroup, conf *config.LogConfig) error {
	level := mlog.ParseLevel(conf.LogLevel)
	if conf.LogPath == "" {
		return mlog.UseStdLogger(level)
	}
	return mlog.UseDefaultLogger(ctx, wg, conf.LogPath, conf.LogName, level, conf.LogStdOut)
}

func run(cmd *cobra.Command, opts *Options, file string) error {
	conf, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	logCtx, stopLog := context.WithCancel(context.Background())
	logWg := &sync.WaitGroup{}
	defer func() {
		stopLog()
		logWg.Wait()
	}()
	if err := setupLog(logCtx, logWg, &conf.LogConfig); err != nil {
		return err
	}
	mlog.Debugf("config: %s", conf.JsonFormat())

	job := luart.Job{
		Fragments: opts.Fragments,
		File:      file,
		Duration:  time.Duration(conf.Duration) * time.Second,
	}
	if job.Empty() && conf.ApiListenAddr == "" && conf.IngressListenAddr == "" {
		return errors.New("nothing to run: give a file, -e fragments or a listen address")
	}

	var exts []luart.Extension
	switch err := core.InitRedis(&conf.RedisConfig); {
	case err == nil:
		exts = append(exts, rdb.NewSource(core.Redis))
	case errors.Is(err, core.ErrRedisDisabled):
	default:
		return fmt.Errorf("redis: %w", err)
	}

	rt, err := luart.New(luart.Config{
		Debug:       conf.IsDebug,
		WebMode:     conf.WebMode,
		Stdout:      cmd.OutOrStdout(),
		QueueSize:   conf.QueueSize,
		OutputLines: conf.OutputLines,
		Settings:    conf.RuntimeSettings(),
		Extensions:  exts,
	})
	if err != nil {
		for _, ext := range exts {
			ext.Close()
		}
		return err
	}

	a := app.DefaultApp()
	lua := luart.NewModule(rt, job, a.Stop)
	mods := []app.Module{lua}
	if conf.ApiListenAddr != "" {
		if err := core.InitHttpApiModule("httpapi", &conf.HttpApiConfig, rt, rt.Metrics().Handler(), conf.IsDebug, nil); err != nil {
			rt.Stop()
			return err
		}
		mods = append(mods, core.HttpApi)
	}
	if conf.IngressListenAddr != "" {
		if err := core.InitIngressModule("ingress", &conf.IngressConfig, rt.Submit); err != nil {
			rt.Stop()
			return err
		}
		mods = append(mods, core.Ingress)
	}

	if err := a.Run(mods...); err != nil {
		rt.Stop()
		return err
	}
	return lua.Err()
}
