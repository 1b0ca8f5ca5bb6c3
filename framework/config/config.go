package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fixkme/plua/errs"
	"gopkg.in/yaml.v3"
)

var Config *AppConfig

type AppConfig struct {
	AppVersion    string `json:"app_version" yaml:"app_version"`
	LogConfig     `json:",inline" yaml:",inline"`
	RuntimeConfig `json:",inline" yaml:",inline"`
	HttpApiConfig `json:",inline" yaml:",inline"`
	IngressConfig `json:",inline" yaml:",inline"`
	RedisConfig   `json:",inline" yaml:",inline"`
	IsDebug       bool `json:"is_debug" yaml:"is_debug"`
}

type LogConfig struct {
	LogPath   string `json:"log_path" yaml:"log_path"` // 为空时输出到标准输出
	LogName   string `json:"log_name" yaml:"log_name"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogStdOut bool   `json:"log_std_out" yaml:"log_std_out"`
}

type RuntimeConfig struct {
	Duration    int  `json:"duration" yaml:"duration"`         // 运行秒数，0 表示一直运行
	QueueSize   int  `json:"queue_size" yaml:"queue_size"`     // 回调队列容量
	OutputLines int  `json:"output_lines" yaml:"output_lines"` // print 输出缓存行数
	WebMode     bool `json:"web_mode" yaml:"web_mode"`
}

type HttpApiConfig struct {
	ApiVersion    string `json:"api_version" yaml:"api_version"`
	ApiListenAddr string `json:"api_listen_addr" yaml:"api_listen_addr"` // 为空时不启动
}

type IngressConfig struct {
	IngressListenAddr string `json:"ingress_listen_addr" yaml:"ingress_listen_addr"` // 如 tcp://127.0.0.1:8889，为空时不启动
	IngressMulticore  bool   `json:"ingress_multicore" yaml:"ingress_multicore"`
}

type RedisConfig struct {
	RedisMode       string `json:"redis_mode" yaml:"redis_mode"`
	RedisAddr       string `json:"redis_addr" yaml:"redis_addr"` // 多个地址用,隔开，为空时不连接
	RedisMasterName string `json:"redis_master_name" yaml:"redis_master_name"`
	RedisPassword   string `json:"redis_password" yaml:"redis_password"`
	RedisDB         int    `json:"redis_db" yaml:"redis_db"`
}

const (
	DefaultQueueSize   = 4096
	DefaultOutputLines = 10000
	DefaultLogLevel    = "info"
	DefaultLogName     = "plua"
)

// LoadConfig reads configFile (json, yaml or yml by extension) when given,
// then lets loadConfigFromEnv override it, then fills defaults.
func LoadConfig(configFile string, loadConfigFromEnv func(*AppConfig) error) error {
	conf := new(AppConfig)
	if len(configFile) != 0 {
		if err := loadConfigFromFile(configFile, conf); err != nil {
			return err
		}
	}
	if loadConfigFromEnv != nil {
		if err := loadConfigFromEnv(conf); err != nil {
			return err
		}
	}
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return err
	}
	Config = conf
	return nil
}

func loadConfigFromFile(configFile string, conf *AppConfig) error {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return errs.Config.Wrap(err)
	}
	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, conf)
	default:
		err = json.Unmarshal(data, conf)
	}
	if err != nil {
		return errs.Config.Printf("%s: %v", configFile, err)
	}
	return nil
}

// LoadEnv applies the PLUA_* environment overrides.
func LoadEnv(conf *AppConfig) error {
	if v, ok := os.LookupEnv("PLUA_DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errs.Config.Printf("PLUA_DEBUG: %v", err)
		}
		conf.IsDebug = b
	}
	if v, ok := os.LookupEnv("PLUA_QUEUE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.Config.Printf("PLUA_QUEUE_SIZE: %v", err)
		}
		conf.QueueSize = n
	}
	if v := os.Getenv("PLUA_LOG_LEVEL"); v != "" {
		conf.LogLevel = v
	}
	if v := os.Getenv("PLUA_API_ADDR"); v != "" {
		conf.ApiListenAddr = v
	}
	if v := os.Getenv("PLUA_INGRESS_ADDR"); v != "" {
		conf.IngressListenAddr = v
	}
	if v := os.Getenv("PLUA_REDIS_ADDR"); v != "" {
		conf.RedisAddr = v
	}
	return nil
}

func (conf *AppConfig) ApplyDefaults() {
	if conf.QueueSize <= 0 {
		conf.QueueSize = DefaultQueueSize
	}
	if conf.OutputLines <= 0 {
		conf.OutputLines = DefaultOutputLines
	}
	if conf.LogLevel == "" {
		conf.LogLevel = DefaultLogLevel
		if conf.IsDebug {
			conf.LogLevel = "debug"
		}
	}
	if conf.LogName == "" {
		conf.LogName = DefaultLogName
	}
	if conf.RedisMode == "" {
		conf.RedisMode = "single"
	}
}

func (conf *AppConfig) Validate() error {
	if conf.Duration < 0 {
		return errs.Config.Printf("duration %d is negative", conf.Duration)
	}
	switch conf.RedisMode {
	case "single", "sentinel", "cluster":
	default:
		return errs.Config.Printf("unknown redis_mode %q", conf.RedisMode)
	}
	if conf.RedisMode == "sentinel" && conf.RedisAddr != "" && conf.RedisMasterName == "" {
		return errs.Config.Printf("redis_master_name is required in sentinel mode")
	}
	return nil
}

// RuntimeSettings is what scripts see as get_config().runtime_config.
func (conf *AppConfig) RuntimeSettings() map[string]any {
	return map[string]any{
		"duration":     conf.Duration,
		"queue_size":   conf.QueueSize,
		"output_lines": conf.OutputLines,
		"web_mode":     conf.WebMode,
		"debug":        conf.IsDebug,
		"api_enabled":  conf.ApiListenAddr != "",
	}
}

func (conf *AppConfig) JsonFormat() string {
	if conf == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
