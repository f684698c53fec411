package config

import (
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	RequestLog RequestLogConfig `mapstructure:"requestlog"`
	RequestID  RequestIDConfig  `mapstructure:"request_id"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Stream     StreamConfig     `mapstructure:"stream"`
}

type ServerConfig struct {
	Port      string `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"` // served under /static/ when set
	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For is
	// believed. Empty means the logged ip is always the socket peer.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type RequestLogConfig struct {
	Category        string   `mapstructure:"category"`         // tag attached to every emitted record
	ExcludePrefixes []string `mapstructure:"exclude_prefixes"` // plain prefix match, e.g. "/static" also skips "/static.css"
	MaxBodyBytes    int      `mapstructure:"max_body_bytes"`   // 0 = no cap on the logged copy
	BufferSize      int      `mapstructure:"buffer_size"`      // in-memory recent records
	QueueSize       int      `mapstructure:"queue_size"`       // async redis shipping queue
}

type RequestIDConfig struct {
	Header       string `mapstructure:"header"`
	TrustInbound bool   `mapstructure:"trust_inbound"`
	Echo         bool   `mapstructure:"echo"`
}

type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	ListPrefix string `mapstructure:"list_prefix"`
	ListMax    int    `mapstructure:"list_max"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type AdminConfig struct {
	Key           string  `mapstructure:"key"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type StreamConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	ClientBuffer int  `mapstructure:"client_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("requestlog.category", "request")
	v.SetDefault("requestlog.exclude_prefixes", []string{"/webjars", "/static"})
	v.SetDefault("requestlog.max_body_bytes", 0)
	v.SetDefault("requestlog.buffer_size", 1000)
	v.SetDefault("requestlog.queue_size", 1000)
	v.SetDefault("request_id.header", "X-Request-ID")
	v.SetDefault("request_id.trust_inbound", true)
	v.SetDefault("request_id.echo", true)
	v.SetDefault("redis.list_prefix", "reqlog")
	v.SetDefault("redis.list_max", 10000)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("admin.rate_per_second", 5)
	v.SetDefault("admin.burst", 10)
	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.client_buffer", 64)
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// Environment variables support
	// e.g. REQLOG_REDIS_ADDR, REQLOG_REQUESTLOG_MAX_BODY_BYTES
	v.SetEnvPrefix("reqlog")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	return decode(v)
}

// LoadFile reads an explicit config file, skipping the search path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("reqlog")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.RequestLog.MaxBodyBytes < 0:
		return fmt.Errorf("requestlog.max_body_bytes must be >= 0, got %d", c.RequestLog.MaxBodyBytes)
	case c.RequestLog.BufferSize < 0:
		return fmt.Errorf("requestlog.buffer_size must be >= 0, got %d", c.RequestLog.BufferSize)
	case c.RequestLog.QueueSize < 0:
		return fmt.Errorf("requestlog.queue_size must be >= 0, got %d", c.RequestLog.QueueSize)
	case strings.TrimSpace(c.RequestLog.Category) == "":
		return fmt.Errorf("requestlog.category must not be empty")
	case c.Admin.RatePerSecond < 0 || c.Admin.Burst < 0:
		return fmt.Errorf("admin rate limit must be >= 0")
	}
	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", proxy)
		}
	}
	return nil
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}
