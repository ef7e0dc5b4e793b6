// Package config loads CLI settings from mangaba.yaml and MANGABA_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mangaba-ai/mangaba-go"
	"github.com/mangaba-ai/mangaba-go/internal/notify"
	"github.com/mangaba-ai/mangaba-go/internal/notify/redis"
	"github.com/mangaba-ai/mangaba-go/internal/notify/webhook"
)

const (
	fileName  = "mangaba"
	envPrefix = "MANGABA"
)

type Config struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
	Markup       string        `mapstructure:"markup"`
	Log          LogConfig     `mapstructure:"log"`
	Notify       NotifyConfig  `mapstructure:"notify"`
	Server       ServerConfig  `mapstructure:"server"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type NotifyConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Secret  string            `mapstructure:"secret"`
	Retries int               `mapstructure:"retries"`
	Headers map[string]string `mapstructure:"headers"`
}

type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
	Retries int    `mapstructure:"retries"`
}

type ServerConfig struct {
	Addr       string        `mapstructure:"addr"`
	FrameDelay time.Duration `mapstructure:"frame_delay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "http://localhost:5000")
	v.SetDefault("token", "")
	v.SetDefault("stall_timeout", "0s")
	v.SetDefault("markup", string(mangaba.MarkupTrusted))
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.secret", "")
	v.SetDefault("notify.webhook.retries", webhook.DefaultRetries)
	v.SetDefault("notify.redis.url", "")
	v.SetDefault("notify.redis.channel", redis.DefaultChannel)
	v.SetDefault("notify.redis.retries", redis.DefaultRetries)
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.frame_delay", "50ms")
}

// Load reads the config file at path, or searches for mangaba.yaml in the
// user config directory and the working directory when path is empty. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, fileName))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Token = expandEnv(cfg.Token)
	cfg.Notify.Webhook.Secret = expandEnv(cfg.Notify.Webhook.Secret)
	if cfg.Token == "" {
		cfg.Token = os.Getenv("MANGABA_API_TOKEN")
	}

	return &cfg, nil
}

// expandEnv resolves values written as ${VAR} or $VAR.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// ClientOptions turns the config into options for mangaba.NewClient.
func (c *Config) ClientOptions(logger *zap.Logger) []mangaba.ClientOption {
	opts := []mangaba.ClientOption{
		mangaba.WithBaseURL(c.BaseURL),
		mangaba.WithStallTimeout(c.StallTimeout),
		mangaba.WithMarkupPolicy(mangaba.MarkupPolicy(c.Markup)),
		mangaba.WithLogger(logger),
	}
	if c.Token != "" {
		opts = append(opts, mangaba.WithToken(c.Token))
	}
	return opts
}

// Publisher builds the configured notification publishers. It returns nil
// when none is configured.
func (c *Config) Publisher() (notify.Publisher, error) {
	var publishers notify.Multi

	if wh := c.Notify.Webhook; wh.URL != "" {
		p, err := webhook.New(webhook.Config{
			URL:     wh.URL,
			Secret:  wh.Secret,
			Retries: wh.Retries,
			Headers: wh.Headers,
		})
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, p)
	}

	if rd := c.Notify.Redis; rd.URL != "" {
		p, err := redis.New(redis.Config{
			URL:     rd.URL,
			Channel: rd.Channel,
			Retries: rd.Retries,
		})
		if err != nil {
			_ = publishers.Close()
			return nil, err
		}
		publishers = append(publishers, p)
	}

	switch len(publishers) {
	case 0:
		return nil, nil
	case 1:
		return publishers[0], nil
	default:
		return publishers, nil
	}
}
