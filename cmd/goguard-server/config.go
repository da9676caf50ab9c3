package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	goGuard "github.com/MrEthical07/goGuard"
)

type serverConfig struct {
	Running struct {
		Port    int    `mapstructure:"port"`
		GinMode string `mapstructure:"ginMode"`
	} `mapstructure:"running"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Embedded bool   `mapstructure:"embedded"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`
	Postgres struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"postgres"`
	Token struct {
		Secret   string        `mapstructure:"secret"`
		TTL      time.Duration `mapstructure:"ttl"`
		Issuer   string        `mapstructure:"issuer"`
		Audience string        `mapstructure:"audience"`
		Leeway   time.Duration `mapstructure:"leeway"`
	} `mapstructure:"token"`
	Obfuscation struct {
		KeyHex       string `mapstructure:"keyHex"`
		Header       string `mapstructure:"header"`
		MaxBodyBytes int64  `mapstructure:"maxBodyBytes"`
	} `mapstructure:"obfuscation"`
	Lock struct {
		StaleTimeout time.Duration `mapstructure:"staleTimeout"`
	} `mapstructure:"lock"`
	Cache struct {
		DefaultTTL    time.Duration `mapstructure:"defaultTTL"`
		SweepInterval time.Duration `mapstructure:"sweepInterval"`
	} `mapstructure:"cache"`
	Audit struct {
		Enabled bool   `mapstructure:"enabled"`
		Sink    string `mapstructure:"sink"`
	} `mapstructure:"audit"`
	ValidationMode string   `mapstructure:"validationMode"`
	CORSOrigins    []string `mapstructure:"corsOrigins"`
}

func setDefaults(v *viper.Viper) {
	def := goGuard.DefaultConfig()

	v.SetDefault("running.port", 8080)
	v.SetDefault("running.ginMode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.embedded", true)
	v.SetDefault("redis.prefix", def.Session.RedisPrefix)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("token.secret", "")
	v.SetDefault("token.ttl", def.Token.TTL)
	v.SetDefault("token.issuer", "goguard")
	v.SetDefault("token.audience", "")
	v.SetDefault("token.leeway", def.Token.Leeway)
	v.SetDefault("obfuscation.keyHex", "")
	v.SetDefault("obfuscation.header", def.Obfuscation.Header)
	v.SetDefault("obfuscation.maxBodyBytes", def.Obfuscation.MaxBodyBytes)
	v.SetDefault("lock.staleTimeout", def.Lock.StaleTimeout)
	v.SetDefault("cache.defaultTTL", def.Cache.DefaultTTL)
	v.SetDefault("cache.sweepInterval", def.Cache.SweepInterval)
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.sink", "log")
	v.SetDefault("validationMode", def.ValidationMode.String())
	v.SetDefault("corsOrigins", []string{})
}

// initConfig reads goguard.yaml from path (or ./config, .) and applies
// GOGUARD_* environment overrides, e.g. GOGUARD_TOKEN_SECRET. A missing
// config file is not an error.
func initConfig(path string) (*serverConfig, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("goguard")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GOGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &serverConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *serverConfig) gatewayConfig() (goGuard.Config, error) {
	cfg := goGuard.DefaultConfig()

	cfg.Token.PrivateKey = []byte(c.Token.Secret)
	cfg.Token.TTL = c.Token.TTL
	cfg.Token.Issuer = c.Token.Issuer
	cfg.Token.Audience = c.Token.Audience
	cfg.Token.Leeway = c.Token.Leeway

	if c.Obfuscation.KeyHex != "" {
		key, err := hex.DecodeString(c.Obfuscation.KeyHex)
		if err != nil {
			return cfg, fmt.Errorf("obfuscation.keyHex: %w", err)
		}
		cfg.Obfuscation.Key = key
	}
	cfg.Obfuscation.Header = c.Obfuscation.Header
	cfg.Obfuscation.MaxBodyBytes = c.Obfuscation.MaxBodyBytes

	cfg.Lock.StaleTimeout = c.Lock.StaleTimeout
	cfg.Cache.DefaultTTL = c.Cache.DefaultTTL
	cfg.Cache.SweepInterval = c.Cache.SweepInterval
	cfg.Session.RedisPrefix = c.Redis.Prefix
	cfg.Audit.Enabled = c.Audit.Enabled

	mode, err := goGuard.ParseValidationMode(c.ValidationMode)
	if err != nil {
		return cfg, err
	}
	cfg.ValidationMode = mode

	return cfg, cfg.Validate()
}
