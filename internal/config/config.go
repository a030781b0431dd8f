// Package config loads service settings from the environment, with an
// optional config file named by TASKFLOW_CONFIG.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"taskflow/pkg/gate"
)

// Config holds every setting the server needs.
type Config struct {
	DatabaseURL string
	HTTPAddr    string
	LogLevel    string

	S3 S3Config

	SessionDir          string // empty keeps sessions in memory
	SessionTTL          time.Duration
	SessionSecureCookie bool

	TaskReadPolicy gate.TaskReadPolicy
	CORSOrigins    []string
}

// S3Config describes the object store.
type S3Config struct {
	Endpoint       string
	PublicEndpoint string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	PathStyle      bool
	Timeout        time.Duration
	LinkTTL        time.Duration
}

// required keys have no defaults.
var required = []string{
	"DATABASE_URL",
	"S3_ENDPOINT",
	"S3_PUBLIC_ENDPOINT",
	"S3_REGION",
	"S3_KEY",
	"S3_SECRET",
	"S3_BUCKET",
	"S3_USE_PATH_STYLE",
}

// Load reads configuration from the environment and, when TASKFLOW_CONFIG
// is set, from that file. Environment values win.
func Load() (*Config, error) {
	return load(viper.New())
}

// DatabaseURL reads only DATABASE_URL, for tools that need nothing else.
func DatabaseURL() (string, error) {
	v := viper.New()
	v.AutomaticEnv()
	if file := v.GetString("TASKFLOW_CONFIG"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read config %s: %w", file, err)
		}
	}
	url := strings.TrimSpace(v.GetString("DATABASE_URL"))
	if url == "" {
		return "", errors.New("missing required settings: DATABASE_URL")
	}
	return url, nil
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("S3_TIMEOUT", "30s")
	v.SetDefault("S3_LINK_TTL", "1h")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("SESSION_SECURE_COOKIE", false)
	v.SetDefault("TASK_READ_POLICY", string(gate.TaskReadOpen))

	if file := v.GetString("TASKFLOW_CONFIG"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var missing []string
	for _, key := range required {
		if !v.IsSet(key) || strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	policy, err := gate.ParseTaskReadPolicy(v.GetString("TASK_READ_POLICY"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL: v.GetString("DATABASE_URL"),
		HTTPAddr:    v.GetString("HTTP_ADDR"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		S3: S3Config{
			Endpoint:       v.GetString("S3_ENDPOINT"),
			PublicEndpoint: v.GetString("S3_PUBLIC_ENDPOINT"),
			Region:         v.GetString("S3_REGION"),
			AccessKey:      v.GetString("S3_KEY"),
			SecretKey:      v.GetString("S3_SECRET"),
			Bucket:         v.GetString("S3_BUCKET"),
			PathStyle:      v.GetBool("S3_USE_PATH_STYLE"),
			Timeout:        v.GetDuration("S3_TIMEOUT"),
			LinkTTL:        v.GetDuration("S3_LINK_TTL"),
		},
		SessionDir:          v.GetString("SESSION_DIR"),
		SessionTTL:          v.GetDuration("SESSION_TTL"),
		SessionSecureCookie: v.GetBool("SESSION_SECURE_COOKIE"),
		TaskReadPolicy:      policy,
		CORSOrigins:         splitList(v.GetString("CORS_ORIGINS")),
	}
	if cfg.SessionTTL <= 0 {
		return nil, errors.New("SESSION_TTL must be positive")
	}
	if cfg.S3.Timeout <= 0 || cfg.S3.LinkTTL <= 0 {
		return nil, errors.New("S3_TIMEOUT and S3_LINK_TTL must be positive")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
