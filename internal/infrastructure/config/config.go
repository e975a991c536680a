// Package config loads the gateway's environment-variable
// configuration (spec §6 "Configuration"), the way the teacher's
// internal/infrastructure/config.Load does: spf13/viper with
// AutomaticEnv plus typed defaults, after joho/godotenv has had a
// chance to populate the process environment from a .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every environment-sourced setting the gateway consults
// at startup. Fields mirror the env var names of spec §6 one for one.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	ProxyAPIKey string `mapstructure:"proxy_api_key"`

	RefreshToken string `mapstructure:"refresh_token"`
	ProfileArn   string `mapstructure:"profile_arn"`
	Region       string `mapstructure:"kiro_region"`
	CredsFile    string `mapstructure:"kiro_creds_file"`

	TokenRefreshThreshold time.Duration `mapstructure:"token_refresh_threshold"`
	MaxRetries            int           `mapstructure:"max_retries"`
	BaseRetryDelay        time.Duration `mapstructure:"base_retry_delay"`

	ModelCacheTTL         time.Duration `mapstructure:"model_cache_ttl"`
	DefaultMaxInputTokens int           `mapstructure:"default_max_input_tokens"`
	ToolDescriptionMaxLen int           `mapstructure:"tool_description_max_length"`

	DebugLastRequest bool   `mapstructure:"debug_last_request"`
	DebugDir         string `mapstructure:"debug_dir"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Load reads the env vars named in spec §6, in the order: typed
// defaults, an optional .env file (godotenv, non-fatal if absent),
// then the real process environment via viper.AutomaticEnv.
func Load() (*Config, error) {
	_ = godotenv.Load() // best-effort: a missing .env is not an error

	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	bindEnv(v, "proxy_api_key", "PROXY_API_KEY")
	bindEnv(v, "refresh_token", "REFRESH_TOKEN")
	bindEnv(v, "profile_arn", "PROFILE_ARN")
	bindEnv(v, "kiro_region", "KIRO_REGION")
	bindEnv(v, "kiro_creds_file", "KIRO_CREDS_FILE")
	bindEnv(v, "token_refresh_threshold", "TOKEN_REFRESH_THRESHOLD")
	bindEnv(v, "max_retries", "MAX_RETRIES")
	bindEnv(v, "base_retry_delay", "BASE_RETRY_DELAY")
	bindEnv(v, "model_cache_ttl", "MODEL_CACHE_TTL")
	bindEnv(v, "default_max_input_tokens", "DEFAULT_MAX_INPUT_TOKENS")
	bindEnv(v, "tool_description_max_length", "TOOL_DESCRIPTION_MAX_LENGTH")
	bindEnv(v, "debug_last_request", "DEBUG_LAST_REQUEST")
	bindEnv(v, "debug_dir", "DEBUG_DIR")
	bindEnv(v, "host", "GATEWAY_HOST")
	bindEnv(v, "port", "GATEWAY_PORT")
	bindEnv(v, "log_level", "LOG_LEVEL")
	bindEnv(v, "log_format", "LOG_FORMAT")

	cfg := &Config{
		Host:        v.GetString("host"),
		Port:        v.GetInt("port"),
		ProxyAPIKey: v.GetString("proxy_api_key"),

		RefreshToken: v.GetString("refresh_token"),
		ProfileArn:   v.GetString("profile_arn"),
		Region:       v.GetString("kiro_region"),
		CredsFile:    v.GetString("kiro_creds_file"),

		TokenRefreshThreshold: secondsToDuration(v, "token_refresh_threshold"),
		MaxRetries:            v.GetInt("max_retries"),
		BaseRetryDelay:        floatSecondsToDuration(v, "base_retry_delay"),

		ModelCacheTTL:         secondsToDuration(v, "model_cache_ttl"),
		DefaultMaxInputTokens: v.GetInt("default_max_input_tokens"),
		ToolDescriptionMaxLen: v.GetInt("tool_description_max_length"),

		DebugLastRequest: v.GetBool("debug_last_request"),
		DebugDir:         v.GetString("debug_dir"),

		RequestTimeout: secondsToDuration(v, "request_timeout"),
		RefreshTimeout: secondsToDuration(v, "refresh_timeout"),
		ConnectTimeout: secondsToDuration(v, "connect_timeout"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
	}

	return cfg, nil
}

// bindEnv wires one viper key to one exact-named env var (as opposed
// to viper's default upper-cased-key guess), so KIRO_REGION etc. are
// honored verbatim as spec §6 names them.
func bindEnv(v *viper.Viper, key, env string) {
	_ = v.BindEnv(key, env)
}

func secondsToDuration(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Second
}

// floatSecondsToDuration handles BASE_RETRY_DELAY, whose default (1.0s)
// and common overrides are fractional.
func floatSecondsToDuration(v *viper.Viper, key string) time.Duration {
	raw := v.GetString(key)
	if raw == "" {
		return time.Duration(v.GetFloat64(key) * float64(time.Second))
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Duration(v.GetFloat64(key) * float64(time.Second))
	}
	return time.Duration(f * float64(time.Second))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)

	v.SetDefault("kiro_region", "us-east-1")
	v.SetDefault("token_refresh_threshold", 600)
	v.SetDefault("max_retries", 3)
	v.SetDefault("base_retry_delay", "1.0")

	v.SetDefault("model_cache_ttl", 3600)
	v.SetDefault("default_max_input_tokens", 200000)
	v.SetDefault("tool_description_max_length", 10000)

	v.SetDefault("debug_last_request", false)
	v.SetDefault("debug_dir", "")

	v.SetDefault("request_timeout", 300)
	v.SetDefault("refresh_timeout", 15)
	v.SetDefault("connect_timeout", 10)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Getenv is a small indirection kept for parity with the teacher's
// config package, which reads a handful of settings directly from
// os.Environ() outside viper (e.g. $HOME expansion for file paths).
func Getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
