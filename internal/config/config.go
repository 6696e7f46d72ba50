package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// Values come from env, optionally layered over a config file passed with --config.
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Twilio TwilioConfig
	Voice  VoiceConfig
	Alerts AlertsConfig
	Log    LogConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// APIBaseURL is overridable for tests and regional edges.
	APIBaseURL string

	// PublicBaseURL is the externally reachable origin used in callback URLs.
	PublicBaseURL string
}

// VoiceConfig tunes call handling.
type VoiceConfig struct {
	RingTimeoutSeconds     int
	InboundEstimateMinutes int
	RecordOutbound         bool

	// MaxConcurrentCalls caps outbound calls per business. 0 disables the cap.
	MaxConcurrentCalls int

	HoldMusicURL        string
	VoicemailPrompt     string
	VoicemailMaxSeconds int
}

// AlertsConfig thresholds are in credit-minutes.
type AlertsConfig struct {
	WarningThreshold  int
	CriticalThreshold int
	Stream            string
	StreamMaxLen      int64
	BufferSize        int
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads configuration from the environment and, when configFile is set, from that file.
// Environment always wins over the file.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(v.GetString("APP_ENV"))
	c.App.Port, parseErrs = intKey(v, "APP_PORT", parseErrs)

	c.DB.Host = strings.TrimSpace(v.GetString("DB_HOST"))
	c.DB.Port, parseErrs = intKey(v, "DB_PORT", parseErrs)
	c.DB.User = strings.TrimSpace(v.GetString("DB_USER"))
	c.DB.Password = v.GetString("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(v.GetString("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(v.GetString("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(v.GetString("REDIS_HOST"))
	c.Redis.Port, parseErrs = intKey(v, "REDIS_PORT", parseErrs)
	c.Redis.Password = v.GetString("REDIS_PASSWORD")
	c.Redis.DB, parseErrs = intKey(v, "REDIS_DB", parseErrs)

	c.Auth.JWTSecret = v.GetString("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(v.GetString("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(v.GetString("JWT_AUDIENCE"))
	// Duration vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = durationKey(v, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = durationKey(v, "JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(v.GetString("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = v.GetString("TWILIO_AUTH_TOKEN")
	c.Twilio.APIBaseURL = strings.TrimRight(strings.TrimSpace(v.GetString("TWILIO_API_BASE_URL")), "/")
	c.Twilio.PublicBaseURL = strings.TrimRight(strings.TrimSpace(v.GetString("PUBLIC_BASE_URL")), "/")

	c.Voice.RingTimeoutSeconds, parseErrs = intKey(v, "VOICE_RING_TIMEOUT_SECONDS", parseErrs)
	c.Voice.InboundEstimateMinutes, parseErrs = intKey(v, "VOICE_INBOUND_ESTIMATE_MINUTES", parseErrs)
	c.Voice.RecordOutbound = v.GetBool("VOICE_RECORD_OUTBOUND")
	c.Voice.MaxConcurrentCalls, parseErrs = intKey(v, "VOICE_MAX_CONCURRENT_CALLS", parseErrs)
	c.Voice.HoldMusicURL = strings.TrimSpace(v.GetString("VOICE_HOLD_MUSIC_URL"))
	c.Voice.VoicemailPrompt = strings.TrimSpace(v.GetString("VOICE_VOICEMAIL_PROMPT"))
	c.Voice.VoicemailMaxSeconds, parseErrs = intKey(v, "VOICE_VOICEMAIL_MAX_SECONDS", parseErrs)

	c.Alerts.WarningThreshold, parseErrs = intKey(v, "ALERT_WARNING_MINUTES", parseErrs)
	c.Alerts.CriticalThreshold, parseErrs = intKey(v, "ALERT_CRITICAL_MINUTES", parseErrs)
	c.Alerts.Stream = strings.TrimSpace(v.GetString("ALERT_STREAM"))
	c.Alerts.StreamMaxLen = v.GetInt64("ALERT_STREAM_MAXLEN")
	c.Alerts.BufferSize, parseErrs = intKey(v, "ALERT_BUFFER_SIZE", parseErrs)

	c.Log.File = strings.TrimSpace(v.GetString("LOG_FILE"))
	c.Log.MaxSizeMB, parseErrs = intKey(v, "LOG_MAX_SIZE_MB", parseErrs)
	c.Log.MaxBackups, parseErrs = intKey(v, "LOG_MAX_BACKUPS", parseErrs)
	c.Log.MaxAgeDays, parseErrs = intKey(v, "LOG_MAX_AGE_DAYS", parseErrs)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("TWILIO_API_BASE_URL", "https://api.twilio.com")
	v.SetDefault("VOICE_RING_TIMEOUT_SECONDS", 30)
	v.SetDefault("VOICE_INBOUND_ESTIMATE_MINUTES", 5)
	v.SetDefault("VOICE_RECORD_OUTBOUND", true)
	v.SetDefault("VOICE_MAX_CONCURRENT_CALLS", 0)
	v.SetDefault("VOICE_VOICEMAIL_PROMPT", "Please leave a message after the tone.")
	v.SetDefault("VOICE_VOICEMAIL_MAX_SECONDS", 120)
	v.SetDefault("ALERT_WARNING_MINUTES", 50)
	v.SetDefault("ALERT_CRITICAL_MINUTES", 10)
	v.SetDefault("ALERT_STREAM", "voice:alerts")
	v.SetDefault("ALERT_STREAM_MAXLEN", 10000)
	v.SetDefault("ALERT_BUFFER_SIZE", 256)
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 14)
}

// Validate checks required values and fills env-dependent defaults.
// It has a pointer receiver because defaults are written back.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Twilio.AccountSID == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required in production"))
		}
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required in production"))
		}
		if c.Twilio.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Voice.RingTimeoutSeconds <= 0 {
		c.Voice.RingTimeoutSeconds = 30
	}
	if c.Voice.RingTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("VOICE_RING_TIMEOUT_SECONDS must be <= 600, got %d", c.Voice.RingTimeoutSeconds))
	}
	if c.Voice.InboundEstimateMinutes <= 0 {
		c.Voice.InboundEstimateMinutes = 5
	}
	if c.Voice.VoicemailMaxSeconds <= 0 {
		c.Voice.VoicemailMaxSeconds = 120
	}
	if c.Voice.VoicemailMaxSeconds > 3600 {
		errs = append(errs, fmt.Errorf("VOICE_VOICEMAIL_MAX_SECONDS must be <= 3600, got %d", c.Voice.VoicemailMaxSeconds))
	}
	if c.Voice.MaxConcurrentCalls < 0 {
		errs = append(errs, fmt.Errorf("VOICE_MAX_CONCURRENT_CALLS must be >= 0, got %d", c.Voice.MaxConcurrentCalls))
	}

	if c.Alerts.WarningThreshold <= 0 {
		c.Alerts.WarningThreshold = 50
	}
	if c.Alerts.CriticalThreshold <= 0 {
		c.Alerts.CriticalThreshold = 10
	}
	if c.Alerts.CriticalThreshold >= c.Alerts.WarningThreshold {
		errs = append(errs, errors.New("ALERT_CRITICAL_MINUTES must be lower than ALERT_WARNING_MINUTES"))
	}
	if c.Alerts.Stream == "" {
		c.Alerts.Stream = "voice:alerts"
	}
	if c.Alerts.BufferSize <= 0 {
		c.Alerts.BufferSize = 256
	}

	if c.Twilio.APIBaseURL == "" {
		c.Twilio.APIBaseURL = "https://api.twilio.com"
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// intKey reads an integer key. Unset keys read as 0 and are reported by Validate where required.
func intKey(v *viper.Viper, key string, errs []error) (int, []error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, raw))
	}
	return n, errs
}

func durationKey(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
