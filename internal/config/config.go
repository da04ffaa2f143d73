package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	R2         R2Config
	Zitadel    ZitadelConfig
	Provider   ProviderConfig
	Poll       PollConfig
	Watch      WatchConfig
	Session    SessionConfig
	Generation GenerationConfig
	Gateway    GatewayConfig
}

type ServerConfig struct {
	Port         string
	ProviderPort string
	Env          string
	LogLevel     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	SubmitPerHour int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

// ProviderConfig points the job client at a generation provider.
type ProviderConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
}

// PollConfig drives the polling scheduler.
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// WatchConfig drives the watch-to-unlock gate on both sides of the contract.
type WatchConfig struct {
	Throttle       time.Duration
	UnlockFraction float64
}

// SessionConfig bounds the studio's per-user controllers.
type SessionConfig struct {
	// IdleTTL is how long an idle controller is kept before it is evicted.
	IdleTTL time.Duration
}

// GenerationConfig tunes the reference provider's worker.
type GenerationConfig struct {
	StepDelay       time.Duration
	DefaultDuration int // seconds
	BlockedTerms    []string
	PlayTokenTTL    time.Duration
	JobRetention    time.Duration
}

type GatewayConfig struct {
	Enabled bool
}

// SetDefaults registers every default on v. Exposed so the CLI can share them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.provider_port", "8100")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("ratelimit.submit_per_hour", 20)

	// Provider defaults
	v.SetDefault("provider.base_url", "http://localhost:8100")
	v.SetDefault("provider.model", "veo-2")
	v.SetDefault("provider.request_timeout", 30*time.Second)

	// Controller defaults
	v.SetDefault("poll.interval", 2*time.Second)
	v.SetDefault("poll.timeout", 10*time.Minute)
	v.SetDefault("watch.throttle", 3*time.Second)
	v.SetDefault("watch.unlock_fraction", 0.9)
	v.SetDefault("session.idle_ttl", 30*time.Minute)

	// Reference provider defaults
	v.SetDefault("generation.step_delay", 3*time.Second)
	v.SetDefault("generation.default_duration", 8)
	v.SetDefault("generation.blocked_terms", []string{})
	v.SetDefault("generation.play_token_ttl", 24*time.Hour)
	v.SetDefault("generation.job_retention", 24*time.Hour)

	// Gateway defaults
	v.SetDefault("gateway.enabled", false)
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.provider_port", "PROVIDER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = v.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = v.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = v.BindEnv("provider.api_key", "PROVIDER_API_KEY")
	_ = v.BindEnv("provider.base_url", "PROVIDER_BASE_URL")
	_ = v.BindEnv("provider.model", "PROVIDER_MODEL")
	_ = v.BindEnv("provider.request_timeout", "PROVIDER_REQUEST_TIMEOUT")
	_ = v.BindEnv("poll.interval", "POLL_INTERVAL")
	_ = v.BindEnv("poll.timeout", "POLL_TIMEOUT")
	_ = v.BindEnv("watch.throttle", "WATCH_THROTTLE")
	_ = v.BindEnv("watch.unlock_fraction", "WATCH_UNLOCK_FRACTION")
	_ = v.BindEnv("session.idle_ttl", "SESSION_IDLE_TTL")
	_ = v.BindEnv("generation.step_delay", "GENERATION_STEP_DELAY")
	_ = v.BindEnv("generation.default_duration", "GENERATION_DEFAULT_DURATION")
	_ = v.BindEnv("generation.blocked_terms", "GENERATION_BLOCKED_TERMS")
	_ = v.BindEnv("generation.play_token_ttl", "GENERATION_PLAY_TOKEN_TTL")
	_ = v.BindEnv("generation.job_retention", "GENERATION_JOB_RETENTION")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
}

// Load reads configuration from .env files, the environment and an optional
// config.yaml, in that order of precedence (environment wins).
func Load() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("PROVIDER_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	bindEnv(v)
	SetDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	return FromViper(v), nil
}

// FromViper materializes a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:         v.GetString("server.port"),
			ProviderPort: v.GetString("server.provider_port"),
			Env:          v.GetString("server.env"),
			LogLevel:     v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: v.GetInt("ratelimit.submit_per_hour"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Provider: ProviderConfig{
			APIKey:         v.GetString("provider.api_key"),
			BaseURL:        strings.TrimRight(v.GetString("provider.base_url"), "/"),
			Model:          v.GetString("provider.model"),
			RequestTimeout: v.GetDuration("provider.request_timeout"),
		},
		Poll: PollConfig{
			Interval: v.GetDuration("poll.interval"),
			Timeout:  v.GetDuration("poll.timeout"),
		},
		Watch: WatchConfig{
			Throttle:       v.GetDuration("watch.throttle"),
			UnlockFraction: v.GetFloat64("watch.unlock_fraction"),
		},
		Session: SessionConfig{
			IdleTTL: v.GetDuration("session.idle_ttl"),
		},
		Generation: GenerationConfig{
			StepDelay:       v.GetDuration("generation.step_delay"),
			DefaultDuration: v.GetInt("generation.default_duration"),
			BlockedTerms:    splitTerms(v.GetStringSlice("generation.blocked_terms")),
			PlayTokenTTL:    v.GetDuration("generation.play_token_ttl"),
			JobRetention:    v.GetDuration("generation.job_retention"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
	}
}

// splitTerms flattens comma separated entries, which is how a slice arrives
// from a single environment variable.
func splitTerms(raw []string) []string {
	var out []string
	for _, entry := range raw {
		for _, term := range strings.Split(entry, ",") {
			term = strings.TrimSpace(term)
			if term != "" {
				out = append(out, term)
			}
		}
	}
	return out
}
