package config

import (
	"os"
	"strings"

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
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Packs     PacksConfig
	ImageGen  ImageGenConfig
	R2        R2Config
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	PacksPerHour int
}

// PacksConfig tunes the pack generation pipeline.
type PacksConfig struct {
	Root              string // output directory for pack trees
	BaseURL           string // public prefix for asset URLs
	StateBackend      string // "memory" or "redis"
	KeepLatest        int    // packs retained per game after cleanup
	ReplayBuffer      int    // progress replay buffer capacity
	HeartbeatSec      int    // idle heartbeat interval
	AdvanceTimeoutSec int    // advance gate continue-anyway timeout
	MinSize           int    // canvas clamp, pixels
	MaxSize           int
	CoverSize         int // default canvas per role
	BoardSize         int
	TokenSize         int
}

type ImageGenConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("IMAGEGEN_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("ratelimit.packs_per_hour", "RATELIMIT_PACKS_PER_HOUR")
	_ = viper.BindEnv("packs.root", "PACKS_ROOT")
	_ = viper.BindEnv("packs.base_url", "PACKS_BASE_URL")
	_ = viper.BindEnv("packs.state_backend", "PACKS_STATE_BACKEND")
	_ = viper.BindEnv("packs.keep_latest", "PACKS_KEEP_LATEST")
	_ = viper.BindEnv("packs.replay_buffer", "PACKS_REPLAY_BUFFER")
	_ = viper.BindEnv("packs.heartbeat_sec", "PACKS_HEARTBEAT_SEC")
	_ = viper.BindEnv("packs.advance_timeout_sec", "PACKS_ADVANCE_TIMEOUT_SEC")
	_ = viper.BindEnv("imagegen.api_key", "IMAGEGEN_API_KEY")
	_ = viper.BindEnv("imagegen.base_url", "IMAGEGEN_BASE_URL")
	_ = viper.BindEnv("imagegen.model", "IMAGEGEN_MODEL")
	_ = viper.BindEnv("imagegen.timeout", "IMAGEGEN_TIMEOUT")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("ratelimit.packs_per_hour", 20)

	// Pack pipeline defaults
	viper.SetDefault("packs.root", "./packs")
	viper.SetDefault("packs.base_url", "")
	viper.SetDefault("packs.state_backend", "memory")
	viper.SetDefault("packs.keep_latest", 2)
	viper.SetDefault("packs.replay_buffer", 200)
	viper.SetDefault("packs.heartbeat_sec", 30)
	viper.SetDefault("packs.advance_timeout_sec", 30)
	viper.SetDefault("packs.min_size", 64)
	viper.SetDefault("packs.max_size", 2048)
	viper.SetDefault("packs.cover_size", 1024)
	viper.SetDefault("packs.board_size", 1024)
	viper.SetDefault("packs.token_size", 512)

	// Image generation defaults
	viper.SetDefault("imagegen.base_url", "https://api.imageforge.dev")
	viper.SetDefault("imagegen.model", "forge-diffusion-xl")
	viper.SetDefault("imagegen.timeout", 120)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			PacksPerHour: viper.GetInt("ratelimit.packs_per_hour"),
		},
		Packs: PacksConfig{
			Root:              viper.GetString("packs.root"),
			BaseURL:           viper.GetString("packs.base_url"),
			StateBackend:      viper.GetString("packs.state_backend"),
			KeepLatest:        viper.GetInt("packs.keep_latest"),
			ReplayBuffer:      viper.GetInt("packs.replay_buffer"),
			HeartbeatSec:      viper.GetInt("packs.heartbeat_sec"),
			AdvanceTimeoutSec: viper.GetInt("packs.advance_timeout_sec"),
			MinSize:           viper.GetInt("packs.min_size"),
			MaxSize:           viper.GetInt("packs.max_size"),
			CoverSize:         viper.GetInt("packs.cover_size"),
			BoardSize:         viper.GetInt("packs.board_size"),
			TokenSize:         viper.GetInt("packs.token_size"),
		},
		ImageGen: ImageGenConfig{
			APIKey:  viper.GetString("imagegen.api_key"),
			BaseURL: viper.GetString("imagegen.base_url"),
			Model:   viper.GetString("imagegen.model"),
			Timeout: viper.GetInt("imagegen.timeout"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
