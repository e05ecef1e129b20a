package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// MariaDB接続設定
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// サーバー設定
	ServerPort string
	Env        string
	LogLevel   string

	// CORS設定
	AllowedOrigins []string

	// 認証
	JWTSecret string
	JWTIssuer string

	// バックエンド選択
	StoreBackend    string
	PresenceBackend string
	RedisURL        string
	NatsURL         string

	// プレゼンス
	PresenceTTL       time.Duration
	ActivityTTL       time.Duration
	HeartbeatInterval time.Duration

	// プッシュ通知
	PushSubject   string
	PreviewLength int
	NotifyTimeout time.Duration
}

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"

	PresenceMemory = "memory"
	PresenceRedis  = "redis"
	PresenceNATS   = "nats"
)

// Load loads configuration from environment variables
func Load() (Config, error) {
	allowedOrigins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")

	cfg := Config{
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "3306"),
		DBUser:          os.Getenv("DB_USER"),
		DBPassword:      os.Getenv("DB_PASSWORD"),
		DBName:          os.Getenv("DB_NAME"),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:  strings.Split(allowedOrigins, ","),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTIssuer:       os.Getenv("JWT_ISSUER"),
		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", StoreMySQL)),
		PresenceBackend: strings.ToLower(getEnv("PRESENCE_BACKEND", PresenceMemory)),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
		NatsURL:         os.Getenv("NATS_URL"),
		PushSubject:     getEnv("PUSH_SUBJECT", "push.new_message"),
	}

	for i := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(cfg.AllowedOrigins[i])
	}

	var err error
	if cfg.PresenceTTL, err = getDuration("PRESENCE_TTL", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.ActivityTTL, err = getDuration("ACTIVITY_TTL", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.HeartbeatInterval, err = getDuration("HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.NotifyTimeout, err = getDuration("NOTIFY_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.PreviewLength, err = getInt("PREVIEW_LENGTH", 100); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate reports settings the server cannot start with
func (c Config) Validate() error {
	if c.JWTSecret == "" && !c.IsDevelopment() {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}

	switch c.StoreBackend {
	case StoreMySQL, StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.PresenceBackend {
	case PresenceMemory, PresenceRedis:
	case PresenceNATS:
		if c.NatsURL == "" {
			return fmt.Errorf("PRESENCE_BACKEND=nats requires NATS_URL")
		}
	default:
		return fmt.Errorf("unknown PRESENCE_BACKEND %q", c.PresenceBackend)
	}

	if c.PresenceTTL <= 0 || c.ActivityTTL <= 0 || c.HeartbeatInterval <= 0 || c.NotifyTimeout <= 0 {
		return fmt.Errorf("durations must be positive")
	}
	// ハートビートがTTL内に最低1回は届く必要がある
	if c.HeartbeatInterval >= c.PresenceTTL {
		return fmt.Errorf("HEARTBEAT_INTERVAL (%s) must be shorter than PRESENCE_TTL (%s)", c.HeartbeatInterval, c.PresenceTTL)
	}
	if c.PreviewLength <= 0 {
		return fmt.Errorf("PREVIEW_LENGTH must be positive")
	}

	return nil
}

// IsDevelopment reports whether the server runs in the development environment
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// DSN returns the MySQL data source name
func (c Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
