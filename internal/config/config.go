package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Remote   RemoteConfig
	VWorld   VWorldConfig
	Naver    NaverConfig
	Governor GovernorConfig
	CORS     CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string

	// PortFallbackAttempts is how many successive ports to try when the
	// configured one is already bound. 0 disables the fallback.
	PortFallbackAttempts int
}

// StoreConfig selects the durable store backend.
type StoreConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string

	// SQLitePath is the database file path for the sqlite backend.
	SQLitePath string
}

// DatabaseConfig holds PostgreSQL connection configuration, used when the
// store backend is "postgres".
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// RedisConfig holds the session cache connection. An empty Host disables
// redis and falls back to the in-memory session cache.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	TTL      time.Duration
}

// RemoteConfig holds the optional remote replication target: a REST table
// endpoint with header API-key auth. An empty URL disables replication.
type RemoteConfig struct {
	URL    string
	APIKey string
}

// VWorldConfig holds the cadastral lookup provider settings.
type VWorldConfig struct {
	// Keys is the ordered API key list; lookup tries each until one succeeds.
	Keys     []string
	Endpoint string
	Timeout  time.Duration
}

// NaverConfig holds the geocoding provider credentials.
type NaverConfig struct {
	ClientID     string
	ClientSecret string
	Endpoint     string
	Timeout      time.Duration
}

// GovernorConfig bounds outbound lookup calls per provider.
type GovernorConfig struct {
	VWorldLimit int
	NaverLimit  int
	Window      time.Duration
	HistorySize int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() (*Config, error) {
	// Missing .env is the normal case in production.
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "3000")
	v.SetDefault("PORT_FALLBACK_ATTEMPTS", 5)
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_BACKEND", "sqlite")
	v.SetDefault("SQLITE_PATH", "parcelnote.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "parcelnote")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_TTL_MINUTES", 240)
	v.SetDefault("VWORLD_ENDPOINT", "https://api.vworld.kr/req/data")
	v.SetDefault("VWORLD_TIMEOUT_SECONDS", 15)
	v.SetDefault("NAVER_ENDPOINT", "https://maps.apigw.ntruss.com/map-geocode/v2/geocode")
	v.SetDefault("NAVER_TIMEOUT_SECONDS", 15)
	v.SetDefault("RATE_VWORLD_LIMIT", 50)
	v.SetDefault("RATE_NAVER_LIMIT", 30)
	v.SetDefault("RATE_WINDOW_SECONDS", 60)
	v.SetDefault("RATE_HISTORY_SIZE", 200)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5500")

	// Bind environment variables
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:                 v.GetString("PORT"),
			Env:                  v.GetString("ENV"),
			PortFallbackAttempts: v.GetInt("PORT_FALLBACK_ATTEMPTS"),
		},
		Store: StoreConfig{
			Backend:    strings.ToLower(v.GetString("STORE_BACKEND")),
			SQLitePath: v.GetString("SQLITE_PATH"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASS"),
			DB:       v.GetInt("REDIS_DB"),
			TTL:      time.Duration(v.GetInt("SESSION_TTL_MINUTES")) * time.Minute,
		},
		Remote: RemoteConfig{
			URL:    v.GetString("REMOTE_STORE_URL"),
			APIKey: v.GetString("REMOTE_STORE_API_KEY"),
		},
		VWorld: VWorldConfig{
			Keys:     splitList(v.GetString("VWORLD_API_KEYS")),
			Endpoint: v.GetString("VWORLD_ENDPOINT"),
			Timeout:  time.Duration(v.GetInt("VWORLD_TIMEOUT_SECONDS")) * time.Second,
		},
		Naver: NaverConfig{
			ClientID:     v.GetString("NAVER_CLIENT_ID"),
			ClientSecret: v.GetString("NAVER_CLIENT_SECRET"),
			Endpoint:     v.GetString("NAVER_ENDPOINT"),
			Timeout:      time.Duration(v.GetInt("NAVER_TIMEOUT_SECONDS")) * time.Second,
		},
		Governor: GovernorConfig{
			VWorldLimit: v.GetInt("RATE_VWORLD_LIMIT"),
			NaverLimit:  v.GetInt("RATE_NAVER_LIMIT"),
			Window:      time.Duration(v.GetInt("RATE_WINDOW_SECONDS")) * time.Second,
			HistorySize: v.GetInt("RATE_HISTORY_SIZE"),
		},
		CORS: CORSConfig{
			Origins: splitList(v.GetString("CORS_ORIGINS")),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Server.PortFallbackAttempts < 0 {
		return fmt.Errorf("PORT_FALLBACK_ATTEMPTS must be non-negative")
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required for the postgres backend")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required for the postgres backend")
		}
		if c.Database.User == "" {
			return fmt.Errorf("DB_USER is required for the postgres backend")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the postgres backend")
		}
		if c.Database.PoolMin < 0 {
			return fmt.Errorf("DB_POOL_MIN must be non-negative")
		}
		if c.Database.PoolMax < 1 {
			return fmt.Errorf("DB_POOL_MAX must be at least 1")
		}
		if c.Database.PoolMin > c.Database.PoolMax {
			return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be \"sqlite\" or \"postgres\", got %q", c.Store.Backend)
	}

	if c.Remote.URL != "" && c.Remote.APIKey == "" {
		return fmt.Errorf("REMOTE_STORE_API_KEY is required when REMOTE_STORE_URL is set")
	}

	if c.Governor.VWorldLimit < 1 {
		return fmt.Errorf("RATE_VWORLD_LIMIT must be at least 1")
	}
	if c.Governor.NaverLimit < 1 {
		return fmt.Errorf("RATE_NAVER_LIMIT must be at least 1")
	}
	if c.Governor.Window <= 0 {
		return fmt.Errorf("RATE_WINDOW_SECONDS must be positive")
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	return nil
}

// splitList splits a comma-separated string into trimmed non-empty parts.
func splitList(s string) []string {
	if s == "" {
		return []string{}
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
