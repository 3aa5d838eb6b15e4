package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Crawler  CrawlerConfig
	Browser  BrowserConfig
	Session  SessionConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type CrawlerConfig struct {
	FeedURL               string
	TargetPosts           int
	MaxConcurrentSessions int
	RunTimeout            time.Duration
	RateLimitMin          time.Duration
	RateLimitMax          time.Duration
	MaxRetries            int
	RetryDelay            time.Duration
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	UserAgent      string
	ProxyServer    string
}

type SessionConfig struct {
	TTL       time.Duration
	StoreMode string // "postgres" or "file"
	FilePath  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Crawler: CrawlerConfig{
			FeedURL:               getEnvOrDefault("CRAWLER_FEED_URL", "https://band.us/feed"),
			TargetPosts:           getIntOrDefault("CRAWLER_TARGET_POSTS", 20),
			MaxConcurrentSessions: getIntOrDefault("CRAWLER_MAX_CONCURRENT_SESSIONS", 3),
			RunTimeout:            getDurationOrDefault("CRAWLER_RUN_TIMEOUT", 10*time.Minute),
			RateLimitMin:          getDurationOrDefault("CRAWLER_RATE_LIMIT_MIN", 1*time.Second),
			RateLimitMax:          getDurationOrDefault("CRAWLER_RATE_LIMIT_MAX", 4*time.Second),
			MaxRetries:            getIntOrDefault("CRAWLER_MAX_RETRIES", 3),
			RetryDelay:            getDurationOrDefault("CRAWLER_RETRY_DELAY", 2*time.Second),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "ko-KR,ko;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Asia/Seoul"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "ko-KR"),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", defaultUserAgent),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Session: SessionConfig{
			TTL:       getDurationOrDefault("SESSION_TTL", 24*time.Hour),
			StoreMode: getEnvOrDefault("SESSION_STORE", "postgres"),
			FilePath:  getEnvOrDefault("SESSION_FILE_PATH", "sessions.json"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "band_crawler"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Crawler.MaxConcurrentSessions < 1 {
		return fmt.Errorf("CRAWLER_MAX_CONCURRENT_SESSIONS must be at least 1")
	}

	if c.Crawler.TargetPosts < 1 {
		return fmt.Errorf("CRAWLER_TARGET_POSTS must be at least 1")
	}

	if c.Crawler.RateLimitMin > c.Crawler.RateLimitMax {
		return fmt.Errorf("CRAWLER_RATE_LIMIT_MIN cannot be greater than CRAWLER_RATE_LIMIT_MAX")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	if mode := c.Session.StoreMode; mode != "postgres" && mode != "file" {
		return fmt.Errorf("SESSION_STORE must be postgres or file, got %q", mode)
	}

	return nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
