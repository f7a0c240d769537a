package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server ServerConfig `json:"server"`

	// MySQL account database
	Database DatabaseConfig `json:"database"`

	// MongoDB document store (conversations, messages, profiles, media)
	MongoDB MongoDBConfig `json:"mongodb"`

	Redis RedisConfig `json:"redis"`

	NATS NATSConfig `json:"nats"`

	Auth AuthConfig `json:"auth"`

	Realtime RealtimeConfig `json:"realtime"`

	Chat ChatConfig `json:"chat"`

	Logging LoggingConfig `json:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host            string `json:"host"`
	HTTPPort        string `json:"http_port"`
	ChatServicePort string `json:"chat_service_port"` // gRPC health/reflection
	MediaBaseURL    string `json:"media_base_url"`
	ReadTimeout     int    `json:"read_timeout"`  // seconds
	WriteTimeout    int    `json:"write_timeout"` // seconds
	Environment     string `json:"environment"`   // development, staging, production
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	Port         string `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	DatabaseName string `json:"database_name"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

type MongoDBConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type NATSConfig struct {
	Enabled       bool          `json:"enabled"`
	URL           string        `json:"url"`
	SubjectPrefix string        `json:"subject_prefix"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
}

type AuthConfig struct {
	JWTSecret  string `json:"-"`
	CookieName string `json:"cookie_name"`
}

// RealtimeConfig tunes the websocket gateway, presence and event routing
type RealtimeConfig struct {
	PresenceBackend  string        `json:"presence_backend"` // memory, redis
	PresenceLeaseTTL time.Duration `json:"presence_lease_ttl"`
	SendBuffer       int           `json:"send_buffer"`
	MaxMessageSize   int64         `json:"max_message_size"`
	WriteWait        time.Duration `json:"write_wait"`
	PongWait         time.Duration `json:"pong_wait"`
	AllowedOrigins   []string      `json:"allowed_origins"`
}

type ChatConfig struct {
	StoreDriver      string `json:"store_driver"` // mongo, memory
	MaxContentLength int    `json:"max_content_length"`
	MaxWriteRetries  int    `json:"max_write_retries"`
	MaxUploadBytes   int64  `json:"max_upload_bytes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // json, console
	OutputPath string `json:"output_path"` // stdout, stderr, or file path
}

// LoadConfig reads an optional .env file and builds the configuration from the environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			HTTPPort:        httpPort,
			ChatServicePort: getEnv("CHAT_SERVICE_PORT", "7003"),
			MediaBaseURL:    getEnv("MEDIA_BASE_URL", fmt.Sprintf("http://localhost:%s/media", httpPort)),
			ReadTimeout:     getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:    getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			Environment:     getEnv("APP_ENV", "development"),
		},
		Database: DatabaseConfig{
			Enabled:      getEnvAsBool("MYSQL_ENABLED", true),
			Host:         getEnv("MYSQL_HOST", "localhost"),
			Port:         getEnv("MYSQL_PORT", "3306"),
			Username:     getEnv("MYSQL_USERNAME", "conify"),
			Password:     getEnv("MYSQL_PASSWORD", "conify123"),
			DatabaseName: getEnv("MYSQL_DATABASE", "conify"),
			MaxOpenConns: getEnvAsInt("MYSQL_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("MYSQL_MAX_IDLE_CONNS", 5),
		},
		MongoDB: MongoDBConfig{
			Host:     getEnv("MONGO_HOST", "localhost"),
			Port:     getEnv("MONGO_PORT", "27017"),
			Username: getEnv("MONGO_USERNAME", "admin"),
			Password: getEnv("MONGO_PASSWORD", "admin123"),
			Database: getEnv("MONGO_DATABASE", "conify"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 20),
		},
		NATS: NATSConfig{
			Enabled:       getEnvAsBool("NATS_ENABLED", false),
			URL:           getEnv("NATS_URL", "nats://localhost:4222"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "conify"),
			ReconnectWait: getEnvAsDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			CookieName: getEnv("AUTH_COOKIE_NAME", "authToken"),
		},
		Realtime: RealtimeConfig{
			PresenceBackend:  strings.ToLower(getEnv("PRESENCE_BACKEND", "memory")),
			PresenceLeaseTTL: getEnvAsDuration("PRESENCE_LEASE_TTL", 45*time.Second),
			SendBuffer:       getEnvAsInt("WS_SEND_BUFFER", 256),
			MaxMessageSize:   int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 64*1024)),
			WriteWait:        getEnvAsDuration("WS_WRITE_WAIT", 10*time.Second),
			PongWait:         getEnvAsDuration("WS_PONG_WAIT", 60*time.Second),
			AllowedOrigins:   getEnvAsList("WS_ALLOWED_ORIGINS", nil),
		},
		Chat: ChatConfig{
			StoreDriver:      strings.ToLower(getEnv("CHAT_STORE_DRIVER", "mongo")),
			MaxContentLength: getEnvAsInt("CHAT_MAX_CONTENT_LENGTH", 4000),
			MaxWriteRetries:  getEnvAsInt("CHAT_MAX_WRITE_RETRIES", 5),
			MaxUploadBytes:   int64(getEnvAsInt("CHAT_MAX_UPLOAD_BYTES", 10<<20)),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "console"),
			OutputPath: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	return cfg
}

func (cfg *Config) DSN() string {
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "3306"
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Database.Username,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.DatabaseName,
	)
}

func (cfg *Config) GetMongoURI() string {
	m := cfg.MongoDB
	if m.Username == "" && m.Password == "" {
		return fmt.Sprintf("mongodb://%s:%s/%s", m.Host, m.Port, m.Database)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%s/%s?authSource=admin", m.Username, m.Password, m.Host, m.Port, m.Database)
}

// Validate rejects unknown backend drivers, non-positive retry budgets and
// multi-node setups whose state is node-local.
func (cfg *Config) Validate() error {
	switch cfg.Realtime.PresenceBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown presence backend %q", cfg.Realtime.PresenceBackend)
	}
	switch cfg.Chat.StoreDriver {
	case "mongo", "memory":
	default:
		return fmt.Errorf("unknown chat store driver %q", cfg.Chat.StoreDriver)
	}
	if cfg.Chat.MaxWriteRetries < 1 {
		return fmt.Errorf("chat max write retries must be positive, got %d", cfg.Chat.MaxWriteRetries)
	}
	// NATS fans events out to other nodes, so presence and conversations
	// must live in stores every node shares.
	if cfg.NATS.Enabled {
		if cfg.Realtime.PresenceBackend != "redis" {
			return fmt.Errorf("nats requires the redis presence backend, got %q", cfg.Realtime.PresenceBackend)
		}
		if cfg.Chat.StoreDriver == "memory" {
			return errors.New("nats requires a shared chat store, got the memory driver")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
