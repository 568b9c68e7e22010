package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	AppEnv     string
	ServerPort string
	InstanceID string

	StoreDriver string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// RedisURL is optional; without it presence markers, the cluster bus and
	// the translation cache run in-process.
	RedisURL string

	JWTSecret string

	FirebaseProjectID   string
	FirebaseClientEmail string
	FirebasePrivateKey  string
	ExpoPushEnabled     bool
	PushWorkerCount     int

	OpenAIAPIKey           string
	OpenAIModel            string
	TranslationCacheTTL    time.Duration
	TranslationConcurrency int

	WSSendBuffer int

	LogLevel string
	LogFile  string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables")
	}

	v := viper.New()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("STORE_DRIVER", StorePostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "unitalk_dev")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("EXPO_PUSH_ENABLED", true)
	v.SetDefault("PUSH_WORKER_COUNT", 1)
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("TRANSLATION_CACHE_TTL", "24h")
	v.SetDefault("TRANSLATION_CONCURRENCY", 4)
	v.SetDefault("WS_SEND_BUFFER", 64)
	v.SetDefault("LOG_LEVEL", "info")

	v.AutomaticEnv()

	cfg := &Config{
		AppEnv:     v.GetString("APP_ENV"),
		ServerPort: v.GetString("SERVER_PORT"),
		InstanceID: v.GetString("INSTANCE_ID"),

		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		DBHost:      v.GetString("DB_HOST"),
		DBPort:      v.GetString("DB_PORT"),
		DBUser:      v.GetString("DB_USER"),
		DBPassword:  v.GetString("DB_PASSWORD"),
		DBName:      v.GetString("DB_NAME"),
		DBSSLMode:   v.GetString("DB_SSLMODE"),

		RedisURL: v.GetString("REDIS_URL"),

		JWTSecret: v.GetString("JWT_SECRET"),

		FirebaseProjectID:   v.GetString("FIREBASE_PROJECT_ID"),
		FirebaseClientEmail: v.GetString("FIREBASE_CLIENT_EMAIL"),
		// Private keys are usually stored with escaped newlines
		FirebasePrivateKey: strings.ReplaceAll(v.GetString("FIREBASE_PRIVATE_KEY"), `\n`, "\n"),
		ExpoPushEnabled:    v.GetBool("EXPO_PUSH_ENABLED"),
		PushWorkerCount:    v.GetInt("PUSH_WORKER_COUNT"),

		OpenAIAPIKey:           v.GetString("OPENAI_API_KEY"),
		OpenAIModel:            v.GetString("OPENAI_MODEL"),
		TranslationCacheTTL:    v.GetDuration("TRANSLATION_CACHE_TTL"),
		TranslationConcurrency: v.GetInt("TRANSLATION_CONCURRENCY"),

		WSSendBuffer: v.GetInt("WS_SEND_BUFFER"),

		LogLevel: v.GetString("LOG_LEVEL"),
		LogFile:  v.GetString("LOG_FILE"),
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.StoreDriver != StorePostgres && c.StoreDriver != StoreMemory {
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.TranslationCacheTTL <= 0 {
		c.TranslationCacheTTL = 24 * time.Hour
	}
	if c.TranslationConcurrency <= 0 {
		c.TranslationConcurrency = 4
	}
	if c.PushWorkerCount <= 0 {
		c.PushWorkerCount = 1
	}
	if c.WSSendBuffer <= 0 {
		c.WSSendBuffer = 64
	}
	return nil
}

// IsDevelopment reports whether APP_ENV selects development behavior.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "" || c.AppEnv == "development"
}

// FirebaseConfigured reports whether FCM credentials are present.
func (c *Config) FirebaseConfigured() bool {
	return c.FirebaseProjectID != "" && c.FirebaseClientEmail != "" && c.FirebasePrivateKey != ""
}
