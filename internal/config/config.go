package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port      string
	Env       string
	LogLevel  string
	StaticDir string

	// Database
	DatabaseURL string

	// Redis
	RedisURL     string
	ChatCacheTTL time.Duration
	WorkerCount  int

	// Identity
	AuthJWTSecret string
	AuthIssuer    string

	// Storage
	StorageType string
	StoragePath string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	MaxUploadMB int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:          getEnvOrDefault("PORT", "3000"),
		Env:           getEnvOrDefault("ENV", "development"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		StaticDir:     getEnvOrDefault("STATIC_DIR", ""),
		DatabaseURL:   mustGetEnv("DATABASE_URL"),
		RedisURL:      mustGetEnv("REDIS_URL"),
		ChatCacheTTL:  time.Duration(getEnvAsIntOrDefault("CHAT_CACHE_TTL_SECONDS", 300)) * time.Second,
		WorkerCount:   getEnvAsIntOrDefault("WORKER_COUNT", 2),
		AuthJWTSecret: mustGetEnv("AUTH_JWT_SECRET"),
		AuthIssuer:    getEnvOrDefault("AUTH_ISSUER", ""),
		StorageType:   getEnvOrDefault("STORAGE_TYPE", "local"),
		StoragePath:   getEnvOrDefault("STORAGE_PATH", "./uploads"),
		S3Bucket:      getEnvOrDefault("S3_BUCKET", ""),
		S3Region:      getEnvOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:    getEnvOrDefault("S3_ENDPOINT", ""),
		S3AccessKey:   getEnvOrDefault("S3_ACCESS_KEY", ""),
		S3SecretKey:   getEnvOrDefault("S3_SECRET_KEY", ""),
		MaxUploadMB:   getEnvAsIntOrDefault("MAX_UPLOAD_MB", 10),
		FrontendURL:   getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	if cfg.StorageType == "s3" && cfg.S3Bucket == "" {
		panic("S3_BUCKET is required when STORAGE_TYPE=s3")
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
