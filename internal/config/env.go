package config

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string
	StorageBackend string
	StorageRoot    string
	AwsAccessKey   string
	AwsSecretKey   string
	AwsRegion      string
	BucketName     string
	JWTSecret      string
	Port           string
	LogLevel       string

	Tools Tools
}

// Tools holds external command names or absolute paths.
type Tools struct {
	Pdftoppm string
	Antiword string
	Catdoc   string
	Soffice  string
}

// LoadConfig loads the environment variables and returns config.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		DatabaseURL:    getEnv("DATABASE_URL", "sqlite://clindoc.db"),
		StorageBackend: getEnv("STORAGE_BACKEND", "fs"),
		StorageRoot:    getEnv("STORAGE_ROOT", "./data"),
		AwsAccessKey:   getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:   getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:      getEnv("AWS_REGION", "us-east-2"),
		BucketName:     getEnv("BUCKET_NAME", "clindoc-docs"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Tools: Tools{
			Pdftoppm: getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Antiword: getEnv("ANTIWORD_BIN", "antiword"),
			Catdoc:   getEnv("CATDOC_BIN", "catdoc"),
			Soffice:  getEnv("SOFFICE_BIN", "soffice"),
		},
	}
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func defaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

// WithDefaults fills empty tool names with the binaries expected on PATH.
func (t Tools) WithDefaults() Tools {
	if t.Pdftoppm == "" {
		t.Pdftoppm = "pdftoppm"
	}
	if t.Antiword == "" {
		t.Antiword = "antiword"
	}
	if t.Catdoc == "" {
		t.Catdoc = "catdoc"
	}
	if t.Soffice == "" {
		t.Soffice = "soffice"
	}
	return t
}
