package osearch

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultTimeout = 60 * time.Second

// Config carries the cluster connection settings. Values come from the
// environment (optionally seeded from a .env file), the same contract the
// original deployment tooling uses.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Insecure  bool
	Timeout   time.Duration
}

// LoadDotEnv seeds the process environment from a .env file. A missing file
// is fine when envPath was not set explicitly.
func LoadDotEnv(envPath string) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			slog.Warn("Failed to load env file", "path", envPath, "error", err)
		}
		return
	}
	if err := godotenv.Load(); err != nil {
		slog.Debug("Skipping .env ...")
	}
}

// FromEnv builds a Config from OPENSEARCH_* environment variables.
func FromEnv() Config {
	host := getenv("OPENSEARCH_URL", "localhost")
	port := getenv("OPENSEARCH_PORT", "9200")

	scheme := "http"
	if os.Getenv("SSL") == "1" {
		scheme = "https"
	}

	timeout := defaultTimeout
	if v := os.Getenv("OPENSEARCH_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	return Config{
		Addresses: []string{fmt.Sprintf("%s://%s:%s", scheme, host, port)},
		Username:  os.Getenv("OPENSEARCH_USERNAME"),
		Password:  os.Getenv("OPENSEARCH_PASSWORD"),
		// Managed domains carry real certificates; everything else is
		// assumed self-signed.
		Insecure: scheme == "https" && !strings.Contains(host, "amazonaws.com"),
		Timeout:  timeout,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
