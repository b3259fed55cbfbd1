package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBFile      string
	APIAddr     string
	AdminAddr   string
	BaseURL     string
	WSPath      string
	UploadsPath string

	// VAPID key pair for web push. Push delivery is disabled when the
	// pair is empty.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
}

func Load() (*Config, error) {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		DBFile:          getEnv("STUDYBUDDY_DB", "studybuddy.db"),
		APIAddr:         getEnv("API_ADDR", ":3000"),
		AdminAddr:       getEnv("ADMIN_ADDR", "localhost:3001"),
		BaseURL:         getEnv("BASE_URL", "http://localhost:3000"),
		WSPath:          getEnv("WS_PATH", "/ws"),
		UploadsPath:     getEnv("UPLOADS_PATH", "uploads"),
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    getEnv("VAPID_SUBJECT", "mailto:admin@localhost"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("WS_PATH must start with a slash, got %q", c.WSPath)
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
