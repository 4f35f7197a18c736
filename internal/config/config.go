// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/ourfreewp/wp2-update/internal/domain/model"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr  string
	DBPath      string
	PackagesDir string
	Channel     model.Channel
	// SecretKey is the 32-byte AES key protecting stored credentials.
	SecretKey []byte
}

// Load reads configuration from environment variables and returns a validated
// Config. WP2UPDATE_SECRET_KEY is required and must be 64 hex characters
// (32 bytes). Optional variables with defaults: WP2UPDATE_LISTEN_ADDR
// (127.0.0.1:8080), WP2UPDATE_DB_PATH (wp2update.db), WP2UPDATE_PACKAGES_DIR
// (packages), WP2UPDATE_CHANNEL (stable).
func Load() (*Config, error) {
	keyHex := os.Getenv("WP2UPDATE_SECRET_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("WP2UPDATE_SECRET_KEY is required")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("WP2UPDATE_SECRET_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("WP2UPDATE_SECRET_KEY must be 64 hex characters (32 bytes), got %d bytes", len(key))
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("WP2UPDATE_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "wp2update.db"
	if v, ok := os.LookupEnv("WP2UPDATE_DB_PATH"); ok {
		dbPath = v
	}

	packagesDir := "packages"
	if v, ok := os.LookupEnv("WP2UPDATE_PACKAGES_DIR"); ok {
		packagesDir = v
	}

	channel := model.ChannelStable
	if v, ok := os.LookupEnv("WP2UPDATE_CHANNEL"); ok {
		switch model.Channel(v) {
		case model.ChannelStable, model.ChannelBeta:
			channel = model.Channel(v)
		default:
			return nil, fmt.Errorf("WP2UPDATE_CHANNEL must be stable or beta, got %q", v)
		}
	}

	return &Config{
		ListenAddr:  listenAddr,
		DBPath:      dbPath,
		PackagesDir: packagesDir,
		Channel:     channel,
		SecretKey:   key,
	}, nil
}
