// Package config loads server settings from the environment, with an
// optional .env file for local runs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Listen     string
	WALPath    string
	PrivateKey string
	PublicKey  string

	OutboxDir         string
	KafkaBrokers      []string
	KafkaTopic        string
	BroadcastInterval time.Duration
}

// Load reads TALLY_* variables, falling back to defaults. A missing
// .env file is not an error.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Listen:            get("TALLY_LISTEN", ":8888"),
		WALPath:           get("TALLY_WAL", "log.txt"),
		PrivateKey:        get("TALLY_PRIVATE_KEY", "server.key"),
		PublicKey:         get("TALLY_PUBLIC_KEY", "server.pub"),
		OutboxDir:         get("TALLY_OUTBOX_DIR", "outbox"),
		KafkaBrokers:      split(os.Getenv("TALLY_KAFKA_BROKERS")),
		KafkaTopic:        get("TALLY_KAFKA_TOPIC", "tally.events"),
		BroadcastInterval: duration("TALLY_BROADCAST_INTERVAL", 250*time.Millisecond),
	}
}

func get(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func split(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
