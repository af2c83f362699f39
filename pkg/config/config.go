// Package config resolves sponsord's runtime settings from the
// environment and loads the sponsorship profile.
package config

import "os"

// Config is the resolved runtime configuration.
type Config struct {
	Port          string
	LogLevel      string
	DatabaseURL   string
	RedisURL      string
	ProfilePath   string
	LedgerDB      string
	MasterSeed    string
	ArchiveBucket string
	ArchiveRegion string
}

// Load reads configuration from environment variables. Everything has
// a default that works on a laptop; leaving the backend URLs unset
// selects Lite Mode, which needs nothing beyond the local filesystem.
func Load() *Config {
	return &Config{
		Port:     envOr("PORT", "8080"),
		LogLevel: envOr("LOG_LEVEL", "INFO"),

		// Blank keeps receipts and projections in SQLite.
		DatabaseURL: os.Getenv("DATABASE_URL"),
		// Blank keeps rate limiting in process memory.
		RedisURL: os.Getenv("REDIS_URL"),

		ProfilePath: envOr("SPONSORD_PROFILE", "profile.yaml"),
		LedgerDB:    envOr("SPONSORD_LEDGER_DB", "sponsorship.db"),

		// Blank generates an ephemeral signing key at boot.
		MasterSeed:    os.Getenv("SPONSORD_MASTER_SEED"),
		ArchiveBucket: os.Getenv("SPONSORD_ARCHIVE_BUCKET"),
		ArchiveRegion: os.Getenv("SPONSORD_ARCHIVE_REGION"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
