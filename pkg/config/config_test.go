package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/statsgallery/sponsorship/pkg/config"
)

// knownVars lists every environment variable Load reads. Tests blank
// them all first so values leaking in from the host cannot skew results.
var knownVars = []string{
	"PORT",
	"LOG_LEVEL",
	"DATABASE_URL",
	"REDIS_URL",
	"SPONSORD_PROFILE",
	"SPONSORD_LEDGER_DB",
	"SPONSORD_MASTER_SEED",
	"SPONSORD_ARCHIVE_BUCKET",
	"SPONSORD_ARCHIVE_REGION",
}

func load(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	for _, v := range knownVars {
		t.Setenv(v, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	return config.Load()
}

func TestLoadDefaults(t *testing.T) {
	cfg := load(t, nil)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "profile.yaml", cfg.ProfilePath)
	assert.Equal(t, "sponsorship.db", cfg.LedgerDB)

	// Blank backends select Lite Mode, which runs on SQLite with an
	// in-process limiter and an ephemeral signing key.
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.MasterSeed)
	assert.Empty(t, cfg.ArchiveBucket)
}

func TestLoadOverrides(t *testing.T) {
	cfg := load(t, map[string]string{
		"PORT":                    "9090",
		"LOG_LEVEL":               "DEBUG",
		"DATABASE_URL":            "postgres://production:5432/db",
		"REDIS_URL":               "redis://cache:6379/0",
		"SPONSORD_PROFILE":        "/etc/sponsord/profile.yaml",
		"SPONSORD_LEDGER_DB":      "/var/lib/sponsord/ledger.db",
		"SPONSORD_MASTER_SEED":    "aa44",
		"SPONSORD_ARCHIVE_BUCKET": "sponsor-audit-packs",
		"SPONSORD_ARCHIVE_REGION": "eu-west-1",
	})

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://production:5432/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, "/etc/sponsord/profile.yaml", cfg.ProfilePath)
	assert.Equal(t, "/var/lib/sponsord/ledger.db", cfg.LedgerDB)
	assert.Equal(t, "aa44", cfg.MasterSeed)
	assert.Equal(t, "sponsor-audit-packs", cfg.ArchiveBucket)
	assert.Equal(t, "eu-west-1", cfg.ArchiveRegion)
}
