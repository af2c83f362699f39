package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/statsgallery/sponsorship/pkg/auth"
)

// ProfileSchemaConstraint is the range of profile schema versions this
// build understands. Profiles outside it are refused at boot rather
// than half-applied.
const ProfileSchemaConstraint = ">= 1.0.0, < 2.0.0"

// Profile is the operating profile loaded once at boot. Its parameters
// are immutable for the life of the process; changing them means
// shipping a new profile and restarting.
type Profile struct {
	SchemaVersion         string        `yaml:"schema_version" json:"schema_version"`
	Owner                 string        `yaml:"owner" json:"owner"`
	ProposalDurationHours int           `yaml:"proposal_duration_hours" json:"proposal_duration_hours"`
	MinDeposit            int64         `yaml:"min_deposit" json:"min_deposit"`
	Tags                  []string      `yaml:"tags" json:"tags"`
	Badge                 BadgeProfile  `yaml:"badge" json:"badge"`
	Screen                ScreenProfile `yaml:"screen" json:"screen"`
}

// BadgeProfile holds badge pricing and limits.
type BadgeProfile struct {
	RatePerDay         int64 `yaml:"rate_per_day" json:"rate_per_day"`
	MinCreationDeposit int64 `yaml:"min_creation_deposit" json:"min_creation_deposit"`
	MaxActiveDays      int   `yaml:"max_active_days" json:"max_active_days"`
}

// ScreenProfile holds operator CEL rules for the submission screen.
type ScreenProfile struct {
	Rules []string `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// LoadProfile reads and validates a profile YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// ParseProfile decodes profile YAML into a validated Profile with
// defaults applied.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) applyDefaults() {
	if p.ProposalDurationHours == 0 {
		p.ProposalDurationHours = 168 // 7 days
	}
	if p.MinDeposit == 0 {
		p.MinDeposit = 100
	}
	if p.Badge.RatePerDay == 0 {
		p.Badge.RatePerDay = 10
	}
	if p.Badge.MinCreationDeposit == 0 {
		p.Badge.MinCreationDeposit = 150
	}
	if p.Badge.MaxActiveDays == 0 {
		p.Badge.MaxActiveDays = 180
	}
}

// Validate checks the profile against the schema constraint and the
// parameter ranges the store and issuer will demand.
func (p *Profile) Validate() error {
	if p.SchemaVersion == "" {
		return fmt.Errorf("profile schema_version is required")
	}
	v, err := semver.NewVersion(p.SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid profile schema_version %q: %w", p.SchemaVersion, err)
	}
	constraint, err := semver.NewConstraint(ProfileSchemaConstraint)
	if err != nil {
		return fmt.Errorf("invalid schema constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("profile schema %s not supported, this build requires %s", p.SchemaVersion, ProfileSchemaConstraint)
	}

	if err := auth.AccountID(p.Owner).Validate(); err != nil {
		return fmt.Errorf("profile owner: %w", err)
	}
	if p.ProposalDurationHours <= 0 {
		return fmt.Errorf("proposal_duration_hours must be positive, got %d", p.ProposalDurationHours)
	}
	if p.MinDeposit <= 0 {
		return fmt.Errorf("min_deposit must be positive, got %d", p.MinDeposit)
	}
	if p.Badge.RatePerDay <= 0 {
		return fmt.Errorf("badge.rate_per_day must be positive, got %d", p.Badge.RatePerDay)
	}
	if p.Badge.MinCreationDeposit <= 0 {
		return fmt.Errorf("badge.min_creation_deposit must be positive, got %d", p.Badge.MinCreationDeposit)
	}
	if p.Badge.MaxActiveDays <= 0 {
		return fmt.Errorf("badge.max_active_days must be positive, got %d", p.Badge.MaxActiveDays)
	}
	return nil
}

// Duration returns the default proposal time-to-live.
func (p *Profile) Duration() time.Duration {
	return time.Duration(p.ProposalDurationHours) * time.Hour
}

// MaxActive returns the badge active duration cap.
func (b *BadgeProfile) MaxActive() time.Duration {
	return time.Duration(b.MaxActiveDays) * 24 * time.Hour
}
