package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	JWTSecret       string  `yaml:"jwt_secret"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// DispatchConfig holds every policy constant the dispatch engine uses.
// It is loaded once and injected by reference into each component; nothing
// reads these values from a global.
type DispatchConfig struct {
	// Timezone is the single operating timezone all shift, confirmation
	// and lock deadlines are defined in.
	Timezone string `yaml:"timezone"`

	// DefaultStartHour and DefaultArrivalHour apply to routes that do not
	// configure their own hours.
	DefaultStartHour   int `yaml:"default_start_hour"`
	DefaultArrivalHour int `yaml:"default_arrival_hour"`

	// Confirmation window: [shift start - ConfirmOpenHours, shift start -
	// ConfirmCloseHours], inclusive at both boundaries.
	ConfirmOpenHours  int `yaml:"confirm_open_hours"`
	ConfirmCloseHours int `yaml:"confirm_close_hours"`

	// LateCancelHours classifies a cancellation as late when the time to
	// shift start is at or below this many hours.
	LateCancelHours int `yaml:"late_cancel_hours"`

	// CompetitiveCloseHours is how long before shift start a competitive
	// window closes. InstantCutoffHours is the boundary below which new
	// windows open in instant mode and stored competitive windows are
	// treated as instant.
	CompetitiveCloseHours int `yaml:"competitive_close_hours"`
	InstantCutoffHours    int `yaml:"instant_cutoff_hours"`

	// ReminderLeadHours is the confirmation reminder lead time.
	ReminderLeadHours int `yaml:"reminder_lead_hours"`

	// CompletionEditMinutes is the post-completion window during which
	// parcel counts stay editable.
	CompletionEditMinutes int `yaml:"completion_edit_minutes"`

	// EmergencyBonusPercent is the default pay bonus on emergency windows.
	// EmergencyWindowHours is how long an emergency window stays open:
	// emergencies fire at or after shift start, so their close cannot be
	// derived from it.
	EmergencyBonusPercent int `yaml:"emergency_bonus_percent"`
	EmergencyWindowHours  int `yaml:"emergency_window_hours"`

	// Competitive scoring weights and normalization caps.
	WeightHealth        float64 `yaml:"weight_health"`
	WeightFamiliarity   float64 `yaml:"weight_familiarity"`
	WeightSeniority     float64 `yaml:"weight_seniority"`
	WeightPreference    float64 `yaml:"weight_preference"`
	EliteScoreThreshold float64 `yaml:"elite_score_threshold"`
	FamiliarityRuns     int     `yaml:"familiarity_runs"`
	SeniorityMonths     int     `yaml:"seniority_months"`
	PreferredTopN       int     `yaml:"preferred_top_n"`

	// Health scoring policy.
	HealthyThreshold   float64 `yaml:"healthy_threshold"`
	MaxScore           float64 `yaml:"max_score"`
	LateCancelLimit    int     `yaml:"late_cancel_limit"`
	LateCancelDays     int     `yaml:"late_cancel_days"`
	HighVolumeParcels  int     `yaml:"high_volume_parcels"`
	MaxStars           int     `yaml:"max_stars"`
	StreakWeeksPerStar int     `yaml:"streak_weeks_per_star"`

	// Preference lock cutover: the weekday/hour/minute (operating time) at
	// which the active cycle's driver preferences freeze. Weekday 0 is
	// Sunday.
	LockWeekday int `yaml:"lock_weekday"`
	LockHour    int `yaml:"lock_hour"`
	LockMinute  int `yaml:"lock_minute"`
}

// PipelineConfig controls the evaluator cadence.
type PipelineConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.Dispatch.ApplyDefaults()
	if _, err := time.LoadLocation(cfg.Dispatch.Timezone); err != nil {
		return nil, fmt.Errorf("invalid operating timezone %q: %w", cfg.Dispatch.Timezone, err)
	}

	if cfg.Pipeline.IntervalSeconds <= 0 {
		cfg.Pipeline.IntervalSeconds = 300
	}
	cfg.Pipeline.Interval = time.Duration(cfg.Pipeline.IntervalSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}

	return &cfg, nil
}

// ApplyDefaults fills in the standard dispatch policy for any zero-valued
// field. Exposed so tests can build a policy without a config file.
func (d *DispatchConfig) ApplyDefaults() {
	if d.Timezone == "" {
		d.Timezone = "America/New_York"
	}
	if d.DefaultStartHour <= 0 {
		d.DefaultStartHour = 9
	}
	if d.DefaultArrivalHour <= 0 {
		d.DefaultArrivalHour = 9
	}
	if d.ConfirmOpenHours <= 0 {
		d.ConfirmOpenHours = 7 * 24
	}
	if d.ConfirmCloseHours <= 0 {
		d.ConfirmCloseHours = 48
	}
	if d.LateCancelHours <= 0 {
		d.LateCancelHours = 48
	}
	if d.CompetitiveCloseHours <= 0 {
		d.CompetitiveCloseHours = 24
	}
	if d.InstantCutoffHours <= 0 {
		d.InstantCutoffHours = 24
	}
	if d.ReminderLeadHours <= 0 {
		d.ReminderLeadHours = 72
	}
	if d.CompletionEditMinutes <= 0 {
		d.CompletionEditMinutes = 60
	}
	if d.EmergencyBonusPercent <= 0 {
		d.EmergencyBonusPercent = 15
	}
	if d.EmergencyWindowHours <= 0 {
		d.EmergencyWindowHours = 4
	}
	if d.WeightHealth == 0 {
		d.WeightHealth = 0.45
	}
	if d.WeightFamiliarity == 0 {
		d.WeightFamiliarity = 0.25
	}
	if d.WeightSeniority == 0 {
		d.WeightSeniority = 0.15
	}
	if d.WeightPreference == 0 {
		d.WeightPreference = 0.15
	}
	if d.EliteScoreThreshold <= 0 {
		d.EliteScoreThreshold = 90
	}
	if d.FamiliarityRuns <= 0 {
		d.FamiliarityRuns = 20
	}
	if d.SeniorityMonths <= 0 {
		d.SeniorityMonths = 12
	}
	if d.PreferredTopN <= 0 {
		d.PreferredTopN = 3
	}
	if d.HealthyThreshold <= 0 {
		d.HealthyThreshold = 70
	}
	if d.MaxScore <= 0 {
		d.MaxScore = 100
	}
	if d.LateCancelLimit <= 0 {
		d.LateCancelLimit = 2
	}
	if d.LateCancelDays <= 0 {
		d.LateCancelDays = 30
	}
	if d.HighVolumeParcels <= 0 {
		d.HighVolumeParcels = 120
	}
	if d.MaxStars <= 0 {
		d.MaxStars = 5
	}
	if d.StreakWeeksPerStar <= 0 {
		d.StreakWeeksPerStar = 4
	}
	if d.LockHour <= 0 {
		d.LockHour = 23
	}
	if d.LockMinute <= 0 {
		d.LockMinute = 59
	}
	// LockWeekday's zero value is Sunday, which is the default cutover day.
}

// Location resolves the operating timezone. The zone is validated at load
// time, so a failure here is a programming error.
func (d *DispatchConfig) Location() *time.Location {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		panic(fmt.Sprintf("operating timezone %q: %v", d.Timezone, err))
	}
	return loc
}
