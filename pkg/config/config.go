package config

import (
	"fmt"
	"math"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for pulse-engine.
// Configuration can come from a YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values. Secrets
// (GITHUB_TOKEN, PGPASSWORD) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	GitHub    GitHubConfig    `yaml:"github"`
	Database  DatabaseConfig  `yaml:"database"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Queue     QueueConfig     `yaml:"queue"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Watchlist WatchlistConfig `yaml:"watchlist"`
}

// GitHubConfig holds settings for the metered GitHub API client.
type GitHubConfig struct {
	// Token is the personal access token. Secret - not in YAML.
	Token   string `yaml:"-" env:"GITHUB_TOKEN"`
	BaseURL string `yaml:"base_url" env:"GITHUB_BASE_URL" env-default:"https://api.github.com"`

	// SafetyThreshold is the quota floor: once the remaining core-pool quota
	// reaches this value no further calls are issued. Defaults to ~10% of
	// the authenticated 5000/hour ceiling.
	SafetyThreshold int `yaml:"safety_threshold" env:"GITHUB_SAFETY_THRESHOLD" env-default:"500"`

	// MaxRetries bounds backoff attempts on secondary rate limits.
	MaxRetries     int `yaml:"max_retries" env:"GITHUB_MAX_RETRIES" env-default:"3"`
	TimeoutSeconds int `yaml:"timeout_seconds" env:"GITHUB_TIMEOUT_SECONDS" env-default:"30"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"pulse"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"pulse_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
}

// URL renders the pgx connection string.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// DiscoveryConfig holds the eligibility predicate thresholds for the broad
// discovery sweep. A repository is eligible when all conditions hold.
type DiscoveryConfig struct {
	MinStars         int `yaml:"min_stars" env:"DISCOVERY_MIN_STARS" env-default:"2000"`
	MaxAgeMonths     int `yaml:"max_age_months" env:"DISCOVERY_MAX_AGE_MONTHS" env-default:"24"`
	MaxDaysSincePush int `yaml:"max_days_since_push" env:"DISCOVERY_MAX_DAYS_SINCE_PUSH" env-default:"90"`
	MaxSearchPages   int `yaml:"max_search_pages" env:"DISCOVERY_MAX_SEARCH_PAGES" env-default:"10"`
}

// QueueConfig holds the windows and thresholds behind the priority tiers.
type QueueConfig struct {
	NewlyEligibleDays int `yaml:"newly_eligible_days" env:"QUEUE_NEWLY_ELIGIBLE_DAYS" env-default:"14"`
	ActivitySpikeDays int `yaml:"activity_spike_days" env:"QUEUE_ACTIVITY_SPIKE_DAYS" env-default:"3"`
	StaleDays         int `yaml:"stale_days" env:"QUEUE_STALE_DAYS" env-default:"30"`

	// VelocityThreshold is the stars/day rate above which a repository is
	// considered high momentum.
	VelocityThreshold float64 `yaml:"velocity_threshold" env:"QUEUE_VELOCITY_THRESHOLD" env-default:"10"`
}

// AnalysisConfig holds the self-imposed per-run budget for deep analysis.
// The budget is independent of, but bounded by, the external quota.
type AnalysisConfig struct {
	MaxCallsPerRun    int `yaml:"max_calls_per_run" env:"ANALYSIS_MAX_CALLS_PER_RUN" env-default:"5000"`
	MaxEntitiesPerRun int `yaml:"max_entities_per_run" env:"ANALYSIS_MAX_ENTITIES_PER_RUN" env-default:"100"`
}

// TrackWeights holds the normalized sub-signal weights of one scoring track.
// Each track's weights must sum to 1.0.
type TrackWeights struct {
	First  float64 `yaml:"first"`
	Second float64 `yaml:"second"`
	Third  float64 `yaml:"third"`
}

func (w TrackWeights) sum() float64 { return w.First + w.Second + w.Third }

// WatchlistConfig holds scoring weights and inclusion thresholds for
// watchlist generation.
type WatchlistConfig struct {
	// Momentum: star velocity / time-to-threshold / commit trend.
	Momentum TrackWeights `yaml:"momentum" env-default:""`
	// Durability: active contributors / bus factor / responsiveness.
	Durability TrackWeights `yaml:"durability" env-default:""`
	// Adoption: dependents / downloads / fork-to-star ratio.
	Adoption TrackWeights `yaml:"adoption" env-default:""`

	// StarThreshold is the visibility bar whose recent crossing qualifies a
	// repository for inclusion.
	StarThreshold   int `yaml:"star_threshold" env:"WATCHLIST_STAR_THRESHOLD" env-default:"2000"`
	RecentCrossDays int `yaml:"recent_cross_days" env:"WATCHLIST_RECENT_CROSS_DAYS" env-default:"30"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. If no config file exists, environment variables alone are used.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.applyWeightDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyWeightDefaults fills in the default track weights when the YAML file
// leaves a track unset (cleanenv has no struct-valued env-default).
func (c *Config) applyWeightDefaults() {
	if c.Watchlist.Momentum.sum() == 0 {
		c.Watchlist.Momentum = TrackWeights{First: 0.4, Second: 0.3, Third: 0.3}
	}
	if c.Watchlist.Durability.sum() == 0 {
		c.Watchlist.Durability = TrackWeights{First: 0.4, Second: 0.3, Third: 0.3}
	}
	if c.Watchlist.Adoption.sum() == 0 {
		c.Watchlist.Adoption = TrackWeights{First: 0.5, Second: 0.3, Third: 0.2}
	}
}

// Validate rejects configurations that would break pipeline invariants.
func (c *Config) Validate() error {
	if c.GitHub.SafetyThreshold < 0 {
		return fmt.Errorf("github.safety_threshold must be >= 0")
	}
	if c.Discovery.MinStars <= 0 {
		return fmt.Errorf("discovery.min_stars must be > 0")
	}
	if c.Analysis.MaxCallsPerRun <= 0 {
		return fmt.Errorf("analysis.max_calls_per_run must be > 0")
	}
	if c.Queue.StaleDays <= 0 {
		return fmt.Errorf("queue.stale_days must be > 0")
	}
	for name, w := range map[string]TrackWeights{
		"momentum":   c.Watchlist.Momentum,
		"durability": c.Watchlist.Durability,
		"adoption":   c.Watchlist.Adoption,
	} {
		if math.Abs(w.sum()-1.0) > 1e-9 {
			return fmt.Errorf("watchlist.%s weights must sum to 1.0, got %v", name, w.sum())
		}
	}
	return nil
}
