package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk healthsync configuration.
type Config struct {
	User     string        `yaml:"user"`
	Timezone string        `yaml:"timezone"`
	Storage  StorageConfig `yaml:"storage"`
	Cache    CacheConfig   `yaml:"cache"`
	TTL      TTLConfig     `yaml:"ttl"`
	Limits   LimitsConfig  `yaml:"limits"`
	Remote   RemoteConfig  `yaml:"remote"`
	AI       AIConfig      `yaml:"ai"`
}

// StorageConfig selects the persistent key/value store behind the cache and rate limiter.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory, file, badger
	Path   string `yaml:"path"`
}

// CacheConfig holds the cache size ceilings.
type CacheConfig struct {
	MaxItemBytes  int     `yaml:"max_item_bytes"`
	MaxTotalBytes int     `yaml:"max_total_bytes"`
	CleanupRatio  float64 `yaml:"cleanup_ratio"`
}

// TTLConfig holds per-collection cache lifetimes.
type TTLConfig struct {
	TodayMeals         time.Duration `yaml:"today_meals"`
	History            time.Duration `yaml:"history"`
	Plans              time.Duration `yaml:"plans"`
	SymptomSuggestions time.Duration `yaml:"symptom_suggestions"`
	PatternInsights    time.Duration `yaml:"pattern_insights"`
	CycleInsight       time.Duration `yaml:"cycle_insight"`
	Profile            time.Duration `yaml:"profile"`
	Journal            time.Duration `yaml:"journal"`
	Community          time.Duration `yaml:"community"`
}

// LimitConfig is one fixed-window limiter class.
type LimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// LimitsConfig holds the limiter classes.
type LimitsConfig struct {
	AIText     LimitConfig `yaml:"ai_text"`
	AIVision   LimitConfig `yaml:"ai_vision"`
	MealLog    LimitConfig `yaml:"meal_log"`
	WorkoutLog LimitConfig `yaml:"workout_log"`
}

// RemoteConfig selects the remote backend.
type RemoteConfig struct {
	Driver string `yaml:"driver"` // sqlite, http
	URL    string `yaml:"url"`
	Key    string `yaml:"-"`
	Token  string `yaml:"-"` // bearer token of the signed-in user
	Path   string `yaml:"path"`
}

// AIConfig configures the AI backend.
type AIConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"-"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	home := HomeDir()
	return Config{
		User:    DefaultUser,
		Storage: StorageConfig{Driver: "badger", Path: filepath.Join(home, "store")},
		Cache: CacheConfig{
			MaxItemBytes:  DefaultMaxItemBytes,
			MaxTotalBytes: DefaultMaxTotalBytes,
			CleanupRatio:  DefaultCleanupRatio,
		},
		TTL: TTLConfig{
			TodayMeals:         TTLTodayMeals,
			History:            TTLHistory,
			Plans:              TTLPlans,
			SymptomSuggestions: TTLSymptomSuggestions,
			PatternInsights:    TTLPatternInsights,
			CycleInsight:       TTLCycleInsight,
			Profile:            TTLHistory,
			Journal:            TTLHistory,
			Community:          TTLHistory,
		},
		Limits: LimitsConfig{
			AIText:     LimitConfig{MaxRequests: DefaultAITextRequests, Window: DefaultLimitWindow},
			AIVision:   LimitConfig{MaxRequests: DefaultAIVisionRequests, Window: DefaultLimitWindow},
			MealLog:    LimitConfig{MaxRequests: DefaultMealLogRequests, Window: DefaultLimitWindow},
			WorkoutLog: LimitConfig{MaxRequests: DefaultWorkoutLogRequests, Window: DefaultLimitWindow},
		},
		Remote: RemoteConfig{Driver: "sqlite", Path: filepath.Join(home, "remote.db")},
		AI:     AIConfig{Model: "gpt-4o-mini"},
	}
}

// ConfigPath returns the config file location, honoring HEALTHSYNC_CONFIG.
func ConfigPath() string {
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p
	}
	return filepath.Join(HomeDir(), "config.yaml")
}

// LoadConfig reads the config file at path, creating it with defaults on first run.
// If envFile is non-empty it is loaded into the environment first. Environment
// variables override file values for secrets and endpoints.
func LoadConfig(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			if err := writeDefault(path, cfg); err != nil {
				return Config{}, err
			}
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	cfg.fillDefaults()
	return cfg, nil
}

func writeDefault(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(UserEnvVar); v != "" {
		cfg.User = v
	}
	if v := os.Getenv(RemoteURLEnvVar); v != "" {
		cfg.Remote.URL = v
		cfg.Remote.Driver = "http"
	}
	if v := os.Getenv(RemoteKeyEnvVar); v != "" {
		cfg.Remote.Key = v
	}
	if v := os.Getenv(TokenEnvVar); v != "" {
		cfg.Remote.Token = v
	}
	if v := os.Getenv(OpenAIKeyEnvVar); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv(OpenAIModelVar); v != "" {
		cfg.AI.Model = v
	}
}

// fillDefaults replaces zero values left by a partial config file.
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.User == "" {
		c.User = def.User
	}
	if c.Storage.Driver == "" {
		c.Storage = def.Storage
	}
	if c.Cache.MaxItemBytes <= 0 {
		c.Cache.MaxItemBytes = def.Cache.MaxItemBytes
	}
	if c.Cache.MaxTotalBytes <= 0 {
		c.Cache.MaxTotalBytes = def.Cache.MaxTotalBytes
	}
	if c.Cache.CleanupRatio <= 0 || c.Cache.CleanupRatio > 1 {
		c.Cache.CleanupRatio = def.Cache.CleanupRatio
	}
	fillDuration(&c.TTL.TodayMeals, def.TTL.TodayMeals)
	fillDuration(&c.TTL.History, def.TTL.History)
	fillDuration(&c.TTL.Plans, def.TTL.Plans)
	fillDuration(&c.TTL.SymptomSuggestions, def.TTL.SymptomSuggestions)
	fillDuration(&c.TTL.PatternInsights, def.TTL.PatternInsights)
	fillDuration(&c.TTL.CycleInsight, def.TTL.CycleInsight)
	fillDuration(&c.TTL.Profile, def.TTL.Profile)
	fillDuration(&c.TTL.Journal, def.TTL.Journal)
	fillDuration(&c.TTL.Community, def.TTL.Community)
	fillLimit(&c.Limits.AIText, def.Limits.AIText)
	fillLimit(&c.Limits.AIVision, def.Limits.AIVision)
	fillLimit(&c.Limits.MealLog, def.Limits.MealLog)
	fillLimit(&c.Limits.WorkoutLog, def.Limits.WorkoutLog)
	if c.Remote.Driver == "" {
		c.Remote.Driver = def.Remote.Driver
	}
	if c.Remote.Path == "" {
		c.Remote.Path = def.Remote.Path
	}
	if c.AI.Model == "" {
		c.AI.Model = def.AI.Model
	}
}

func fillDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func fillLimit(l *LimitConfig, def LimitConfig) {
	if l.MaxRequests <= 0 {
		l.MaxRequests = def.MaxRequests
	}
	if l.Window <= 0 {
		l.Window = def.Window
	}
}
