// Package core provides shared constants, configuration and helpers for healthsync.
package core

import (
	"os"
	"path/filepath"
	"time"
)

// Remote configuration
const (
	RemoteURLEnvVar = "HEALTHSYNC_REMOTE_URL"
	RemoteKeyEnvVar = "HEALTHSYNC_REMOTE_KEY"
	ConfigEnvVar    = "HEALTHSYNC_CONFIG"
	OpenAIKeyEnvVar = "OPENAI_API_KEY"
	OpenAIModelVar  = "OPENAI_MODEL"
	UserEnvVar      = "HEALTHSYNC_USER"
	TokenEnvVar     = "HEALTHSYNC_ACCESS_TOKEN"
)

// DefaultUser is the user scope of a single-user local install.
const DefaultUser = "local"

// Date formats
const (
	APIDateFmt     = "2006-01-02"
	APIDatetimeFmt = "2006-01-02 15:04:05"
)

// Cache domains used in composite keys.
const (
	DomainProfile   = "profile"
	DomainNutrition = "nutrition"
	DomainFitness   = "fitness"
	DomainWellness  = "wellness"
	DomainJournal   = "journal"
	DomainCommunity = "community"
)

// Cache size defaults
const (
	DefaultMaxItemBytes  = 512 * 1024
	DefaultMaxTotalBytes = 4 * 1024 * 1024
	DefaultCleanupRatio  = 0.9
)

// TTL defaults by data volatility
const (
	TTLTodayMeals         = 10 * time.Minute
	TTLHistory            = 30 * time.Minute
	TTLPlans              = 60 * time.Minute
	TTLSymptomSuggestions = 7 * 24 * time.Hour
	TTLPatternInsights    = 24 * time.Hour
	TTLCycleInsight       = 24 * time.Hour
)

// Rate limit defaults
const (
	DefaultAITextRequests     = 10
	DefaultAIVisionRequests   = 5
	DefaultMealLogRequests    = 30
	DefaultWorkoutLogRequests = 20
	DefaultLimitWindow        = time.Minute
)

// Default cycle length when a profile has none recorded.
const DefaultCycleLength = 28

// HomeDir returns the default healthsync data directory path.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".healthsync")
}

// Version is the current CLI version.
const Version = "0.3.0"
