package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Mode selects how the engine is wired: "local" runs against the
	// synthetic venue adapters, anything else halts at startup.
	Mode string

	// TriggerInterval is how often the keeper loop fires upkeep checks.
	TriggerInterval time.Duration

	// AssetSeed is the comma-separated asset universe for local mode,
	// "symbol:decimals:price" per entry.
	AssetSeed string

	// OwnerAccount is the protocol owner allowed to change parameters.
	OwnerAccount string
	// GuardianAccounts are additionally allowed to pause and unpause.
	GuardianAccounts []string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode, err = getEnv("ORION_MODE")
	if err != nil {
		return err
	}

	triggerSeconds, err := getEnvAsInt64("ORION_TRIGGER_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	if triggerSeconds <= 0 {
		return errors.New("ORION_TRIGGER_INTERVAL_SECONDS must be positive")
	}
	TriggerInterval = time.Duration(triggerSeconds) * time.Second

	AssetSeed, err = getEnv("ORION_ASSETS")
	if err != nil {
		return err
	}

	OwnerAccount, err = getEnv("ORION_OWNER")
	if err != nil {
		return err
	}

	GuardianAccounts = nil
	for _, g := range strings.Split(os.Getenv("ORION_GUARDIANS"), ",") {
		if g = strings.TrimSpace(g); g != "" {
			GuardianAccounts = append(GuardianAccounts, g)
		}
	}

	log.Debug().
		Str("Mode", Mode).
		Dur("TriggerInterval", TriggerInterval).
		Str("Owner", OwnerAccount).
		Int("Guardians", len(GuardianAccounts)).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsInt64 retrieves an environment variable as an int64. Returns error if not set or invalid.
func getEnvAsInt64(key string) (int64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int64, got: " + valueStr)
	}
	return value, nil
}
