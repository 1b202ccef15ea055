package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/OrionFinanceAI/orion-engine/internal/adapter"
	"github.com/OrionFinanceAI/orion-engine/internal/config"
	"github.com/OrionFinanceAI/orion-engine/internal/engine"
	"github.com/OrionFinanceAI/orion-engine/internal/intents"
	"github.com/OrionFinanceAI/orion-engine/internal/logger"
	"github.com/OrionFinanceAI/orion-engine/internal/oracle"
	"github.com/OrionFinanceAI/orion-engine/internal/registry"
	"github.com/OrionFinanceAI/orion-engine/internal/state"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
	"github.com/OrionFinanceAI/orion-engine/internal/vault"
	"github.com/OrionFinanceAI/orion-engine/internal/web"
)

// main is the entry point for the Orion engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Orion Engine Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load Protocol Parameters
	params, err := state.LoadActiveProtocolParameters(config.DefaultProtocolParameters)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load protocol parameters")
	}
	log.Info().
		Int64("bufferRatioBps", params.TargetBufferRatioBps).
		Int("maxFulfillBatchSize", params.MaxFulfillBatchSize).
		Dur("epochDuration", params.EpochDuration).
		Msg("Protocol parameters loaded successfully.")

	// --- 2. Protocol Wiring (with Safety Switch) ---
	if config.Mode != "local" {
		log.Fatal().Msg("ORION_MODE is not set to 'local'. Halting: no live venue adapters are wired in this build. Set ORION_MODE=local to run against synthetic venues.")
	}

	reg, err := registry.NewRegistry(config.OwnerAccount, config.GuardianAccounts, params)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create protocol registry")
	}
	if err := seedLocalUniverse(reg, config.AssetSeed); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed local asset universe")
	}

	broker := intents.NewBroker()
	decrypter := intents.NewLocalDecrypter(broker)
	directory := vault.NewDirectory()
	if _, err := vault.NewFactory(reg, broker, directory); err != nil {
		log.Fatal().Err(err).Msg("Failed to create vault factory")
	}

	// --- 3. Create Orchestrators with Dependency Injection ---
	recorder := state.NewPostgresRecorder()
	aggregator, err := engine.NewInternalStateOrchestrator(engine.InternalStateConfig{
		Registry: reg,
		Vaults:   directory,
		Recorder: recorder,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create aggregation orchestrator")
	}
	executor, err := engine.NewLiquidityOrchestrator(engine.LiquidityConfig{
		Registry: reg,
		Plans:    aggregator,
		Recorder: recorder,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create execution orchestrator")
	}

	// --- Start Web Server ---
	webServer := web.NewWebServer(web.Config{
		Port:       os.Getenv("WEB_PORT"),
		Registry:   reg,
		Vaults:     directory,
		Aggregator: aggregator,
		Executor:   executor,
	})
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Start Keeper Loop ---
	ctx := context.Background()

	// Local mode has no external decryption oracle; drain pending encrypted
	// intents on the same cadence as the keeper.
	go func() {
		ticker := time.NewTicker(config.TriggerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := decrypter.Flush(); n > 0 {
					log.Info().Int("resolved", n).Msg("Resolved pending encrypted intents")
				}
			}
		}
	}()

	keeper := engine.NewKeeper(aggregator, executor)
	keeper.RunLoop(ctx, config.TriggerInterval)
}

// seedLocalUniverse whitelists the configured assets and registers a static
// oracle and a synthetic venue for each. Entries are "symbol:decimals:price",
// comma separated.
func seedLocalUniverse(reg *registry.Registry, seed string) error {
	priceOracle := oracle.NewStaticOracle()

	for _, entry := range strings.Split(seed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return fmt.Errorf("invalid asset seed entry %q, want symbol:decimals:price", entry)
		}

		symbol := strings.TrimSpace(parts[0])
		decimals, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("invalid decimals in asset seed entry %q: %w", entry, err)
		}
		price, err := sdkmath.LegacyNewDecFromStr(parts[2])
		if err != nil {
			return fmt.Errorf("invalid price in asset seed entry %q: %w", entry, err)
		}

		asset := types.Asset(symbol)
		if err := priceOracle.SetPrice(asset, price); err != nil {
			return err
		}
		if err := reg.WhitelistAsset(config.OwnerAccount, types.AssetInfo{
			Address:  asset,
			Symbol:   symbol,
			Decimals: decimals,
		}); err != nil {
			return err
		}
		if err := reg.SetOracle(config.OwnerAccount, asset, priceOracle); err != nil {
			return err
		}

		// Seed the venue with a deep book so local runs never hit the
		// outstanding-quantity floor.
		outstanding := sdkmath.NewIntWithDecimal(1, decimals).MulRaw(1_000_000_000)
		venue, err := adapter.NewSyntheticVenue(asset, decimals, outstanding, reg, priceOracle)
		if err != nil {
			return err
		}
		if err := reg.SetAdapter(config.OwnerAccount, asset, venue); err != nil {
			return err
		}

		log.Info().
			Str("asset", symbol).
			Int("decimals", decimals).
			Str("price", price.String()).
			Msg("Seeded local asset")
	}
	return nil
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
