// ./internal/state/db.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS epoch_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_epoch BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);
		INSERT INTO epoch_counter (id, current_epoch)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;

		CREATE TABLE IF NOT EXISTS epoch_snapshots (
			epoch BIGINT PRIMARY KEY,
			run_id UUID NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			vault_count INTEGER NOT NULL,
			total_protocol_value NUMERIC(38, 0) NOT NULL,
			vaults TEXT[] NOT NULL DEFAULT '{}',
			accounting JSONB NOT NULL,
			order_book JSONB NOT NULL,
			realized_sell_proceeds NUMERIC(38, 0),
			realized_buy_spend NUMERIC(38, 0),
			slippage_absorbed NUMERIC(38, 0),
			vaults_decommissioned INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_epoch_snapshots_started_at ON epoch_snapshots(started_at DESC);

		CREATE TABLE IF NOT EXISTS engine_events (
			event_id BIGSERIAL PRIMARY KEY,
			kind VARCHAR(64) NOT NULL,
			epoch BIGINT NOT NULL,
			event_timestamp TIMESTAMPTZ NOT NULL,
			details JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_engine_events_epoch ON engine_events(epoch, event_timestamp DESC);

		CREATE TABLE IF NOT EXISTS protocol_parameters (
			params_id SERIAL PRIMARY KEY,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			target_buffer_ratio_bps BIGINT NOT NULL,
			max_fulfill_batch_size INTEGER NOT NULL,
			epoch_duration_seconds BIGINT NOT NULL,
			vault_chunk_size INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_protocol_parameters_active ON protocol_parameters(is_active, activated_at DESC);
	`

	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply database schema: %w", err)
	}

	log.Info().Msg("Database schema ensured successfully")
	return nil
}
