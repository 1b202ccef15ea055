// ./internal/state/epoch_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/OrionFinanceAI/orion-engine/internal/types"
)

// SaveEpochSnapshot inserts or updates the snapshot for an epoch. The
// aggregation round inserts it; the execution round updates the same row
// with the realized figures.
func SaveEpochSnapshot(snapshot types.EpochSnapshot) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	accountingJSON, err := json.Marshal(snapshot.Accounting)
	if err != nil {
		return fmt.Errorf("failed to marshal accounting: %w", err)
	}
	orderBookJSON, err := json.Marshal(snapshot.OrderBook)
	if err != nil {
		return fmt.Errorf("failed to marshal order_book: %w", err)
	}

	vaults := make([]string, 0, len(snapshot.Accounting))
	for _, acct := range snapshot.Accounting {
		vaults = append(vaults, acct.Vault)
	}

	var completedAt sql.NullTime
	if !snapshot.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: snapshot.CompletedAt, Valid: true}
	}

	query := `
		INSERT INTO epoch_snapshots (
			epoch, run_id, started_at, completed_at,
			vault_count, total_protocol_value, vaults, accounting, order_book,
			realized_sell_proceeds, realized_buy_spend, slippage_absorbed, vaults_decommissioned
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (epoch) DO UPDATE SET
			completed_at = EXCLUDED.completed_at,
			vault_count = EXCLUDED.vault_count,
			total_protocol_value = EXCLUDED.total_protocol_value,
			vaults = EXCLUDED.vaults,
			accounting = EXCLUDED.accounting,
			order_book = EXCLUDED.order_book,
			realized_sell_proceeds = EXCLUDED.realized_sell_proceeds,
			realized_buy_spend = EXCLUDED.realized_buy_spend,
			slippage_absorbed = EXCLUDED.slippage_absorbed,
			vaults_decommissioned = EXCLUDED.vaults_decommissioned,
			updated_at = CURRENT_TIMESTAMP;
	`

	_, err = DB.Exec(
		query,
		snapshot.Epoch, snapshot.RunID, snapshot.StartedAt, completedAt,
		snapshot.VaultCount, numericString(snapshot.TotalProtocolValue),
		pq.Array(vaults), accountingJSON, orderBookJSON,
		numericString(snapshot.RealizedSellProceeds),
		numericString(snapshot.RealizedBuySpend),
		numericString(snapshot.SlippageAbsorbed),
		snapshot.VaultsDecommissioned,
	)
	if err != nil {
		return fmt.Errorf("failed to save epoch snapshot: %w", err)
	}

	log.Debug().Uint64("epoch", snapshot.Epoch).Msg("Saved epoch snapshot")
	return nil
}

// GetEpochSnapshot retrieves the snapshot for one epoch.
func GetEpochSnapshot(epoch uint64) (types.EpochSnapshot, error) {
	if DB == nil {
		return types.EpochSnapshot{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT epoch, run_id, started_at, completed_at,
		       vault_count, total_protocol_value, accounting, order_book,
		       realized_sell_proceeds, realized_buy_spend, slippage_absorbed, vaults_decommissioned
		FROM epoch_snapshots
		WHERE epoch = $1;
	`
	return scanSnapshot(DB.QueryRow(query, epoch))
}

// GetRecentEpochs retrieves the most recent epoch snapshots, newest first.
func GetRecentEpochs(limit int) ([]types.EpochSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `
		SELECT epoch, run_id, started_at, completed_at,
		       vault_count, total_protocol_value, accounting, order_book,
		       realized_sell_proceeds, realized_buy_spend, slippage_absorbed, vaults_decommissioned
		FROM epoch_snapshots
		ORDER BY epoch DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent epochs: %w", err)
	}
	defer rows.Close()

	var snapshots []types.EpochSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// SaveEngineEvent appends one engine event to the event log and returns its
// assigned id.
func SaveEngineEvent(event types.EngineEvent) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO engine_events (kind, epoch, event_timestamp, details)
		VALUES ($1, $2, $3, $4)
		RETURNING event_id;
	`

	var details any
	if event.Details != "" {
		details = event.Details
	}

	var eventID int64
	err := DB.QueryRow(query, string(event.Kind), event.Epoch, event.Timestamp, details).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to save engine event: %w", err)
	}

	log.Debug().Int64("eventID", eventID).Str("kind", string(event.Kind)).Msg("Saved engine event")
	return eventID, nil
}

// GetRecentEvents retrieves the most recent engine events, newest first.
func GetRecentEvents(limit int) ([]types.EngineEvent, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 500 {
		limit = 50 // Default limit
	}

	query := `
		SELECT event_id, kind, epoch, event_timestamp, COALESCE(details::text, '')
		FROM engine_events
		ORDER BY event_id DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var events []types.EngineEvent
	for rows.Next() {
		var ev types.EngineEvent
		var kind string
		if err := rows.Scan(&ev.ID, &kind, &ev.Epoch, &ev.Timestamp, &ev.Details); err != nil {
			return nil, fmt.Errorf("failed to scan engine event: %w", err)
		}
		ev.Kind = types.EventKind(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (types.EpochSnapshot, error) {
	var snap types.EpochSnapshot
	var completedAt sql.NullTime
	var protocolValue string
	var accountingJSON, orderBookJSON []byte
	var proceeds, spend, slippage sql.NullString

	err := row.Scan(
		&snap.Epoch, &snap.RunID, &snap.StartedAt, &completedAt,
		&snap.VaultCount, &protocolValue, &accountingJSON, &orderBookJSON,
		&proceeds, &spend, &slippage, &snap.VaultsDecommissioned,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.EpochSnapshot{}, fmt.Errorf("epoch snapshot not found: %w", err)
		}
		return types.EpochSnapshot{}, fmt.Errorf("failed to scan epoch snapshot: %w", err)
	}

	if completedAt.Valid {
		snap.CompletedAt = completedAt.Time
	}
	snap.TotalProtocolValue, err = parseNumeric(protocolValue)
	if err != nil {
		return types.EpochSnapshot{}, err
	}
	if err := json.Unmarshal(accountingJSON, &snap.Accounting); err != nil {
		return types.EpochSnapshot{}, fmt.Errorf("failed to unmarshal accounting: %w", err)
	}
	if err := json.Unmarshal(orderBookJSON, &snap.OrderBook); err != nil {
		return types.EpochSnapshot{}, fmt.Errorf("failed to unmarshal order_book: %w", err)
	}
	if snap.RealizedSellProceeds, err = parseNullNumeric(proceeds); err != nil {
		return types.EpochSnapshot{}, err
	}
	if snap.RealizedBuySpend, err = parseNullNumeric(spend); err != nil {
		return types.EpochSnapshot{}, err
	}
	if snap.SlippageAbsorbed, err = parseNullNumeric(slippage); err != nil {
		return types.EpochSnapshot{}, err
	}
	return snap, nil
}

// numericString renders an Int for a NUMERIC column, mapping a nil Int to
// SQL NULL.
func numericString(v sdkmath.Int) any {
	if v.IsNil() {
		return nil
	}
	return v.String()
}

func parseNumeric(s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("failed to parse numeric value %q", s)
	}
	return v, nil
}

func parseNullNumeric(s sql.NullString) (sdkmath.Int, error) {
	if !s.Valid {
		return sdkmath.Int{}, nil
	}
	return parseNumeric(s.String)
}
