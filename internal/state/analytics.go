package state

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// ProtocolSummary represents high-level protocol statistics.
type ProtocolSummary struct {
	TotalEpochs        int    `json:"total_epochs"`
	CompletedEpochs    int    `json:"completed_epochs"`
	LatestEpoch        uint64 `json:"latest_epoch"`
	TotalProtocolValue string `json:"total_protocol_value"`
	VaultCount         int    `json:"vault_count"`
	LastUpdated        string `json:"last_updated"`
}

// ExecutionMetrics represents aggregated execution performance data.
type ExecutionMetrics struct {
	TotalSellProceeds    string `json:"total_sell_proceeds"`
	TotalBuySpend        string `json:"total_buy_spend"`
	TotalSlippage        string `json:"total_slippage"`
	VaultsDecommissioned int    `json:"vaults_decommissioned"`
}

// GetProtocolSummary computes the protocol summary from the latest epoch
// snapshot.
func GetProtocolSummary() (ProtocolSummary, error) {
	if DB == nil {
		return ProtocolSummary{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT
			COUNT(*),
			COUNT(completed_at),
			COALESCE(MAX(epoch), 0),
			COALESCE((SELECT total_protocol_value::text FROM epoch_snapshots ORDER BY epoch DESC LIMIT 1), '0'),
			COALESCE((SELECT vault_count FROM epoch_snapshots ORDER BY epoch DESC LIMIT 1), 0),
			COALESCE((SELECT updated_at::text FROM epoch_snapshots ORDER BY epoch DESC LIMIT 1), '')
		FROM epoch_snapshots;
	`

	var summary ProtocolSummary
	err := DB.QueryRow(query).Scan(
		&summary.TotalEpochs, &summary.CompletedEpochs, &summary.LatestEpoch,
		&summary.TotalProtocolValue, &summary.VaultCount, &summary.LastUpdated,
	)
	if err != nil {
		return ProtocolSummary{}, fmt.Errorf("failed to compute protocol summary: %w", err)
	}

	log.Debug().Uint64("latestEpoch", summary.LatestEpoch).Msg("Computed protocol summary")
	return summary, nil
}

// GetExecutionMetrics aggregates realized execution figures over all
// completed epochs.
func GetExecutionMetrics() (ExecutionMetrics, error) {
	if DB == nil {
		return ExecutionMetrics{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT
			COALESCE(SUM(realized_sell_proceeds), 0)::text,
			COALESCE(SUM(realized_buy_spend), 0)::text,
			COALESCE(SUM(slippage_absorbed), 0)::text,
			COALESCE(SUM(vaults_decommissioned), 0)
		FROM epoch_snapshots
		WHERE completed_at IS NOT NULL;
	`

	var m ExecutionMetrics
	err := DB.QueryRow(query).Scan(
		&m.TotalSellProceeds, &m.TotalBuySpend, &m.TotalSlippage, &m.VaultsDecommissioned,
	)
	if err != nil {
		return ExecutionMetrics{}, fmt.Errorf("failed to compute execution metrics: %w", err)
	}
	return m, nil
}
