/*

This file contains the external trigger surface. An Upkeeper exposes a
check/perform pair: check reports whether a step is due and returns a phase
tag, perform validates that tag against the live phase and advances exactly
one step. The Keeper runs both orchestrators on a ticker; any other agent
can drive the same entry points.

*/

package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/OrionFinanceAI/orion-engine/internal/logger"
	"github.com/OrionFinanceAI/orion-engine/internal/registry"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
)

// Upkeeper is one steppable state machine behind the trigger surface.
type Upkeeper interface {
	// CheckUpkeep reports whether a step is due and returns the opaque
	// perform data, a single-byte tag of the phase the check observed.
	CheckUpkeep(ctx context.Context) (bool, []byte, error)

	// PerformUpkeep advances one step. The data must carry the tag of the
	// current phase or the call is rejected with ErrInvalidState, so a
	// stale trigger can never re-run or skip a phase.
	PerformUpkeep(ctx context.Context, data []byte) error
}

// CheckUpkeep implements Upkeeper for the aggregation orchestrator. A step
// is due when an epoch is in flight or the epoch duration has elapsed.
func (o *InternalStateOrchestrator) CheckUpkeep(_ context.Context) (bool, []byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	data := []byte{byte(o.phase)}
	if o.phase != types.AggIdle {
		return true, data, nil
	}
	if o.registry.Paused() {
		return false, data, nil
	}
	if o.progress != nil && o.completedEpoch > o.progress.LastProcessedEpoch() {
		return false, data, nil
	}
	due := o.lastEpochStart.IsZero() ||
		time.Since(o.lastEpochStart) >= o.registry.Parameters().EpochDuration
	return due, data, nil
}

// PerformUpkeep implements Upkeeper for the aggregation orchestrator. A
// pause rejects the call and preserves the phase exactly; unpausing resumes
// from the same point.
func (o *InternalStateOrchestrator) PerformUpkeep(_ context.Context, data []byte) error {
	if o.registry.Paused() {
		return registry.ErrProtocolPaused
	}
	if len(data) != 1 || types.AggregationPhase(data[0]) != o.Phase() {
		return ErrInvalidState
	}
	return o.Step(time.Now())
}

// CheckUpkeep implements Upkeeper for the execution orchestrator. A step is
// due when an execution round is in flight or a newer finalized order book
// is waiting.
func (o *LiquidityOrchestrator) CheckUpkeep(_ context.Context) (bool, []byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	data := []byte{byte(o.phase)}
	if o.phase != types.ExecIdle {
		return true, data, nil
	}
	if o.registry.Paused() {
		return false, data, nil
	}
	plan, ok := o.plans.LatestPlan()
	return ok && plan.Epoch > o.lastProcessedEpoch, data, nil
}

// PerformUpkeep implements Upkeeper for the execution orchestrator.
func (o *LiquidityOrchestrator) PerformUpkeep(_ context.Context, data []byte) error {
	if o.registry.Paused() {
		return registry.ErrProtocolPaused
	}
	if len(data) != 1 || types.ExecutionPhase(data[0]) != o.Phase() {
		return ErrInvalidState
	}
	return o.Step(time.Now())
}

// Keeper drives the two orchestrators on a fixed interval, standing in for
// an external automation network in local deployments.
type Keeper struct {
	logger   zerolog.Logger
	machines []Upkeeper
}

// NewKeeper creates a keeper over the given state machines, stepped in
// order each tick.
func NewKeeper(machines ...Upkeeper) *Keeper {
	return &Keeper{
		logger:   logger.GetForComponent("keeper"),
		machines: machines,
	}
}

// RunLoop triggers every due machine once per tick until the context is
// cancelled. Expected idle conditions are logged at debug level only;
// everything else is an error to act on.
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.logger.Info().
		Dur("interval", interval).
		Int("machines", len(k.machines)).
		Msg("Starting keeper loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	k.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.tick(ctx)
		}
	}
}

func (k *Keeper) tick(ctx context.Context) {
	for _, m := range k.machines {
		due, data, err := m.CheckUpkeep(ctx)
		if err != nil {
			k.logger.Error().Err(err).Msg("Upkeep check failed")
			continue
		}
		if !due {
			continue
		}
		if err := m.PerformUpkeep(ctx, data); err != nil {
			switch {
			case errors.Is(err, ErrTooEarly),
				errors.Is(err, ErrNoPlan),
				errors.Is(err, ErrStaleEpoch),
				errors.Is(err, registry.ErrProtocolPaused):
				k.logger.Debug().Err(err).Msg("Upkeep not actionable this tick")
			default:
				k.logger.Error().Err(err).Msg("Upkeep step failed")
			}
		}
	}
}
