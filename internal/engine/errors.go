package engine

import "errors"

// Error definitions for zero-tolerance error handling
var (
	ErrTooEarly         = errors.New("epoch duration has not elapsed since the previous epoch start")
	ErrInvalidState     = errors.New("trigger data does not match the current phase")
	ErrNoPlan           = errors.New("no finalized order book is awaiting execution")
	ErrStaleEpoch       = errors.New("epoch has already been executed")
	ErrReconciliation   = errors.New("order book does not reconcile against vault flows")
	ErrSlippageExceeded = errors.New("realized fill is outside the slippage tolerance")
)
