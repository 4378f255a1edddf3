package domain

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure: no infrastructure dependency.

var (
	// Input validation
	ErrInvalidReps     = errors.New("invalid reps")
	ErrInvalidAccuracy = errors.New("invalid form accuracy")
	ErrInvalidUser     = errors.New("invalid user address")
	ErrInvalidSession  = errors.New("workout session not found")
	ErrInvalidPayload  = errors.New("malformed cross-chain payload")

	// Rate limiting
	ErrCooldownActive = errors.New("cooldown active")

	// Authorization
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrUnauthorizedChain   = errors.New("source chain not allowlisted")
	ErrUnauthorizedSender  = errors.New("sender not allowlisted for source chain")
	ErrInvalidSignature    = errors.New("signature does not match submitting user")
	ErrDestinationNotFound = errors.New("no receiver registered for destination chain")

	// Oracle / parsing
	ErrInvalidFormat       = errors.New("invalid numeric format")
	ErrNumericOverflow     = errors.New("numeric value overflows")
	ErrInvalidJSON         = errors.New("invalid oracle JSON response")
	ErrOracleBusy          = errors.New("oracle request queue is full")
	ErrOracleUnavailable   = errors.New("oracle router not configured")
	ErrAnalysisComplete    = errors.New("session analysis already complete")
	ErrWeatherUnconfigured = errors.New("weather endpoint not configured")

	// Funds
	ErrInsufficientFee     = errors.New("insufficient submission fee")
	ErrNotEnoughBalance    = errors.New("not enough balance to cover message fee")
	ErrNoPendingReward     = errors.New("no pending reward to claim")
	ErrNothingToDistribute = errors.New("nothing to distribute")

	// Reward distribution
	ErrDistributionTooEarly   = errors.New("distribution period has not elapsed")
	ErrDistributionInProgress = errors.New("distribution already in progress")
	ErrAutoDistributionOff    = errors.New("automatic distribution is disabled")

	// Bridge
	ErrBridgeInactive    = errors.New("bridge is not active")
	ErrBelowThreshold    = errors.New("score below bridge threshold")
	ErrScoreNotIncreased = errors.New("score not greater than last bridged score")
	ErrBatchTooLarge     = errors.New("too many users in batch")
)

// ─── Diagnostic Errors ──────────────────────────────────────────────────────
// Each unwraps to its sentinel so callers can use errors.Is.

// InvalidRepsError reports reps outside (0, Max].
type InvalidRepsError struct {
	Reps uint64
	Max  uint64
}

func (e *InvalidRepsError) Error() string {
	return fmt.Sprintf("invalid reps: got %d, allowed 1..%d", e.Reps, e.Max)
}

func (e *InvalidRepsError) Unwrap() error { return ErrInvalidReps }

// InvalidAccuracyError reports a form accuracy above 100.
type InvalidAccuracyError struct {
	Accuracy uint64
}

func (e *InvalidAccuracyError) Error() string {
	return fmt.Sprintf("invalid form accuracy: got %d, max 100", e.Accuracy)
}

func (e *InvalidAccuracyError) Unwrap() error { return ErrInvalidAccuracy }

// CooldownError reports how long the caller must still wait.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active: %s remaining", e.Remaining.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCooldownActive }

// UnauthorizedChainError reports a selector that is not an allowlisted slot.
type UnauthorizedChainError struct {
	Selector ChainSelector
}

func (e *UnauthorizedChainError) Error() string {
	return fmt.Sprintf("source chain %d not allowlisted", uint64(e.Selector))
}

func (e *UnauthorizedChainError) Unwrap() error { return ErrUnauthorizedChain }

// InsufficientFeeError reports supplied vs required value. Kind is the
// sentinel it unwraps to (ErrInsufficientFee or ErrNotEnoughBalance).
type InsufficientFeeError struct {
	Have *big.Int
	Need *big.Int
	Kind error
}

func (e *InsufficientFeeError) Error() string {
	return fmt.Sprintf("%v: have %s wei, need %s wei", e.Kind, e.Have, e.Need)
}

func (e *InsufficientFeeError) Unwrap() error { return e.Kind }
