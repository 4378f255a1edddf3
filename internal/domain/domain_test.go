package domain

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ─── Score Reads ────────────────────────────────────────────────────────────

func TestScoreRead_Score(t *testing.T) {
	tests := []struct {
		name string
		read ScoreRead
		want uint64
	}{
		{"primary exists", ScoreRead{Pushups: 30, Squats: 12, Exists: true, Source: ReadPrimary}, 42},
		{"primary missing", ScoreRead{Pushups: 30, Squats: 12, Exists: false, Source: ReadPrimary}, 0},
		{"legacy ignores exists", ScoreRead{Pushups: 5, Squats: 5, Source: ReadLegacy}, 10},
		{"failed", ScoreRead{Pushups: 99, Exists: true, Source: ReadFailed}, 0},
		{"max without overflow", ScoreRead{Pushups: math.MaxUint64 - 1, Squats: 1, Exists: true, Source: ReadPrimary}, math.MaxUint64},
		{"overflow", ScoreRead{Pushups: math.MaxUint64, Squats: 2, Exists: true, Source: ReadPrimary}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.read.Score(); got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

// ─── Chains ─────────────────────────────────────────────────────────────────

func TestChainSelector_String(t *testing.T) {
	// Selectors above MaxInt64 must print unsigned.
	if got := SelectorPolygonAmoy.String(); got != "16281711391670634445" {
		t.Errorf("String() = %q", got)
	}
}

func TestDefaultRemoteChains(t *testing.T) {
	chains := DefaultRemoteChains()
	if len(chains) != 4 {
		t.Fatalf("len = %d, want 4", len(chains))
	}
	seen := make(map[ChainSelector]bool)
	for _, c := range chains {
		if c.Selector == SelectorAvalancheFuji {
			t.Error("local chain listed as a remote slot")
		}
		if seen[c.Selector] {
			t.Errorf("duplicate selector %s", c.Selector)
		}
		seen[c.Selector] = true
	}
}

func TestCrossChainFitnessData_Sum(t *testing.T) {
	d := CrossChainFitnessData{Slots: map[ChainSelector]uint64{
		SelectorPolygonAmoy: 10,
		SelectorBaseSepolia: 32,
	}}
	if got := d.Sum(); got != 42 {
		t.Errorf("Sum() = %d, want 42", got)
	}
	if got := (CrossChainFitnessData{}).Sum(); got != 0 {
		t.Errorf("empty Sum() = %d, want 0", got)
	}
}

func TestIsZeroAddress(t *testing.T) {
	if !IsZeroAddress(common.Address{}) {
		t.Error("zero address not detected")
	}
	if IsZeroAddress(common.HexToAddress("0x01")) {
		t.Error("non-zero address reported as zero")
	}
}

// ─── Errors ─────────────────────────────────────────────────────────────────

func TestDiagnosticErrors_Unwrap(t *testing.T) {
	tests := []struct {
		err  error
		want error
		text string
	}{
		{&InvalidRepsError{Reps: 0, Max: 500}, ErrInvalidReps, "allowed 1..500"},
		{&InvalidAccuracyError{Accuracy: 101}, ErrInvalidAccuracy, "got 101"},
		{&CooldownError{Remaining: 1500 * time.Millisecond}, ErrCooldownActive, "2s remaining"},
		{&UnauthorizedChainError{Selector: SelectorBaseSepolia}, ErrUnauthorizedChain, "10344971235874465080"},
		{&InsufficientFeeError{Have: big.NewInt(1), Need: big.NewInt(2), Kind: ErrInsufficientFee}, ErrInsufficientFee, "have 1 wei, need 2 wei"},
		{&InsufficientFeeError{Have: big.NewInt(0), Need: big.NewInt(9), Kind: ErrNotEnoughBalance}, ErrNotEnoughBalance, "need 9"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.err), func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tt.err)
			if !errors.Is(wrapped, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.want)
			}
			if !strings.Contains(tt.err.Error(), tt.text) {
				t.Errorf("Error() = %q, want substring %q", tt.err.Error(), tt.text)
			}
		})
	}
}

func TestCooldownError_As(t *testing.T) {
	err := fmt.Errorf("submit: %w", &CooldownError{Remaining: time.Minute})
	var ce *CooldownError
	if !errors.As(err, &ce) || ce.Remaining != time.Minute {
		t.Errorf("errors.As = %v, %+v", ce != nil, ce)
	}
}

// ─── Rewards ────────────────────────────────────────────────────────────────

func TestPendingAccount(t *testing.T) {
	a := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	b := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	if PendingAccount(a) == PendingAccount(b) {
		t.Error("distinct users share a pending account")
	}
	for _, acct := range []string{AccountExternal, AccountFeePool, AccountPaidOut} {
		if acct == PendingAccount(a) {
			t.Errorf("pending account collides with %s", acct)
		}
	}
}

func TestNopSink(t *testing.T) {
	var s EventSink = NopSink{}
	s.Publish(Event{Type: EventWorkoutSubmitted})
}
