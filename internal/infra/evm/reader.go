// Package evm reads participant scores from a fitness leaderboard contract
// deployed on another EVM chain.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/metrics"
)

// LedgerABI covers both score accessors: the current one with an exists
// flag and the legacy public mapping getter.
const LedgerABI = `[
	{"type":"function","name":"getUserScore","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"}],
	 "outputs":[{"name":"pushups","type":"uint256"},{"name":"squats","type":"uint256"},
	            {"name":"timestamp","type":"uint256"},{"name":"exists","type":"bool"}]},
	{"type":"function","name":"userScores","stateMutability":"view",
	 "inputs":[{"name":"","type":"address"}],
	 "outputs":[{"name":"pushups","type":"uint256"},{"name":"squats","type":"uint256"},
	            {"name":"timestamp","type":"uint256"}]}
]`

// ParsedLedgerABI is LedgerABI, parsed once.
var ParsedLedgerABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(LedgerABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// LedgerReader implements domain.ScoreReader over a bound contract.
type LedgerReader struct {
	contract *bind.BoundContract
	address  common.Address
	timeout  time.Duration
}

// NewLedgerReader binds the ledger at addr through caller (an
// *ethclient.Client in production).
func NewLedgerReader(caller bind.ContractCaller, addr common.Address) *LedgerReader {
	return &LedgerReader{
		contract: bind.NewBoundContract(addr, ParsedLedgerABI, caller, nil, nil),
		address:  addr,
		timeout:  10 * time.Second,
	}
}

// Address returns the bound contract address.
func (r *LedgerReader) Address() common.Address { return r.address }

// ReadScore tries getUserScore, then the legacy userScores getter. When
// both fail the read reports Source=failed and a zero score.
func (r *LedgerReader) ReadScore(ctx context.Context, user common.Address) domain.ScoreRead {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	opts := &bind.CallOpts{Context: ctx}

	read, primaryErr := r.readPrimary(opts, user)
	if primaryErr == nil {
		metrics.RemoteReads.WithLabelValues(string(domain.ReadPrimary)).Inc()
		return read
	}
	read, legacyErr := r.readLegacy(opts, user)
	if legacyErr == nil {
		metrics.RemoteReads.WithLabelValues(string(domain.ReadLegacy)).Inc()
		return read
	}
	metrics.RemoteReads.WithLabelValues(string(domain.ReadFailed)).Inc()
	return domain.ScoreRead{
		Source: domain.ReadFailed,
		Err:    fmt.Sprintf("getUserScore: %v; userScores: %v", primaryErr, legacyErr),
	}
}

func (r *LedgerReader) readPrimary(opts *bind.CallOpts, user common.Address) (domain.ScoreRead, error) {
	var out []interface{}
	if err := r.contract.Call(opts, &out, "getUserScore", user); err != nil {
		return domain.ScoreRead{}, err
	}
	if len(out) != 4 {
		return domain.ScoreRead{}, fmt.Errorf("getUserScore returned %d values", len(out))
	}
	nums, err := uints(out[:3])
	if err != nil {
		return domain.ScoreRead{}, err
	}
	exists, ok := out[3].(bool)
	if !ok {
		return domain.ScoreRead{}, fmt.Errorf("exists is %T", out[3])
	}
	return domain.ScoreRead{
		Pushups: nums[0], Squats: nums[1], Timestamp: nums[2],
		Exists: exists, Source: domain.ReadPrimary,
	}, nil
}

func (r *LedgerReader) readLegacy(opts *bind.CallOpts, user common.Address) (domain.ScoreRead, error) {
	var out []interface{}
	if err := r.contract.Call(opts, &out, "userScores", user); err != nil {
		return domain.ScoreRead{}, err
	}
	if len(out) != 3 {
		return domain.ScoreRead{}, fmt.Errorf("userScores returned %d values", len(out))
	}
	nums, err := uints(out)
	if err != nil {
		return domain.ScoreRead{}, err
	}
	return domain.ScoreRead{
		Pushups: nums[0], Squats: nums[1], Timestamp: nums[2],
		Exists: nums[0] > 0 || nums[1] > 0 || nums[2] > 0,
		Source: domain.ReadLegacy,
	}, nil
}

func uints(vals []interface{}) ([]uint64, error) {
	out := make([]uint64, len(vals))
	for i, v := range vals {
		b, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("value %d is %T", i, v)
		}
		if !b.IsUint64() {
			return nil, fmt.Errorf("value %d: %w", i, domain.ErrNumericOverflow)
		}
		out[i] = b.Uint64()
	}
	return out, nil
}
