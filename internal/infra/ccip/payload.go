// Package ccip simulates the cross-chain message transport: fee quoting,
// message IDs, delivery to registered receivers, and an HTTP relay for
// delivering to a hub running in another process.
package ccip

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// scorePayload is abi.encode(address user, uint256 score).
var scorePayload = func() abi.Arguments {
	addressT, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uintT, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Name: "user", Type: addressT}, {Name: "score", Type: uintT}}
}()

// EncodeScorePayload packs a user score the way the bridge contract does.
func EncodeScorePayload(user common.Address, score uint64) ([]byte, error) {
	return scorePayload.Pack(user, new(big.Int).SetUint64(score))
}

// DecodeScorePayload unpacks a bridge payload. Scores above uint64 are
// rejected rather than truncated.
func DecodeScorePayload(data []byte) (common.Address, uint64, error) {
	vals, err := scorePayload.Unpack(data)
	if err != nil {
		return common.Address{}, 0, fmt.Errorf("%w: %w", domain.ErrInvalidPayload, err)
	}
	if len(vals) != 2 {
		return common.Address{}, 0, fmt.Errorf("%w: %d values", domain.ErrInvalidPayload, len(vals))
	}
	user, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, 0, fmt.Errorf("%w: user is %T", domain.ErrInvalidPayload, vals[0])
	}
	score, ok := vals[1].(*big.Int)
	if !ok {
		return common.Address{}, 0, fmt.Errorf("%w: score is %T", domain.ErrInvalidPayload, vals[1])
	}
	if !score.IsUint64() {
		return common.Address{}, 0, fmt.Errorf("%w: score %s", domain.ErrNumericOverflow, score)
	}
	return user, score.Uint64(), nil
}
