// Package domain holds the pure types shared by every abshub layer:
// workout ledger records, cross-chain slots, oracle requests, rewards,
// bridge receipts, events and sentinel errors.
package domain

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// ChainSelector is a CCIP chain selector.
type ChainSelector uint64

// String returns the decimal selector.
func (c ChainSelector) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// Chain names a CCIP-reachable network.
type Chain struct {
	Name     string        `json:"name" toml:"name"`
	Selector ChainSelector `json:"selector" toml:"selector"`
}

// Testnet selectors used by the deployed contracts.
const (
	SelectorAvalancheFuji ChainSelector = 14767482510784806043
	SelectorPolygonAmoy   ChainSelector = 16281711391670634445
	SelectorBaseSepolia   ChainSelector = 10344971235874465080
	SelectorCeloAlfajores ChainSelector = 3552045678561919002
	SelectorMonadTestnet  ChainSelector = 2183018362218727504
)

// DefaultRemoteChains returns the four cross-chain slots, in slot order.
func DefaultRemoteChains() []Chain {
	return []Chain{
		{Name: "polygon-amoy", Selector: SelectorPolygonAmoy},
		{Name: "base-sepolia", Selector: SelectorBaseSepolia},
		{Name: "celo-alfajores", Selector: SelectorCeloAlfajores},
		{Name: "monad-testnet", Selector: SelectorMonadTestnet},
	}
}

// IsZeroAddress reports whether addr is the zero address.
func IsZeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}
