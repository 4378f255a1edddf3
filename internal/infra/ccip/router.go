package ccip

import (
	"context"
	"encoding/binary"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/metrics"
)

// Config sets the fee schedule of a router.
type Config struct {
	Source     domain.Chain // chain the router runs on
	BaseFee    *big.Int
	FeePerByte *big.Int
}

// DefaultConfig charges 0.0001 ether plus 1 gwei per payload byte.
func DefaultConfig(source domain.Chain) Config {
	return Config{
		Source:     source,
		BaseFee:    big.NewInt(100_000_000_000_000),
		FeePerByte: big.NewInt(1_000_000_000),
	}
}

// Router quotes fees, assigns message IDs and delivers messages to the
// receiver registered for each destination. Delivery is fire-and-forget:
// receiver errors are logged and counted, never returned to the sender.
type Router struct {
	cfg Config

	mu        sync.RWMutex
	receivers map[domain.ChainSelector]domain.CCIPReceiver
	names     map[domain.ChainSelector]string
	nonce     uint64
}

// NewRouter creates a router for cfg.Source.
func NewRouter(cfg Config) *Router {
	if cfg.BaseFee == nil {
		cfg.BaseFee = new(big.Int)
	}
	if cfg.FeePerByte == nil {
		cfg.FeePerByte = new(big.Int)
	}
	return &Router{
		cfg:       cfg,
		receivers: make(map[domain.ChainSelector]domain.CCIPReceiver),
		names:     make(map[domain.ChainSelector]string),
	}
}

// Register routes messages for dest to r.
func (rt *Router) Register(dest domain.Chain, r domain.CCIPReceiver) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.receivers[dest.Selector] = r
	rt.names[dest.Selector] = dest.Name
}

// Source returns the chain this router sends from.
func (rt *Router) Source() domain.Chain { return rt.cfg.Source }

// GetFee returns BaseFee + FeePerByte*len(data) for a supported destination.
func (rt *Router) GetFee(dest domain.ChainSelector, msg domain.CCIPMessage) (*big.Int, error) {
	rt.mu.RLock()
	_, ok := rt.receivers[dest]
	rt.mu.RUnlock()
	if !ok {
		return nil, domain.ErrDestinationNotFound
	}
	fee := new(big.Int).Mul(rt.cfg.FeePerByte, big.NewInt(int64(len(msg.Data))))
	return fee.Add(fee, rt.cfg.BaseFee), nil
}

// Send charges the fee out of value and delivers msg. The returned ID is
// keccak256(source, dest, nonce, sender, receiver, data).
func (rt *Router) Send(ctx context.Context, dest domain.ChainSelector, msg domain.CCIPMessage, value *big.Int) (common.Hash, error) {
	fee, err := rt.GetFee(dest, msg)
	if err != nil {
		return common.Hash{}, err
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Cmp(fee) < 0 {
		return common.Hash{}, &domain.InsufficientFeeError{Have: value, Need: fee, Kind: domain.ErrNotEnoughBalance}
	}

	rt.mu.Lock()
	rt.nonce++
	nonce := rt.nonce
	recv := rt.receivers[dest]
	name := rt.names[dest]
	rt.mu.Unlock()

	msg.SourceChainSelector = rt.cfg.Source.Selector
	msg.MessageID = messageID(rt.cfg.Source.Selector, dest, nonce, msg)
	metrics.CCIPOutbound.WithLabelValues(name).Inc()
	log.Printf("[ccip] %s -> %s message %s (%d bytes, fee %s)",
		rt.cfg.Source.Name, name, msg.MessageID.Hex(), len(msg.Data), fee)

	if err := recv.CCIPReceive(ctx, msg); err != nil {
		log.Printf("[ccip] delivery of %s to %s failed: %v", msg.MessageID.Hex(), name, err)
	}
	return msg.MessageID, nil
}

func messageID(source, dest domain.ChainSelector, nonce uint64, msg domain.CCIPMessage) common.Hash {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(source))
	binary.BigEndian.PutUint64(buf[8:16], uint64(dest))
	binary.BigEndian.PutUint64(buf[16:24], nonce)
	return crypto.Keccak256Hash(buf[:], msg.Sender.Bytes(), msg.Receiver.Bytes(), msg.Data)
}
