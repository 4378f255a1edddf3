package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// EventSink receives notifications from the core. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// OracleRouter is the Functions-equivalent request entrypoint.
type OracleRouter interface {
	// SendRequest returns the request ID synchronously; the result arrives
	// later through the consumer's FulfillRequest.
	SendRequest(ctx context.Context, req OracleRequest) (common.Hash, error)
}

// OracleConsumer receives asynchronous oracle results.
type OracleConsumer interface {
	FulfillRequest(ctx context.Context, requestID common.Hash, response, errBytes []byte) error
}

// MessageRouter is the CCIP-equivalent outbound transport.
type MessageRouter interface {
	GetFee(dest ChainSelector, msg CCIPMessage) (*big.Int, error)
	Send(ctx context.Context, dest ChainSelector, msg CCIPMessage, value *big.Int) (common.Hash, error)
}

// CCIPReceiver handles inbound cross-chain messages.
type CCIPReceiver interface {
	CCIPReceive(ctx context.Context, msg CCIPMessage) error
}

// ScoreReader reads a user's score from the remote fitness ledger.
// It never fails: a failed read is reported through ScoreRead.Source.
type ScoreReader interface {
	ReadScore(ctx context.Context, user common.Address) ScoreRead
}

// ScoreSource ranks participants at read time.
type ScoreSource interface {
	Leaderboard(ctx context.Context, offset, limit int) ([]LeaderboardEntry, error)
	ParticipantCount(ctx context.Context) (int, error)
}

// NopSink discards events.
type NopSink struct{}

// Publish implements EventSink.
func (NopSink) Publish(Event) {}
