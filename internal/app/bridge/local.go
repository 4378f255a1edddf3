package bridge

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/app/hub"
	"github.com/imperfect-abs/abshub/internal/domain"
)

// LocalLedger is the slice of the hub a LocalReader needs.
type LocalLedger interface {
	Score(ctx context.Context, user common.Address) (hub.UserScore, error)
}

// LocalReader serves this node's own workout ledger as a remote score
// source, so a node without an RPC endpoint can still bridge its users to
// a hub running elsewhere. Total reps stand in for pushups.
type LocalReader struct {
	ledger LocalLedger
}

// NewLocalReader wraps ledger.
func NewLocalReader(ledger LocalLedger) *LocalReader {
	return &LocalReader{ledger: ledger}
}

// ReadScore implements domain.ScoreReader.
func (r *LocalReader) ReadScore(ctx context.Context, user common.Address) domain.ScoreRead {
	us, err := r.ledger.Score(ctx, user)
	if err != nil {
		return domain.ScoreRead{Source: domain.ReadFailed, Err: err.Error()}
	}
	read := domain.ScoreRead{
		Pushups: us.Local.TotalReps,
		Exists:  us.Local.SessionsCompleted > 0,
		Source:  domain.ReadPrimary,
	}
	if !us.Local.Timestamp.IsZero() {
		read.Timestamp = uint64(us.Local.Timestamp.Unix())
	}
	return read
}

// StaticReader always returns the same reader. It adapts a reader that is
// not tied to a contract address into a ReaderFactory.
func StaticReader(r domain.ScoreReader) ReaderFactory {
	return func(common.Address) (domain.ScoreReader, error) { return r, nil }
}
