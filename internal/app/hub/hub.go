// Package hub implements the score hub: the local workout ledger, the
// per-chain cross-chain score store, the submission entrypoint and the
// asynchronous oracle callback that enhances recorded sessions.
package hub

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/metrics"
	"github.com/imperfect-abs/abshub/internal/infra/sqlite"
)

// Debug enables per-event logging.
var Debug bool

// Config holds hub parameters.
type Config struct {
	MaxRepsPerSession  uint64
	SubmissionCooldown time.Duration
	LocalChain         domain.Chain
	Chains             []domain.Chain // remote slots
	Owner              common.Address
	Address            common.Address // consumer address handed to the oracle
	OracleSource       string
	SubscriptionID     uint64
	GasLimit           uint32
}

// DefaultConfig returns the deployed contract parameters.
func DefaultConfig() Config {
	return Config{
		MaxRepsPerSession:  500,
		SubmissionCooldown: 60 * time.Second,
		LocalChain:         domain.Chain{Name: "avalanche-fuji", Selector: domain.SelectorAvalancheFuji},
		Chains:             domain.DefaultRemoteChains(),
		GasLimit:           300_000,
	}
}

// FeeCollector takes submission fees into the reward pool. PrepareFee
// returns the ledger pair to write alongside the session; release must be
// called once the write has committed or failed.
type FeeCollector interface {
	SubmissionFee() *big.Int
	PrepareFee(ctx context.Context, user common.Address, amount *big.Int) (entries []domain.LedgerEntry, release func(), err error)
}

// Service is the hub state machine. Writes are serialized by mu; the
// oracle router only enqueues, so a callback can never observe a session
// before its pending request is stored.
type Service struct {
	cfg Config
	db  *sqlite.DB

	mu     sync.RWMutex
	oracle domain.OracleRouter
	fees   FeeCollector
	events domain.EventSink
	now    func() time.Time
}

// New creates the hub and registers the configured remote chain slots.
func New(ctx context.Context, cfg Config, db *sqlite.DB) (*Service, error) {
	if cfg.MaxRepsPerSession == 0 {
		cfg.MaxRepsPerSession = DefaultConfig().MaxRepsPerSession
	}
	for _, c := range cfg.Chains {
		if err := db.SeedChain(ctx, c); err != nil {
			return nil, fmt.Errorf("seed chain %s: %w", c.Name, err)
		}
	}
	if n, err := db.LeaderboardSize(ctx); err == nil {
		metrics.LeaderboardSize.Set(float64(n))
	}
	return &Service{
		cfg:    cfg,
		db:     db,
		events: domain.NopSink{},
		now:    time.Now,
	}, nil
}

// SetOracle wires the Functions router. Without one, sessions stay submitted.
func (s *Service) SetOracle(r domain.OracleRouter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oracle = r
}

// SetFeeCollector wires the reward pool.
func (s *Service) SetFeeCollector(f FeeCollector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fees = f
}

// SetEventSink replaces the event sink.
func (s *Service) SetEventSink(e domain.EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e == nil {
		e = domain.NopSink{}
	}
	s.events = e
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Config returns the hub parameters.
func (s *Service) Config() Config { return s.cfg }

// Chains returns the remote chain slots.
func (s *Service) Chains() []domain.Chain { return s.cfg.Chains }

func (s *Service) isOwner(caller common.Address) bool {
	return !domain.IsZeroAddress(s.cfg.Owner) && caller == s.cfg.Owner
}

func (s *Service) chainName(sel domain.ChainSelector) string {
	if sel == s.cfg.LocalChain.Selector {
		return s.cfg.LocalChain.Name
	}
	for _, c := range s.cfg.Chains {
		if c.Selector == sel {
			return c.Name
		}
	}
	return sel.String()
}

// publish must be called with mu held.
func (s *Service) publish(e domain.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if Debug {
		log.Printf("[hub] event %s user=%s score=%d", e.Type, e.User.Hex(), e.Score)
	}
	s.events.Publish(e)
}

func (s *Service) refreshLeaderboardGauge(ctx context.Context) {
	if n, err := s.db.LeaderboardSize(ctx); err == nil {
		metrics.LeaderboardSize.Set(float64(n))
	}
}
