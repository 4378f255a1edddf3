// Package bridge forwards scores from a remote fitness ledger to the hub
// over the cross-chain transport. Each user is rate limited, thresholded
// and only bridged when their score has grown since the last send.
package bridge

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/ccip"
	"github.com/imperfect-abs/abshub/internal/infra/metrics"
	"github.com/imperfect-abs/abshub/internal/infra/sqlite"
)

const (
	settingActive   = "bridge.active"
	settingRemote   = "bridge.remote_contract"
	settingDestSel  = "bridge.destination_selector"
	settingDestName = "bridge.destination_name"
	settingReceiver = "bridge.receiver"
)

// Config holds bridge parameters.
type Config struct {
	Active            bool
	Owner             common.Address
	Address           common.Address // message sender
	RemoteContract    common.Address // ledger the scores are read from
	Destination       domain.Chain
	Receiver          common.Address // hub address on the destination
	Cooldown          time.Duration
	MinScoreThreshold uint64
	MaxBatchSize      int
}

// DefaultConfig returns the deployed bridge parameters.
func DefaultConfig() Config {
	return Config{
		Active:            true,
		Destination:       domain.Chain{Name: "avalanche-fuji", Selector: domain.SelectorAvalancheFuji},
		Cooldown:          5 * time.Minute,
		MinScoreThreshold: 1,
		MaxBatchSize:      10,
	}
}

// ReaderFactory binds a score reader to a remote ledger address.
type ReaderFactory func(addr common.Address) (domain.ScoreReader, error)

// Receipt is a sent message plus the overpayment returned to the caller.
type Receipt struct {
	domain.BridgeReceipt
	Refund *big.Int `json:"refund"`
}

// Service is the bridge contract.
type Service struct {
	db        *sqlite.DB
	router    domain.MessageRouter
	newReader ReaderFactory

	mu     sync.Mutex
	cfg    Config
	reader domain.ScoreReader
	events domain.EventSink
	now    func() time.Time
}

// New creates the bridge. Owner changes persisted by an earlier run
// override cfg.
func New(ctx context.Context, cfg Config, db *sqlite.DB, router domain.MessageRouter, newReader ReaderFactory) (*Service, error) {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	s := &Service{
		db:        db,
		router:    router,
		newReader: newReader,
		events:    domain.NopSink{},
		now:       time.Now,
		cfg:       cfg,
	}
	if err := s.loadOverrides(ctx); err != nil {
		return nil, err
	}
	reader, err := newReader(s.cfg.RemoteContract)
	if err != nil {
		return nil, fmt.Errorf("bind remote ledger %s: %w", s.cfg.RemoteContract.Hex(), err)
	}
	s.reader = reader
	return s, nil
}

func (s *Service) loadOverrides(ctx context.Context) error {
	get := func(key string) (string, error) { return s.db.GetSetting(ctx, key) }

	if v, err := get(settingActive); err != nil {
		return err
	} else if v != "" {
		s.cfg.Active = v == "1"
	}
	if v, err := get(settingRemote); err != nil {
		return err
	} else if v != "" {
		s.cfg.RemoteContract = common.HexToAddress(v)
	}
	if v, err := get(settingReceiver); err != nil {
		return err
	} else if v != "" {
		s.cfg.Receiver = common.HexToAddress(v)
	}
	sel, err := get(settingDestSel)
	if err != nil {
		return err
	}
	if sel != "" {
		n, err := strconv.ParseUint(sel, 10, 64)
		if err != nil {
			return fmt.Errorf("bad %s %q: %w", settingDestSel, sel, err)
		}
		name, err := get(settingDestName)
		if err != nil {
			return err
		}
		s.cfg.Destination = domain.Chain{Name: name, Selector: domain.ChainSelector(n)}
	}
	return nil
}

// SetEventSink replaces the event sink.
func (s *Service) SetEventSink(e domain.EventSink) {
	if e == nil {
		e = domain.NopSink{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = e
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Config returns the current parameters.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// ─── Owner Operations ───────────────────────────────────────────────────────

func (s *Service) requireOwner(caller common.Address) error {
	if domain.IsZeroAddress(s.cfg.Owner) || caller != s.cfg.Owner {
		return domain.ErrNotOwner
	}
	return nil
}

// SetActive pauses or resumes bridging.
func (s *Service) SetActive(ctx context.Context, caller common.Address, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	v := "0"
	if active {
		v = "1"
	}
	if err := s.db.SetSetting(ctx, settingActive, v); err != nil {
		return err
	}
	s.cfg.Active = active
	log.Printf("[bridge] active=%v", active)
	return nil
}

// SetRemoteContract rebinds the score source to addr.
func (s *Service) SetRemoteContract(ctx context.Context, caller, addr common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	if domain.IsZeroAddress(addr) {
		return fmt.Errorf("remote contract: %w", domain.ErrInvalidUser)
	}
	reader, err := s.newReader(addr)
	if err != nil {
		return fmt.Errorf("bind remote ledger %s: %w", addr.Hex(), err)
	}
	if err := s.db.SetSetting(ctx, settingRemote, addr.Hex()); err != nil {
		return err
	}
	s.reader = reader
	s.cfg.RemoteContract = addr
	log.Printf("[bridge] remote contract %s", addr.Hex())
	return nil
}

// SetDestination changes where scores are sent.
func (s *Service) SetDestination(ctx context.Context, caller common.Address, dest domain.Chain, receiver common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	for key, v := range map[string]string{
		settingDestSel:  dest.Selector.String(),
		settingDestName: dest.Name,
		settingReceiver: receiver.Hex(),
	} {
		if err := s.db.SetSetting(ctx, key, v); err != nil {
			return err
		}
	}
	s.cfg.Destination = dest
	s.cfg.Receiver = receiver
	log.Printf("[bridge] destination %s receiver %s", dest.Name, receiver.Hex())
	return nil
}

// ─── Bridging ───────────────────────────────────────────────────────────────

// eligible returns the user's current remote score if it may be bridged
// now. Must be called with mu held.
func (s *Service) eligible(ctx context.Context, user common.Address, now time.Time) (uint64, error) {
	if domain.IsZeroAddress(user) {
		return 0, domain.ErrInvalidUser
	}
	st, err := s.db.GetBridgeState(ctx, user)
	if err != nil {
		return 0, fmt.Errorf("load bridge state: %w", err)
	}
	if !st.LastBridgeTime.IsZero() {
		ready := st.LastBridgeTime.Add(s.cfg.Cooldown)
		if now.Before(ready) {
			return 0, &domain.CooldownError{Remaining: ready.Sub(now)}
		}
	}

	read := s.reader.ReadScore(ctx, user)
	if read.Source == domain.ReadFailed {
		log.Printf("[bridge] remote read for %s failed: %s", user.Hex(), read.Err)
	}
	score := read.Score()
	if score < s.cfg.MinScoreThreshold {
		return 0, fmt.Errorf("%w: %d < %d", domain.ErrBelowThreshold, score, s.cfg.MinScoreThreshold)
	}
	if score <= st.LastBridgedScore {
		return 0, fmt.Errorf("%w: %d <= %d", domain.ErrScoreNotIncreased, score, st.LastBridgedScore)
	}
	return score, nil
}

func (s *Service) message(user common.Address, score uint64) (domain.CCIPMessage, error) {
	data, err := ccip.EncodeScorePayload(user, score)
	if err != nil {
		return domain.CCIPMessage{}, err
	}
	return domain.CCIPMessage{Sender: s.cfg.Address, Receiver: s.cfg.Receiver, Data: data}, nil
}

// send pays exactly fee for one message. The user's bridge state is
// advanced before the send and restored if the router refuses the message.
// Once the router accepts it the message counts as sent, even when the
// message log write fails. Must be called with mu held.
func (s *Service) send(ctx context.Context, user common.Address, score uint64, msg domain.CCIPMessage, fee *big.Int, now time.Time) (domain.BridgeReceipt, error) {
	prev, err := s.db.GetBridgeState(ctx, user)
	if err != nil {
		return domain.BridgeReceipt{}, fmt.Errorf("load bridge state: %w", err)
	}
	next := domain.BridgeState{User: user, LastBridgedScore: score, LastBridgeTime: now}
	if err := s.db.PutBridgeState(ctx, next); err != nil {
		return domain.BridgeReceipt{}, fmt.Errorf("reserve bridge state: %w", err)
	}

	id, err := s.router.Send(ctx, s.cfg.Destination.Selector, msg, fee)
	if err != nil {
		metrics.BridgeMessages.WithLabelValues("failed").Inc()
		if rerr := s.db.PutBridgeState(context.WithoutCancel(ctx), prev); rerr != nil {
			log.Printf("[bridge] restore state for %s: %v", user.Hex(), rerr)
		}
		return domain.BridgeReceipt{}, fmt.Errorf("send: %w", err)
	}

	r := domain.BridgeReceipt{MessageID: id, User: user, Score: score, Fee: new(big.Int).Set(fee), SentAt: now}
	metrics.BridgeMessages.WithLabelValues("sent").Inc()
	if err := s.db.InsertBridgeMessage(context.WithoutCancel(ctx), r); err != nil {
		metrics.BridgeMessages.WithLabelValues("unlogged").Inc()
		log.Printf("[bridge] message %s sent but not logged: %v", id.Hex(), err)
	}
	log.Printf("[bridge] %s score %d -> %s (%s)", user.Hex(), score, s.cfg.Destination.Name, id.Hex())
	s.events.Publish(domain.Event{
		Type:      domain.EventMessageSent,
		User:      user,
		Score:     score,
		Chain:     s.cfg.Destination.Selector,
		MessageID: id,
		Timestamp: now,
	})
	return r, nil
}

// BridgeUserData sends user's remote score to the hub. value pays the
// transport fee; the excess comes back as Receipt.Refund.
func (s *Service) BridgeUserData(ctx context.Context, user common.Address, value *big.Int) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Active {
		return Receipt{}, domain.ErrBridgeInactive
	}
	if value == nil {
		value = new(big.Int)
	}
	now := s.now()
	score, err := s.eligible(ctx, user, now)
	if err != nil {
		metrics.BridgeMessages.WithLabelValues("skipped").Inc()
		return Receipt{}, err
	}
	msg, err := s.message(user, score)
	if err != nil {
		return Receipt{}, err
	}
	fee, err := s.router.GetFee(s.cfg.Destination.Selector, msg)
	if err != nil {
		return Receipt{}, fmt.Errorf("get fee: %w", err)
	}
	if value.Cmp(fee) < 0 {
		return Receipt{}, &domain.InsufficientFeeError{Have: value, Need: fee, Kind: domain.ErrNotEnoughBalance}
	}
	r, err := s.send(ctx, user, score, msg, fee, now)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{BridgeReceipt: r, Refund: new(big.Int).Sub(value, fee)}, nil
}

// State returns the bridge bookkeeping for user.
func (s *Service) State(ctx context.Context, user common.Address) (domain.BridgeState, error) {
	return s.db.GetBridgeState(ctx, user)
}

// Messages returns recent messages sent for user.
func (s *Service) Messages(ctx context.Context, user common.Address, limit int) ([]domain.BridgeReceipt, error) {
	return s.db.ListBridgeMessages(ctx, user, limit)
}
