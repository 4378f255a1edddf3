package bridge

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/app/hub"
	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/ccip"
	"github.com/imperfect-abs/abshub/internal/infra/sqlite"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000ca201")
	dave     = common.HexToAddress("0x0000000000000000000000000000000000000da7")
	hubAddr  = common.HexToAddress("0x0000000000000000000000000000000000000ab5")
	selfAddr = common.HexToAddress("0x00000000000000000000000000000000000b1d9e")
	fuji     = domain.Chain{Name: "avalanche-fuji", Selector: domain.SelectorAvalancheFuji}
)

// fee for one 64-byte score payload with the test router.
var msgFee = big.NewInt(1640)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type mapReader struct {
	mu     sync.Mutex
	scores map[common.Address]domain.ScoreRead
}

func (m *mapReader) ReadScore(_ context.Context, user common.Address) domain.ScoreRead {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.scores[user]
	if !ok {
		return domain.ScoreRead{Source: domain.ReadPrimary}
	}
	return r
}

func (m *mapReader) set(user common.Address, pushups, squats uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[user] = domain.ScoreRead{Pushups: pushups, Squats: squats, Exists: true, Source: domain.ReadPrimary}
}

type inbox struct {
	mu   sync.Mutex
	msgs []domain.CCIPMessage
}

func (i *inbox) CCIPReceive(_ context.Context, msg domain.CCIPMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, msg)
	return nil
}

type events struct {
	mu  sync.Mutex
	got []domain.Event
}

func (e *events) Publish(ev domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

type fixture struct {
	*Service
	db     *sqlite.DB
	reader *mapReader
	inbox  *inbox
	events *events
	router *ccip.Router
	now    time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:     newTestDB(t),
		reader: &mapReader{scores: make(map[common.Address]domain.ScoreRead)},
		inbox:  &inbox{},
		events: &events{},
		now:    time.Unix(1_700_000_000, 0),
	}
	f.router = ccip.NewRouter(ccip.Config{
		Source:     domain.Chain{Name: "polygon-amoy", Selector: domain.SelectorPolygonAmoy},
		BaseFee:    big.NewInt(1000),
		FeePerByte: big.NewInt(10),
	})
	f.router.Register(fuji, f.inbox)

	cfg := DefaultConfig()
	cfg.Owner = owner
	cfg.Address = selfAddr
	cfg.Receiver = hubAddr
	svc, err := New(context.Background(), cfg, f.db, f.router, StaticReader(f.reader))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	svc.SetClock(func() time.Time { return f.now })
	svc.SetEventSink(f.events)
	f.Service = svc
	return f
}

// ─── Single User ────────────────────────────────────────────────────────────

func TestBridgeUserData_SendsAndRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reader.set(alice, 40, 25)

	r, err := f.BridgeUserData(ctx, alice, big.NewInt(2000))
	if err != nil {
		t.Fatalf("BridgeUserData() error: %v", err)
	}
	if r.Score != 65 || r.Fee.Cmp(msgFee) != 0 || r.Refund.Int64() != 360 {
		t.Errorf("receipt = %+v refund %s", r.BridgeReceipt, r.Refund)
	}

	if len(f.inbox.msgs) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(f.inbox.msgs))
	}
	msg := f.inbox.msgs[0]
	if msg.MessageID != r.MessageID || msg.Sender != selfAddr || msg.Receiver != hubAddr {
		t.Errorf("message = %+v", msg)
	}
	user, score, err := ccip.DecodeScorePayload(msg.Data)
	if err != nil || user != alice || score != 65 {
		t.Errorf("payload = %s %d %v", user.Hex(), score, err)
	}

	st, err := f.State(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if st.LastBridgedScore != 65 || !st.LastBridgeTime.Equal(f.now) {
		t.Errorf("state = %+v", st)
	}
	if len(f.events.got) != 1 || f.events.got[0].Type != domain.EventMessageSent {
		t.Errorf("events = %+v", f.events.got)
	}
}

func TestBridgeUserData_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reader.set(alice, 10, 0)

	if _, err := f.BridgeUserData(ctx, alice, msgFee); err != nil {
		t.Fatalf("first bridge: %v", err)
	}

	// Score grew but the cooldown has not passed.
	f.reader.set(alice, 12, 0)
	f.advance(4 * time.Minute)
	_, err := f.BridgeUserData(ctx, alice, msgFee)
	var cd *domain.CooldownError
	if !errors.As(err, &cd) || cd.Remaining != time.Minute {
		t.Fatalf("within cooldown err = %v", err)
	}

	// Cooldown over, score unchanged since last bridge.
	f.reader.set(alice, 10, 0)
	f.advance(2 * time.Minute)
	if _, err := f.BridgeUserData(ctx, alice, msgFee); !errors.Is(err, domain.ErrScoreNotIncreased) {
		t.Fatalf("unchanged score err = %v", err)
	}

	f.reader.set(alice, 11, 0)
	if _, err := f.BridgeUserData(ctx, alice, msgFee); err != nil {
		t.Fatalf("increased score: %v", err)
	}
	if len(f.inbox.msgs) != 2 {
		t.Errorf("delivered %d, want 2", len(f.inbox.msgs))
	}
}

func TestBridgeUserData_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reader.set(alice, 5, 5)
	f.reader.scores[carol] = domain.ScoreRead{Source: domain.ReadFailed, Err: "rpc down"}
	f.reader.scores[dave] = domain.ScoreRead{Pushups: 9, Source: domain.ReadPrimary} // exists=false

	tests := []struct {
		name  string
		user  common.Address
		value *big.Int
		want  error
	}{
		{"zero user", common.Address{}, msgFee, domain.ErrInvalidUser},
		{"unknown user", bob, msgFee, domain.ErrBelowThreshold},
		{"failed read", carol, msgFee, domain.ErrBelowThreshold},
		{"not exists", dave, msgFee, domain.ErrBelowThreshold},
		{"underpaid", alice, big.NewInt(1639), domain.ErrNotEnoughBalance},
		{"nil value", alice, nil, domain.ErrNotEnoughBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.BridgeUserData(ctx, tt.user, tt.value); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if len(f.inbox.msgs) != 0 {
		t.Errorf("rejected bridges delivered %d messages", len(f.inbox.msgs))
	}
	st, _ := f.State(ctx, alice)
	if st.LastBridgedScore != 0 {
		t.Errorf("underpaid bridge recorded state %+v", st)
	}
}

func TestBridgeUserData_Inactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reader.set(alice, 5, 0)

	if err := f.SetActive(ctx, alice, false); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("non-owner SetActive err = %v", err)
	}
	if err := f.SetActive(ctx, owner, false); err != nil {
		t.Fatal(err)
	}
	if _, err := f.BridgeUserData(ctx, alice, msgFee); !errors.Is(err, domain.ErrBridgeInactive) {
		t.Fatalf("inactive err = %v", err)
	}
	if _, err := f.BridgeMultipleUsers(ctx, []common.Address{alice}, msgFee); !errors.Is(err, domain.ErrBridgeInactive) {
		t.Fatalf("inactive batch err = %v", err)
	}
}

// ─── Batch ──────────────────────────────────────────────────────────────────

func TestBridgeMultipleUsers_PrefixAndRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reader.set(alice, 40, 25)
	f.reader.set(carol, 30, 0)
	f.reader.set(dave, 20, 20)

	value := new(big.Int).Mul(msgFee, big.NewInt(2))
	value.Add(value, big.NewInt(100))
	users := []common.Address{{}, alice, bob, carol, dave}

	res, err := f.BridgeMultipleUsers(ctx, users, value)
	if err != nil {
		t.Fatalf("BridgeMultipleUsers() error: %v", err)
	}
	if len(res.Sent) != 2 || res.Sent[0].User != alice || res.Sent[1].User != carol {
		t.Errorf("sent = %+v", res.Sent)
	}
	if len(res.Skipped) != 2 || res.Skipped[0].User != (common.Address{}) || res.Skipped[1].User != bob {
		t.Errorf("skipped = %+v", res.Skipped)
	}
	if !res.Stopped {
		t.Error("batch should stop when funds run out at dave")
	}
	if res.Refund.Int64() != 100 || res.Spent.Int64() != 3280 {
		t.Errorf("spent %s refund %s", res.Spent, res.Refund)
	}
	if st, _ := f.State(ctx, dave); st.LastBridgedScore != 0 {
		t.Errorf("dave should not be bridged: %+v", st)
	}

	// Only sent users produce events.
	if len(f.events.got) != 2 {
		t.Fatalf("events = %d, want 2: %+v", len(f.events.got), f.events.got)
	}
	for i, want := range []common.Address{alice, carol} {
		e := f.events.got[i]
		if e.Type != domain.EventMessageSent || e.User != want || e.MessageID != res.Sent[i].MessageID {
			t.Errorf("events[%d] = %+v, want message_sent for %s", i, e, want.Hex())
		}
	}
}

func TestBridgeMultipleUsers_DuplicateSkipped(t *testing.T) {
	f := newFixture(t)
	f.reader.set(alice, 3, 0)

	res, err := f.BridgeMultipleUsers(context.Background(), []common.Address{alice, alice}, big.NewInt(10_000))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sent) != 1 || len(res.Skipped) != 1 {
		t.Errorf("sent %d skipped %d, want 1/1", len(res.Sent), len(res.Skipped))
	}
}

func TestBridgeMultipleUsers_TooLarge(t *testing.T) {
	f := newFixture(t)
	users := make([]common.Address, 11)
	if _, err := f.BridgeMultipleUsers(context.Background(), users, big.NewInt(1)); !errors.Is(err, domain.ErrBatchTooLarge) {
		t.Fatalf("err = %v", err)
	}
}

// refusingRouter quotes fees but refuses every message.
type refusingRouter struct{ *ccip.Router }

func (r refusingRouter) Send(context.Context, domain.ChainSelector, domain.CCIPMessage, *big.Int) (common.Hash, error) {
	return common.Hash{}, errors.New("router paused")
}

// fixedIDRouter delivers through the real router but reports the same
// message ID every time, so only the first message can be logged.
type fixedIDRouter struct{ *ccip.Router }

func (r fixedIDRouter) Send(ctx context.Context, dest domain.ChainSelector, msg domain.CCIPMessage, value *big.Int) (common.Hash, error) {
	if _, err := r.Router.Send(ctx, dest, msg, value); err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash("0x1d"), nil
}

func TestBridge_RefusedSendRestoresState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reader.set(alice, 10, 0)
	if _, err := f.BridgeUserData(ctx, alice, msgFee); err != nil {
		t.Fatal(err)
	}
	first := f.now

	f.advance(10 * time.Minute)
	f.reader.set(alice, 12, 0)
	f.reader.set(bob, 4, 0)
	f.Service.router = refusingRouter{f.router}
	if _, err := f.BridgeUserData(ctx, alice, msgFee); err == nil {
		t.Fatal("refused send should error")
	}
	res, err := f.BridgeMultipleUsers(ctx, []common.Address{bob}, msgFee)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sent) != 0 || len(res.Skipped) != 1 || res.Refund.Cmp(msgFee) != 0 {
		t.Errorf("batch = %+v", res)
	}
	if st, _ := f.State(ctx, alice); st.LastBridgedScore != 10 || !st.LastBridgeTime.Equal(first) {
		t.Errorf("alice state = %+v, want restored to 10 at first bridge", st)
	}
	if st, _ := f.State(ctx, bob); st.LastBridgedScore != 0 || !st.LastBridgeTime.IsZero() {
		t.Errorf("bob state = %+v, want never bridged", st)
	}

	f.Service.router = f.router
	if _, err := f.BridgeUserData(ctx, alice, msgFee); err != nil {
		t.Fatalf("retry after restore: %v", err)
	}
}

func TestBridge_SentMessageCountsWhenLogFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.Service.router = fixedIDRouter{f.router}
	f.reader.set(alice, 5, 0)
	f.reader.set(bob, 6, 0)

	if _, err := f.BridgeUserData(ctx, alice, msgFee); err != nil {
		t.Fatal(err)
	}
	// bob's message reuses the logged ID: the log write fails, the send stands.
	r, err := f.BridgeUserData(ctx, bob, big.NewInt(2000))
	if err != nil {
		t.Fatalf("BridgeUserData() error: %v", err)
	}
	if r.MessageID != common.HexToHash("0x1d") || r.Refund.Int64() != 360 {
		t.Errorf("receipt = %+v refund %s", r.BridgeReceipt, r.Refund)
	}
	if st, _ := f.State(ctx, bob); st.LastBridgedScore != 6 {
		t.Errorf("bob state = %+v, want 6", st)
	}
	if _, err := f.BridgeUserData(ctx, bob, msgFee); !errors.Is(err, domain.ErrCooldownActive) {
		t.Errorf("rebridge err = %v, want cooldown", err)
	}

	f.reader.set(carol, 7, 0)
	f.reader.set(dave, 8, 0)
	value := new(big.Int).Mul(msgFee, big.NewInt(2))
	res, err := f.BridgeMultipleUsers(ctx, []common.Address{carol, dave}, value)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sent) != 2 || len(res.Skipped) != 0 || res.Refund.Sign() != 0 || res.Spent.Cmp(value) != 0 {
		t.Errorf("batch = sent %d skipped %d spent %s refund %s", len(res.Sent), len(res.Skipped), res.Spent, res.Refund)
	}
	if len(f.inbox.msgs) != 4 || len(f.events.got) != 4 {
		t.Errorf("delivered %d, events %d, want 4/4", len(f.inbox.msgs), len(f.events.got))
	}
}

// ─── Owner Operations ───────────────────────────────────────────────────────

func TestOwnerChangesPersist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	remote := common.HexToAddress("0x00000000000000000000000000000000001ed6e7")
	dest := domain.Chain{Name: "base-sepolia", Selector: domain.SelectorBaseSepolia}

	var bound []common.Address
	factory := func(addr common.Address) (domain.ScoreReader, error) {
		bound = append(bound, addr)
		return f.reader, nil
	}
	f.newReader = factory

	if err := f.SetRemoteContract(ctx, owner, remote); err != nil {
		t.Fatal(err)
	}
	if err := f.SetDestination(ctx, owner, dest, bob); err != nil {
		t.Fatal(err)
	}
	if err := f.SetActive(ctx, owner, false); err != nil {
		t.Fatal(err)
	}

	again, err := New(ctx, DefaultConfig(), f.db, f.router, factory)
	if err != nil {
		t.Fatal(err)
	}
	cfg := again.Config()
	if cfg.RemoteContract != remote || cfg.Destination != dest || cfg.Receiver != bob || cfg.Active {
		t.Errorf("reloaded config = %+v", cfg)
	}
	if len(bound) != 2 || bound[0] != remote || bound[1] != remote {
		t.Errorf("factory bound %v", bound)
	}
}

func TestSetDestination_Unregistered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reader.set(alice, 1, 0)
	dest := domain.Chain{Name: "base-sepolia", Selector: domain.SelectorBaseSepolia}
	if err := f.SetDestination(ctx, owner, dest, hubAddr); err != nil {
		t.Fatal(err)
	}
	if _, err := f.BridgeUserData(ctx, alice, msgFee); !errors.Is(err, domain.ErrDestinationNotFound) {
		t.Fatalf("err = %v", err)
	}
}

// ─── Local Reader ───────────────────────────────────────────────────────────

type ledgerFunc func(common.Address) (hub.UserScore, error)

func (f ledgerFunc) Score(_ context.Context, u common.Address) (hub.UserScore, error) { return f(u) }

func TestLocalReader(t *testing.T) {
	ts := time.Unix(1_700_000_100, 0)
	r := NewLocalReader(ledgerFunc(func(u common.Address) (hub.UserScore, error) {
		switch u {
		case alice:
			return hub.UserScore{Local: domain.LocalAbsScore{TotalReps: 42, SessionsCompleted: 3, Timestamp: ts}}, nil
		case bob:
			return hub.UserScore{}, nil
		}
		return hub.UserScore{}, errors.New("db closed")
	}))
	ctx := context.Background()

	if got := r.ReadScore(ctx, alice); got.Score() != 42 || got.Timestamp != uint64(ts.Unix()) {
		t.Errorf("alice = %+v", got)
	}
	if got := r.ReadScore(ctx, bob); got.Exists || got.Score() != 0 {
		t.Errorf("bob = %+v", got)
	}
	if got := r.ReadScore(ctx, carol); got.Source != domain.ReadFailed || got.Err == "" {
		t.Errorf("carol = %+v", got)
	}
}
