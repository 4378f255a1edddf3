package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"github.com/imperfect-abs/abshub/internal/app/hub"
	"github.com/imperfect-abs/abshub/internal/app/rewards"
	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/health"
	"github.com/imperfect-abs/abshub/internal/infra/ccip"
	"github.com/imperfect-abs/abshub/internal/infra/sqlite"
	"github.com/imperfect-abs/abshub/internal/security"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type testServer struct {
	*Server
	hub   *hub.Service
	db    *sqlite.DB
	relay *security.Keypair
	now   time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := hub.DefaultConfig()
	cfg.Owner = owner
	h, err := hub.New(context.Background(), cfg, db)
	if err != nil {
		t.Fatalf("hub.New: %v", err)
	}
	ts := &testServer{hub: h, db: db, now: time.Unix(1_700_000_000, 0)}
	h.SetClock(func() time.Time { return ts.now })

	events := NewEventHub(16)
	h.SetEventSink(events)
	ts.Server = NewServer(h, events)
	ts.SetVersion("test")
	ts.SetHealth(health.NewChecker(db, health.Options{DataDir: dir}))
	ts.RequireSignatures(false)

	ts.relay, err = security.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	ts.SetRelaySigners(ts.relay.Address())
	return ts
}

// relayed POSTs msg to the receive endpoint signed by kp, or unsigned
// when kp is nil.
func (ts *testServer) relayed(t *testing.T, kp *security.Keypair, msg domain.CCIPMessage) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", ccip.ReceivePath, bytes.NewReader(body))
	if kp != nil {
		sig, err := kp.SignText(body)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set(ccip.SignatureHeader, hexutil.Encode(sig))
	}
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func errorType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Type
}

func workout(user common.Address, reps uint64) map[string]interface{} {
	return map[string]interface{}{
		"user": user.Hex(), "reps": reps, "form_accuracy": 80, "streak": 2,
		"duration": 90, "latitude": 40712800, "longitude": -74006000,
	}
}

// ─── Health Check ───────────────────────────────────────────────────────────

func TestAPI_Health(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	w = ts.do(t, "GET", "/api/version", nil)
	var v map[string]string
	json.NewDecoder(w.Body).Decode(&v)
	if v["version"] != "test" {
		t.Errorf("version = %q", v["version"])
	}
}

func TestAPI_Status(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Status       string         `json:"status"`
		Participants int            `json:"participants"`
		Chains       []domain.Chain `json:"chains"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Status != "ok" || body.Participants != 0 || len(body.Chains) != 4 {
		t.Errorf("body = %+v", body)
	}
}

// ─── Workouts ───────────────────────────────────────────────────────────────

func TestAPI_SubmitWorkout(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/workouts", workout(alice, 10))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res hub.SubmitResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Session.Reps != 10 || res.Position != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.OracleErr == "" {
		t.Error("no oracle configured: result should carry the oracle error")
	}

	w = ts.do(t, "GET", "/api/users/"+alice.Hex()+"/score", nil)
	var us hub.UserScore
	json.NewDecoder(w.Body).Decode(&us)
	if us.Local.TotalReps != 10 || us.Breakdown.Total == 0 {
		t.Errorf("score = %+v", us)
	}

	w = ts.do(t, "GET", "/api/users/"+alice.Hex()+"/sessions/0", nil)
	if w.Code != http.StatusOK {
		t.Errorf("session 0 status = %d", w.Code)
	}
	w = ts.do(t, "GET", "/api/users/"+alice.Hex()+"/sessions/7", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("session 7 status = %d, want 404", w.Code)
	}
}

func TestAPI_SubmitWorkout_Errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
		kind   string
	}{
		{"bad json", "{", http.StatusBadRequest, "invalid_request"},
		{"zero reps", workout(alice, 0), http.StatusBadRequest, "invalid_request"},
		{"too many reps", workout(alice, 501), http.StatusBadRequest, "invalid_request"},
		{"zero user", workout(common.Address{}, 10), http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, "POST", "/api/workouts", tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if got := errorType(t, w); got != tt.kind {
				t.Errorf("type = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestAPI_SubmitWorkout_Cooldown(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, "POST", "/api/workouts", workout(bob, 10)); w.Code != http.StatusCreated {
		t.Fatalf("first submit = %d", w.Code)
	}
	ts.now = ts.now.Add(15 * time.Second)

	w := ts.do(t, "POST", "/api/workouts", workout(bob, 10))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "45" {
		t.Errorf("Retry-After = %q, want 45", got)
	}
}

func TestAPI_SubmitWorkout_SignedByDefault(t *testing.T) {
	ts := newTestServer(t)
	ts.Server = NewServer(ts.hub, nil)

	w := ts.do(t, "POST", "/api/workouts", workout(alice, 12))
	if w.Code != http.StatusForbidden {
		t.Fatalf("unsigned status = %d, want 403", w.Code)
	}
	if got := errorType(t, w); got != "forbidden" {
		t.Errorf("error type = %q", got)
	}
	if n, _ := ts.hub.ParticipantCount(context.Background()); n != 0 {
		t.Errorf("participants = %d, want 0", n)
	}
}

func TestAPI_SubmitWorkout_Signatures(t *testing.T) {
	ts := newTestServer(t)
	ts.RequireSignatures(true)
	kp, _ := security.GenerateKeypair()

	body := workout(kp.Address(), 12)
	if w := ts.do(t, "POST", "/api/workouts", body); w.Code != http.StatusForbidden {
		t.Fatalf("unsigned status = %d, want 403", w.Code)
	}

	sub := domain.Submission{
		User: kp.Address(), Reps: 12, FormAccuracy: 80, Streak: 2, Duration: 90,
		Latitude: 40712800, Longitude: -74006000,
	}
	sig, err := kp.SignText(security.WorkoutMessage(sub))
	if err != nil {
		t.Fatal(err)
	}

	forged := workout(alice, 12)
	forged["signature"] = hexutil.Encode(sig)
	if w := ts.do(t, "POST", "/api/workouts", forged); w.Code != http.StatusForbidden {
		t.Fatalf("signature for another user status = %d, want 403", w.Code)
	}

	body["signature"] = hexutil.Encode(sig)
	if w := ts.do(t, "POST", "/api/workouts", body); w.Code != http.StatusCreated {
		t.Fatalf("signed status = %d, body = %s", w.Code, w.Body.String())
	}
}

// ─── Reads ──────────────────────────────────────────────────────────────────

func TestAPI_BadAddress(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/api/users/not-an-address/score", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAPI_Leaderboard(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "POST", "/api/workouts", workout(alice, 10))
	ts.do(t, "POST", "/api/workouts", workout(bob, 30))

	w := ts.do(t, "GET", "/api/leaderboard?limit=1", nil)
	var board struct {
		Total   int                       `json:"total"`
		Entries []domain.LeaderboardEntry `json:"entries"`
	}
	json.NewDecoder(w.Body).Decode(&board)
	if board.Total != 2 || len(board.Entries) != 1 || board.Entries[0].User != alice {
		t.Errorf("leaderboard = %+v", board)
	}

	w = ts.do(t, "GET", "/api/leaderboard/top?n=5", nil)
	var top struct {
		Entries []domain.LeaderboardEntry `json:"entries"`
	}
	json.NewDecoder(w.Body).Decode(&top)
	if len(top.Entries) != 2 || top.Entries[0].User != bob {
		t.Errorf("top = %+v", top)
	}

	if w := ts.do(t, "GET", "/api/leaderboard?offset=-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("negative offset status = %d", w.Code)
	}
}

func TestAPI_Rewards(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, "GET", "/api/rewards", nil); w.Code != http.StatusNotFound {
		t.Fatalf("rewards unmounted status = %d, want 404", w.Code)
	}

	svc, err := rewards.NewService(context.Background(), rewards.DefaultConfig(), owner, ts.db, ts.hub)
	if err != nil {
		t.Fatal(err)
	}
	ts.SetRewards(svc)

	if w := ts.do(t, "GET", "/api/rewards", nil); w.Code != http.StatusOK {
		t.Errorf("rewards status = %d", w.Code)
	}
	w := ts.do(t, "GET", "/api/users/"+alice.Hex()+"/rewards", nil)
	var r domain.UserReward
	json.NewDecoder(w.Body).Decode(&r)
	if w.Code != http.StatusOK || r.Pending == nil || r.Pending.Sign() != 0 {
		t.Errorf("user rewards = %d %+v", w.Code, r)
	}
}

// ─── Cross-Chain ────────────────────────────────────────────────────────────

func TestAPI_CCIPReceive(t *testing.T) {
	ts := newTestServer(t)
	data, _ := ccip.EncodeScorePayload(bob, 40)
	msg := domain.CCIPMessage{SourceChainSelector: domain.SelectorPolygonAmoy, Sender: alice, Data: data}

	if w := ts.relayed(t, ts.relay, msg); w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	w := ts.do(t, "GET", "/api/users/"+bob.Hex()+"/crosschain", nil)
	var cc domain.CrossChainFitnessData
	json.NewDecoder(w.Body).Decode(&cc)
	if cc.Slots[domain.SelectorPolygonAmoy] != 40 {
		t.Errorf("crosschain = %+v", cc)
	}

	msg.SourceChainSelector = 42
	if w := ts.relayed(t, ts.relay, msg); w.Code != http.StatusForbidden {
		t.Errorf("unknown chain status = %d, want 403", w.Code)
	}
	msg.SourceChainSelector = domain.SelectorPolygonAmoy
	msg.Data = []byte{1}
	if w := ts.relayed(t, ts.relay, msg); w.Code != http.StatusBadRequest {
		t.Errorf("malformed status = %d, want 400", w.Code)
	}
}

func TestAPI_CCIPReceive_RejectsUnknownRelay(t *testing.T) {
	foreign, err := security.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		signer *security.Keypair
		header string
	}{
		{name: "unsigned"},
		{name: "foreign signer", signer: foreign},
		{name: "garbage header", header: "0xzz"},
		{name: "short signature", header: "0x0102"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			data, _ := ccip.EncodeScorePayload(bob, 9000)
			msg := domain.CCIPMessage{SourceChainSelector: domain.SelectorPolygonAmoy, Sender: alice, Data: data}

			var w *httptest.ResponseRecorder
			if tt.header != "" {
				body, _ := json.Marshal(msg)
				req := httptest.NewRequest("POST", ccip.ReceivePath, bytes.NewReader(body))
				req.Header.Set(ccip.SignatureHeader, tt.header)
				w = httptest.NewRecorder()
				ts.Handler().ServeHTTP(w, req)
			} else {
				w = ts.relayed(t, tt.signer, msg)
			}
			if w.Code != http.StatusForbidden {
				t.Fatalf("status = %d, want 403 (body %s)", w.Code, w.Body.String())
			}
			cc, err := ts.hub.CrossChain(context.Background(), bob)
			if err != nil {
				t.Fatal(err)
			}
			if got := cc.Slots[domain.SelectorPolygonAmoy]; got != 0 {
				t.Errorf("slot = %d, want 0", got)
			}
		})
	}
}

func TestAPI_CCIPReceive_SignatureCoversBody(t *testing.T) {
	ts := newTestServer(t)
	data, _ := ccip.EncodeScorePayload(bob, 40)
	signed, _ := json.Marshal(domain.CCIPMessage{SourceChainSelector: domain.SelectorPolygonAmoy, Sender: alice, Data: data})
	sig, err := ts.relay.SignText(signed)
	if err != nil {
		t.Fatal(err)
	}

	inflated, _ := ccip.EncodeScorePayload(bob, 9000)
	tampered, _ := json.Marshal(domain.CCIPMessage{SourceChainSelector: domain.SelectorPolygonAmoy, Sender: alice, Data: inflated})
	req := httptest.NewRequest("POST", ccip.ReceivePath, bytes.NewReader(tampered))
	req.Header.Set(ccip.SignatureHeader, hexutil.Encode(sig))
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	cc, _ := ts.hub.CrossChain(context.Background(), bob)
	if got := cc.Slots[domain.SelectorPolygonAmoy]; got != 0 {
		t.Errorf("slot = %d, want 0", got)
	}
}

func TestAPI_RelayEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	data, _ := ccip.EncodeScorePayload(alice, 70)
	relay := ccip.NewHTTPRelay(srv.URL, ts.relay)
	err := relay.CCIPReceive(context.Background(), domain.CCIPMessage{
		SourceChainSelector: domain.SelectorBaseSepolia, Sender: bob, Data: data,
	})
	if err != nil {
		t.Fatalf("relay error: %v", err)
	}
	cc, _ := ts.hub.CrossChain(context.Background(), alice)
	if cc.Slots[domain.SelectorBaseSepolia] != 70 {
		t.Errorf("slot = %d, want 70", cc.Slots[domain.SelectorBaseSepolia])
	}

	other, _ := security.GenerateKeypair()
	data, _ = ccip.EncodeScorePayload(alice, 900)
	err = ccip.NewHTTPRelay(srv.URL, other).CCIPReceive(context.Background(), domain.CCIPMessage{
		SourceChainSelector: domain.SelectorBaseSepolia, Sender: bob, Data: data,
	})
	if err == nil {
		t.Fatal("relay signed by an unknown key should be refused")
	}
	cc, _ = ts.hub.CrossChain(context.Background(), alice)
	if cc.Slots[domain.SelectorBaseSepolia] != 70 {
		t.Errorf("slot after refused relay = %d, want 70", cc.Slots[domain.SelectorBaseSepolia])
	}
}

// ─── Events ─────────────────────────────────────────────────────────────────

func TestAPI_EventStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/events?type=workout_submitted", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(5 * time.Second)
	for ts.Events().Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := ts.hub.SubmitWorkoutSession(context.Background(), domain.Submission{
		User: alice, Reps: 10, FormAccuracy: 90, Streak: 1, Duration: 60,
	}); err != nil {
		t.Fatal(err)
	}

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if event != string(domain.EventWorkoutSubmitted) {
		t.Fatalf("event = %q (filter should drop leaderboard_updated)", event)
	}
	var e domain.Event
	if err := json.Unmarshal([]byte(data), &e); err != nil || e.User != alice {
		t.Errorf("data = %s (%v)", data, err)
	}
}

func TestAPI_EventWebSocket(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/ws?user=" + bob.Hex()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for ts.Events().Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, u := range []common.Address{alice, bob} {
		if _, err := ts.hub.SubmitWorkoutSession(context.Background(), domain.Submission{
			User: u, Reps: 10, FormAccuracy: 90, Streak: 1, Duration: 60,
		}); err != nil {
			t.Fatal(err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var e domain.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if e.User != bob {
		t.Errorf("first event user = %s, want bob (alice filtered out)", e.User.Hex())
	}
}

func TestParseFilter(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/events?type=message_sent,+reward_claimed", nil)
	f, err := parseFilter(r)
	if err != nil {
		t.Fatal(err)
	}
	if !f.match(domain.Event{Type: domain.EventRewardClaimed}) {
		t.Error("reward_claimed filtered out")
	}
	if f.match(domain.Event{Type: domain.EventLeaderboardUpdated}) {
		t.Error("leaderboard_updated not filtered")
	}
	if !(eventFilter{}).match(domain.Event{Type: domain.EventAnalysisFailed}) {
		t.Error("zero filter should match everything")
	}

	r = httptest.NewRequest("GET", "/api/events?user=bogus", nil)
	if _, err := parseFilter(r); !errors.Is(err, domain.ErrInvalidUser) {
		t.Errorf("err = %v, want ErrInvalidUser", err)
	}
}

func TestEventHub_SlowSubscriberDrops(t *testing.T) {
	h := NewEventHub(1)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(domain.Event{Type: domain.EventMessageSent})
	h.Publish(domain.Event{Type: domain.EventMessageSent})
	if h.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", h.Dropped())
	}
	<-ch
	cancel()
	if h.Subscribers() != 0 {
		t.Error("cancel should unsubscribe")
	}
}
