package functions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/domain"
)

var consumerAddr = common.HexToAddress("0x0000000000000000000000000000000000000ab5")

// ─── Weather Bonus ──────────────────────────────────────────────────────────

func TestWeatherBonus(t *testing.T) {
	tests := []struct {
		cond string
		temp int64
		want uint64
	}{
		{"Clear", 20, 0},
		{"Clear", 4, 20},
		{"Clear", 31, 20},
		{"Clear", 5, 0},
		{"Clear", 30, 0},
		{"Rain", 20, 15},
		{"Thunderstorm", 25, 15},
		{"Clouds", 20, 5},
		{"Mist", 35, 25},
		{"Snow", -10, 30}, // 35 capped
	}
	for _, tt := range tests {
		if got := WeatherBonus(tt.cond, tt.temp); got != tt.want {
			t.Errorf("WeatherBonus(%q, %d) = %d, want %d", tt.cond, tt.temp, got, tt.want)
		}
	}
}

// ─── DON Script ─────────────────────────────────────────────────────────────

func weatherServer(t *testing.T, failFirst int32, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Query().Get("lat") != "40.712800" || r.URL.Query().Get("units") != "metric" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if n <= failFirst {
			http.Error(w, "overloaded", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func fastClient(url string) *WeatherClient {
	c := NewWeatherClient(url, "key")
	c.InitialBackoff = time.Millisecond
	c.MaxElapsedTime = 2 * time.Second
	return c
}

var workoutArgs = []string{"10", "85", "3", "120", "40.712800", "-74.006000"}

func TestAnalyze(t *testing.T) {
	srv, calls := weatherServer(t, 1, `{"weather":[{"main":"Rain"}],"main":{"temp":2.6}}`)
	don := NewDON(fastClient(srv.URL))

	out, err := don.Analyze(context.Background(), workoutArgs)
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	// base 260, temp 3 (<5) +20, Rain +15, capped at 30: 260 + 78.
	want := `{"conditions":"Rain","temperature":"3","weatherBonus":"30","score":"338"}`
	if string(out) != want {
		t.Errorf("Analyze() = %s, want %s", out, want)
	}
	if calls.Load() != 2 {
		t.Errorf("weather calls = %d, want 2 (one retry)", calls.Load())
	}
}

func TestAnalyze_Errors(t *testing.T) {
	srv, _ := weatherServer(t, 0, `{"weather":[],"main":{"temp":20}}`)
	tests := []struct {
		name string
		don  *DON
		args []string
		want error
	}{
		{"arg count", NewDON(nil), workoutArgs[:5], nil},
		{"bad reps", NewDON(nil), []string{"x", "85", "3", "120", "1.0", "2.0"}, domain.ErrInvalidFormat},
		{"no endpoint", NewDON(NewWeatherClient("", "")), workoutArgs, domain.ErrWeatherUnconfigured},
		{"empty conditions", NewDON(fastClient(srv.URL)), workoutArgs, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.don.Analyze(context.Background(), tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExecute_Script(t *testing.T) {
	don := NewDON(nil)
	_, err := don.Execute(context.Background(), domain.OracleRequest{Source: "return 1", Args: workoutArgs})
	if err == nil {
		t.Fatal("unknown script accepted")
	}
	// Known script reaches argument validation.
	_, err = don.Execute(context.Background(), domain.OracleRequest{Source: ScriptName, Args: workoutArgs[:2]})
	if err == nil || errors.Is(err, domain.ErrWeatherUnconfigured) {
		t.Fatalf("err = %v, want arg count error", err)
	}
}

// ─── Router ─────────────────────────────────────────────────────────────────

type stubExec struct {
	body []byte
	err  error
}

func (s stubExec) Execute(context.Context, domain.OracleRequest) ([]byte, error) {
	return s.body, s.err
}

type callback struct {
	id       common.Hash
	response []byte
	errBytes []byte
}

type chanConsumer chan callback

func (c chanConsumer) FulfillRequest(_ context.Context, id common.Hash, response, errBytes []byte) error {
	c <- callback{id, response, errBytes}
	return nil
}

func TestRouter_DeliversCallback(t *testing.T) {
	r := NewRouter(Config{Workers: 2, QueueSize: 4}, stubExec{body: []byte(`{"score":"1"}`)})
	cb := make(chanConsumer, 1)
	r.AddConsumer(consumerAddr, cb)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	defer func() { cancel(); r.Wait() }()

	id, err := r.SendRequest(ctx, domain.OracleRequest{Consumer: consumerAddr, Args: workoutArgs})
	if err != nil {
		t.Fatalf("SendRequest() error: %v", err)
	}
	select {
	case got := <-cb:
		if got.id != id || string(got.response) != `{"score":"1"}` || got.errBytes != nil {
			t.Errorf("callback = %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no callback")
	}
}

func TestRouter_ExecutionErrorBecomesErrBytes(t *testing.T) {
	r := NewRouter(Config{Workers: 1, QueueSize: 1}, stubExec{err: errors.New("boom")})
	cb := make(chanConsumer, 1)
	r.AddConsumer(consumerAddr, cb)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	defer func() { cancel(); r.Wait() }()

	if _, err := r.SendRequest(ctx, domain.OracleRequest{Consumer: consumerAddr}); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-cb:
		if string(got.errBytes) != "boom" || got.response != nil {
			t.Errorf("callback = %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no callback")
	}
}

func TestRouter_BusyAndUnknownConsumer(t *testing.T) {
	r := NewRouter(Config{Workers: 1, QueueSize: 2}, stubExec{})
	r.AddConsumer(consumerAddr, make(chanConsumer, 8))
	ctx := context.Background()

	if _, err := r.SendRequest(ctx, domain.OracleRequest{Consumer: common.HexToAddress("0x01")}); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Fatalf("unknown consumer err = %v", err)
	}

	// Not started: the queue fills up.
	ids := make(map[common.Hash]bool)
	for i := 0; i < 2; i++ {
		id, err := r.SendRequest(ctx, domain.OracleRequest{Consumer: consumerAddr})
		if err != nil {
			t.Fatal(err)
		}
		ids[id] = true
	}
	if len(ids) != 2 {
		t.Error("request IDs must be unique")
	}
	if _, err := r.SendRequest(ctx, domain.OracleRequest{Consumer: consumerAddr}); !errors.Is(err, domain.ErrOracleBusy) {
		t.Fatalf("full queue err = %v", err)
	}
	if r.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", r.Pending())
	}
}

func TestRouter_ConcurrentSend(t *testing.T) {
	r := NewRouter(Config{Workers: 1, QueueSize: 100}, stubExec{})
	r.AddConsumer(consumerAddr, make(chanConsumer, 100))

	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := make(map[common.Hash]bool)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.SendRequest(context.Background(), domain.OracleRequest{Consumer: consumerAddr})
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != 50 {
		t.Errorf("unique IDs = %d, want 50", len(ids))
	}
}
