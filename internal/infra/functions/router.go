// Package functions simulates the off-chain compute oracle: a router that
// hands out request IDs synchronously and a pool of DON workers that run
// the analysis script and call the consumer back later.
package functions

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/metrics"
)

// Executor runs a request's source with its args.
type Executor interface {
	Execute(ctx context.Context, req domain.OracleRequest) ([]byte, error)
}

// Config sizes the router.
type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration // per execution
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Workers: 2, QueueSize: 256, Timeout: 30 * time.Second}
}

type job struct {
	id       common.Hash
	req      domain.OracleRequest
	consumer domain.OracleConsumer
	queued   time.Time
}

// Router accepts requests and executes them asynchronously.
type Router struct {
	cfg  Config
	exec Executor

	mu        sync.RWMutex
	consumers map[common.Address]domain.OracleConsumer

	queue chan job
	wg    sync.WaitGroup
}

// NewRouter creates a router. Call Start to begin executing.
func NewRouter(cfg Config, exec Executor) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Router{
		cfg:       cfg,
		exec:      exec,
		consumers: make(map[common.Address]domain.OracleConsumer),
		queue:     make(chan job, cfg.QueueSize),
	}
}

// AddConsumer registers the callback target for requests from addr.
func (r *Router) AddConsumer(addr common.Address, c domain.OracleConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[addr] = c
}

// SendRequest implements domain.OracleRouter. It never blocks: a full
// queue returns ErrOracleBusy.
func (r *Router) SendRequest(_ context.Context, req domain.OracleRequest) (common.Hash, error) {
	r.mu.RLock()
	consumer, ok := r.consumers[req.Consumer]
	r.mu.RUnlock()
	if !ok {
		return common.Hash{}, fmt.Errorf("consumer %s not registered: %w", req.Consumer.Hex(), domain.ErrOracleUnavailable)
	}

	nonce := uuid.New()
	id := crypto.Keccak256Hash(req.Consumer.Bytes(), nonce[:])
	select {
	case r.queue <- job{id: id, req: req, consumer: consumer, queued: time.Now()}:
		return id, nil
	default:
		return common.Hash{}, domain.ErrOracleBusy
	}
}

// Pending returns the number of queued requests.
func (r *Router) Pending() int { return len(r.queue) }

// Start launches the workers. They exit when ctx is done; Wait blocks
// until they have.
func (r *Router) Start(ctx context.Context) {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	log.Printf("[oracle] %d workers started", r.cfg.Workers)
}

// Wait blocks until all workers have exited.
func (r *Router) Wait() { r.wg.Wait() }

func (r *Router) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.queue:
			r.run(ctx, j)
		}
	}
}

func (r *Router) run(ctx context.Context, j job) {
	execCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	response, err := r.exec.Execute(execCtx, j.req)
	var errBytes []byte
	if err != nil {
		errBytes = []byte(err.Error())
		response = nil
		log.Printf("[oracle] request %s failed: %v", j.id.Hex(), err)
	}

	if err := j.consumer.FulfillRequest(ctx, j.id, response, errBytes); err != nil {
		log.Printf("[oracle] callback %s: %v", j.id.Hex(), err)
	}
	metrics.OracleLatency.Observe(time.Since(j.queued).Seconds())
}
