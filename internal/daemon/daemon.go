package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/fatih/color"

	"github.com/imperfect-abs/abshub/internal/api"
	"github.com/imperfect-abs/abshub/internal/app/bridge"
	"github.com/imperfect-abs/abshub/internal/app/hub"
	"github.com/imperfect-abs/abshub/internal/app/rewards"
	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/health"
	"github.com/imperfect-abs/abshub/internal/infra/ccip"
	"github.com/imperfect-abs/abshub/internal/infra/evm"
	"github.com/imperfect-abs/abshub/internal/infra/functions"
	"github.com/imperfect-abs/abshub/internal/infra/sqlite"
	"github.com/imperfect-abs/abshub/internal/security"
)

// Daemon is the abshub runtime. It wires together all services.
type Daemon struct {
	Config  Config
	DB      *sqlite.DB
	Keypair *security.Keypair
	Owner   common.Address

	Hub     *hub.Service
	Rewards *rewards.Service
	Bridge  *bridge.Service // nil when disabled
	Oracle  *functions.Router
	CCIP    *ccip.Router
	Events  *api.EventHub
	Health  *health.Checker
	Server  *api.Server

	logFile *os.File
	closers []func()
	cancel  context.CancelFunc
	started bool
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	d := &Daemon{Config: cfg}
	if err := d.wire(context.Background()); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) wire(ctx context.Context) error {
	cfg := d.Config
	home := abshubHome()

	if err := d.configureLogging(); err != nil {
		return err
	}

	db, err := sqlite.Open(home)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	d.DB = db

	kp, err := security.LoadOrCreateKeypair(home)
	if err != nil {
		return fmt.Errorf("load operator key: %w", err)
	}
	d.Keypair = kp
	if d.Owner, err = parseAddress(cfg.Hub.Owner, kp.Address()); err != nil {
		return fmt.Errorf("hub.owner: %w", err)
	}

	// Contract addresses default to what the operator would get deploying
	// the hub and then the bridge from a fresh account.
	hubAddr, err := parseAddress(cfg.Hub.Address, crypto.CreateAddress(kp.Address(), 0))
	if err != nil {
		return fmt.Errorf("hub.address: %w", err)
	}

	// ─── Hub ────────────────────────────────────────────────────────────

	local, err := cfg.Hub.LocalChain.Chain()
	if err != nil {
		return fmt.Errorf("hub.local_chain: %w", err)
	}
	chains, err := parseChains(cfg.Hub.Chains)
	if err != nil {
		return fmt.Errorf("hub.chains: %w", err)
	}
	hcfg := hub.DefaultConfig()
	if cfg.Hub.MaxRepsPerSession > 0 {
		hcfg.MaxRepsPerSession = cfg.Hub.MaxRepsPerSession
	}
	hcfg.SubmissionCooldown = parseDuration(cfg.Hub.SubmissionCooldown, hcfg.SubmissionCooldown)
	hcfg.LocalChain = local
	hcfg.Chains = chains
	hcfg.Owner = d.Owner
	hcfg.Address = hubAddr
	hcfg.OracleSource = functions.ScriptName
	hcfg.SubscriptionID = cfg.Hub.SubscriptionID
	if cfg.Hub.GasLimit > 0 {
		hcfg.GasLimit = cfg.Hub.GasLimit
	}

	if d.Hub, err = hub.New(ctx, hcfg, db); err != nil {
		return fmt.Errorf("init hub: %w", err)
	}
	d.Events = api.NewEventHub(cfg.API.EventBuffer)
	d.Hub.SetEventSink(d.Events)

	// ─── Rewards ────────────────────────────────────────────────────────

	rcfg := rewards.DefaultConfig()
	rcfg.Enabled = cfg.Rewards.Enabled
	if rcfg.SubmissionFee, err = parseWei(cfg.Rewards.SubmissionFee); err != nil {
		return fmt.Errorf("rewards.submission_fee: %w", err)
	}
	rcfg.Period = parseDuration(cfg.Rewards.Period, rcfg.Period)
	if cfg.Rewards.TopN > 0 {
		rcfg.TopN = cfg.Rewards.TopN
	}
	rcfg.AutoDistribution = cfg.Rewards.AutoDistribution
	if d.Rewards, err = rewards.NewService(ctx, rcfg, d.Owner, db, d.Hub); err != nil {
		return fmt.Errorf("init rewards: %w", err)
	}
	d.Rewards.SetEventSink(d.Events)
	d.Hub.SetFeeCollector(d.Rewards)

	// ─── Oracle ─────────────────────────────────────────────────────────

	fcfg := functions.DefaultConfig()
	if cfg.Oracle.Workers > 0 {
		fcfg.Workers = cfg.Oracle.Workers
	}
	if cfg.Oracle.QueueSize > 0 {
		fcfg.QueueSize = cfg.Oracle.QueueSize
	}
	fcfg.Timeout = parseDuration(cfg.Oracle.Timeout, fcfg.Timeout)
	weather := functions.NewWeatherClient(cfg.Oracle.WeatherEndpoint, cfg.Oracle.WeatherAPIKey)
	d.Oracle = functions.NewRouter(fcfg, functions.NewDON(weather))
	d.Oracle.AddConsumer(hubAddr, d.Hub)
	d.Hub.SetOracle(d.Oracle)
	if cfg.Oracle.WeatherAPIKey == "" {
		log.Printf("[daemon] no weather API key: analyses will take the fallback path")
	}

	// ─── Cross-Chain ────────────────────────────────────────────────────

	source, err := cfg.Bridge.SourceChain.Chain()
	if err != nil {
		return fmt.Errorf("bridge.source_chain: %w", err)
	}
	ccfg := ccip.DefaultConfig(source)
	if ccfg.BaseFee, err = parseWei(cfg.CCIP.BaseFee); err != nil {
		return fmt.Errorf("ccip.base_fee: %w", err)
	}
	if ccfg.FeePerByte, err = parseWei(cfg.CCIP.FeePerByte); err != nil {
		return fmt.Errorf("ccip.fee_per_byte: %w", err)
	}
	d.CCIP = ccip.NewRouter(ccfg)
	d.CCIP.Register(local, d.Hub)
	for _, rc := range cfg.CCIP.Relays {
		chain, err := rc.Chain.Chain()
		if err != nil {
			return fmt.Errorf("ccip.relays: %w", err)
		}
		d.CCIP.Register(chain, ccip.NewHTTPRelay(strings.TrimRight(rc.URL, "/"), d.Keypair))
		log.Printf("[daemon] relaying %s messages to %s", chain.Name, rc.URL)
	}

	// ─── Bridge ─────────────────────────────────────────────────────────

	if cfg.Bridge.Enabled {
		if err := d.wireBridge(ctx, hubAddr); err != nil {
			return err
		}
	}

	// ─── Health + API ───────────────────────────────────────────────────

	d.Health = health.NewChecker(db, health.Options{
		DataDir:    home,
		Backlog:    d.Hub.PendingAnalyses,
		Requeue:    d.Hub.ResumeAnalyses,
		StaleAfter: parseDuration(cfg.Oracle.StaleAfter, 5*time.Minute),
		MaxStale:   cfg.Oracle.MaxStale,
	})

	d.Server = api.NewServer(d.Hub, d.Events)
	d.Server.SetRewards(d.Rewards)
	d.Server.SetHealth(d.Health)
	d.Server.RequireSignatures(cfg.API.RequireSignatures)
	signers := []common.Address{d.Keypair.Address()}
	for _, v := range cfg.CCIP.RelaySigners {
		addr, err := parseAddress(v, common.Address{})
		if err != nil || addr == (common.Address{}) {
			return fmt.Errorf("ccip.relay_signers: bad address %q", v)
		}
		signers = append(signers, addr)
	}
	d.Server.SetRelaySigners(signers...)
	if !cfg.API.RequireSignatures {
		log.Printf("[daemon] api.require_signatures is off: unsigned workouts are accepted")
	}
	if d.Bridge != nil {
		d.Server.SetBridge(d.Bridge)
	}
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}
	return nil
}

func (d *Daemon) wireBridge(ctx context.Context, hubAddr common.Address) error {
	cfg := d.Config.Bridge
	dest, err := cfg.Destination.Chain()
	if err != nil {
		return fmt.Errorf("bridge.destination: %w", err)
	}
	receiver, err := parseAddress(cfg.Receiver, hubAddr)
	if err != nil {
		return fmt.Errorf("bridge.receiver: %w", err)
	}
	remote, err := parseAddress(cfg.RemoteContract, common.Address{})
	if err != nil {
		return fmt.Errorf("bridge.remote_contract: %w", err)
	}

	factory := bridge.StaticReader(bridge.NewLocalReader(d.Hub))
	if cfg.RPCURL != "" {
		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
		}
		d.closers = append(d.closers, client.Close)
		factory = func(addr common.Address) (domain.ScoreReader, error) {
			return evm.NewLedgerReader(client, addr), nil
		}
	}

	bcfg := bridge.DefaultConfig()
	bcfg.Active = cfg.Active
	bcfg.Owner = d.Owner
	bcfg.Address = crypto.CreateAddress(d.Keypair.Address(), 1)
	bcfg.RemoteContract = remote
	bcfg.Destination = dest
	bcfg.Receiver = receiver
	bcfg.Cooldown = parseDuration(cfg.Cooldown, bcfg.Cooldown)
	bcfg.MinScoreThreshold = cfg.MinScoreThreshold
	if cfg.MaxBatchSize > 0 {
		bcfg.MaxBatchSize = cfg.MaxBatchSize
	}

	d.Bridge, err = bridge.New(ctx, bcfg, d.DB, d.CCIP, factory)
	if err != nil {
		return fmt.Errorf("init bridge: %w", err)
	}
	d.Bridge.SetEventSink(d.Events)
	return nil
}

// configureLogging sends log output to stdout and, when configured, the
// log file.
func (d *Daemon) configureLogging() error {
	hub.Debug = strings.EqualFold(d.Config.Logging.Level, "debug")
	if d.Config.Logging.File == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(d.Config.Logging.File), 0700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(d.Config.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	d.logFile = f
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	return nil
}

// Start runs the background workers: oracle execution, health checks and,
// when enabled, automatic reward distribution.
func (d *Daemon) Start(ctx context.Context) {
	if d.started {
		return
	}
	d.started = true
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.Oracle.Start(ctx)
	// Requests queued by an earlier process never reached these workers.
	if n, err := d.Hub.ResumeAnalyses(ctx, 0); err != nil {
		log.Printf("[daemon] resume pending analyses: %v", err)
	} else if n > 0 {
		log.Printf("[daemon] re-sent %d pending analyses", n)
	}
	go d.Health.Run(ctx)
	if d.Rewards.Config().AutoDistribution {
		go d.Rewards.Run(ctx, parseDuration(d.Config.Rewards.UpkeepInterval, time.Hour))
	}
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	d.Start(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	color.Green("abshub serving on http://%s", addr)
	fmt.Printf("  Operator: %s\n", d.Owner.Hex())
	fmt.Printf("  Hub:      %s on %s\n", d.Hub.Config().Address.Hex(), d.Hub.Config().LocalChain.Name)
	if d.Bridge != nil {
		bc := d.Bridge.Config()
		fmt.Printf("  Bridge:   %s -> %s\n", d.CCIP.Source().Name, bc.Destination.Name)
	}
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics:  http://%s/metrics\n", addr)
	}

	err := httpServer.ListenAndServe()
	d.Close()
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
		if d.Oracle != nil {
			d.Oracle.Wait()
		}
	}
	for _, c := range d.closers {
		c()
	}
	d.closers = nil
	if d.DB != nil {
		_ = d.DB.Close()
		d.DB = nil
	}
	if d.logFile != nil {
		log.SetOutput(os.Stderr)
		_ = d.logFile.Close()
		d.logFile = nil
	}
}
