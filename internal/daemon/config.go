// Package daemon manages the abshub daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	Hub       HubConfig       `toml:"hub"`
	Rewards   RewardsConfig   `toml:"rewards"`
	Oracle    OracleConfig    `toml:"oracle"`
	CCIP      CCIPConfig      `toml:"ccip"`
	Bridge    BridgeConfig    `toml:"bridge"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	Name string `toml:"name"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	RequireSignatures bool   `toml:"require_signatures"`
	EventBuffer       int    `toml:"event_buffer"`
}

// ChainConfig names a chain. Selectors are decimal strings because TOML
// integers stop at int64 and real selectors do not.
type ChainConfig struct {
	Name     string `toml:"name"`
	Selector string `toml:"selector"`
}

// HubConfig controls the leaderboard hub. Empty addresses are derived
// from the operator key.
type HubConfig struct {
	Owner              string        `toml:"owner"`
	Address            string        `toml:"address"`
	MaxRepsPerSession  uint64        `toml:"max_reps_per_session"`
	SubmissionCooldown string        `toml:"submission_cooldown"`
	LocalChain         ChainConfig   `toml:"local_chain"`
	Chains             []ChainConfig `toml:"chains"`
	SubscriptionID     uint64        `toml:"subscription_id"`
	GasLimit           uint32        `toml:"gas_limit"`
}

// RewardsConfig controls the fee pool.
type RewardsConfig struct {
	Enabled          bool   `toml:"enabled"`
	SubmissionFee    string `toml:"submission_fee"` // wei
	Period           string `toml:"period"`
	TopN             int    `toml:"top_n"`
	AutoDistribution bool   `toml:"auto_distribution"`
	UpkeepInterval   string `toml:"upkeep_interval"`
}

// OracleConfig controls the analysis workers and the weather source.
type OracleConfig struct {
	Workers         int    `toml:"workers"`
	QueueSize       int    `toml:"queue_size"`
	Timeout         string `toml:"timeout"`
	WeatherEndpoint string `toml:"weather_endpoint"`
	WeatherAPIKey   string `toml:"weather_api_key"`
	StaleAfter      string `toml:"stale_after"`
	MaxStale        int    `toml:"max_stale"`
}

// RelayConfig routes messages for a chain to a hub in another process.
type RelayConfig struct {
	Chain ChainConfig `toml:"chain"`
	URL   string      `toml:"url"`
}

// CCIPConfig sets the message router fee schedule and remote relays.
// RelaySigners lists the operator addresses of remote hubs whose relayed
// messages this node accepts; its own operator key is always accepted.
type CCIPConfig struct {
	BaseFee      string        `toml:"base_fee"`     // wei
	FeePerByte   string        `toml:"fee_per_byte"` // wei
	Relays       []RelayConfig `toml:"relays"`
	RelaySigners []string      `toml:"relay_signers"`
}

// BridgeConfig controls the outbound bridge. Without an RPC URL the bridge
// reads this node's own ledger.
type BridgeConfig struct {
	Enabled           bool        `toml:"enabled"`
	Active            bool        `toml:"active"`
	SourceChain       ChainConfig `toml:"source_chain"`
	RPCURL            string      `toml:"rpc_url"`
	RemoteContract    string      `toml:"remote_contract"`
	Destination       ChainConfig `toml:"destination"`
	Receiver          string      `toml:"receiver"`
	Cooldown          string      `toml:"cooldown"`
	MinScoreThreshold uint64      `toml:"min_score_threshold"`
	MaxBatchSize      int         `toml:"max_batch_size"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig controls the metrics endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

func chainConfig(c domain.Chain) ChainConfig {
	return ChainConfig{Name: c.Name, Selector: c.Selector.String()}
}

// DefaultConfig returns the testnet deployment defaults.
func DefaultConfig() Config {
	homeDir := abshubHome()
	chains := make([]ChainConfig, 0, 4)
	for _, c := range domain.DefaultRemoteChains() {
		chains = append(chains, chainConfig(c))
	}
	fuji := domain.Chain{Name: "avalanche-fuji", Selector: domain.SelectorAvalancheFuji}
	base := domain.Chain{Name: "base-sepolia", Selector: domain.SelectorBaseSepolia}

	return Config{
		Node: NodeConfig{Name: "abshub"},
		API: APIConfig{
			Host:              "127.0.0.1",
			Port:              11500,
			RequireSignatures: true,
			EventBuffer:       64,
		},
		Hub: HubConfig{
			MaxRepsPerSession:  500,
			SubmissionCooldown: "60s",
			LocalChain:         chainConfig(fuji),
			Chains:             chains,
			GasLimit:           300_000,
		},
		Rewards: RewardsConfig{
			Enabled:        true,
			SubmissionFee:  "1000000000000000", // 0.001 ether
			Period:         "168h",
			TopN:           10,
			UpkeepInterval: "1h",
		},
		Oracle: OracleConfig{
			Workers:         2,
			QueueSize:       256,
			Timeout:         "30s",
			WeatherEndpoint: "https://api.openweathermap.org/data/2.5/weather",
			StaleAfter:      "5m",
			MaxStale:        10,
		},
		CCIP: CCIPConfig{
			BaseFee:    "100000000000000",
			FeePerByte: "1000000000",
		},
		Bridge: BridgeConfig{
			Enabled:           true,
			Active:            true,
			SourceChain:       chainConfig(base),
			Destination:       chainConfig(fuji),
			Cooldown:          "5m",
			MinScoreThreshold: 1,
			MaxBatchSize:      10,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, "abshub.log"),
		},
		Telemetry: TelemetryConfig{Prometheus: true},
	}
}

// LoadConfig reads config from ~/.abshub/config.toml, falling back to
// defaults. Secrets may come from the environment or ~/.abshub/.env.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	home := abshubHome()

	if err := godotenv.Load(filepath.Join(home, ".env")); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	path := filepath.Join(home, "config.toml")
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if key := os.Getenv("OPENWEATHER_API_KEY"); key != "" {
		cfg.Oracle.WeatherAPIKey = key
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.abshub/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(abshubHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// abshubHome returns the abshub data directory.
func abshubHome() string {
	if env := os.Getenv("ABSHUB_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".abshub")
}

// Home is exported for use by other packages.
func Home() string {
	return abshubHome()
}

// ─── Value Parsing ──────────────────────────────────────────────────────────

// Chain parses the selector.
func (c ChainConfig) Chain() (domain.Chain, error) {
	n, err := strconv.ParseUint(c.Selector, 10, 64)
	if err != nil {
		return domain.Chain{}, fmt.Errorf("chain %q: bad selector %q: %w", c.Name, c.Selector, err)
	}
	return domain.Chain{Name: c.Name, Selector: domain.ChainSelector(n)}, nil
}

func parseChains(cs []ChainConfig) ([]domain.Chain, error) {
	out := make([]domain.Chain, 0, len(cs))
	for _, c := range cs {
		chain, err := c.Chain()
		if err != nil {
			return nil, err
		}
		out = append(out, chain)
	}
	return out, nil
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// parseWei parses a decimal wei amount. Empty means zero.
func parseWei(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("bad wei amount %q", s)
	}
	return n, nil
}

// parseAddress parses a hex address. Empty returns fallback.
func parseAddress(s string, fallback common.Address) (common.Address, error) {
	if s == "" {
		return fallback, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("bad address %q", s)
	}
	return common.HexToAddress(s), nil
}
