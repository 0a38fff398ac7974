// Package lockconfig holds the on-disk configuration for a locktx-core
// host: chain parameters, swap-leg timeouts, storage path and log level.
// Adapted from the teacher's internal/node config-file pattern (same
// gopkg.in/yaml.v3 library, same DefaultConfig/Load/Save shape), narrowed
// from a libp2p node's settings to the parameters the LockTx state machine
// and its Manager actually consume.
package lockconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klingon-exchange/locktx-core/internal/backend"
	"github.com/klingon-exchange/locktx-core/internal/chain"
	"github.com/klingon-exchange/locktx-core/internal/locktx"
	"gopkg.in/yaml.v3"
)

// ChainConfig holds the Chain A (confidential-transaction chain)
// parameters the builder and state machine need.
type ChainConfig struct {
	// KernelSizeLimit is a kernel size bound in bytes. It is loaded and
	// saved with the file but ToMachineConfig does not pass it on: the
	// state machine's FailureSizeOverflow check in FinalizeOutputs bounds
	// only the input-plus-output count, by Swap.MaxInputsOutputs.
	KernelSizeLimit int `yaml:"kernel_size_limit"`

	// SharedOutputMaturity is the maturity marker a shared two-party
	// output is created with. Locked in at 0 (spec.md's open question
	// resolved in DESIGN.md): the LockTx kernel's own MinHeight already
	// enforces the swap's timing, so the output itself never needs a
	// separate maturity delay.
	SharedOutputMaturity uint64 `yaml:"shared_output_maturity"`

	// ProtocolVersion is this host's configured protocol version. It is
	// loaded and saved with the file but ToMachineConfig does not pass it
	// on: the Invitation and Part2 messages carry the constant
	// locktx.ProtocolVersion, and incoming versions are checked against
	// locktx.MinSupportedProtoVersion.
	ProtocolVersion uint32 `yaml:"protocol_version"`

	// DefaultTTLBlocks is the number of blocks past MinHeight after
	// which an in-flight LockTx is abandoned (FailureTransactionExpired).
	DefaultTTLBlocks uint64 `yaml:"default_ttl_blocks"`
}

// SwapConfig holds swap-leg timing parameters, mirroring the teacher's
// config.DefaultSwapConfig shape but expressed in blocks rather than
// wall-clock durations, since the LockTx machine only ever reasons about
// chain height.
type SwapConfig struct {
	// MaxInputsOutputs bounds the number of inputs plus outputs a single
	// LockTx may assemble before FinalizeOutputs refuses it.
	MaxInputsOutputs int `yaml:"max_inputs_outputs"`

	// TickIntervalSeconds is how often Manager.StartTicker drives every
	// tracked Machine's Update.
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
}

// CounterChainConfig selects which of internal/backend's blockchain
// clients backs the ChainOracle's generic counter-chain leg. Symbol picks
// one entry out of backend.DefaultConfigs() (BTC, LTC, DOGE, ETH, ...);
// Network picks mainnet or testnet endpoints for it.
type CounterChainConfig struct {
	// Symbol is the counter-chain's ticker, matched against
	// backend.DefaultConfigs() (e.g. "BTC", "LTC", "ETH").
	Symbol string `yaml:"symbol"`

	// Network is "mainnet" or "testnet".
	Network string `yaml:"network"`
}

// StorageConfig holds the parameter store's location.
type StorageConfig struct {
	// DataDir is the directory the SQLite parameter store lives under.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stdout).
	File string `yaml:"file"`
}

// Config holds all configuration for a locktx-core host.
type Config struct {
	Chain        ChainConfig        `yaml:"chain"`
	CounterChain CounterChainConfig `yaml:"counter_chain"`
	Swap         SwapConfig         `yaml:"swap"`
	Storage      StorageConfig      `yaml:"storage"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// MinSupportedProtoVersion is the oldest PeerProtoVersion this host will
// accept an Invitation from.
const MinSupportedProtoVersion = 1

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			KernelSizeLimit:      1 << 16,
			SharedOutputMaturity: 0,
			ProtocolVersion:      MinSupportedProtoVersion,
			DefaultTTLBlocks:     144,
		},
		CounterChain: CounterChainConfig{
			Symbol:  "BTC",
			Network: string(chain.Mainnet),
		},
		Swap: SwapConfig{
			MaxInputsOutputs:    32,
			TickIntervalSeconds: 5,
		},
		Storage: StorageConfig{
			DataDir: "~/.locktx-core",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// ToMachineConfig projects the host-wide config down to the narrower
// locktx.Config each Machine carries.
func ToMachineConfig(c *Config) locktx.Config {
	return locktx.Config{
		TTLBlocks:        c.Chain.DefaultTTLBlocks,
		MaxInputsOutputs: c.Swap.MaxInputsOutputs,
	}
}

// CounterChainBackend builds the internal/backend.Backend the configured
// CounterChain.Symbol/Network select, for wiring into chainoracle.Polling.
// The second return value is false if Symbol matches nothing in
// backend.DefaultConfigs(), in which case the caller falls back to a
// backend-less oracle driven only by SetHeight/ConfirmKernel.
func (c *Config) CounterChainBackend() (backend.Backend, bool) {
	registry := backend.NewDefaultRegistry(chain.Network(c.CounterChain.Network))
	return registry.Get(c.CounterChain.Symbol)
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// ConfigPath returns the full path to the config file for the given data
// directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// Load reads configuration from a YAML file under dataDir, creating one
// with default values if it doesn't yet exist.
func Load(dataDir string) (*Config, error) {
	expanded := expandPath(dataDir)
	path := filepath.Join(expanded, ConfigFileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("lockconfig: create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lockconfig: read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("lockconfig: parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("lockconfig: create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("lockconfig: marshal config: %w", err)
	}

	header := []byte("# locktx-core host configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("lockconfig: write config file: %w", err)
	}
	return nil
}
