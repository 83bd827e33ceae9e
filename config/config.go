// Package config loads the node's TOML configuration file, expanded from
// the teacher's minimal {ListenAddress, RPCAddress, DataDir, ValidatorKey,
// BootstrapPeers} shape to the full set of fields spec §6 and SPEC_FULL.md
// §4.9 require, while keeping the teacher's auto-generate-on-first-run
// behavior.
package config

import (
	"encoding/hex"
	"os"
	"time"

	"solidus/crypto"

	"github.com/BurntSushi/toml"
)

// Config is the node's on-disk configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"` // DHT overlay listener, host:port
	RPCAddress    string `toml:"RPCAddress"`     // peer RPC HTTP listener; peers dial it at the DHT port minus one
	DataDir       string `toml:"DataDir"`
	ValidatorKey  string `toml:"ValidatorKey"` // hex-encoded Ed25519 seed or expanded key

	PublicIP   string `toml:"PublicIP"`
	PeerPort   uint16 `toml:"PeerPort"`
	Magic      string `toml:"Magic"`
	NetVersion string `toml:"NetVersion"` // "mainnet" | "testnet"
	AcquireIP  bool   `toml:"AcquireIP"`

	BootstrapPeers  []string `toml:"BootstrapPeers"`
	PeersBlackList  []string `toml:"PeersBlackList"`
	PeersPersistent []string `toml:"PeersPersistent"`

	SlotEpochUnix     int64  `toml:"SlotEpochUnix"`
	SlotLengthMillis  int64  `toml:"SlotLengthMillis"`
	Delegates         uint32 `toml:"Delegates"`
	Leading           uint8  `toml:"Leading"`
	PowTimeoutMillis  int64  `toml:"PowTimeoutMillis"`
	EnableLongID      bool   `toml:"EnableLongID"`

	KeystorePath string `toml:"KeystorePath"` // optional; overrides ValidatorKey when set
	SeedsFile    string `toml:"SeedsFile"`    // optional operator-supplied seeds.yaml (p2p/seeds.LoadFile)

	LogLevel string `toml:"LogLevel"`

	OtelEndpoint string `toml:"OtelEndpoint"`
	OtelEnabled  bool   `toml:"OtelEnabled"`
}

// Load loads the configuration from path, writing a freshly generated
// default config (with a newly minted validator key) if path does not
// exist yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.ValidatorKey == "" {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		cfg.ValidatorKey = hex.EncodeToString(key.Bytes())

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SlotLengthMillis <= 0 {
		cfg.SlotLengthMillis = 3000
	}
	if cfg.Delegates == 0 {
		cfg.Delegates = 21
	}
	if cfg.Leading == 0 {
		cfg.Leading = 2
	}
	if cfg.PowTimeoutMillis <= 0 {
		cfg.PowTimeoutMillis = 2000
	}
	if cfg.NetVersion == "" {
		cfg.NetVersion = "mainnet"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// SlotEpoch returns the configured slot epoch as a time.Time.
func (c *Config) SlotEpoch() time.Time { return time.Unix(c.SlotEpochUnix, 0) }

// SlotLength returns the configured slot duration.
func (c *Config) SlotLength() time.Duration {
	return time.Duration(c.SlotLengthMillis) * time.Millisecond
}

// PowTimeout returns the configured PoW mint wall-clock deadline.
func (c *Config) PowTimeout() time.Duration {
	return time.Duration(c.PowTimeoutMillis) * time.Millisecond
}

// createDefault creates and saves a default configuration file, auto
// generating a validator key exactly as the teacher's createDefault does.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:   ":6001",
		RPCAddress:      ":6000",
		DataDir:         "./solidus-data",
		ValidatorKey:    hex.EncodeToString(key.Bytes()),
		PublicIP:        "127.0.0.1",
		PeerPort:        6001,
		Magic:           "solidus-mainnet",
		NetVersion:      "mainnet",
		AcquireIP:       false,
		BootstrapPeers:  []string{},
		PeersBlackList:  []string{},
		PeersPersistent:  []string{},
		SlotEpochUnix:    0,
		SlotLengthMillis: 3000,
		Delegates:        21,
		Leading:          2,
		PowTimeoutMillis: 2000,
		LogLevel:         "info",
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
