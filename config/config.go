package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"lendvault/crypto"
)

// Backend names accepted for the state store.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

type Config struct {
	RPCAddress          string `toml:"RPCAddress"`
	DataDir             string `toml:"DataDir"`
	DBBackend           string `toml:"DBBackend"`
	EventLogPath        string `toml:"EventLogPath"`
	OwnerAddress        string `toml:"OwnerAddress"`
	ServiceName         string `toml:"ServiceName"`
	LTVBps              uint64 `toml:"LTVBps"`
	MaxBorrowersPerPass uint64 `toml:"MaxBorrowersPerPass"`
}

// Load loads the configuration from the given path, creating a default file
// (with a freshly generated owner address) when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg, path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the semantic constraints the daemon depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OwnerAddress) == "" {
		return fmt.Errorf("config: OwnerAddress must be set")
	}
	if _, err := crypto.DecodeAddress(c.OwnerAddress); err != nil {
		return fmt.Errorf("config: invalid OwnerAddress: %w", err)
	}
	switch c.DBBackend {
	case BackendMemory, BackendLevelDB, BackendBolt:
	default:
		return fmt.Errorf("config: unknown DBBackend %q", c.DBBackend)
	}
	if c.LTVBps == 0 || c.LTVBps > 10_000 {
		return fmt.Errorf("config: LTVBps must be within (0, 10000], got %d", c.LTVBps)
	}
	return nil
}

// Owner decodes the configured owner address.
func (c *Config) Owner() (crypto.Address, error) {
	return crypto.DecodeAddress(c.OwnerAddress)
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8547"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "vaultdata")
	}
	if strings.TrimSpace(cfg.DBBackend) == "" {
		cfg.DBBackend = BackendLevelDB
	}
	if strings.TrimSpace(cfg.EventLogPath) == "" {
		cfg.EventLogPath = filepath.Join(cfg.DataDir, "events.db")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "lendvault"
	}
	if cfg.LTVBps == 0 {
		cfg.LTVBps = 5_000
	}
	if cfg.MaxBorrowersPerPass == 0 {
		cfg.MaxBorrowersPerPass = 256
	}
}

func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := &Config{OwnerAddress: key.PubKey().Address().String()}
	applyDefaults(cfg, path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
