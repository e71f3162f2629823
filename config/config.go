package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// GenesisAccount seeds an account balance when the node first starts.
type GenesisAccount struct {
	Address string `toml:"Address"`
	Balance uint64 `toml:"Balance"`
}

type Config struct {
	RPCAddress    string           `toml:"RPCAddress"`
	DataDir       string           `toml:"DataDir"`
	AuditPath     string           `toml:"AuditPath"`
	NetworkName   string           `toml:"NetworkName"`
	EscrowDeposit uint64           `toml:"EscrowDeposit"`
	Genesis       []GenesisAccount `toml:"Genesis"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./pharma-data"
	}
	if strings.TrimSpace(cfg.AuditPath) == "" {
		cfg.AuditPath = filepath.Join(cfg.DataDir, "audit.db")
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "pharma-local"
	}
	if cfg.Genesis == nil {
		cfg.Genesis = []GenesisAccount{}
	}
	for i, account := range cfg.Genesis {
		if strings.TrimSpace(account.Address) == "" {
			return nil, fmt.Errorf("config: genesis entry %d missing address", i)
		}
	}

	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./pharma-data",
		NetworkName: "pharma-local",
		Genesis:     []GenesisAccount{},
	}
	cfg.AuditPath = filepath.Join(cfg.DataDir, "audit.db")

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
