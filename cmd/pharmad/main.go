package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"pharmaclear/config"
	"pharmaclear/core"
	"pharmaclear/core/events"
	"pharmaclear/native/audit"
	"pharmaclear/observability/logging"
	"pharmaclear/rpc"
	"pharmaclear/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML config file")
	env := flag.String("env", "dev", "deployment environment label for logs")
	flag.Parse()

	logger := logging.Setup("pharmad", *env)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open state database", "error", err, "path", cfg.DataDir)
		os.Exit(1)
	}
	defer db.Close()

	auditStore, err := audit.NewStore(cfg.AuditPath, nil)
	if err != nil {
		logger.Error("failed to open audit store", "error", err, "path", cfg.AuditPath)
		os.Exit(1)
	}
	defer auditStore.Close()

	recorder := audit.NewRecorder(auditStore, logger)
	node := core.NewNode(db, core.WithEmitter(events.MultiEmitter{
		recorder,
		events.NewLogEmitter(logger),
	}))

	allocations, err := genesisAllocations(cfg)
	if err != nil {
		logger.Error("invalid genesis allocation", "error", err)
		os.Exit(1)
	}
	if err := node.ApplyGenesis(allocations, cfg.EscrowDeposit); err != nil {
		logger.Error("failed to apply genesis", "error", err)
		os.Exit(1)
	}

	logger.Info("node initialised",
		"network", cfg.NetworkName,
		"datadir", cfg.DataDir,
		"audit", cfg.AuditPath,
	)

	server := rpc.NewServer(node, auditStore, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "error", err)
		os.Exit(1)
	}
}

func genesisAllocations(cfg *config.Config) (map[[20]byte]uint64, error) {
	allocations := make(map[[20]byte]uint64, len(cfg.Genesis))
	for _, account := range cfg.Genesis {
		addr, err := parseAddress(account.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis account %q: %w", account.Address, err)
		}
		allocations[addr] = account.Balance
	}
	return allocations, nil
}

func parseAddress(s string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return addr, err
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address must be %d bytes, got %d", len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}
