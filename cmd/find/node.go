package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"finerp/config"
	"finerp/core"
	"finerp/core/genesis"
	"finerp/core/types"
	"finerp/native/ledger"
	"finerp/observability"
	"finerp/rpc"
	"finerp/storage"
	"finerp/storage/eventlog"
)

// node bundles the long-lived components of a running find process.
type node struct {
	logger *slog.Logger
	db     storage.Database
	chain  *core.Chain
	events *eventlog.Log
	rpc    *rpc.Server

	custody chan struct{}
	stop    context.CancelFunc
}

func openDatabase(cfg config.NodeConfig) (storage.Database, error) {
	switch strings.ToLower(cfg.DBBackend) {
	case "memory":
		return storage.NewMemDB(), nil
	case "leveldb":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare data dir: %w", err)
		}
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "chaindata"))
	default:
		return nil, fmt.Errorf("unsupported db backend %q", cfg.DBBackend)
	}
}

func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	db, err := openDatabase(cfg.Node)
	if err != nil {
		return nil, err
	}
	n := &node{logger: logger, db: db, custody: make(chan struct{}, 1)}
	if err := n.init(ctx, cfg); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) init(ctx context.Context, cfg *config.Config) error {
	chain, err := core.NewChain(n.db, core.Options{
		ChainID:       cfg.Node.ChainID,
		DevMode:       cfg.Node.DevMode,
		PausedModules: cfg.Node.PausedModules,
		Logger:        n.logger,
	})
	if err != nil {
		return fmt.Errorf("open chain: %w", err)
	}
	n.chain = chain

	if cfg.EventLog.Path != "" {
		if dir := filepath.Dir(cfg.EventLog.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("prepare event log dir: %w", err)
			}
		}
		events, err := eventlog.Open(cfg.EventLog.Path)
		if err != nil {
			return err
		}
		n.events = events
		verified, err := events.Verify(ctx)
		if err != nil {
			return fmt.Errorf("event log: %w", err)
		}
		n.logger.Info("event log verified", slog.Uint64("entries", verified))
	}
	n.installHooks()

	if chain.Head() == nil {
		spec, err := genesis.Load(cfg.Node.GenesisFile)
		if err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
		if _, err := chain.ApplyGenesis(spec); err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
	}
	observability.Chain().SetHeight(chain.Head().Header.Height)

	workerCtx, cancel := context.WithCancel(context.Background())
	n.stop = cancel
	go n.custodyLoop(workerCtx)
	n.refreshCustody()

	secret := ""
	if cfg.RPC.JWTSecretEnv != "" {
		secret = os.Getenv(cfg.RPC.JWTSecretEnv)
	}
	n.rpc = rpc.NewServer(chain, rpc.Config{
		ListenAddress:   cfg.RPC.ListenAddress,
		MaxConnections:  cfg.RPC.MaxConnections,
		JWTSecret:       secret,
		RateLimitPerSec: cfg.RPC.RateLimitPerSec,
		RateLimitBurst:  cfg.RPC.RateLimitBurst,
		ReadTimeout:     time.Duration(cfg.RPC.ReadTimeoutSec) * time.Second,
		WriteTimeout:    time.Duration(cfg.RPC.WriteTimeoutSec) * time.Second,
		Metrics:         cfg.Metrics.Enabled,
	}, n.logger)
	return nil
}

// installHooks wires the audit log and metrics to block commits. Hooks run
// with the chain locked, so the custody gauge is refreshed asynchronously.
func (n *node) installHooks() {
	n.chain.OnCommit(func(block *types.Block) {
		observability.Chain().SetHeight(block.Header.Height)
		observability.Events().RecordBlock(block)
		if n.events != nil {
			if _, err := n.events.AppendBlock(context.Background(), block); err != nil {
				n.logger.Error("append event log", slog.Uint64("height", block.Header.Height), slog.Any("error", err))
			}
		}
		select {
		case n.custody <- struct{}{}:
		default:
		}
	})
}

func (n *node) custodyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.custody:
			n.refreshCustody()
		}
	}
}

// refreshCustody publishes the token balance held by the escrow contract.
func (n *node) refreshCustody() {
	escrowAddr, ok := n.chain.ContractAddress(core.ContractEscrow)
	if !ok {
		return
	}
	tokenAddr, _ := n.chain.ContractAddress(core.ContractToken)
	args := fmt.Sprintf(`{"account":%q}`, core.Address(escrowAddr).String())
	raw, err := n.chain.Call([20]byte{}, tokenAddr, "balanceOf", []byte(args))
	if err != nil {
		n.logger.Debug("read escrow custody", slog.Any("error", err))
		return
	}
	var amount core.Amount
	if err := amount.UnmarshalJSON(raw); err != nil {
		return
	}
	observability.Chain().SetCustody(core.ContractEscrow, amount.Big(), ledger.Decimals)
}

func (n *node) Close() {
	if n.stop != nil {
		n.stop()
	}
	if n.events != nil {
		if err := n.events.Close(); err != nil {
			n.logger.Warn("close event log", slog.Any("error", err))
		}
	}
	n.db.Close()
}
