// Command spacepanda-node wires the three substrates (CRDT replication,
// the Kademlia DHT, and MLS group messaging) into a single running
// process. It is deliberately minimal: no outward gRPC/HTTP API, no
// CLI subcommands, and no networking transport beneath the DHT
// router — those are left to whatever embeds this module. What it
// does do is open durable storage, build the per-node session
// coordinator, and drain cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/luxfi/log"

	"github.com/spacepanda/core/internal/config"
	"github.com/spacepanda/core/internal/dht"
	"github.com/spacepanda/core/internal/logging"
	"github.com/spacepanda/core/internal/metrics"
	"github.com/spacepanda/core/internal/mls"
	"github.com/spacepanda/core/internal/oplog"
	"github.com/spacepanda/core/internal/session"
)

func main() {
	nodeID := flag.String("node-id", "", "unique identifier for this node")
	dataDir := flag.String("data-dir", "./spacepanda-data", "directory for durable state (mls store and commit log)")
	flag.Parse()

	if *nodeID == "" {
		fmt.Fprintln(os.Stderr, "spacepanda-node: -node-id is required")
		os.Exit(1)
	}

	logger := logging.New("spacepanda-node")
	if err := run(*nodeID, *dataDir, logger); err != nil {
		logger.Error("node exited with error", "error", err)
		os.Exit(1)
	}
}

func run(nodeID, dataDir string, logger log.Logger) error {
	cfg := config.Default(nodeID)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := mls.OpenStore(filepath.Join(dataDir, "mls.db"), nil)
	if err != nil {
		return fmt.Errorf("open mls store: %w", err)
	}
	defer store.Close()

	commitLog, err := oplog.OpenCommitLog(filepath.Join(dataDir, "commitlog"), nil)
	if err != nil {
		return fmt.Errorf("open commit log: %w", err)
	}
	defer commitLog.Close()

	// No Transport implementation is wired beneath the DHT router in
	// this module (see the Non-goals on the networking substrate), so
	// the routing table exists to back local bookkeeping and metrics,
	// but no client or lookup engine is constructed against it.
	routingTable := dht.NewRoutingTable(dht.HashString(nodeID), cfg.DHT.BucketSize)

	metricsReg := metrics.New()

	sessionCfg := session.DefaultConfig()
	sessionCfg.MlsConfig.MaxEpochDrift = cfg.MLS.EpochDrift
	sessionCfg.MlsConfig.ReplayCacheSize = uint(cfg.MLS.ReplayCacheSize)

	coord := session.New(sessionCfg, store, routingTable, nil, metricsReg, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord.StartAutoSnapshot(ctx)
	coord.StartAutoKeyPackageCleanup(ctx)

	logger.Info("spacepanda-node started", "node_id", nodeID, "data_dir", dataDir)
	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sessionCfg.ShutdownDrain)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
