package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"PodLedger/internal/api"
	"PodLedger/internal/consensus"
	"PodLedger/internal/crypto"
	"PodLedger/internal/genesis"
	"PodLedger/internal/logger"
	"PodLedger/internal/node"
	"PodLedger/internal/storage"
	"PodLedger/internal/types"
)

// genesisTimeout bounds the wait for each genesis transaction.
const genesisTimeout = time.Minute

// Daemon is a running PodLedger node with its HTTP API.
type Daemon struct {
	cfg     *Config
	key     ed25519.PrivateKey
	storage *storage.Storage
	mempool *consensus.Mempool
	node    *node.LocalNode
	api     *api.Server
}

// NewDaemon opens the store and creates the node. Nothing is served
// until Run.
func NewDaemon(cfg *Config, key ed25519.PrivateKey) (*Daemon, error) {
	d := &Daemon{cfg: cfg, key: key}

	if err := d.initStorage(); err != nil {
		return nil, err
	}

	if err := d.initNode(); err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

// initStorage initializes the Pebble storage.
func (d *Daemon) initStorage() error {
	if err := os.MkdirAll(d.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(d.cfg.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	d.storage = db

	return nil
}

// initNode creates the mempool and the node it schedules requests on.
func (d *Daemon) initNode() error {
	d.mempool = consensus.NewMempool(
		consensus.WithBlockSize(d.cfg.BlockSize),
		consensus.WithBlockInterval(d.cfg.BlockInterval),
		consensus.WithBehaving(d.cfg.Validators),
	)

	opts := []node.Option{
		node.WithConfig(d.cfg.nodeConfig()),
		node.WithScheduler(d.mempool),
	}

	n, err := node.New(d.storage, opts...)
	if err != nil {
		return fmt.Errorf("init node:\n%w", err)
	}

	d.node = n

	return nil
}

// Run starts the node and blocks until shutdown signal.
func (d *Daemon) Run() error {
	d.mempool.Start(d.node)

	d.api = api.New(d.cfg.HTTPAddress, d.node, d.mempool)
	if err := d.api.Start(); err != nil {
		d.Close()
		return fmt.Errorf("start api:\n%w", err)
	}

	if d.cfg.Bootstrap {
		if err := d.bootstrap(); err != nil {
			d.Close()
			return fmt.Errorf("bootstrap:\n%w", err)
		}
	}

	return d.waitForShutdown()
}

// bootstrap initializes a new chain when the store has no manifest yet.
func (d *Daemon) bootstrap() error {
	if manifest, err := d.node.GetManifest(); err == nil {
		logger.Info("store already initialized", "manifest", manifest.Short())
		return nil
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}

	params, err := d.cfg.genesisParams()
	if err != nil {
		return err
	}

	g, err := genesis.Build(genesis.Config{
		Params: params,
		Signer: crypto.NewEd25519Signer(d.key),
	})
	if err != nil {
		return fmt.Errorf("build genesis:\n%w", err)
	}

	start := time.Now()

	for _, req := range g.Requests {
		if err := d.deliverGenesis(req); err != nil {
			return err
		}
	}

	logger.Info("chain initialized",
		"chain", params.ChainID,
		"requests", len(g.Requests),
		"gamete", g.Gamete.Short(),
		"manifest", g.Manifest.Short(),
		logger.Timed(start),
	)

	return nil
}

// deliverGenesis posts a genesis request and waits for its successful response.
func (d *Daemon) deliverGenesis(req types.Request) error {
	ref, err := d.node.Post(req)
	if err != nil {
		return fmt.Errorf("post genesis request:\n%w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), genesisTimeout)
	defer cancel()

	resp, err := d.node.GetPolledResponse(ctx, ref)
	if err != nil {
		return fmt.Errorf("genesis request %s:\n%w", ref.Short(), err)
	}

	if r, ok := resp.(types.NonInitialResponse); ok && r.Result() != types.Successful {
		return fmt.Errorf("genesis request %s failed:\n%w", ref.Short(), r.FailureCause())
	}

	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM, then closes the node.
// SIGHUP reloads the caches of the node.
func (d *Daemon) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if err := d.node.Reload(); err != nil {
				logger.Error("reload failed", "error", err)
			} else {
				logger.Info("caches reloaded", "chain", d.node.Consensus().ChainID)
			}
			continue
		}

		logger.Info("shutting down", "signal", sig.String())
		break
	}

	return d.Close()
}

// Close shuts down all components gracefully, the API first.
func (d *Daemon) Close() error {
	if d.api != nil {
		d.api.Stop()
	}

	if d.mempool != nil {
		d.mempool.Stop()
	}

	if d.node != nil {
		d.node.Close()
	}

	if d.storage != nil {
		return d.storage.Close()
	}

	return nil
}
