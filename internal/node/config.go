package node

import (
	"time"

	"PodLedger/internal/consensus"
	"PodLedger/internal/gas"
	"PodLedger/internal/types"
)

const (
	// defaultMaxPollingAttempts bounds the polls for a response.
	defaultMaxPollingAttempts = 60

	// defaultPollingDelay is the delay before the second poll.
	defaultPollingDelay = 10 * time.Millisecond

	// defaultCacheSize is the size of the request and response caches.
	defaultCacheSize = 1_000

	// defaultWorkers is the number of background tasks running at once.
	defaultWorkers = 4
)

// Config configures a local node.
type Config struct {
	MaxPollingAttempts   int           // MaxPollingAttempts bounds the polls of GetPolledResponse, at least one is done
	PollingDelay         time.Duration // PollingDelay is the first delay between polls, then grows by 10%
	RequestCacheSize     int           // RequestCacheSize is the number of cached requests
	ResponseCacheSize    int           // ResponseCacheSize is the number of cached responses
	SignatureCacheSize   int           // SignatureCacheSize is the number of cached signature checks
	ClassLoaderCacheSize int           // ClassLoaderCacheSize is the number of cached class loaders
	CheckErrorCacheSize  int           // CheckErrorCacheSize is the number of remembered check failures
	Workers              int           // Workers bounds the background tasks running at once
}

// DefaultConfig returns the configuration of a node for general use.
func DefaultConfig() Config {
	return Config{
		MaxPollingAttempts:   defaultMaxPollingAttempts,
		PollingDelay:         defaultPollingDelay,
		RequestCacheSize:     defaultCacheSize,
		ResponseCacheSize:    defaultCacheSize,
		SignatureCacheSize:   defaultCacheSize,
		ClassLoaderCacheSize: 100,
		CheckErrorCacheSize:  defaultCacheSize,
		Workers:              defaultWorkers,
	}
}

// Scheduler receives the posted requests. It must eventually check and
// deliver them through the node, and commit.
type Scheduler interface {
	Add(req types.Request) error
}

// Option configures the node during creation.
type Option func(*LocalNode)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(n *LocalNode) {
		n.cfg = cfg
	}
}

// WithScheduler hands posted requests to s. Without a scheduler, Post
// checks, delivers and commits every request at once.
func WithScheduler(s Scheduler) Option {
	return func(n *LocalNode) {
		n.scheduler = s
	}
}

// WithConsensus sets the consensus parameters of a node that is not
// initialized yet. An initialized node reads them from its manifest.
func WithConsensus(p *consensus.Params) Option {
	return func(n *LocalNode) {
		if p != nil {
			n.initialParams = p
		}
	}
}

// WithCostModel replaces the standard gas cost model.
func WithCostModel(m gas.CostModel) Option {
	return func(n *LocalNode) {
		if m != nil {
			n.model = m
		}
	}
}
