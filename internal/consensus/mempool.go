package consensus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"PodLedger/internal/logger"
	"PodLedger/internal/types"
)

const (
	// defaultQueueSize is the number of requests waiting to be executed.
	defaultQueueSize = 10_000

	// defaultBlockSize is the number of requests that closes a block.
	defaultBlockSize = 100

	// defaultBlockInterval closes a non-empty block when idle.
	defaultBlockInterval = 500 * time.Millisecond
)

var (
	// ErrMempoolFull is returned when the queue of requests is full.
	ErrMempoolFull = errors.New("mempool full")

	// ErrMempoolStopped is returned for requests added after Stop.
	ErrMempoolStopped = errors.New("mempool stopped")
)

// Executor runs the requests of the mempool and closes blocks.
type Executor interface {
	// CheckTransaction validates a request without modifying the state.
	CheckTransaction(req types.Request) error

	// DeliverTransaction executes a checked request.
	DeliverTransaction(req types.Request) error

	// RewardValidators distributes the coins of the block to the validators.
	RewardValidators(behaving, misbehaving string) (bool, error)

	// Commit makes the delivered transactions durable.
	Commit() error
}

// Mempool orders the posted requests and executes them in blocks: every
// request is checked and, if valid, delivered. A block ends after a fixed
// number of requests or when no request arrived for a while; the validators
// are then rewarded and the state committed.
type Mempool struct {
	queue         chan types.Request // queue holds the requests to execute
	blockSize     int                // blockSize is the number of requests per block
	blockInterval time.Duration      // blockInterval closes partial blocks
	behaving      string             // behaving are the validators rewarded at every block

	executor Executor      // executor runs requests, set by Start
	inBlock  int           // inBlock counts the requests of the open block
	height   atomic.Uint64 // height is the number of closed blocks

	mu      sync.RWMutex // mu orders Add against Stop
	stopped bool         // stopped rejects late requests

	// Lifecycle
	stop chan struct{}
	wg   sync.WaitGroup
}

// Option configures the mempool during creation.
type Option func(*Mempool)

// WithBlockSize sets the number of requests that closes a block.
func WithBlockSize(n int) Option {
	return func(m *Mempool) {
		if n > 0 {
			m.blockSize = n
		}
	}
}

// WithBlockInterval sets the idle time that closes a non-empty block.
func WithBlockInterval(d time.Duration) Option {
	return func(m *Mempool) {
		if d > 0 {
			m.blockInterval = d
		}
	}
}

// WithQueueSize sets the number of requests that can wait for execution.
func WithQueueSize(n int) Option {
	return func(m *Mempool) {
		if n > 0 {
			m.queue = make(chan types.Request, n)
		}
	}
}

// WithBehaving sets the validators reported as behaving at every reward.
func WithBehaving(validators string) Option {
	return func(m *Mempool) {
		m.behaving = validators
	}
}

// NewMempool creates a mempool. It executes nothing until Start.
func NewMempool(opts ...Option) *Mempool {
	m := &Mempool{
		queue:         make(chan types.Request, defaultQueueSize),
		blockSize:     defaultBlockSize,
		blockInterval: defaultBlockInterval,
		stop:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Add schedules a request for execution.
// A request accepted before Stop is executed by the drain of the queue.
func (m *Mempool) Add(req types.Request) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped {
		return ErrMempoolStopped
	}

	select {
	case m.queue <- req:
		return nil
	default:
		return ErrMempoolFull
	}
}

// Start begins executing requests with the given executor.
func (m *Mempool) Start(executor Executor) {
	m.executor = executor

	m.wg.Add(1)
	go m.executeLoop()
}

// Height returns the number of closed blocks.
func (m *Mempool) Height() uint64 {
	return m.height.Load()
}

// Stop executes the queued requests, closes the open block and waits for
// the loop to exit.
func (m *Mempool) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()
}

// executeLoop runs in background and executes queued requests.
func (m *Mempool) executeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.blockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			m.drain()
			return
		case req := <-m.queue:
			m.execute(req)
		case <-ticker.C:
			if m.inBlock > 0 {
				m.closeBlock()
			}
		}
	}
}

// drain executes what is left in the queue and closes the last block.
func (m *Mempool) drain() {
	for {
		select {
		case req := <-m.queue:
			m.execute(req)
		default:
			if m.inBlock > 0 {
				m.closeBlock()
			}
			return
		}
	}
}

// execute checks and delivers a request, closing the block when full.
// Errors are recorded by the executor against the request.
func (m *Mempool) execute(req types.Request) {
	if err := m.executor.CheckTransaction(req); err != nil {
		logger.Debug("request rejected", "error", err)
	} else if err := m.executor.DeliverTransaction(req); err != nil {
		logger.Debug("request not delivered", "error", err)
	}

	m.inBlock++
	if m.inBlock >= m.blockSize {
		m.closeBlock()
	}
}

// closeBlock rewards the validators and commits the block.
func (m *Mempool) closeBlock() {
	start := time.Now()

	if _, err := m.executor.RewardValidators(m.behaving, ""); err != nil {
		logger.Error("reward validators", "error", err)
	}

	if err := m.executor.Commit(); err != nil {
		logger.Error("commit block", "error", err)
		return
	}

	height := m.height.Add(1)
	logger.Debug("block committed", "height", height, "requests", m.inBlock, logger.Timed(start))
	m.inBlock = 0
}
