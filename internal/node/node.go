// Package node implements a local node: it receives requests, checks and
// delivers them against its store and keeps the caches derived from it.
package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"PodLedger/internal/codec"
	"PodLedger/internal/consensus"
	"PodLedger/internal/corelib"
	"PodLedger/internal/engine"
	"PodLedger/internal/gas"
	"PodLedger/internal/logger"
	"PodLedger/internal/podvm"
	"PodLedger/internal/runtime"
	"PodLedger/internal/state"
	"PodLedger/internal/storage"
	"PodLedger/internal/types"
	"PodLedger/internal/verification"
	"PodLedger/internal/workers"
)

// LocalNode executes requests against a local store. Requests are posted,
// then checked and delivered by the scheduler, one delivery at a time.
type LocalNode struct {
	cfg           Config                 // cfg is the configuration of the node
	initialParams *consensus.Params      // initialParams are used until initialization
	scheduler     Scheduler              // scheduler receives posted requests, nil to run them at once
	model         gas.CostModel          // model prices the resources of transactions
	store         *state.Store           // store holds requests, responses and histories
	caches        *Caches                // caches hold data derived from the store
	pool          *podvm.Pool            // pool runs the wasm modules of jars
	verifier      *verification.Verifier // verifier checks jars before installation
	workers       *workers.Pool          // workers run background tasks
	events        *events                // events dispatches committed events

	waiters     sync.Map                                       // waiters maps posted references to a channel closed when they are done
	checkErrors *lru.Cache[types.TransactionReference, string] // checkErrors are the recent rejections by CheckTransaction

	deliverMu sync.Mutex // deliverMu serializes deliveries, rewards, commits and views
	rewards   *rewards   // rewards accumulate what the validators earn

	checkTime   atomic.Int64 // checkTime is the time spent checking, in nanoseconds
	deliverTime atomic.Int64 // deliverTime is the time spent delivering, in nanoseconds

	ctx    context.Context    // ctx is cancelled by Close
	cancel context.CancelFunc // cancel stops the background tasks
	closed atomic.Bool        // closed makes Close idempotent
}

// New creates a node on top of db. A node whose store holds a manifest reads
// its consensus parameters from it.
func New(db *storage.Storage, opts ...Option) (*LocalNode, error) {
	n := &LocalNode{
		cfg:           DefaultConfig(),
		initialParams: consensus.DefaultParams(),
		model:         gas.Default(),
		store:         state.New(db),
		events:        newEvents(),
		rewards:       newRewards(),
	}

	for _, opt := range opts {
		opt(n)
	}

	n.cfg = n.cfg.sanitized()
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.pool = podvm.New()
	n.verifier = verification.New(n.pool)
	n.workers = workers.New(n.cfg.Workers)

	var err error
	if n.checkErrors, err = lru.New[types.TransactionReference, string](n.cfg.CheckErrorCacheSize); err != nil {
		return nil, fmt.Errorf("check error cache:\n%w", err)
	}

	if n.caches, err = newCaches(n, n.store, n.cfg, n.initialParams); err != nil {
		return nil, err
	}

	if err := n.reload(); err != nil {
		n.Close()
		return nil, err
	}

	logger.Info("node started", "chain", n.Consensus().ChainID, "workers", n.cfg.Workers)

	return n, nil
}

// Reload drops every cache and reads the consensus parameters again from
// the committed manifest.
func (n *LocalNode) Reload() error {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	return n.reload()
}

func (n *LocalNode) reload() error {
	n.caches.Invalidate()
	n.checkErrors.Purge()

	if err := n.caches.RecomputeConsensus(n.ctx); err != nil {
		return fmt.Errorf("read consensus from the manifest:\n%w", err)
	}

	return nil
}

// sanitized replaces unusable values with the defaults.
func (c Config) sanitized() Config {
	d := DefaultConfig()

	if c.MaxPollingAttempts < 1 {
		c.MaxPollingAttempts = 1
	}
	if c.PollingDelay <= 0 {
		c.PollingDelay = d.PollingDelay
	}
	if c.RequestCacheSize < 1 {
		c.RequestCacheSize = d.RequestCacheSize
	}
	if c.ResponseCacheSize < 1 {
		c.ResponseCacheSize = d.ResponseCacheSize
	}
	if c.SignatureCacheSize < 1 {
		c.SignatureCacheSize = d.SignatureCacheSize
	}
	if c.ClassLoaderCacheSize < 1 {
		c.ClassLoaderCacheSize = d.ClassLoaderCacheSize
	}
	if c.CheckErrorCacheSize < 1 {
		c.CheckErrorCacheSize = d.CheckErrorCacheSize
	}
	if c.Workers < 1 {
		c.Workers = d.Workers
	}

	return c
}

func (n *LocalNode) Utilities() *state.Utilities      { return state.NewUtilities(n.store.Latest()) }
func (n *LocalNode) Consensus() *consensus.Params     { return n.caches.Consensus() }
func (n *LocalNode) CostModel() gas.CostModel         { return n.model }
func (n *LocalNode) Modules() engine.ModuleCaller     { return n.pool }
func (n *LocalNode) Verifier() *verification.Verifier { return n.verifier }
func (n *LocalNode) Caches() *Caches                  { return n.caches }

// GasPrice returns the current gas price of the gas station.
func (n *LocalNode) GasPrice(ctx context.Context) (*big.Int, error) {
	return n.caches.GasPrice(ctx)
}

// ClassLoader returns the class loader of a classpath.
func (n *LocalNode) ClassLoader(ctx context.Context, classpath ...types.TransactionReference) (*runtime.ClassLoader, error) {
	return n.caches.ClassLoader(ctx, classpath...)
}

// SignatureValid checks the signature of a signed request.
func (n *LocalNode) SignatureValid(req types.SignedRequest, publicKey string) (bool, error) {
	return n.caches.SignatureValid(req, publicKey)
}

// Post registers a request and hands it to the scheduler. A request whose
// response exists, even uncommitted, or that is already waiting is rejected
// as repeated.
func (n *LocalNode) Post(req types.Request) (types.TransactionReference, error) {
	ref := codec.ReferenceOf(req)

	if types.IsSystem(req) {
		return ref, types.Rejected("system requests cannot be posted")
	}

	logger.Debug("posting", "ref", ref.Short(), "request", fmt.Sprintf("%T", req))

	_, err := n.store.Latest().Response(ref)
	switch {
	case err == nil || errors.Is(err, types.ErrRejected):
		return ref, repeated(ref)
	case !errors.Is(err, types.ErrNotFound):
		return ref, err
	}

	if _, loaded := n.waiters.LoadOrStore(ref, make(chan struct{})); loaded {
		return ref, repeated(ref)
	}

	// a delivery may have pushed the response and released its waiter in between
	if _, err := n.store.Latest().Response(ref); err == nil || errors.Is(err, types.ErrRejected) {
		n.release(ref)
		return ref, repeated(ref)
	}

	if n.scheduler == nil {
		n.runNow(req)
		return ref, nil
	}

	if err := n.scheduler.Add(req); err != nil {
		n.release(ref)
		return ref, fmt.Errorf("schedule %s:\n%w", ref.Short(), err)
	}

	return ref, nil
}

func repeated(ref types.TransactionReference) error {
	return types.RejectedBy(fmt.Errorf("%w: %s", types.ErrRepeatedRequest, ref))
}

// runNow checks, delivers and commits a request. Errors are recorded
// against the request and found by GetResponse.
func (n *LocalNode) runNow(req types.Request) {
	if err := n.CheckTransaction(req); err != nil {
		return
	}

	// a failed delivery is recorded too
	_ = n.DeliverTransaction(req)

	if err := n.Commit(); err != nil {
		logger.Error("commit failed", "error", err)
	}
}

// release wakes up who waits for ref. Later calls do nothing.
func (n *LocalNode) release(ref types.TransactionReference) {
	if ch, ok := n.waiters.LoadAndDelete(ref); ok {
		close(ch.(chan struct{}))
	}
}

// trimmed returns the message of err, bounded by the consensus parameters.
func (n *LocalNode) trimmed(err error) string {
	return n.Consensus().TrimError(err.Error())
}

// CheckTransaction validates a request without modifying the store. A
// rejection is remembered for GetResponse and wakes up the waiters.
func (n *LocalNode) CheckTransaction(req types.Request) error {
	start := time.Now()
	defer func() { n.checkTime.Add(int64(time.Since(start))) }()

	ref := codec.ReferenceOf(req)
	n.checkErrors.Remove(ref)

	logger.Debug("checking start", "ref", ref.Short(), "request", fmt.Sprintf("%T", req))

	if _, err := engine.New(n.ctx, ref, req, n); err != nil {
		message := n.trimmed(err)
		n.checkErrors.Add(ref, message)
		n.release(ref)

		if !errors.Is(err, types.ErrRejected) {
			logger.Error("checking failed with unexpected error", "ref", ref.Short(), "error", err)
			return err
		}

		logger.Info("checking failed", "ref", ref.Short(), "error", message)
		return err
	}

	logger.Debug("checking success", "ref", ref.Short())

	return nil
}

// DeliverTransaction builds the response of a request and pushes it into
// the store. A request that cannot be executed is recorded with the reason.
// The waiters of the request are always woken up.
func (n *LocalNode) DeliverTransaction(req types.Request) error {
	start := time.Now()
	ref := codec.ReferenceOf(req)

	defer func() { n.deliverTime.Add(int64(time.Since(start))) }()
	defer n.release(ref)

	logger.Debug("delivering start", "ref", ref.Short(), "request", fmt.Sprintf("%T", req))

	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	b, resp, err := n.build(ref, req)
	if err != nil {
		message := n.trimmed(err)
		if perr := n.store.PushError(ref, req, message); perr != nil {
			logger.Error("cannot record a failed delivery", "ref", ref.Short(), "error", perr)
		}

		if !errors.Is(err, types.ErrRejected) {
			logger.Error("delivering failed with unexpected error", "ref", ref.Short(), "error", err)
			return err
		}

		logger.Info("delivering failed", "ref", ref.Short(), "error", message)
		return err
	}

	if err := n.record(ref, req, b, resp); err != nil {
		logger.Error("delivered transaction left the node inconsistent", "ref", ref.Short(), "error", err)
		return err
	}

	logger.Info("delivering success", "ref", ref.Short(), logger.Timed(start))

	return nil
}

// build checks a request and computes its response.
func (n *LocalNode) build(ref types.TransactionReference, req types.Request) (engine.Builder, types.Response, error) {
	b, err := engine.New(n.ctx, ref, req, n)
	if err != nil {
		return nil, nil, err
	}

	resp, err := b.Response(n.ctx)
	if err != nil {
		return nil, nil, err
	}

	return b, resp, nil
}

// record pushes a response and updates what depends on it. Must hold deliverMu.
func (n *LocalNode) record(ref types.TransactionReference, req types.Request, b engine.Builder, resp types.Response) error {
	if err := n.store.Push(ref, req, resp); err != nil {
		return fmt.Errorf("push %s:\n%w", ref.Short(), err)
	}
	n.checkErrors.Remove(ref)

	loader := b.ClassLoader()
	if loader != nil {
		if err := loader.ReplaceReverifiedResponses(); err != nil {
			return fmt.Errorf("replace reverified responses:\n%w", err)
		}
	}

	n.scheduleEvents(resp)
	n.rewards.add(n.Consensus(), req, resp)

	if err := n.caches.InvalidateIfNeeded(n.ctx, resp, loader); err != nil {
		return err
	}

	n.warmClassLoader(ref, resp)

	return nil
}

// warmClassLoader builds in background the class loader of a jar just
// installed, so that its first call finds it in the cache.
func (n *LocalNode) warmClassLoader(ref types.TransactionReference, resp types.Response) {
	if _, ok := types.InstalledJarOf(resp); !ok {
		return
	}

	err := n.workers.Submit("warm class loader", func(ctx context.Context) {
		if _, err := n.caches.ClassLoader(ctx, ref); err != nil {
			logger.Debug("class loader warm-up failed", "jar", ref.Short(), "error", err)
		}
	})
	if err != nil {
		logger.Debug("class loader not warmed up", "jar", ref.Short(), "error", err)
	}
}

// scheduleEvents queues the events of resp until the next commit.
func (n *LocalNode) scheduleEvents(resp types.Response) {
	events := types.EventsOf(resp)
	if len(events) == 0 {
		return
	}

	utils := n.Utilities()
	ns := make([]notification, 0, len(events))

	for _, event := range events {
		creator, err := utils.Creator(event)
		if err != nil {
			logger.Warn("event without creator", "event", event, "error", err)
			continue
		}

		ns = append(ns, notification{creator: creator, event: event})
	}

	n.events.schedule(ns)
}

// Commit makes the delivered transactions durable and notifies their events.
func (n *LocalNode) Commit() error {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	if err := n.store.Commit(); err != nil {
		return fmt.Errorf("commit store:\n%w", err)
	}

	ns, subs := n.events.take()
	if len(ns) == 0 || len(subs) == 0 {
		return nil
	}

	err := n.workers.Submit("notify events", func(ctx context.Context) {
		notify(ctx, ns, subs)
	})
	if err != nil {
		logger.Warn("events not notified", "events", len(ns), "error", err)
	}

	return nil
}

// Subscribe calls handler for every committed event created by creator, or
// by anyone if creator is nil. The returned function cancels the subscription.
func (n *LocalNode) Subscribe(creator *types.StorageReference, handler EventHandler) func() {
	return n.events.subscribe(creator, handler)
}

// RewardValidators pays the validators the gas consumed since the last
// reward, plus the coins minted by the inflation. It returns false if the
// node is not initialized or the reward call failed.
func (n *LocalNode) RewardValidators(behaving, misbehaving string) (bool, error) {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	utils := n.Utilities()

	manifest, ok, err := utils.Manifest()
	if err != nil || !ok {
		return false, err
	}

	validators, ok, err := n.caches.Validators()
	if err != nil || !ok {
		return false, err
	}

	coreJar, _, err := utils.CoreJar()
	if err != nil {
		return false, err
	}

	current, err := utils.CurrentSupply(validators)
	if err != nil {
		return false, err
	}

	nonce, err := utils.Nonce(manifest)
	if err != nil {
		return false, err
	}

	minted := n.rewards.minted(current, n.Consensus().FinalSupply)

	req := &types.InstanceSystemMethodCallRequest{
		NonInitialFields: types.NonInitialFields{
			Caller:    manifest,
			GasLimit:  big.NewInt(gasForReward),
			Classpath: coreJar,
			Nonce:     nonce,
		},
		Method:   types.MethodSignature{Class: corelib.Validators, Name: "reward", Formals: corelib.RewardFormals},
		Receiver: validators,
		Actuals: []types.Value{
			types.NewBigIntValue(n.rewards.coins),
			types.NewBigIntValue(minted),
			types.StringValue(behaving),
			types.StringValue(misbehaving),
			types.NewBigIntValue(n.rewards.gas),
			types.NewBigIntValue(n.rewards.transactions),
		},
	}
	ref := codec.ReferenceOf(req)

	b, resp, err := n.build(ref, req)
	if err != nil {
		logger.Warn("could not reward the validators", "error", err)
		if errors.Is(err, types.ErrInternal) {
			return false, err
		}

		return false, nil
	}

	// a single update is the nonce of the manifest: not worth a transaction
	if len(types.UpdatesOf(resp)) > 1 {
		if err := n.record(ref, req, b, resp); err != nil {
			return false, err
		}
	}

	if r, ok := resp.(types.NonInitialResponse); ok && r.Result() == types.Failed {
		logger.Warn("could not reward the validators", "cause", r.FailureCause())
		return false, nil
	}

	logger.Info("validators rewarded",
		"coins", n.rewards.coins,
		"minted", minted,
		"gas", n.rewards.gas,
		"transactions", n.rewards.transactions,
	)

	n.rewards.reset()

	return true, nil
}

// GetRequest returns a committed request.
func (n *LocalNode) GetRequest(ref types.TransactionReference) (types.Request, error) {
	return n.caches.Request(ref)
}

// GetResponse returns a committed response. Rejected requests yield their
// *types.RejectedError, unknown ones types.ErrNotFound. The store wins over
// a remembered check failure.
func (n *LocalNode) GetResponse(ref types.TransactionReference) (types.Response, error) {
	resp, err := n.caches.Response(ref)
	if !errors.Is(err, types.ErrNotFound) {
		return resp, err
	}

	if message, ok := n.checkErrors.Get(ref); ok {
		return nil, types.Rejected("%s", message)
	}

	return nil, err
}

// GetPolledResponse waits for the response of a posted request. It waits
// for its delivery, then polls the committed store with a growing delay.
func (n *LocalNode) GetPolledResponse(ctx context.Context, ref types.TransactionReference) (types.Response, error) {
	if ch, ok := n.waiters.Load(ref); ok {
		select {
		case <-ch.(chan struct{}):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	delay := n.cfg.PollingDelay

	for attempt := 1; attempt <= n.cfg.MaxPollingAttempts; attempt++ {
		resp, err := n.GetResponse(ref)
		if err == nil {
			if _, err = n.GetRequest(ref); err == nil {
				return resp, nil
			}
		}

		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		delay = delay * 110 / 100
	}

	return nil, fmt.Errorf("%w: no response for %s after %d attempts", types.ErrTimeout, ref, n.cfg.MaxPollingAttempts)
}

// GetClassTag returns the class tag of a committed object.
func (n *LocalNode) GetClassTag(object types.StorageReference) (types.ClassTag, error) {
	return state.NewUtilities(n.store.Committed()).ClassTag(object)
}

// GetState returns the class tag and the fields of a committed object.
func (n *LocalNode) GetState(object types.StorageReference) ([]types.Update, error) {
	return state.NewUtilities(n.store.Committed()).State(object)
}

// GetManifest returns the committed manifest.
func (n *LocalNode) GetManifest() (types.StorageReference, error) {
	manifest, ok, err := n.store.Committed().Manifest()
	if err != nil {
		return types.StorageReference{}, err
	}

	if !ok {
		return types.StorageReference{}, fmt.Errorf("manifest: %w", types.ErrNotFound)
	}

	return manifest, nil
}

// RunInstanceMethodCall runs a view call of an instance method.
func (n *LocalNode) RunInstanceMethodCall(ctx context.Context, req *types.InstanceMethodCallRequest) (types.Value, error) {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	return engine.RunInstanceMethodCall(ctx, req, n)
}

// RunStaticMethodCall runs a view call of a static method.
func (n *LocalNode) RunStaticMethodCall(ctx context.Context, req *types.StaticMethodCallRequest) (types.Value, error) {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	return engine.RunStaticMethodCall(ctx, req, n)
}

// Close stops the background tasks. The storage is closed by its owner.
func (n *LocalNode) Close() {
	if n.closed.Swap(true) {
		return
	}

	n.cancel()
	n.workers.Close()

	if err := n.pool.Close(context.Background()); err != nil {
		logger.Warn("closing the module pool", "error", err)
	}

	logger.Info("node closed",
		"checking", time.Duration(n.checkTime.Load()),
		"delivering", time.Duration(n.deliverTime.Load()),
		"tasks", n.workers.Completed(),
	)
}
