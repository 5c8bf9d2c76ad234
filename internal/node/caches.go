package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"PodLedger/internal/codec"
	"PodLedger/internal/consensus"
	"PodLedger/internal/corelib"
	"PodLedger/internal/crypto"
	"PodLedger/internal/engine"
	"PodLedger/internal/logger"
	"PodLedger/internal/runtime"
	"PodLedger/internal/state"
	"PodLedger/internal/types"
)

// gasForViews is the gas limit of the calls the node runs on its own behalf.
const gasForViews = 100_000

// signatureKey identifies a checked signature.
type signatureKey struct {
	request   types.TransactionReference
	publicKey string
}

// Caches holds data derived from the store. The consensus parameters, the
// gas price and the manifest objects are recomputed when a transaction may
// have changed them.
type Caches struct {
	node  *LocalNode   // node runs the view calls of recomputations
	store *state.Store // store is the source of the cached data

	requests   *lru.Cache[types.TransactionReference, types.Request]  // requests are committed requests
	responses  *lru.Cache[types.TransactionReference, types.Response] // responses are committed responses
	signatures *lru.Cache[signatureKey, bool]                         // signatures are checked signatures
	loaders    *lru.Cache[string, *runtime.ClassLoader]               // loaders are keyed by classpath

	initial   *consensus.Params                // initial is the snapshot of a node without manifest
	consensus atomic.Pointer[consensus.Params] // consensus is the current snapshot

	mu         sync.Mutex              // mu protects the slots below
	validators *types.StorageReference // validators of the manifest, nil if unknown
	gasStation *types.StorageReference // gasStation of the manifest, nil if unknown
	versions   *types.StorageReference // versions of the manifest, nil if unknown
	gasPrice   *big.Int                // gasPrice is the current gas price, nil if unknown
}

func newCaches(n *LocalNode, store *state.Store, cfg Config, params *consensus.Params) (*Caches, error) {
	c := &Caches{node: n, store: store, initial: params}

	var err error
	if c.requests, err = lru.New[types.TransactionReference, types.Request](cfg.RequestCacheSize); err != nil {
		return nil, fmt.Errorf("request cache:\n%w", err)
	}
	if c.responses, err = lru.New[types.TransactionReference, types.Response](cfg.ResponseCacheSize); err != nil {
		return nil, fmt.Errorf("response cache:\n%w", err)
	}
	if c.signatures, err = lru.New[signatureKey, bool](cfg.SignatureCacheSize); err != nil {
		return nil, fmt.Errorf("signature cache:\n%w", err)
	}
	if c.loaders, err = lru.New[string, *runtime.ClassLoader](cfg.ClassLoaderCacheSize); err != nil {
		return nil, fmt.Errorf("class loader cache:\n%w", err)
	}

	c.consensus.Store(params)

	return c, nil
}

// Invalidate empties every cache and falls back to the initial consensus
// parameters until RecomputeConsensus.
func (c *Caches) Invalidate() {
	c.consensus.Store(c.initial)
	c.requests.Purge()
	c.responses.Purge()
	c.signatures.Purge()
	c.loaders.Purge()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.validators, c.gasStation, c.versions, c.gasPrice = nil, nil, nil, nil
}

// Consensus returns the current consensus parameters.
func (c *Caches) Consensus() *consensus.Params {
	return c.consensus.Load()
}

// Request returns a committed request.
func (c *Caches) Request(ref types.TransactionReference) (types.Request, error) {
	if req, ok := c.requests.Get(ref); ok {
		return req, nil
	}

	req, err := c.store.Committed().Request(ref)
	if err != nil {
		return nil, err
	}

	c.requests.Add(ref, req)

	return req, nil
}

// Response returns a committed response. Requests whose delivery failed
// yield their *types.RejectedError.
func (c *Caches) Response(ref types.TransactionReference) (types.Response, error) {
	if resp, ok := c.responses.Get(ref); ok {
		return resp, nil
	}

	resp, err := c.store.Committed().Response(ref)
	if err != nil {
		return nil, err
	}

	c.responses.Add(ref, resp)

	return resp, nil
}

// evict forgets the cached response of ref.
func (c *Caches) evict(ref types.TransactionReference) {
	c.responses.Remove(ref)
}

// ClassLoader returns the class loader of a classpath, building it if needed.
// Building it reverifies the jars verified with an older version.
func (c *Caches) ClassLoader(ctx context.Context, classpath ...types.TransactionReference) (*runtime.ClassLoader, error) {
	key := classpathKey(classpath)
	if loader, ok := c.loaders.Get(key); ok {
		return loader, nil
	}

	params := c.Consensus()
	r := newReverification(c.store, params, c.node.verifier, c.evict)

	jars, err := r.jars(ctx, classpath)
	if err != nil {
		return nil, err
	}

	loader, err := runtime.NewClassLoader(ctx, classpath, jars, c.node.pool, r)
	if err != nil {
		return nil, types.RejectedBy(fmt.Errorf("cannot link the classpath: %w", err))
	}

	// the parameters are swapped before the loaders are purged
	if c.Consensus() == params {
		c.loaders.Add(key, loader)
	}

	return loader, nil
}

func classpathKey(classpath []types.TransactionReference) string {
	var b strings.Builder
	for _, ref := range classpath {
		b.Write(ref[:])
	}

	return b.String()
}

// SignatureValid checks the signature of a request with the algorithm of
// the consensus parameters.
func (c *Caches) SignatureValid(req types.SignedRequest, publicKey string) (bool, error) {
	key := signatureKey{request: codec.ReferenceOf(req), publicKey: publicKey}
	if valid, ok := c.signatures.Get(key); ok {
		return valid, nil
	}

	algorithm, err := c.Consensus().SignatureAlgorithm()
	if err != nil {
		return false, err
	}

	pk, err := crypto.DecodePublicKey(publicKey)
	if err != nil {
		return false, err
	}

	valid := algorithm.Verify(pk, codec.SignedBytes(req), req.Common().Signature)
	c.signatures.Add(key, valid)

	return valid, nil
}

// Validators returns the validators of the manifest.
func (c *Caches) Validators() (types.StorageReference, bool, error) {
	return c.slot(&c.validators, (*state.Utilities).Validators)
}

// GasStation returns the gas station of the manifest.
func (c *Caches) GasStation() (types.StorageReference, bool, error) {
	return c.slot(&c.gasStation, (*state.Utilities).GasStation)
}

// Versions returns the versions object of the manifest.
func (c *Caches) Versions() (types.StorageReference, bool, error) {
	return c.slot(&c.versions, (*state.Utilities).Versions)
}

func (c *Caches) slot(p **types.StorageReference, read func(*state.Utilities) (types.StorageReference, bool, error)) (types.StorageReference, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if *p != nil {
		return **p, true, nil
	}

	ref, ok, err := read(state.NewUtilities(c.store.Latest()))
	if err != nil || !ok {
		return types.StorageReference{}, false, err
	}

	*p = &ref

	return ref, true, nil
}

// GasPrice returns the gas price of the gas station.
func (c *Caches) GasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	price := c.gasPrice
	c.mu.Unlock()

	if price != nil {
		return new(big.Int).Set(price), nil
	}

	if err := c.recomputeGasPrice(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gasPrice == nil {
		return nil, types.Internal(errors.New("the gas price is unknown before initialization"))
	}

	return new(big.Int).Set(c.gasPrice), nil
}

// InvalidateIfNeeded recomputes the consensus parameters and the gas price
// if resp may have changed them. The loader is the one that built resp.
func (c *Caches) InvalidateIfNeeded(ctx context.Context, resp types.Response, loader *runtime.ClassLoader) error {
	consensusChanged, priceChanged, err := c.triggers(resp, loader)
	if err != nil {
		return err
	}

	if consensusChanged {
		before := c.Consensus().VerificationVersion

		logger.Info("recomputing the consensus cache since the manifest might have changed")
		if err := c.RecomputeConsensus(ctx); err != nil {
			return err
		}

		c.loaders.Purge()

		if after := c.Consensus().VerificationVersion; after != before {
			logger.Info("verification version changed", "from", before, "to", after)
		}
	}

	if priceChanged {
		c.mu.Lock()
		before := c.gasPrice
		c.mu.Unlock()

		if err := c.recomputeGasPrice(ctx); err != nil {
			return err
		}

		c.mu.Lock()
		logger.Info("gas price recomputed", "from", before, "to", c.gasPrice)
		c.mu.Unlock()
	}

	return nil
}

// triggers tells whether resp may have changed the consensus parameters
// and the gas price. Only events created by the manifest objects count.
func (c *Caches) triggers(resp types.Response, loader *runtime.ClassLoader) (consensusChanged, priceChanged bool, err error) {
	if _, ok := resp.(*types.InitializationResponse); ok {
		return true, true, nil
	}

	events := types.EventsOf(resp)
	if len(events) == 0 || loader == nil {
		return false, false, nil
	}

	utils := state.NewUtilities(c.store.Latest())

	manifest, ok, err := utils.Manifest()
	if err != nil || !ok {
		return false, false, err
	}

	validators, _, err := c.Validators()
	if err != nil {
		return false, false, err
	}
	gasStation, _, err := c.GasStation()
	if err != nil {
		return false, false, err
	}
	versions, _, err := c.Versions()
	if err != nil {
		return false, false, err
	}

	for _, event := range events {
		name, err := utils.ClassName(event)
		if err != nil {
			return false, false, types.Inconsistent("class of event %s: %v", event, err)
		}

		class, err := loader.Class(name)
		if err != nil {
			return false, false, types.Internal(fmt.Errorf("class of event %s:\n%w", event, err))
		}

		isConsensus := class.IsSubclassOf(corelib.ConsensusUpdate)
		isPrice := class.IsSubclassOf(corelib.GasPriceUpdate)
		if !isConsensus && !isPrice {
			continue
		}

		creator, err := utils.Creator(event)
		if err != nil {
			return false, false, err
		}

		if isConsensus && (creator == manifest || creator == validators || creator == gasStation || creator == versions) {
			consensusChanged = true
		}

		if isPrice && creator == gasStation {
			priceChanged = true
		}
	}

	return consensusChanged, priceChanged, nil
}

// RecomputeConsensus rebuilds the consensus parameters from the manifest
// objects and swaps them in at once. It does nothing before initialization.
func (c *Caches) RecomputeConsensus(ctx context.Context) error {
	views, ok, err := c.views(ctx)
	if err != nil || !ok {
		return err
	}

	calls := []struct {
		receiver types.StorageReference
		class    string
		name     string
		returns  string
	}{
		{views.manifest, corelib.Manifest, "getChainId", types.TypeString},
		{views.manifest, corelib.Manifest, "getMaxErrorLength", types.TypeInt},
		{views.manifest, corelib.Manifest, "getMaxDependencies", types.TypeInt},
		{views.manifest, corelib.Manifest, "getMaxCumulativeSizeOfDependencies", types.TypeLong},
		{views.manifest, corelib.Manifest, "skipsVerification", types.TypeBool},
		{views.manifest, corelib.Manifest, "getSignature", types.TypeString},
		{views.validators, corelib.Validators, "getFinalSupply", types.TypeBigInt},
		{views.gasStation, corelib.GasStation, "getMaxGasPerTransaction", types.TypeBigInt},
		{views.gasStation, corelib.GasStation, "ignoresGasPrice", types.TypeBool},
		{views.gasStation, corelib.GasStation, "getTargetGasAtReward", types.TypeBigInt},
		{views.gasStation, corelib.GasStation, "getInflation", types.TypeLong},
		{views.versions, corelib.Versions, "getVerificationVersion", types.TypeInt},
	}

	results := make([]types.Value, len(calls))
	for i, call := range calls {
		v, err := views.call(call.receiver, call.class, call.name, call.returns)
		if err != nil {
			logger.Error("could not reconstruct the consensus parameters from the manifest", "method", call.name, "error", err)
			return types.Internal(fmt.Errorf("recompute consensus:\n%w", err))
		}

		results[i] = v
	}

	next := *c.Consensus()
	conv := converter{}

	next.ChainID = conv.str(results[0])
	next.MaxErrorLength = int(conv.int(results[1]))
	next.MaxDependencies = int(conv.int(results[2]))
	next.MaxCumulativeSizeOfDependencies = conv.long(results[3])
	next.SkipsVerification = conv.bool(results[4])
	next.Signature = conv.str(results[5])
	next.FinalSupply = conv.big(results[6])
	next.MaxGasPerTransaction = conv.big(results[7])
	next.IgnoresGasPrice = conv.bool(results[8])
	next.TargetGasAtReward = conv.big(results[9])
	next.Inflation = conv.long(results[10])
	next.VerificationVersion = uint32(conv.int(results[11]))

	if conv.err != nil {
		return types.Inconsistent("consensus parameters: %v", conv.err)
	}

	c.consensus.Store(&next)
	logger.Info("consensus parameters recomputed", "chain", next.ChainID, "version", next.VerificationVersion)

	return nil
}

// recomputeGasPrice reads the gas price of the gas station. It does nothing
// before initialization.
func (c *Caches) recomputeGasPrice(ctx context.Context) error {
	views, ok, err := c.views(ctx)
	if err != nil || !ok {
		return err
	}

	v, err := views.call(views.gasStation, corelib.GasStation, "getGasPrice", types.TypeBigInt)
	if err != nil {
		return types.Internal(fmt.Errorf("could not determine the gas price:\n%w", err))
	}

	conv := converter{}
	price := conv.big(v)
	if conv.err != nil {
		return types.Inconsistent("gas price: %v", conv.err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gasPrice = price

	return nil
}

// manifestViews runs read-only calls of the manifest objects.
type manifestViews struct {
	ctx        context.Context
	node       engine.Node
	coreJar    types.TransactionReference
	manifest   types.StorageReference
	validators types.StorageReference
	gasStation types.StorageReference
	versions   types.StorageReference
}

// views prepares the calls to the manifest objects, false before initialization.
func (c *Caches) views(ctx context.Context) (*manifestViews, bool, error) {
	utils := state.NewUtilities(c.store.Latest())

	manifest, ok, err := utils.Manifest()
	if err != nil || !ok {
		return nil, false, err
	}

	coreJar, _, err := utils.CoreJar()
	if err != nil {
		return nil, false, err
	}

	v := &manifestViews{ctx: ctx, node: c.node, coreJar: coreJar, manifest: manifest}

	if v.validators, _, err = c.Validators(); err != nil {
		return nil, false, err
	}
	if v.gasStation, _, err = c.GasStation(); err != nil {
		return nil, false, err
	}
	if v.versions, _, err = c.Versions(); err != nil {
		return nil, false, err
	}

	return v, true, nil
}

func (v *manifestViews) call(receiver types.StorageReference, class, name, returns string) (types.Value, error) {
	req := &types.InstanceMethodCallRequest{
		NonInitialFields: types.NonInitialFields{
			Caller:    v.manifest,
			GasLimit:  big.NewInt(gasForViews),
			Classpath: v.coreJar,
			Nonce:     new(big.Int),
		},
		Method:   types.MethodSignature{Class: class, Name: name, Returns: returns},
		Receiver: receiver,
	}

	return engine.RunInstanceMethodCall(v.ctx, req, v.node)
}

// converter reads the results of view calls, keeping the first mismatch.
type converter struct {
	err error
}

func (c *converter) fail(v types.Value, want string) {
	if c.err == nil {
		c.err = fmt.Errorf("%v is not a %s", v, want)
	}
}

func (c *converter) str(v types.Value) string {
	s, ok := v.(types.StringValue)
	if !ok {
		c.fail(v, "string")
	}

	return string(s)
}

func (c *converter) int(v types.Value) int32 {
	i, ok := v.(types.IntValue)
	if !ok {
		c.fail(v, "int")
	}

	return int32(i)
}

func (c *converter) long(v types.Value) int64 {
	l, ok := v.(types.LongValue)
	if !ok {
		c.fail(v, "long")
	}

	return int64(l)
}

func (c *converter) bool(v types.Value) bool {
	b, ok := v.(types.BoolValue)
	if !ok {
		c.fail(v, "boolean")
	}

	return bool(b)
}

func (c *converter) big(v types.Value) *big.Int {
	b, ok := v.(types.BigIntValue)
	if !ok {
		c.fail(v, "big integer")
		return new(big.Int)
	}

	return b.Int()
}
