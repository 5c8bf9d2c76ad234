package node

import (
	"context"
	"crypto/ed25519"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"PodLedger/internal/codec"
	"PodLedger/internal/consensus"
	"PodLedger/internal/corelib"
	"PodLedger/internal/crypto"
	"PodLedger/internal/genesis"
	"PodLedger/internal/storage"
	"PodLedger/internal/types"
)

const testChain = "node-test"

// testParams are the consensus parameters written in the manifest.
func testParams() *consensus.Params {
	p := consensus.DefaultParams()
	p.ChainID = testChain
	p.MaxErrorLength = 250
	p.VerificationVersion = 1
	p.InitialSupply = big.NewInt(1_000_000_000_000)
	p.FinalSupply = big.NewInt(2_000_000_000_000)

	return p
}

// testSigner returns the deterministic key of the gamete.
func testSigner() *crypto.Ed25519Signer {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 42

	return crypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed))
}

func newTestNode(t *testing.T, opts ...Option) *LocalNode {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	n, err := New(db, opts...)
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	t.Cleanup(n.Close)

	return n
}

// initialize delivers the genesis requests and returns them.
func initialize(t *testing.T, n *LocalNode) *genesis.Genesis {
	t.Helper()

	g, err := genesis.Build(genesis.Config{Params: testParams(), Signer: testSigner()})
	if err != nil {
		t.Fatalf("genesis.Build failed: %v", err)
	}

	for _, req := range g.Requests {
		postAndWait(t, n, req)
	}

	return g
}

func postAndWait(t *testing.T, n *LocalNode, req types.Request) types.Response {
	t.Helper()

	ref, err := n.Post(req)
	if err != nil {
		t.Fatalf("Post(%T) failed: %v", req, err)
	}

	resp, err := n.GetPolledResponse(context.Background(), ref)
	if err != nil {
		t.Fatalf("GetPolledResponse(%T) failed: %v", req, err)
	}

	return resp
}

// receiveCall sends coins from the gamete to the manifest.
func receiveCall(g *genesis.Genesis, nonce int64, amount int64) *types.InstanceMethodCallRequest {
	req := &types.InstanceMethodCallRequest{
		NonInitialFields: types.NonInitialFields{
			Caller:    g.Gamete,
			GasLimit:  big.NewInt(100_000),
			Classpath: g.CoreJar,
			Nonce:     big.NewInt(nonce),
			ChainID:   testChain,
			GasPrice:  big.NewInt(100),
		},
		Method:   types.MethodSignature{Class: corelib.Contract, Name: "receive", Formals: []string{types.TypeBigInt}},
		Receiver: g.Manifest,
		Actuals:  []types.Value{types.BigIntOf(amount)},
	}
	req.Signature = testSigner().Sign(codec.SignedBytes(req))

	return req
}

func gameteNonce(t *testing.T, n *LocalNode, g *genesis.Genesis) int64 {
	t.Helper()

	nonce, err := n.Utilities().Nonce(g.Gamete)
	if err != nil {
		t.Fatalf("Nonce failed: %v", err)
	}

	return nonce.Int64()
}

func assertRejected(t *testing.T, err error, contains string) {
	t.Helper()

	if !errors.Is(err, types.ErrRejected) {
		t.Fatalf("error = %v, want a rejection", err)
	}

	if !strings.Contains(err.Error(), contains) {
		t.Errorf("error = %q, want it to contain %q", err, contains)
	}
}

func TestInitializationRecomputesCaches(t *testing.T) {
	n := newTestNode(t)

	if _, err := n.GasPrice(context.Background()); !errors.Is(err, types.ErrInternal) {
		t.Errorf("GasPrice before initialization = %v, want an internal error", err)
	}

	g := initialize(t, n)

	params := n.Consensus()
	if params.ChainID != testChain {
		t.Errorf("chain id = %q, want %q", params.ChainID, testChain)
	}
	if params.MaxErrorLength != 250 {
		t.Errorf("max error length = %d, want 250", params.MaxErrorLength)
	}
	if params.VerificationVersion != 1 {
		t.Errorf("verification version = %d, want 1", params.VerificationVersion)
	}

	price, err := n.GasPrice(context.Background())
	if err != nil {
		t.Fatalf("GasPrice failed: %v", err)
	}
	if price.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("gas price = %s, want 100", price)
	}

	manifest, err := n.GetManifest()
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	if manifest != g.Manifest {
		t.Errorf("manifest = %s, want %s", manifest, g.Manifest)
	}
}

func TestReopenReadsConsensusFromManifest(t *testing.T) {
	dir := t.TempDir()

	db, err := storage.New(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	n, err := New(db)
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	initialize(t, n)
	n.Close()
	db.Close()

	db, err = storage.New(dir)
	if err != nil {
		t.Fatalf("failed to reopen storage: %v", err)
	}
	defer db.Close()

	reopened, err := New(db)
	if err != nil {
		t.Fatalf("failed to reopen node: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Consensus().ChainID; got != testChain {
		t.Errorf("chain id after reopening = %q, want %q", got, testChain)
	}
}

func TestReloadInvalidatesCaches(t *testing.T) {
	n := newTestNode(t)
	g := initialize(t, n)
	ctx := context.Background()

	if _, err := n.GetRequest(g.CoreJar); err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if _, err := n.GetResponse(g.CoreJar); err != nil {
		t.Fatalf("GetResponse failed: %v", err)
	}
	if _, err := n.GasPrice(ctx); err != nil {
		t.Fatalf("GasPrice failed: %v", err)
	}

	// no warm-up may land after the invalidation
	n.workers.Wait()
	n.caches.Invalidate()

	if n.caches.requests.Len() != 0 || n.caches.responses.Len() != 0 || n.caches.loaders.Len() != 0 {
		t.Error("Invalidate left cached requests, responses or class loaders")
	}
	if n.caches.gasPrice != nil || n.caches.validators != nil {
		t.Error("Invalidate left the gas price or the manifest objects")
	}
	if got := n.Consensus(); got != n.initialParams {
		t.Errorf("consensus after Invalidate = %+v, want the initial parameters", got)
	}

	if err := n.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if got := n.Consensus().ChainID; got != testChain {
		t.Errorf("chain id after Reload = %q, want %q", got, testChain)
	}

	price, err := n.GasPrice(ctx)
	if err != nil {
		t.Fatalf("GasPrice after Reload failed: %v", err)
	}
	if price.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("gas price after Reload = %s, want 100", price)
	}
}

func TestPostDeliversTransaction(t *testing.T) {
	n := newTestNode(t)
	g := initialize(t, n)

	transactions := new(big.Int).Set(n.rewards.transactions)
	gas := new(big.Int).Set(n.rewards.gas)

	req := receiveCall(g, gameteNonce(t, n, g), 1_000)
	resp := postAndWait(t, n, req)

	r, ok := resp.(types.NonInitialResponse)
	if !ok {
		t.Fatalf("response is %T, not a non-initial response", resp)
	}
	if r.Result() != types.Successful {
		t.Fatalf("outcome = %s, want %s (cause %v)", r.Result(), types.Successful, r.FailureCause())
	}

	got, err := n.GetRequest(codec.ReferenceOf(req))
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if codec.ReferenceOf(got) != codec.ReferenceOf(req) {
		t.Error("GetRequest returned another request")
	}

	if delta := new(big.Int).Sub(n.rewards.transactions, transactions); delta.Int64() != 1 {
		t.Errorf("rewarded transactions grew by %s, want 1", delta)
	}
	if want := new(big.Int).Add(gas, r.GasConsumed().Total()); n.rewards.gas.Cmp(want) != 0 {
		t.Errorf("rewarded gas = %s, want %s", n.rewards.gas, want)
	}
}

func TestPostRejectsRepeatedRequest(t *testing.T) {
	n := newTestNode(t)
	g := initialize(t, n)

	req := receiveCall(g, gameteNonce(t, n, g), 1_000)
	postAndWait(t, n, req)

	_, err := n.Post(req)
	assertRejected(t, err, "repeated request")

	if !errors.Is(err, types.ErrRepeatedRequest) {
		t.Errorf("error = %v, want ErrRepeatedRequest", err)
	}
}

func TestConcurrentPostsDeliverOnce(t *testing.T) {
	n := newTestNode(t)
	g := initialize(t, n)

	nonce := gameteNonce(t, n, g)
	req := receiveCall(g, nonce, 1_000)

	const posters = 8
	errs := make(chan error, posters)

	var wg sync.WaitGroup
	for range posters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := n.Post(req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case !errors.Is(err, types.ErrRepeatedRequest):
			t.Errorf("Post = %v, want success or a repeated request", err)
		}
	}

	if accepted != 1 {
		t.Fatalf("%d posts accepted, want 1", accepted)
	}

	resp, err := n.GetPolledResponse(context.Background(), codec.ReferenceOf(req))
	if err != nil {
		t.Fatalf("GetPolledResponse failed: %v", err)
	}
	if r, ok := resp.(types.NonInitialResponse); !ok || r.Result() != types.Successful {
		t.Errorf("response = %T, want a successful call", resp)
	}

	if got := gameteNonce(t, n, g); got != nonce+1 {
		t.Errorf("nonce = %d, want %d", got, nonce+1)
	}
}

func TestCommittedResponseWinsOverLaterCheck(t *testing.T) {
	n := newTestNode(t)
	g := initialize(t, n)

	req := receiveCall(g, gameteNonce(t, n, g), 1_000)
	postAndWait(t, n, req)

	// checking again fails since the nonce was consumed
	err := n.CheckTransaction(req)
	assertRejected(t, err, "incorrect nonce")

	resp, err := n.GetResponse(codec.ReferenceOf(req))
	if err != nil {
		t.Fatalf("GetResponse of a committed transaction = %v", err)
	}
	if r, ok := resp.(types.NonInitialResponse); !ok || r.Result() != types.Successful {
		t.Errorf("response = %T, want the committed successful call", resp)
	}
}

func TestViewsWaitForDelivery(t *testing.T) {
	n := newTestNode(t)
	g := initialize(t, n)

	req := &types.InstanceMethodCallRequest{
		NonInitialFields: types.NonInitialFields{
			Caller:    g.Manifest,
			GasLimit:  big.NewInt(100_000),
			Classpath: g.CoreJar,
			Nonce:     new(big.Int),
		},
		Method:   types.MethodSignature{Class: corelib.Manifest, Name: "getChainId", Returns: types.TypeString},
		Receiver: g.Manifest,
	}

	type result struct {
		value types.Value
		err   error
	}
	done := make(chan result, 1)

	n.deliverMu.Lock()

	go func() {
		v, err := n.RunInstanceMethodCall(context.Background(), req)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		n.deliverMu.Unlock()
		t.Fatalf("view completed during a delivery: %v, %v", r.value, r.err)
	case <-time.After(100 * time.Millisecond):
	}

	n.deliverMu.Unlock()

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("RunInstanceMethodCall failed: %v", r.err)
		}
		if r.value != types.StringValue(testChain) {
			t.Errorf("chain id = %v, want %s", r.value, testChain)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("view did not complete after the delivery")
	}
}

func TestPostRejectsSystemRequest(t *testing.T) {
	n := newTestNode(t)
	g := initialize(t, n)

	_, err := n.Post(&types.InstanceSystemMethodCallRequest{
		NonInitialFields: types.NonInitialFields{Caller: g.Manifest, GasLimit: big.NewInt(1), Classpath: g.CoreJar, Nonce: new(big.Int)},
		Method:           types.MethodSignature{Class: corelib.Validators, Name: "reward", Formals: corelib.RewardFormals},
	})
	assertRejected(t, err, "system requests")
}

func TestCheckRejectionIsRemembered(t *testing.T) {
	n := newTestNode(t)
	g := initialize(t, n)

	nonce := gameteNonce(t, n, g)
	req := receiveCall(g, nonce+2, 1_000)
	ref, err := n.Post(req)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	_, err = n.GetResponse(ref)
	assertRejected(t, err, "incorrect nonce")

	start := time.Now()
	_, err = n.GetPolledResponse(context.Background(), ref)
	assertRejected(t, err, "incorrect nonce")

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("GetPolledResponse took %s for a rejected request", elapsed)
	}

	// the same request is checked again, with the same outcome
	if _, err := n.Post(req); err != nil {
		t.Fatalf("second Post failed: %v", err)
	}

	_, err = n.GetResponse(ref)
	assertRejected(t, err, "incorrect nonce")

	if got := gameteNonce(t, n, g); got != nonce {
		t.Errorf("nonce after rejection = %d, want %d", got, nonce)
	}
}

func TestCheckRejectionMessageIsTrimmed(t *testing.T) {
	n := newTestNode(t)
	g := initialize(t, n)

	req := receiveCall(g, gameteNonce(t, n, g), 1_000)
	req.ChainID = strings.Repeat("x", 1_000)
	req.Signature = testSigner().Sign(codec.SignedBytes(req))

	ref, err := n.Post(req)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	_, err = n.GetResponse(ref)
	assertRejected(t, err, "incorrect chain id")

	if !strings.HasSuffix(err.Error(), "...") {
		t.Errorf("rejection message %q is not trimmed", err)
	}

	if l, want := len(err.Error()), n.Consensus().MaxErrorLength+len("..."); l > want {
		t.Errorf("rejection message is %d long, want at most %d", l, want)
	}
}

func TestDeliveryFailureIsRecorded(t *testing.T) {
	n := newTestNode(t)
	g := initialize(t, n)

	// passes the check, then the nonce is consumed before its delivery
	first := receiveCall(g, gameteNonce(t, n, g), 1_000)
	second := receiveCall(g, gameteNonce(t, n, g), 2_000)

	if err := n.CheckTransaction(second); err != nil {
		t.Fatalf("CheckTransaction failed: %v", err)
	}

	postAndWait(t, n, first)

	err := n.DeliverTransaction(second)
	assertRejected(t, err, "incorrect nonce")

	if err := n.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	_, err = n.GetResponse(codec.ReferenceOf(second))
	assertRejected(t, err, "incorrect nonce")

	_, err = n.Post(second)
	assertRejected(t, err, "repeated request")
}

func TestGetPolledResponseTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPollingAttempts = 3
	cfg.PollingDelay = time.Millisecond

	n := newTestNode(t, WithConfig(cfg))

	_, err := n.GetPolledResponse(context.Background(), types.TransactionReference{1})
	if !errors.Is(err, types.ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
}

func TestGetPolledResponseHonorsContext(t *testing.T) {
	n := newTestNode(t)

	ref := types.TransactionReference{2}
	n.waiters.Store(ref, make(chan struct{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := n.GetPolledResponse(ctx, ref)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestGetResponseUnknown(t *testing.T) {
	n := newTestNode(t)

	if _, err := n.GetResponse(types.TransactionReference{3}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}

	if _, err := n.GetManifest(); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("GetManifest before initialization = %v, want ErrNotFound", err)
	}
}

// recordingScheduler keeps the posted requests.
type recordingScheduler struct {
	added []types.Request
	err   error
}

func (s *recordingScheduler) Add(req types.Request) error {
	if s.err != nil {
		return s.err
	}

	s.added = append(s.added, req)

	return nil
}

func TestPostUsesScheduler(t *testing.T) {
	s := &recordingScheduler{}
	n := newTestNode(t, WithScheduler(s))

	g, err := genesis.Build(genesis.Config{Params: testParams(), Signer: testSigner()})
	if err != nil {
		t.Fatalf("genesis.Build failed: %v", err)
	}

	if _, err := n.Post(g.Requests[0]); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	if len(s.added) != 1 {
		t.Fatalf("scheduler received %d requests, want 1", len(s.added))
	}

	_, err = n.Post(g.Requests[0])
	assertRejected(t, err, "repeated request")

	// the scheduler delivers the request later
	if err := n.CheckTransaction(s.added[0]); err != nil {
		t.Fatalf("CheckTransaction failed: %v", err)
	}
	if err := n.DeliverTransaction(s.added[0]); err != nil {
		t.Fatalf("DeliverTransaction failed: %v", err)
	}
	if err := n.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	resp, err := n.GetPolledResponse(context.Background(), g.CoreJar)
	if err != nil {
		t.Fatalf("GetPolledResponse failed: %v", err)
	}

	if _, ok := types.InstalledJarOf(resp); !ok {
		t.Errorf("response is %T, want an installed jar", resp)
	}
}

func TestPostReleasesWaiterWhenSchedulerFails(t *testing.T) {
	s := &recordingScheduler{err: errors.New("mempool full")}
	n := newTestNode(t, WithScheduler(s))

	req := &types.JarStoreInitialRequest{Jar: codec.EncodeJar(corelib.Jar())}

	if _, err := n.Post(req); err == nil {
		t.Fatal("Post succeeded with a failing scheduler")
	}

	s.err = nil
	if _, err := n.Post(req); err != nil {
		t.Errorf("Post after a scheduler failure = %v, want success", err)
	}
}

func TestRewardValidatorsBeforeInitialization(t *testing.T) {
	n := newTestNode(t)
	n.rewards.gas.SetInt64(5)
	n.rewards.transactions.SetInt64(2)

	ok, err := n.RewardValidators("", "")
	if err != nil {
		t.Fatalf("RewardValidators failed: %v", err)
	}
	if ok {
		t.Error("RewardValidators succeeded before initialization")
	}

	if n.rewards.gas.Int64() != 5 || n.rewards.transactions.Int64() != 2 {
		t.Errorf("accumulators changed to gas %s and transactions %s", n.rewards.gas, n.rewards.transactions)
	}
}

func TestRewardValidatorsResetsAccumulators(t *testing.T) {
	n := newTestNode(t)
	g := initialize(t, n)

	postAndWait(t, n, receiveCall(g, gameteNonce(t, n, g), 1_000))

	ok, err := n.RewardValidators("validator-1", "")
	if err != nil {
		t.Fatalf("RewardValidators failed: %v", err)
	}
	if !ok {
		t.Fatal("RewardValidators failed to reward")
	}

	if n.rewards.gas.Sign() != 0 || n.rewards.coins.Sign() != 0 || n.rewards.transactions.Sign() != 0 {
		t.Errorf("accumulators not reset: gas %s, coins %s, transactions %s", n.rewards.gas, n.rewards.coins, n.rewards.transactions)
	}

	if err := n.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestSubscribeReceivesCommittedEvents(t *testing.T) {
	n := newTestNode(t)

	creator := types.StorageReference{Transaction: types.TransactionReference{4}}
	other := types.StorageReference{Transaction: types.TransactionReference{5}}
	event := types.StorageReference{Transaction: types.TransactionReference{6}}

	received := make(chan types.StorageReference, 2)
	cancel := n.Subscribe(&creator, func(c, e types.StorageReference) { received <- e })
	defer cancel()

	n.events.schedule([]notification{{creator: other, event: event}, {creator: creator, event: event}})

	if err := n.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	select {
	case got := <-received:
		if got != event {
			t.Errorf("event = %s, want %s", got, event)
		}
	case <-time.After(time.Second):
		t.Fatal("event not notified")
	}

	n.workers.Wait()

	if len(received) != 0 {
		t.Error("event of another creator notified")
	}
}
