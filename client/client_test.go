package client

import (
	"context"
	"crypto/ed25519"
	"errors"
	"math/big"
	"net/http/httptest"
	"net/url"
	"testing"

	"PodLedger/internal/api"
	"PodLedger/internal/consensus"
	"PodLedger/internal/crypto"
	"PodLedger/internal/genesis"
	"PodLedger/internal/node"
	"PodLedger/internal/storage"
	"PodLedger/internal/types"
)

const testChain = "client-test"

// testNetwork is a node behind its HTTP API, initialized through the client.
type testNetwork struct {
	client  *Client
	genesis *genesis.Genesis
	gamete  *Account
}

func newTestNetwork(t *testing.T) *testNetwork {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	n, err := node.New(db)
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	t.Cleanup(n.Close)

	server := httptest.NewServer(api.New("", n, nil).Handler())
	t.Cleanup(server.Close)

	seed := make([]byte, ed25519.SeedSize)
	signer := crypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed))

	params := consensus.DefaultParams()
	params.ChainID = testChain
	params.InitialSupply = big.NewInt(1_000_000_000_000)
	params.FinalSupply = big.NewInt(1_000_000_000_000)

	g, err := genesis.Build(genesis.Config{Params: params, Signer: signer})
	if err != nil {
		t.Fatalf("genesis.Build failed: %v", err)
	}

	c := NewClient(server.URL)
	ctx := context.Background()

	for _, req := range g.Requests {
		if _, err := c.PostAndWait(ctx, req); err != nil {
			t.Fatalf("genesis request %T failed: %v", req, err)
		}
	}

	return &testNetwork{
		client:  c,
		genesis: g,
		gamete: &Account{
			Ref:       g.Gamete,
			Signer:    signer,
			ChainID:   testChain,
			Classpath: g.CoreJar,
			GasPrice:  params.InitialGasPrice,
		},
	}
}

func TestClientInitializesNode(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	manifest, err := net.client.Manifest(ctx)
	if err != nil {
		t.Fatalf("Manifest failed: %v", err)
	}
	if manifest != net.genesis.Manifest {
		t.Errorf("manifest = %s, want %s", manifest, net.genesis.Manifest)
	}

	status, err := net.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.ChainID != testChain {
		t.Errorf("chain id = %q, want %q", status.ChainID, testChain)
	}

	tag, err := net.client.ClassTag(ctx, net.genesis.Gamete)
	if err != nil {
		t.Fatalf("ClassTag failed: %v", err)
	}
	if tag.Jar != net.genesis.CoreJar {
		t.Errorf("gamete class installed by %s, want %s", tag.Jar, net.genesis.CoreJar)
	}
}

func TestObjectPathKeepsProgressive(t *testing.T) {
	object := types.StorageReference{Transaction: types.TransactionReference{7}, Progressive: 3}

	u, err := url.Parse("http://127.0.0.1:8080" + objectPath(object, "state"))
	if err != nil {
		t.Fatalf("url.Parse failed: %v", err)
	}

	if u.Fragment != "" {
		t.Errorf("fragment = %q, want none", u.Fragment)
	}

	if want := "/objects/" + object.String() + "/state"; u.Path != want {
		t.Errorf("path = %q, want %q", u.Path, want)
	}
}

func TestClientPays(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	nonce, err := net.client.Nonce(ctx, net.gamete.Ref)
	if err != nil {
		t.Fatalf("Nonce failed: %v", err)
	}

	// a balance never written is zero
	before, err := net.client.Balance(ctx, net.genesis.Manifest)
	if errors.Is(err, types.ErrNotFound) {
		before, err = new(big.Int), nil
	}
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}

	req := net.gamete.Pay(nonce, 100_000, net.genesis.Manifest, big.NewInt(1_234))

	resp, err := net.client.PostAndWait(ctx, req)
	if err != nil {
		t.Fatalf("PostAndWait failed: %v", err)
	}

	if r, ok := resp.(types.NonInitialResponse); !ok || r.Result() != types.Successful {
		t.Fatalf("response = %#v, want a successful call", resp)
	}

	after, err := net.client.Balance(ctx, net.genesis.Manifest)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if diff := new(big.Int).Sub(after, before); diff.Int64() != 1_234 {
		t.Errorf("manifest received %s, want 1234", diff)
	}

	next, err := net.client.Nonce(ctx, net.gamete.Ref)
	if err != nil {
		t.Fatalf("Nonce failed: %v", err)
	}
	if next.Cmp(new(big.Int).Add(nonce, big.NewInt(1))) != 0 {
		t.Errorf("nonce = %s, want %s + 1", next, nonce)
	}

	_, err = net.client.Post(ctx, req)
	if !errors.Is(err, types.ErrRepeatedRequest) {
		t.Errorf("second Post = %v, want ErrRepeatedRequest", err)
	}
}

func TestClientReportsRejection(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	req := net.gamete.Pay(big.NewInt(99), 100_000, net.genesis.Manifest, big.NewInt(1))

	_, err := net.client.PostAndWait(ctx, req)
	if !errors.Is(err, types.ErrRejected) {
		t.Errorf("PostAndWait = %v, want a rejection", err)
	}
}

func TestClientUnknownResponse(t *testing.T) {
	net := newTestNetwork(t)

	_, err := net.client.Response(context.Background(), types.TransactionReference{1})
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Response = %v, want ErrNotFound", err)
	}
}
