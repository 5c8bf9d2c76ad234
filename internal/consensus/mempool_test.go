package consensus

import (
	"errors"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PodLedger/internal/types"
)

// recordingExecutor records the calls of the mempool.
type recordingExecutor struct {
	mu      sync.Mutex
	calls   []string
	rejects map[string]bool // rejects holds the chain ids of requests to reject
}

func (e *recordingExecutor) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, call)
}

func (e *recordingExecutor) CheckTransaction(req types.Request) error {
	id := chainOf(req)
	e.record("check " + id)

	if e.rejects[id] {
		return errors.New("rejected")
	}

	return nil
}

func (e *recordingExecutor) DeliverTransaction(req types.Request) error {
	e.record("deliver " + chainOf(req))
	return nil
}

func (e *recordingExecutor) RewardValidators(behaving, _ string) (bool, error) {
	e.record("reward " + behaving)
	return true, nil
}

func (e *recordingExecutor) Commit() error {
	e.record("commit")
	return nil
}

func (e *recordingExecutor) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.calls...)
}

func chainOf(req types.Request) string {
	return req.(types.NonInitialRequest).Common().ChainID
}

func testRequest(id string) types.Request {
	return &types.InstanceMethodCallRequest{NonInitialFields: types.NonInitialFields{
		ChainID:  id,
		GasLimit: big.NewInt(1),
		Nonce:    new(big.Int),
		GasPrice: new(big.Int),
	}}
}

func TestMempoolBlockBySize(t *testing.T) {
	e := &recordingExecutor{rejects: map[string]bool{"b": true}}
	m := NewMempool(WithBlockSize(2), WithBlockInterval(time.Hour), WithBehaving("v1"))
	m.Start(e)

	for _, id := range []string{"a", "b", "c"} {
		if err := m.Add(testRequest(id)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	m.Stop()

	want := []string{
		"check a", "deliver a", "check b", "reward v1", "commit",
		"check c", "deliver c", "reward v1", "commit",
	}

	got := e.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}

	if m.Height() != 2 {
		t.Errorf("height = %d, want 2", m.Height())
	}
}

func TestMempoolBlockByInterval(t *testing.T) {
	e := &recordingExecutor{}
	m := NewMempool(WithBlockSize(100), WithBlockInterval(10*time.Millisecond))
	m.Start(e)
	defer m.Stop()

	if err := m.Add(testRequest("a")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Height() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("block never closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMempoolFullAndStopped(t *testing.T) {
	m := NewMempool(WithQueueSize(1))

	if err := m.Add(testRequest("a")); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}

	if err := m.Add(testRequest("b")); !errors.Is(err, ErrMempoolFull) {
		t.Errorf("err = %v, want ErrMempoolFull", err)
	}

	m.Start(&recordingExecutor{})
	m.Stop()

	if err := m.Add(testRequest("c")); !errors.Is(err, ErrMempoolStopped) {
		t.Errorf("err = %v, want ErrMempoolStopped", err)
	}
}

func TestMempoolExecutesRequestsAcceptedBeforeStop(t *testing.T) {
	e := &recordingExecutor{}
	m := NewMempool(WithBlockSize(1_000), WithBlockInterval(time.Hour), WithQueueSize(1_000))
	m.Start(e)

	var accepted atomic.Int64
	var wg sync.WaitGroup

	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := m.Add(testRequest(strconv.Itoa(i))); err == nil {
				accepted.Add(1)
			} else if !errors.Is(err, ErrMempoolStopped) {
				t.Errorf("Add = %v, want success or ErrMempoolStopped", err)
			}
		}()
	}

	m.Stop()
	wg.Wait()

	checked := 0
	for _, call := range e.snapshot() {
		if strings.HasPrefix(call, "check ") {
			checked++
		}
	}

	if int64(checked) != accepted.Load() {
		t.Errorf("%d requests checked, %d accepted", checked, accepted.Load())
	}
}
