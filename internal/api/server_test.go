package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"PodLedger/internal/codec"
	"PodLedger/internal/consensus"
	"PodLedger/internal/types"
)

// mockNode records posted requests and serves canned data.
type mockNode struct {
	posted    []types.Request
	postErr   error
	responses map[types.TransactionReference]types.Response
	result    types.Value
	updates   []types.Update
}

func newMockNode() *mockNode {
	return &mockNode{responses: make(map[types.TransactionReference]types.Response)}
}

func (m *mockNode) Post(req types.Request) (types.TransactionReference, error) {
	if m.postErr != nil {
		return types.TransactionReference{}, m.postErr
	}

	m.posted = append(m.posted, req)

	return codec.ReferenceOf(req), nil
}

func (m *mockNode) GetRequest(ref types.TransactionReference) (types.Request, error) {
	for _, req := range m.posted {
		if codec.ReferenceOf(req) == ref {
			return req, nil
		}
	}

	return nil, fmt.Errorf("request %s: %w", ref, types.ErrNotFound)
}

func (m *mockNode) GetResponse(ref types.TransactionReference) (types.Response, error) {
	if resp, ok := m.responses[ref]; ok {
		return resp, nil
	}

	return nil, fmt.Errorf("response %s: %w", ref, types.ErrNotFound)
}

func (m *mockNode) GetPolledResponse(_ context.Context, ref types.TransactionReference) (types.Response, error) {
	if resp, ok := m.responses[ref]; ok {
		return resp, nil
	}

	return nil, fmt.Errorf("%w: no response for %s", types.ErrTimeout, ref)
}

func (m *mockNode) GetClassTag(object types.StorageReference) (types.ClassTag, error) {
	return types.ClassTag{Class: "core.Gamete"}, nil
}

func (m *mockNode) GetState(object types.StorageReference) ([]types.Update, error) {
	return m.updates, nil
}

func (m *mockNode) GetManifest() (types.StorageReference, error) {
	return types.StorageReference{}, fmt.Errorf("manifest: %w", types.ErrNotFound)
}

func (m *mockNode) RunInstanceMethodCall(context.Context, *types.InstanceMethodCallRequest) (types.Value, error) {
	return m.result, nil
}

func (m *mockNode) RunStaticMethodCall(context.Context, *types.StaticMethodCallRequest) (types.Value, error) {
	return nil, types.Rejected("static calls are not supported here")
}

func (m *mockNode) Consensus() *consensus.Params {
	p := consensus.DefaultParams()
	p.ChainID = "api-test"

	return p
}

// fixedHeight is a StatusProvider.
type fixedHeight uint64

func (h fixedHeight) Height() uint64 { return uint64(h) }

func testCall() *types.InstanceMethodCallRequest {
	return &types.InstanceMethodCallRequest{
		NonInitialFields: types.NonInitialFields{
			GasLimit: big.NewInt(1_000),
			Nonce:    big.NewInt(0),
			ChainID:  "api-test",
			GasPrice: big.NewInt(1),
		},
		Method:  types.MethodSignature{Class: "core.Contract", Name: "receive", Formals: []string{types.TypeBigInt}},
		Actuals: []types.Value{types.BigIntOf(5)},
	}
}

func serve(s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	return w
}

func TestHealthEndpoint(t *testing.T) {
	server := New(":0", newMockNode(), nil)

	w := serve(server, "GET", "/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	server := New(":0", newMockNode(), fixedHeight(7))

	w := serve(server, "GET", "/status", nil)

	var status StatusJSON
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if status.ChainID != "api-test" || status.Height != 7 {
		t.Errorf("status = %+v, want chain api-test at height 7", status)
	}
}

func TestPostRequest_Success(t *testing.T) {
	node := newMockNode()
	server := New(":0", node, nil)

	call := testCall()
	w := serve(server, "POST", "/requests", codec.EncodeRequest(call))

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	if len(node.posted) != 1 {
		t.Errorf("expected 1 request posted, got %d", len(node.posted))
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["reference"] != codec.ReferenceOf(call).String() {
		t.Errorf("reference = %s, want %s", resp["reference"], codec.ReferenceOf(call))
	}
}

func TestPostRequest_Invalid(t *testing.T) {
	wrongActuals := testCall()
	wrongActuals.Actuals = nil

	negativeNonce := testCall()
	negativeNonce.Nonce = big.NewInt(-1)

	system := &types.InstanceSystemMethodCallRequest{
		NonInitialFields: types.NonInitialFields{GasLimit: big.NewInt(1), Nonce: big.NewInt(0)},
	}

	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not a request")},
		{"wrong actuals", codec.EncodeRequest(wrongActuals)},
		{"negative nonce", codec.EncodeRequest(negativeNonce)},
		{"system request", codec.EncodeRequest(system)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newMockNode()
			w := serve(New(":0", node, nil), "POST", "/requests", tt.body)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", w.Code)
			}

			if len(node.posted) != 0 {
				t.Error("should not post on error")
			}
		})
	}
}

func TestPostRequest_NodeErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"repeated", types.RejectedBy(fmt.Errorf("%w: x", types.ErrRepeatedRequest)), http.StatusConflict},
		{"rejected", types.Rejected("incorrect nonce"), http.StatusUnprocessableEntity},
		{"internal", types.Internal(fmt.Errorf("disk on fire")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newMockNode()
			node.postErr = tt.err

			w := serve(New(":0", node, nil), "POST", "/requests", codec.EncodeRequest(testCall()))

			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestGetResponse(t *testing.T) {
	node := newMockNode()
	server := New(":0", node, nil)

	ref := types.TransactionReference{1}
	node.responses[ref] = &types.InitializationResponse{}

	w := serve(server, "GET", "/responses/"+ref.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	resp, err := codec.DecodeResponse(w.Body.Bytes())
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}

	if _, ok := resp.(*types.InitializationResponse); !ok {
		t.Errorf("response is %T, want an initialization response", resp)
	}

	unknown := types.TransactionReference{2}

	if w := serve(server, "GET", "/responses/"+unknown.String(), nil); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for an unknown response, got %d", w.Code)
	}

	if w := serve(server, "GET", "/responses/"+unknown.String()+"?wait=true", nil); w.Code != http.StatusGatewayTimeout {
		t.Errorf("expected status 504 when polling times out, got %d", w.Code)
	}

	if w := serve(server, "GET", "/responses/xyz", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for a malformed reference, got %d", w.Code)
	}
}

func TestView(t *testing.T) {
	node := newMockNode()
	node.result = types.StringValue("hello")
	server := New(":0", node, nil)

	w := serve(server, "POST", "/views", codec.EncodeRequest(testCall()))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	v, err := codec.DecodeValue(w.Body.Bytes())
	if err != nil {
		t.Fatalf("DecodeValue failed: %v", err)
	}

	if v != types.StringValue("hello") {
		t.Errorf("result = %v, want hello", v)
	}

	jar := &types.JarStoreInitialRequest{Jar: []byte{1, 2, 3}}
	if w := serve(server, "POST", "/views", codec.EncodeRequest(jar)); w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for a jar as view, got %d", w.Code)
	}
}

func TestObjectState(t *testing.T) {
	node := newMockNode()
	object := types.StorageReference{Transaction: types.TransactionReference{3}, Progressive: 1}
	node.updates = []types.Update{
		types.NewClassTag(object, "core.Gamete", types.TransactionReference{4}),
		types.NewFieldUpdate(object, types.FieldSignature{Class: "core.Contract", Name: "balance", Type: types.TypeBigInt}, types.BigIntOf(10)),
	}
	server := New(":0", node, nil)

	w := serve(server, "GET", "/objects/"+url.PathEscape(object.String())+"/state", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var updates []UpdateJSON
	if err := json.Unmarshal(w.Body.Bytes(), &updates); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}

	if updates[0].Class != "core.Gamete" || updates[1].Field != "core.Contract.balance:bigint" {
		t.Errorf("updates = %+v", updates)
	}

	if w := serve(server, "GET", "/objects/"+url.PathEscape(object.String())+"/tag", nil); w.Code != http.StatusOK {
		t.Errorf("expected status 200 for the class tag, got %d", w.Code)
	}

	if w := serve(server, "GET", "/objects/nope/tag", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for a malformed object, got %d", w.Code)
	}
}

func TestManifestBeforeInitialization(t *testing.T) {
	w := serve(New(":0", newMockNode(), nil), "GET", "/manifest", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}
