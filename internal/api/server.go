// Package api exposes a local node over HTTP. Requests, responses and values
// travel in their binary encoding; everything else is JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"PodLedger/internal/codec"
	"PodLedger/internal/consensus"
	"PodLedger/internal/logger"
	"PodLedger/internal/types"
)

const (
	// maxRequestSize is the maximum size of a posted request in bytes.
	maxRequestSize = 4 << 20 // 4 MB

	// pollTimeout bounds a request that waits for a response.
	pollTimeout = 30 * time.Second

	// binaryType is the content type of encoded requests, responses and values.
	binaryType = "application/octet-stream"
)

// Node is what the server needs of the node it exposes.
type Node interface {
	Post(req types.Request) (types.TransactionReference, error)
	GetRequest(ref types.TransactionReference) (types.Request, error)
	GetResponse(ref types.TransactionReference) (types.Response, error)
	GetPolledResponse(ctx context.Context, ref types.TransactionReference) (types.Response, error)
	GetClassTag(object types.StorageReference) (types.ClassTag, error)
	GetState(object types.StorageReference) ([]types.Update, error)
	GetManifest() (types.StorageReference, error)
	RunInstanceMethodCall(ctx context.Context, req *types.InstanceMethodCallRequest) (types.Value, error)
	RunStaticMethodCall(ctx context.Context, req *types.StaticMethodCallRequest) (types.Value, error)
	Consensus() *consensus.Params
}

// StatusProvider exposes the block production state for monitoring.
type StatusProvider interface {
	Height() uint64
}

// Server is the HTTP API server.
type Server struct {
	addr   string         // addr is the HTTP listen address
	node   Node           // node executes and stores the requests
	status StatusProvider // status provides the block height, may be nil
	server *http.Server   // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, node Node, status StatusProvider) *Server {
	return &Server{
		addr:   addr,
		node:   node,
		status: status,
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /requests", s.handlePost)
	mux.HandleFunc("GET /requests/{ref}", s.handleRequest)
	mux.HandleFunc("GET /responses/{ref}", s.handleResponse)
	mux.HandleFunc("POST /views", s.handleView)
	mux.HandleFunc("GET /objects/{object}/tag", s.handleClassTag)
	mux.HandleFunc("GET /objects/{object}/state", s.handleState)
	mux.HandleFunc("GET /manifest", s.handleManifest)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: pollTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handlePost handles POST /requests.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	req, err := validateRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	ref, err := s.node.Post(req)
	if err != nil {
		writeNodeError(w, err)
		return
	}

	logger.Debug("request posted", "ref", ref.Short())

	writeJSON(w, http.StatusAccepted, map[string]string{
		"reference": ref.String(),
	})
}

// handleRequest handles GET /requests/{ref}.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	ref, err := types.ParseTransactionReference(r.PathValue("ref"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := s.node.GetRequest(ref)
	if err != nil {
		writeNodeError(w, err)
		return
	}

	writeBinary(w, codec.EncodeRequest(req))
}

// handleResponse handles GET /responses/{ref}. With wait=true it waits
// for the response of a posted request.
func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	ref, err := types.ParseTransactionReference(r.PathValue("ref"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp types.Response

	if r.URL.Query().Get("wait") == "true" {
		ctx, cancel := context.WithTimeout(r.Context(), pollTimeout)
		defer cancel()

		resp, err = s.node.GetPolledResponse(ctx, ref)
	} else {
		resp, err = s.node.GetResponse(ref)
	}

	if err != nil {
		writeNodeError(w, err)
		return
	}

	writeBinary(w, codec.EncodeResponse(resp))
}

// handleView handles POST /views: a method call that runs without
// modifying the store.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	req, err := validateRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	var result types.Value

	switch call := req.(type) {
	case *types.InstanceMethodCallRequest:
		result, err = s.node.RunInstanceMethodCall(r.Context(), call)
	case *types.StaticMethodCallRequest:
		result, err = s.node.RunStaticMethodCall(r.Context(), call)
	default:
		writeError(w, http.StatusBadRequest, "only method calls can run as views")
		return
	}

	if err != nil {
		writeNodeError(w, err)
		return
	}

	if result == nil {
		result = types.NullValue{}
	}

	writeBinary(w, codec.EncodeValue(result))
}

// ClassTagJSON is the JSON form of a class tag.
type ClassTagJSON struct {
	Class string `json:"class"`
	Jar   string `json:"jar"`
}

// UpdateJSON is the JSON form of an update. Class tags set Class and Jar,
// field updates set Field and Value.
type UpdateJSON struct {
	Object string `json:"object"`
	Class  string `json:"class,omitempty"`
	Jar    string `json:"jar,omitempty"`
	Field  string `json:"field,omitempty"`
	Value  string `json:"value,omitempty"`
}

// handleClassTag handles GET /objects/{object}/tag.
func (s *Server) handleClassTag(w http.ResponseWriter, r *http.Request) {
	object, err := types.ParseStorageReference(r.PathValue("object"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tag, err := s.node.GetClassTag(object)
	if err != nil {
		writeNodeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ClassTagJSON{Class: tag.Class, Jar: tag.Jar.String()})
}

// handleState handles GET /objects/{object}/state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	object, err := types.ParseStorageReference(r.PathValue("object"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updates, err := s.node.GetState(object)
	if err != nil {
		writeNodeError(w, err)
		return
	}

	out := make([]UpdateJSON, len(updates))
	for i, u := range updates {
		out[i] = UpdateJSON{Object: u.Object.String()}

		if u.IsClassTag() {
			out[i].Class, out[i].Jar = u.Tag.Class, u.Tag.Jar.String()
		} else {
			out[i].Field, out[i].Value = u.Field.String(), u.Value.String()
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// handleManifest handles GET /manifest.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	manifest, err := s.node.GetManifest()
	if err != nil {
		writeNodeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"manifest": manifest.String(),
	})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusJSON is the JSON form of the status of a node.
type StatusJSON struct {
	ChainID             string `json:"chainId"`
	Height              uint64 `json:"height"`
	VerificationVersion uint32 `json:"verificationVersion"`
	MaxErrorLength      int    `json:"maxErrorLength"`
	Signature           string `json:"signature"`
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	params := s.node.Consensus()

	status := StatusJSON{
		ChainID:             params.ChainID,
		VerificationVersion: params.VerificationVersion,
		MaxErrorLength:      params.MaxErrorLength,
		Signature:           params.Signature,
	}

	if s.status != nil {
		status.Height = s.status.Height()
	}

	writeJSON(w, http.StatusOK, status)
}

// writeNodeError maps the errors of the node to status codes.
func writeNodeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrRepeatedRequest):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrRejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeBinary writes an encoded record.
func writeBinary(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", binaryType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
