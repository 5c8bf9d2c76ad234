// Package client talks to a node through its HTTP API.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"PodLedger/internal/api"
	"PodLedger/internal/codec"
	"PodLedger/internal/types"
)

const binaryType = "application/octet-stream"

// Client connects to a node via HTTP.
type Client struct {
	baseURL string       // baseURL is the root of the API, such as "http://127.0.0.1:8080"
	http    *http.Client // http sends the requests
}

// NewClient creates a client of the node at nodeAddr, with or without scheme.
func NewClient(nodeAddr string) *Client {
	if !strings.Contains(nodeAddr, "://") {
		nodeAddr = "http://" + nodeAddr
	}

	return &Client{
		baseURL: strings.TrimSuffix(nodeAddr, "/"),
		http:    &http.Client{Timeout: time.Minute},
	}
}

// Post sends a request to the node and returns its reference.
func (c *Client) Post(ctx context.Context, req types.Request) (types.TransactionReference, error) {
	var resp struct {
		Reference string `json:"reference"`
	}

	data, err := c.do(ctx, http.MethodPost, "/requests", binaryType, codec.EncodeRequest(req))
	if err != nil {
		return codec.ReferenceOf(req), err
	}

	if err := decodeJSON(data, &resp); err != nil {
		return codec.ReferenceOf(req), err
	}

	return types.ParseTransactionReference(resp.Reference)
}

// Request returns a committed request.
func (c *Client) Request(ctx context.Context, ref types.TransactionReference) (types.Request, error) {
	data, err := c.do(ctx, http.MethodGet, "/requests/"+ref.String(), "", nil)
	if err != nil {
		return nil, err
	}

	return codec.DecodeRequest(data)
}

// Response returns a committed response, without waiting.
func (c *Client) Response(ctx context.Context, ref types.TransactionReference) (types.Response, error) {
	return c.response(ctx, "/responses/"+ref.String())
}

// PolledResponse waits for the response of a posted request.
func (c *Client) PolledResponse(ctx context.Context, ref types.TransactionReference) (types.Response, error) {
	return c.response(ctx, "/responses/"+ref.String()+"?wait=true")
}

func (c *Client) response(ctx context.Context, path string) (types.Response, error) {
	data, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}

	return codec.DecodeResponse(data)
}

// PostAndWait posts a request and waits for its response.
func (c *Client) PostAndWait(ctx context.Context, req types.Request) (types.Response, error) {
	ref, err := c.Post(ctx, req)
	if err != nil {
		return nil, err
	}

	return c.PolledResponse(ctx, ref)
}

// View runs a method call without modifying the store.
func (c *Client) View(ctx context.Context, req types.CodeCallRequest) (types.Value, error) {
	data, err := c.do(ctx, http.MethodPost, "/views", binaryType, codec.EncodeRequest(req))
	if err != nil {
		return nil, err
	}

	return codec.DecodeValue(data)
}

// ClassTag returns the class tag of a committed object.
func (c *Client) ClassTag(ctx context.Context, object types.StorageReference) (types.ClassTag, error) {
	var tag api.ClassTagJSON
	if err := c.getJSON(ctx, objectPath(object, "tag"), &tag); err != nil {
		return types.ClassTag{}, err
	}

	jar, err := types.ParseTransactionReference(tag.Jar)
	if err != nil {
		return types.ClassTag{}, fmt.Errorf("jar of %s:\n%w", object, err)
	}

	return types.ClassTag{Class: tag.Class, Jar: jar}, nil
}

// State returns the updates describing a committed object.
func (c *Client) State(ctx context.Context, object types.StorageReference) ([]api.UpdateJSON, error) {
	var updates []api.UpdateJSON
	if err := c.getJSON(ctx, objectPath(object, "state"), &updates); err != nil {
		return nil, err
	}

	return updates, nil
}

// objectPath returns the API path of a resource of object. The reference
// holds a '#', escaped so that it is not taken for a fragment.
func objectPath(object types.StorageReference, resource string) string {
	return "/objects/" + url.PathEscape(object.String()) + "/" + resource
}

// Manifest returns the manifest of an initialized node.
func (c *Client) Manifest(ctx context.Context) (types.StorageReference, error) {
	var resp struct {
		Manifest string `json:"manifest"`
	}

	if err := c.getJSON(ctx, "/manifest", &resp); err != nil {
		return types.StorageReference{}, err
	}

	return types.ParseStorageReference(resp.Manifest)
}

// Status returns the status of the node.
func (c *Client) Status(ctx context.Context) (*api.StatusJSON, error) {
	var status api.StatusJSON
	if err := c.getJSON(ctx, "/status", &status); err != nil {
		return nil, fmt.Errorf("get status:\n%w", err)
	}

	return &status, nil
}
