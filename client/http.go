package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"PodLedger/internal/types"
)

// maxBodySize bounds the responses read from a node.
const maxBodySize = 64 << 20

// do sends a request and returns the body of a successful response.
// Error statuses are turned back into the errors of the node.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s %s:\n%w", method, path, err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s:\n%w", method, path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s:\n%w", path, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, statusError(resp.StatusCode, data)
	}

	return data, nil
}

// getJSON performs a GET request and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	data, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}

	return decodeJSON(data, result)
}

func decodeJSON(data []byte, result any) error {
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decode json:\n%w", err)
	}

	return nil
}

// statusError rebuilds the error reported by the server.
func statusError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}

	message := string(body)
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		message = payload.Error
	}

	switch status {
	case http.StatusConflict:
		return types.RejectedBy(fmt.Errorf("%w: %s", types.ErrRepeatedRequest, message))
	case http.StatusUnprocessableEntity:
		return types.Rejected("%s", message)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", message, types.ErrNotFound)
	case http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", types.ErrTimeout, message)
	default:
		return fmt.Errorf("status %d: %s", status, message)
	}
}
