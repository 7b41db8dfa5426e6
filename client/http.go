package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/wire"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// HTTPTransport sends each request as one JSON POST.
type HTTPTransport struct {
	url    string
	client *http.Client
	header http.Header
}

// NewHTTPTransport creates a transport for the endpoint url. A nil client
// selects http.DefaultClient.
func NewHTTPTransport(url string, client *http.Client, header http.Header) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{url: url, client: client, header: header.Clone()}
}

// Execute posts req and decodes the response. GraphQL errors in a 200
// response are left in the payload; any other failure is returned as an
// error carrying the server's code when it sent one.
func (t *HTTPTransport) Execute(ctx context.Context, req wire.Request) (wire.Payload, error) {
	var payload wire.Payload

	body, err := json.Marshal(req)
	if err != nil {
		return payload, errs.Internal(req.OperationName, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return payload, errs.Transport(req.OperationName, err)
	}
	for k, v := range t.header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return payload, errs.Transport(req.OperationName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return payload, errs.Transport(req.OperationName, fmt.Errorf("read response: %w", err))
	}
	decodeErr := json.Unmarshal(data, &payload)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && len(payload.Errors) > 0 {
			return payload, wire.FromGQLErrors(payload.Errors)
		}
		return payload, errs.Transport(req.OperationName, fmt.Errorf("unexpected status %s", resp.Status))
	}
	if decodeErr != nil {
		return payload, errs.Transport(req.OperationName, fmt.Errorf("decode response: %w", decodeErr))
	}
	return payload, nil
}
