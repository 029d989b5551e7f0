package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aria-voice/aria-core/core/intents"
)

// HTTPGateway fetches retrieval payloads from a remote service. Requests are
// cancelled with the dispatch context, so an aborted speculation frees the
// connection instead of running to completion.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway creates a gateway posting to baseURL. client may be nil;
// the default client carries the otel transport.
func NewHTTPGateway(baseURL string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &HTTPGateway{baseURL: baseURL, client: client}
}

type fetchRequest struct {
	Intent string            `json:"intent"`
	Slots  map[string]string `json:"slots"`
}

type fetchResponse struct {
	Payload json.RawMessage `json:"payload"`
}

// Fetch posts the (intent, slots) request and returns the opaque payload.
func (g *HTTPGateway) Fetch(ctx context.Context, intent string, slots intents.Slots) (any, error) {
	body, err := json.Marshal(fetchRequest{Intent: intent, Slots: slots})
	if err != nil {
		return nil, fmt.Errorf("failed to encode fetch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/fetch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("fetch request returned %d: %s", resp.StatusCode, payload)
	}

	var decoded fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode fetch response: %w", err)
	}
	return decoded.Payload, nil
}
