package circuit

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// maxCreateResponse bounds the circuit creation response body.
const maxCreateResponse = 64 << 10

// Creator obtains a new circuit id from the server.
type Creator interface {
	CreateCircuit(ctx context.Context) (string, error)
}

// CreatorFunc adapts a function to Creator.
type CreatorFunc func(ctx context.Context) (string, error)

// CreateCircuit calls f.
func (f CreatorFunc) CreateCircuit(ctx context.Context) (string, error) { return f(ctx) }

// HTTPCreator creates circuits with GET <serviceURL>/start, which answers
// {"id": "<circuitId>"}.
type HTTPCreator struct {
	URL    string
	Client *http.Client
}

// CreateCircuit performs the creation request.
func (h *HTTPCreator) CreateCircuit(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return "", fmt.Errorf("circuit: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("circuit: create circuit: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCreateResponse))
	if err != nil {
		return "", fmt.Errorf("circuit: read create response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("circuit: create circuit: unexpected status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("circuit: create circuit: response is not valid JSON")
	}

	id := gjson.GetBytes(body, "id")
	if id.Type != gjson.String || id.Str == "" {
		return "", ErrNoCircuitID
	}
	return id.Str, nil
}
