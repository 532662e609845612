package filter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/calldeck/callscribe/internal/filter"
)

// HTTPHook posts the call-start payload to a configured URL and expects a
// JSON decision back. With no URL configured every call is processed.
type HTTPHook struct {
	hookURL string
	client  *http.Client
}

func NewHTTPHook(hookURL string) filter.Hook {
	return &HTTPHook{
		hookURL: hookURL,
		client:  &http.Client{},
	}
}

func (h *HTTPHook) Evaluate(ctx context.Context, start filter.CallStart) (filter.Decision, error) {
	if h.hookURL == "" {
		return filter.Decision{ShouldProcess: true}, nil
	}

	b, err := json.Marshal(start)
	if err != nil {
		return filter.Decision{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.hookURL, bytes.NewReader(b))
	if err != nil {
		return filter.Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return filter.Decision{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return filter.Decision{}, fmt.Errorf("filter hook returned status %d", resp.StatusCode)
	}

	var decision filter.Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return filter.Decision{}, fmt.Errorf("decode filter hook response: %w", err)
	}
	return decision, nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
