package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of a failed reply is kept in an APIError.
const maxErrorBody = 512

// APIError is a non-200 reply from a provider.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.Status, e.Body)
}

// Temporary reports whether the same request may succeed later: rate
// limits and server-side failures.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// endpoint sends JSON requests to one provider API.
type endpoint struct {
	provider string
	baseURL  string
	client   *http.Client
	header   http.Header // auth headers added to every request
}

// do sends in (when non-nil) to baseURL+path and decodes a 200 reply into
// out (when non-nil). Other statuses return an *APIError.
func (e endpoint) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range e.header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Provider: e.provider,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(b)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsTemporary reports whether err, or any error joined into it, is a
// temporary provider failure.
func IsTemporary(err error) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *APIError:
		return e.Temporary()
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if IsTemporary(inner) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return IsTemporary(e.Unwrap())
	}
	return false
}
