package ai

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAPIError_Temporary(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := &APIError{Provider: "openai", Status: tt.status}
			if got := err.Temporary(); got != tt.want {
				t.Errorf("Temporary() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEndpoint_APIErrorBodyIsBounded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("x", 4*maxErrorBody)))
	}))
	defer server.Close()

	e := endpoint{provider: "google", baseURL: server.URL, client: server.Client()}
	err := e.do(t.Context(), http.MethodGet, "/models", nil, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadGateway || apiErr.Provider != "google" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if len(apiErr.Body) != maxErrorBody {
		t.Errorf("body length = %d, want %d", len(apiErr.Body), maxErrorBody)
	}
}

func TestEndpoint_SendsHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("x-goog-api-key", "k")
	e := endpoint{provider: "google", baseURL: server.URL, client: server.Client(), header: header}

	var out map[string]any
	if err := e.do(t.Context(), http.MethodPost, "/x", map[string]int{"a": 1}, &out); err != nil {
		t.Fatalf("do() error = %v", err)
	}
	if got.Get("x-goog-api-key") != "k" {
		t.Errorf("api key header = %q", got.Get("x-goog-api-key"))
	}
	if got.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", got.Get("Content-Type"))
	}
}

func TestIsTemporary(t *testing.T) {
	denied := fmt.Errorf("google: %w", &APIError{Provider: "google", Status: http.StatusForbidden})
	limited := fmt.Errorf("openai: %w", &APIError{Provider: "openai", Status: http.StatusTooManyRequests})

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"permanent", denied, false},
		{"temporary", limited, true},
		{"joined, one temporary", fmt.Errorf("all AI providers failed: %w", errors.Join(denied, limited)), true},
		{"joined, none temporary", errors.Join(denied, errors.New("boom")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemporary(tt.err); got != tt.want {
				t.Errorf("IsTemporary() = %v, want %v", got, tt.want)
			}
		})
	}
}
