package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/desertthunder/murmur/internal/shared"
	tu "github.com/desertthunder/murmur/internal/testing"
)

func TestNewAPIService(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		srv := NewAPIService("", nil, nil)
		if srv.baseURL != defaultBackendURL {
			t.Errorf("expected default base URL %s, got %s", defaultBackendURL, srv.baseURL)
		}
		if srv.httpClient != http.DefaultClient {
			t.Error("expected http.DefaultClient")
		}
		if srv.headers == nil {
			t.Error("expected empty header set")
		}
	})

	t.Run("from backend", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("apikey"); got != "anon" {
				t.Errorf("expected apikey header 'anon', got %q", got)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
				t.Errorf("expected bearer token, got %q", got)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		backend := NewBackend(shared.BackendConfig{URL: server.URL, AnonKey: "anon", AccessToken: "user-token"}, "", nil)
		if _, err := NewAPIServiceFromBackend(backend).Get(context.Background(), "/auth/v1/user"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}

func TestAPIServiceRequests(t *testing.T) {
	type request struct {
		method, path, body, contentType, apikey string
	}

	tt := []struct {
		name       string
		call       func(*APIService) (*APIResponse, error)
		respond    string
		status     int
		want       request
		wantJSON   bool
		wantStatus int
	}{
		{
			name: "get rows",
			call: func(a *APIService) (*APIResponse, error) {
				return a.Get(context.Background(), "/rest/v1/posts?select=id")
			},
			respond:    `[{"id":"p1"}]`,
			status:     http.StatusOK,
			want:       request{method: http.MethodGet, path: "/rest/v1/posts", apikey: "anon"},
			wantJSON:   true,
			wantStatus: http.StatusOK,
		},
		{
			name: "post json",
			call: func(a *APIService) (*APIResponse, error) {
				return a.Post(context.Background(), "/rest/v1/likes", []byte(`{"post_id":"p1"}`))
			},
			respond:    `{"id":"l1"}`,
			status:     http.StatusCreated,
			want:       request{method: http.MethodPost, path: "/rest/v1/likes", body: `{"post_id":"p1"}`, contentType: "application/json", apikey: "anon"},
			wantJSON:   true,
			wantStatus: http.StatusCreated,
		},
		{
			name: "post without body",
			call: func(a *APIService) (*APIResponse, error) {
				return a.Post(context.Background(), "/rest/v1/rpc/touch", nil)
			},
			status:     http.StatusNoContent,
			want:       request{method: http.MethodPost, path: "/rest/v1/rpc/touch", apikey: "anon"},
			wantStatus: http.StatusNoContent,
		},
		{
			name: "error body is returned, not an error",
			call: func(a *APIService) (*APIResponse, error) {
				return a.Get(context.Background(), "/rest/v1/missing")
			},
			respond:    "relation does not exist",
			status:     http.StatusNotFound,
			want:       request{method: http.MethodGet, path: "/rest/v1/missing", apikey: "anon"},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var got request
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				got = request{
					method:      r.Method,
					path:        r.URL.Path,
					body:        string(body),
					contentType: r.Header.Get("Content-Type"),
					apikey:      r.Header.Get("apikey"),
				}
				w.Header().Set("X-Request-Id", "req-1")
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.respond))
			}))
			defer server.Close()

			resp, err := tc.call(NewAPIService(server.URL, nil, http.Header{"Apikey": {"anon"}}))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("request = %+v, want %+v", got, tc.want)
			}
			if resp.StatusCode != tc.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if resp.IsJSON != tc.wantJSON {
				t.Errorf("IsJSON = %v, want %v", resp.IsJSON, tc.wantJSON)
			}
			if !tc.wantJSON && resp.JSONData != nil {
				t.Errorf("expected no JSON data, got %v", resp.JSONData)
			}
			if string(resp.Body) != tc.respond {
				t.Errorf("body = %q, want %q", resp.Body, tc.respond)
			}
			if resp.Headers.Get("X-Request-Id") != "req-1" {
				t.Error("expected response headers to be kept")
			}
		})
	}
}

func TestAPIServiceFailures(t *testing.T) {
	tt := []struct {
		name    string
		srv     *APIService
		path    string
		wantErr string
	}{
		{
			name:    "bad url",
			srv:     NewAPIService("http://example.com", nil, nil),
			path:    "/\x7f",
			wantErr: "failed to create request",
		},
		{
			name: "transport failure",
			srv: NewAPIService("http://example.com", &http.Client{
				Transport: tu.NewMockRoundTripper(nil, errors.New("connection refused")),
			}, nil),
			path:    "/rest/v1/posts",
			wantErr: "request failed",
		},
		{
			name: "unreadable body",
			srv: NewAPIService("http://example.com", &http.Client{
				Transport: tu.NewMockRoundTripper(&http.Response{
					StatusCode: http.StatusOK,
					Body:       &tu.FCloser{},
					Header:     http.Header{},
				}, nil),
			}, nil),
			path:    "/rest/v1/posts",
			wantErr: "failed to read response",
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.srv.Get(context.Background(), tc.path); err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %v", tc.wantErr, err)
			}
			if _, err := tc.srv.Post(context.Background(), tc.path, []byte(`{}`)); err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("post: expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}

	t.Run("cancelled context", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := NewAPIService(server.URL, nil, nil).Get(ctx, "/rest/v1/posts"); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
