package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const copiedRequest = `curl 'https://abc.supabase.co/rest/v1/posts?select=*' \
  -H 'accept: application/json' \
  -H 'apikey: anon-key' \
  -H 'Authorization: Bearer user-token' \
  -H "x-client-info: murmur-web/1.0"`

func TestParseCurlCommand(t *testing.T) {
	tt := []struct {
		name        string
		curlCmd     string
		wantBase    string
		wantToken   string
		wantAnonKey string
		wantErr     bool
	}{
		{
			name:        "copied request",
			curlCmd:     copiedRequest,
			wantBase:    "https://abc.supabase.co",
			wantToken:   "user-token",
			wantAnonKey: "anon-key",
		},
		{
			name:        "signed out request sends the anon key as bearer",
			curlCmd:     `curl https://abc.supabase.co/rest/v1/posts -H 'apikey: anon' -H 'authorization: Bearer anon'`,
			wantBase:    "https://abc.supabase.co",
			wantAnonKey: "anon",
		},
		{
			name:      "long header flag with double quotes",
			curlCmd:   `curl "http://localhost:54321/auth/v1/user" --header "Authorization: bearer t1"`,
			wantBase:  "http://localhost:54321",
			wantToken: "t1",
		},
		{
			name:     "basic auth is not a token",
			curlCmd:  `curl https://example.com -H 'Authorization: Basic dXNlcg=='`,
			wantBase: "https://example.com",
		},
		{
			name:    "nothing to read",
			curlCmd: `echo hello`,
			wantErr: true,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			req, err := ParseCurlCommand([]byte(tc.curlCmd))
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := req.BaseURL(); got != tc.wantBase {
				t.Errorf("BaseURL() = %q, want %q", got, tc.wantBase)
			}
			if got := req.AccessToken(); got != tc.wantToken {
				t.Errorf("AccessToken() = %q, want %q", got, tc.wantToken)
			}
			if got := req.AnonKey(); got != tc.wantAnonKey {
				t.Errorf("AnonKey() = %q, want %q", got, tc.wantAnonKey)
			}
		})
	}

	t.Run("header names are lowercased", func(t *testing.T) {
		req, err := ParseCurlCommand([]byte(copiedRequest))
		if err != nil {
			t.Fatal(err)
		}
		if req.Headers["x-client-info"] != "murmur-web/1.0" {
			t.Errorf("unexpected headers: %v", req.Headers)
		}
	})
}

func TestParseCurlFile(t *testing.T) {
	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "request.sh")
		if err := os.WriteFile(path, []byte(copiedRequest), 0644); err != nil {
			t.Fatal(err)
		}

		req, err := ParseCurlFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.AccessToken() != "user-token" {
			t.Errorf("unexpected token %q", req.AccessToken())
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := ParseCurlFile(filepath.Join(t.TempDir(), "nope.sh")); err == nil {
			t.Error("expected error")
		}
	})
}
