// Backend-as-a-service REST client used for replay and probing
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/shared"
	"golang.org/x/oauth2"
)

const (
	defaultBackendURL = "http://localhost:54321"
	postsEndpoint     = "/rest/v1/posts"
	maxErrorBody      = 512
)

// Backend implements [Remote] against the hosted REST API.
type Backend struct {
	baseURL    string
	anonKey    string
	healthPath string
	httpClient *http.Client
	authed     bool
}

// NewBackend creates a Backend from cfg.
//
// The access token (or the anon key when no user token is configured) is attached as a bearer token.
// base supplies the transport; nil means [http.DefaultClient].
func NewBackend(cfg shared.BackendConfig, healthPath string, base *http.Client) *Backend {
	if base == nil {
		base = http.DefaultClient
	}

	baseURL := strings.TrimRight(cfg.URL, "/")
	if baseURL == "" {
		baseURL = defaultBackendURL
	}
	if healthPath == "" {
		healthPath = "/auth/v1/health"
	}

	b := &Backend{
		baseURL:    baseURL,
		anonKey:    cfg.AnonKey,
		healthPath: healthPath,
		httpClient: base,
	}

	token := cfg.AccessToken
	if token == "" {
		token = cfg.AnonKey
	}
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		b.httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: token,
			TokenType:   "Bearer",
		}))
		b.authed = true
	} else {
		c := *base
		b.httpClient = &c
	}
	if cfg.Timeout.Duration > 0 {
		b.httpClient.Timeout = cfg.Timeout.Duration
	}

	return b
}

// BaseURL returns the backend root URL.
func (b *Backend) BaseURL() string { return b.baseURL }

// Health probes the backend health endpoint.
func (b *Backend) Health(ctx context.Context) error {
	_, err := b.do(ctx, http.MethodGet, b.healthPath, nil)
	return err
}

type createPostRequest struct {
	ClientID  string   `json:"client_id"`
	Content   string   `json:"content"`
	MediaURLs []string `json:"media_urls,omitempty"`
	Hashtags  []string `json:"hashtags,omitempty"`
	ReplyToID string   `json:"reply_to_id,omitempty"`
}

// CreatePost inserts post and returns the id of the created row.
//
// The local id is sent as client_id; a 409 means an earlier attempt already created the post and returns an empty id.
func (b *Backend) CreatePost(ctx context.Context, post models.OfflinePost) (string, error) {
	if !b.authed {
		return "", shared.ErrNotAuthenticated
	}

	body, err := json.Marshal(createPostRequest{
		ClientID:  post.ID,
		Content:   post.Content,
		MediaURLs: post.MediaURLs,
		Hashtags:  post.Hashtags,
		ReplyToID: post.ReplyToID,
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to encode post: %v", shared.ErrInvalidInput, err)
	}

	respBody, err := b.do(ctx, http.MethodPost, postsEndpoint, body)
	if isConflict(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return parseCreatedID(respBody), nil
}

// Replay sends a queued operation. A 409 is treated as already applied.
func (b *Backend) Replay(ctx context.Context, payload models.Payload) error {
	if !b.authed {
		return shared.ErrNotAuthenticated
	}
	if err := models.ValidatePayload(payload); err != nil {
		return err
	}

	var body []byte
	method := payload.HTTPMethod()
	if method != http.MethodGet {
		body = payload.Args
		if len(body) == 0 {
			body = []byte("{}")
		}
	}

	_, err := b.do(ctx, method, payload.Endpoint, body)
	if isConflict(err) {
		return nil
	}
	return err
}

func (b *Backend) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", shared.ErrInvalidInput, err)
	}

	if b.anonKey != "" {
		req.Header.Set("apikey", b.anonKey)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", shared.ErrServiceUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       errorMessage(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return respBody, nil
}

func isConflict(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusConflict
}

// errorMessage extracts the message field PostgREST and GoTrue put in error bodies.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		for _, m := range []string{e.Message, e.Msg, e.Error} {
			if m != "" {
				return m
			}
		}
	}

	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

// parseCreatedID reads the id from a representation response, either an object or a one-element array.
func parseCreatedID(body []byte) string {
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		var row map[string]any
		if err := json.Unmarshal(body, &row); err != nil {
			return ""
		}
		rows = []map[string]any{row}
	}
	if len(rows) == 0 {
		return ""
	}

	switch id := rows[0]["id"].(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return ""
	}
}
