// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/repositories"
	"github.com/desertthunder/murmur/internal/shared"
)

// NewTestDB opens an in-memory database with migrations applied and closes it when the test ends.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewTestStore creates a [repositories.CollectionStore] over [NewTestDB].
func NewTestStore(t *testing.T, opts ...repositories.StoreOption) *repositories.CollectionStore {
	t.Helper()
	return repositories.NewCollectionStore(NewTestDB(t), opts...)
}

// HookStore wraps a [repositories.Store] and lets tests interfere with loads and saves.
type HookStore struct {
	repositories.Store

	mu sync.Mutex
	// BeforeSave runs before each save; a non-nil error is returned instead of saving.
	BeforeSave func(key string, call int) error
	// LoadErr, when set, is returned by every Load.
	LoadErr error
	saves   int
}

func (h *HookStore) Load(key string) (repositories.Document, error) {
	h.mu.Lock()
	err := h.LoadErr
	h.mu.Unlock()
	if err != nil {
		return repositories.Document{}, err
	}
	return h.Store.Load(key)
}

func (h *HookStore) Save(key string, doc repositories.Document) (int64, error) {
	h.mu.Lock()
	h.saves++
	call, hook := h.saves, h.BeforeSave
	h.mu.Unlock()

	if hook != nil {
		if err := hook(key, call); err != nil {
			return 0, err
		}
	}
	return h.Store.Save(key, doc)
}

// Saves returns how many saves were attempted.
func (h *HookStore) Saves() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saves
}

// SetLoadErr changes the error returned by Load.
func (h *HookStore) SetLoadErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LoadErr = err
}

// RemoteCall records one call made to a [MockRemote].
type RemoteCall struct {
	Kind    string // "post" or "replay"
	PostID  string
	Payload models.Payload
}

// MockRemote is a scripted backend for drain tests.
//
// PostErrs and ReplayErrs are consumed in order; once exhausted calls succeed.
type MockRemote struct {
	mu         sync.Mutex
	PostErrs   []error
	ReplayErrs []error
	// FailActions makes every replay of the named action fail with the mapped error.
	FailActions map[string]error
	Calls       []RemoteCall
	Healthy     bool
}

func (m *MockRemote) CreatePost(ctx context.Context, post models.OfflinePost) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, RemoteCall{Kind: "post", PostID: post.ID})
	if len(m.PostErrs) > 0 {
		err := m.PostErrs[0]
		m.PostErrs = m.PostErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "remote-" + post.ID, nil
}

func (m *MockRemote) Replay(ctx context.Context, payload models.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, RemoteCall{Kind: "replay", Payload: payload})
	if err, ok := m.FailActions[payload.Action]; ok {
		return err
	}
	if len(m.ReplayErrs) > 0 {
		err := m.ReplayErrs[0]
		m.ReplayErrs = m.ReplayErrs[1:]
		return err
	}
	return nil
}

func (m *MockRemote) Health(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Healthy {
		return shared.ErrServiceUnavailable
	}
	return nil
}

// CallLog returns a copy of the recorded calls.
func (m *MockRemote) CallLog() []RemoteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RemoteCall(nil), m.Calls...)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
