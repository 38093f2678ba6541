package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/murmur/internal/connectivity"
	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/services"
	"github.com/desertthunder/murmur/internal/shared"
	tu "github.com/desertthunder/murmur/internal/testing"
	"github.com/urfave/cli/v3"
)

type harness struct {
	t      *testing.T
	runner *Runner
	remote *tu.MockRemote
	output *bytes.Buffer
	config string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		remote: &tu.MockRemote{Healthy: true},
		output: &bytes.Buffer{},
		config: filepath.Join(t.TempDir(), "config.toml"),
	}
	h.runner = NewRunner(RunnerOpts{
		DB:     tu.NewTestDB(t),
		Remote: h.remote,
		Logger: log.New(io.Discard),
		Output: h.output,
	})
	t.Cleanup(func() { h.runner.Close() })
	return h
}

// run executes one murmur invocation and returns what it printed.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	h.output.Reset()

	app := &cli.Command{
		Name:   "murmur",
		Writer: io.Discard,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: h.config},
			&cli.StringFlag{Name: "log-level"},
		},
		Before:   h.runner.loadConfig,
		Commands: h.runner.register(),
	}
	err := app.Run(context.Background(), append([]string{"murmur"}, args...))
	return h.output.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("murmur %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", out, err)
	}
	return v
}

func TestPostCommands(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("post", "add", "offline hello #Murmur", "--media", "https://example.com/a.png")
	if !strings.Contains(out, "queued") {
		t.Errorf("unexpected output: %q", out)
	}

	posts := decode[[]models.OfflinePost](t, h.mustRun("post", "list", "--json"))
	if len(posts) != 1 || posts[0].Status != models.PostPending || posts[0].Hashtags[0] != "murmur" {
		t.Fatalf("unexpected posts: %+v", posts)
	}
	id := posts[0].ID

	if out := h.mustRun("post", "list"); !strings.Contains(out, id) {
		t.Errorf("expected plain listing to include %s:\n%s", id, out)
	}
	if got := decode[[]models.OfflinePost](t, h.mustRun("post", "list", "--status", "failed", "--json")); len(got) != 0 {
		t.Errorf("expected no failed posts, got %+v", got)
	}

	t.Run("Validation", func(t *testing.T) {
		if _, err := h.run("post", "add", strings.Repeat("x", 281)); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := h.run("post", "list", "--status", "lost"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("Retry after failure", func(t *testing.T) {
		h.remote.PostErrs = []error{&services.StatusError{StatusCode: http.StatusServiceUnavailable}}
		h.mustRun("sync", "drain")

		posts := decode[[]models.OfflinePost](t, h.mustRun("post", "list", "--json"))
		if len(posts) != 1 || posts[0].Status != models.PostFailed || posts[0].RetryCount != 1 {
			t.Fatalf("expected failed post, got %+v", posts)
		}

		h.mustRun("post", "retry", id)
		if posts := decode[[]models.OfflinePost](t, h.mustRun("post", "list", "--json")); len(posts) != 0 {
			t.Errorf("expected post removed after retry, got %+v", posts)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		h.mustRun("post", "add", "second")
		posts := decode[[]models.OfflinePost](t, h.mustRun("post", "list", "--json"))
		h.mustRun("post", "remove", posts[0].ID)

		if _, err := h.run("post", "remove", posts[0].ID); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := h.run("post", "retry"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}

func TestQueueCommands(t *testing.T) {
	h := newHarness(t)

	h.mustRun("queue", "add", "likes", "--args", `{"post_id":"p1"}`)
	h.mustRun("queue", "add", "follows", "--method", "put", "--endpoint", "/rest/v1/follows?id=eq.1")

	items := decode[[]models.QueueItem](t, h.mustRun("queue", "list", "--json"))
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %+v", items)
	}
	if items[0].Payload.Endpoint != "/rest/v1/likes" || items[1].Payload.Method != "PUT" {
		t.Errorf("unexpected payloads: %+v", items)
	}
	if items[0].Timestamp > items[1].Timestamp {
		t.Error("expected non-decreasing timestamps")
	}

	status := decode[statusReport](t, h.mustRun("queue", "status", "--json", "--probe"))
	if status.QueueLength != 2 || !status.HasPendingItems || !status.Online {
		t.Errorf("unexpected status: %+v", status)
	}

	t.Run("Bad input", func(t *testing.T) {
		if _, err := h.run("queue", "add", "likes", "--args", "{nope"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := h.run("queue", "add"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
		if _, err := h.run("queue", "remove", "missing"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		h.mustRun("queue", "remove", items[1].ID)
		if got := decode[[]models.QueueItem](t, h.mustRun("queue", "list", "--json")); len(got) != 1 {
			t.Errorf("expected 1 item, got %+v", got)
		}
	})

	t.Run("Dead letters", func(t *testing.T) {
		h.remote.FailActions = map[string]error{"likes": &services.StatusError{StatusCode: http.StatusUnprocessableEntity}}
		out := h.mustRun("sync", "drain")
		if !strings.Contains(out, "1 dead-lettered") {
			t.Errorf("unexpected summary: %q", out)
		}

		dead := decode[[]models.DeadLetter](t, h.mustRun("queue", "dead", "--json"))
		if len(dead) != 1 || dead[0].Item.ID != items[0].ID {
			t.Fatalf("unexpected dead letters: %+v", dead)
		}

		h.mustRun("queue", "requeue", dead[0].Item.ID)
		if got := decode[[]models.QueueItem](t, h.mustRun("queue", "list", "--json")); len(got) != 1 {
			t.Errorf("expected requeued item, got %+v", got)
		}
		if _, err := h.run("queue", "requeue", dead[0].Item.ID); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		h.mustRun("sync", "drain")
		h.mustRun("queue", "discard", "--all")
		if got := decode[[]models.DeadLetter](t, h.mustRun("queue", "dead", "--json")); len(got) != 0 {
			t.Errorf("expected no dead letters, got %+v", got)
		}
	})

	t.Run("History", func(t *testing.T) {
		status := decode[statusReport](t, h.mustRun("queue", "status", "--json", "--history", "5"))
		if len(status.History) != 2 {
			t.Errorf("expected 2 drain runs, got %d", len(status.History))
		}
		if out := h.mustRun("queue", "status", "--history", "1"); !strings.Contains(out, "Recent drains") {
			t.Errorf("expected history section:\n%s", out)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		h.mustRun("queue", "add", "likes")
		h.mustRun("post", "add", "draft")

		if _, err := h.run("queue", "clear"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
		h.mustRun("queue", "clear", "--yes")

		status := decode[statusReport](t, h.mustRun("queue", "status", "--json"))
		if status.HasPendingItems || status.PostsLength != 0 || status.QueueLength != 0 {
			t.Errorf("expected empty queue, got %+v", status)
		}
	})
}

func TestSyncDrain(t *testing.T) {
	t.Run("Posts before operations", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("queue", "add", "likes")
		h.mustRun("post", "add", "first")

		out := h.mustRun("sync", "drain")
		if !strings.Contains(out, "1 synced") || !strings.Contains(out, "1 replayed") {
			t.Errorf("unexpected summary: %q", out)
		}

		calls := h.remote.CallLog()
		if len(calls) != 2 || calls[0].Kind != "post" || calls[1].Kind != "replay" {
			t.Errorf("unexpected call order: %+v", calls)
		}
	})

	t.Run("Keep synced", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("post", "add", "keep")
		h.mustRun("sync", "drain", "--keep-synced")

		posts := decode[[]models.OfflinePost](t, h.mustRun("post", "list", "--json"))
		if len(posts) != 1 || posts[0].Status != models.PostSynced || posts[0].RemoteID == "" {
			t.Errorf("expected kept synced post, got %+v", posts)
		}
	})

	t.Run("Recover interrupted posts", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("post", "add", "stuck")
		q, _ := h.runner.openQueue()
		posts := q.OfflinePosts()
		q.UpdatePostStatus(posts[0].ID, models.PostSyncing)

		out := h.mustRun("sync", "drain")
		if !strings.Contains(out, "0 synced") {
			t.Errorf("syncing post should be skipped: %q", out)
		}

		out = h.mustRun("sync", "drain", "--recover")
		if !strings.Contains(out, "1 synced") {
			t.Errorf("recovered post should sync: %q", out)
		}
	})

	t.Run("Rejected token", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("queue", "add", "likes")
		h.remote.ReplayErrs = []error{&services.StatusError{StatusCode: http.StatusUnauthorized}}

		if _, err := h.run("sync", "drain"); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})
}

func TestWatch(t *testing.T) {
	h := newHarness(t)
	q, err := h.runner.openQueue()
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	if _, err := q.AddToQueue(models.Payload{Action: "likes", Endpoint: "/rest/v1/likes"}); err != nil {
		t.Fatalf("failed to queue: %v", err)
	}

	start := func(ctx context.Context, observer *connectivity.Observer, drain func(context.Context) error) <-chan error {
		done := make(chan error, 1)
		go func() { done <- h.runner.watch(ctx, q, observer, time.Hour, drain) }()
		return done
	}
	counting := func(drained chan<- struct{}) func(context.Context) error {
		return func(context.Context) error {
			select {
			case drained <- struct{}{}:
			default:
			}
			return nil
		}
	}

	t.Run("Drains when the backend comes online", func(t *testing.T) {
		observer := connectivity.NewObserver(false)
		drained := make(chan struct{}, 4)
		ctx, cancel := context.WithCancel(context.Background())
		done := start(ctx, observer, counting(drained))

		observer.Set(true)
		select {
		case <-drained:
		case <-time.After(2 * time.Second):
			t.Fatal("expected a drain when the backend came online")
		}

		cancel()
		if err := <-done; err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	})

	t.Run("Drains at startup when already online", func(t *testing.T) {
		observer := connectivity.NewObserver(true)
		drained := make(chan struct{}, 4)
		ctx, cancel := context.WithCancel(context.Background())
		done := start(ctx, observer, counting(drained))

		select {
		case <-drained:
		case <-time.After(time.Second):
			t.Fatal("online with pending work, but no drain")
		}

		cancel()
		if err := <-done; err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	})

	t.Run("Offline at startup does not drain", func(t *testing.T) {
		observer := connectivity.NewObserver(false)
		drained := make(chan struct{}, 4)
		ctx, cancel := context.WithCancel(context.Background())
		done := start(ctx, observer, counting(drained))

		select {
		case <-drained:
			t.Error("unexpected drain while offline")
		case <-time.After(100 * time.Millisecond):
		}

		cancel()
		<-done
	})

	t.Run("Stops on rejected token", func(t *testing.T) {
		observer := connectivity.NewObserver(true)
		done := start(context.Background(), observer, func(context.Context) error {
			return shared.ErrNotAuthenticated
		})

		select {
		case err := <-done:
			if !errors.Is(err, shared.ErrNotAuthenticated) {
				t.Errorf("expected ErrNotAuthenticated, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("watch did not stop")
		}
	})
}

func TestExportCommand(t *testing.T) {
	h := newHarness(t)
	h.mustRun("post", "add", "export me")
	h.mustRun("queue", "add", "likes")

	dir := filepath.Join(t.TempDir(), "out")
	out := h.mustRun("queue", "export", "--format", "json,csv", "--output", dir)
	if !strings.Contains(out, "Manifest") {
		t.Errorf("expected manifest line:\n%s", out)
	}

	for _, name := range []string{"queue.json", "posts.csv", "items.csv", "dead.csv", "export_manifest.json"} {
		tu.AssertFileExists(t, filepath.Join(dir, name))
	}
	if content := tu.MustReadFile(t, filepath.Join(dir, "posts.csv")); !strings.Contains(content, "export me") {
		t.Errorf("expected post in CSV:\n%s", content)
	}

	if _, err := h.run("queue", "export", "--format", "yaml"); err == nil {
		t.Error("expected unknown format error")
	}
}

func TestSetupAndAuthCommands(t *testing.T) {
	t.Run("setup config", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("setup", "config")
		tu.AssertFileExists(t, h.config)

		if _, err := h.run("setup", "config"); err == nil {
			t.Error("expected error when the file exists")
		}
		h.mustRun("setup", "config", "--force")
	})

	t.Run("setup database", func(t *testing.T) {
		h := newHarness(t)
		if out := h.mustRun("setup", "database"); !strings.Contains(out, "Database ready") {
			t.Errorf("unexpected output: %q", out)
		}
	})

	t.Run("auth token", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("setup", "config")
		h.mustRun("auth", "token", "abc123")

		if os.Getenv(shared.AccessTokenEnv) == "" {
			if c, err := shared.LoadConfig(h.config); err != nil || c.Backend.AccessToken != "abc123" {
				t.Errorf("expected token saved, got %v %v", c, err)
			}
		}
	})
}

func TestAPICommands(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/posts":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"id":"1"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/likes":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"ok":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h := newHarness(t)
	h.runner.api = services.NewAPIService(srv.URL, srv.Client(), nil)

	if out := h.mustRun("api", "get", "/rest/v1/posts"); !strings.Contains(out, `"id":"1"`) {
		t.Errorf("unexpected GET output: %q", out)
	}
	if out := h.mustRun("api", "post", "/rest/v1/likes", "--data", `{"post_id":"1"}`); !strings.Contains(out, `"ok": true`) {
		t.Errorf("unexpected POST output: %q", out)
	}
	if _, err := h.run("api", "get", "/missing"); !errors.Is(err, shared.ErrAPIRequest) {
		t.Errorf("expected ErrAPIRequest, got %v", err)
	}
	if _, err := h.run("api", "post", "/rest/v1/likes", "--data", "nope"); !errors.Is(err, shared.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAuthImport(t *testing.T) {
	h := newHarness(t)
	h.mustRun("setup", "config")

	path := filepath.Join(t.TempDir(), "request.sh")
	request := `curl 'https://abc.supabase.co/rest/v1/posts' -H 'apikey: anon-key' -H 'Authorization: Bearer user-token'`
	if err := os.WriteFile(path, []byte(request), 0644); err != nil {
		t.Fatal(err)
	}

	if out := h.mustRun("auth", "import", path); !strings.Contains(out, "https://abc.supabase.co") {
		t.Errorf("unexpected output: %q", out)
	}

	c, err := shared.LoadConfig(h.config)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if c.Backend.URL != "https://abc.supabase.co" || c.Backend.AnonKey != "anon-key" {
		t.Errorf("unexpected backend config: %+v", c.Backend)
	}
	if os.Getenv(shared.AccessTokenEnv) == "" && c.Backend.AccessToken != "user-token" {
		t.Errorf("expected token saved, got %q", c.Backend.AccessToken)
	}

	t.Run("signed out request", func(t *testing.T) {
		signedOut := filepath.Join(t.TempDir(), "anon.sh")
		os.WriteFile(signedOut, []byte(`curl https://abc.supabase.co -H 'apikey: k' -H 'Authorization: Bearer k'`), 0644)
		if _, err := h.run("auth", "import", signedOut); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
