package ui

import (
	"context"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/murmur/internal/connectivity"
	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/queue"
	"github.com/desertthunder/murmur/internal/tasks"
	tu "github.com/desertthunder/murmur/internal/testing"
)

var quiet = log.New(io.Discard)

func newModel(t *testing.T, remote *tu.MockRemote) (*Model, *queue.Queue, *connectivity.Observer) {
	t.Helper()
	q, err := queue.New(tu.NewTestStore(t), queue.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	conn := connectivity.NewObserver(false)
	d := tasks.NewDrainer(q, remote, tasks.Options{Logger: quiet})
	m := NewModel(context.Background(), q, d, conn)
	t.Cleanup(m.Close)

	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return m, q, conn
}

func keyMsg(s string) tea.KeyMsg {
	if s == "tab" {
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// run executes cmd and feeds the resulting message back into the model, returning the message.
func run(m *Model, cmd tea.Cmd) tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	m.Update(msg)
	return msg
}

func mustQueue(t *testing.T, q *queue.Queue, action string) string {
	t.Helper()
	id, err := q.AddToQueue(models.Payload{Action: action, Endpoint: "/rest/v1/" + action})
	if err != nil {
		t.Fatalf("failed to queue %s: %v", action, err)
	}
	return id
}

func TestModel(t *testing.T) {
	t.Run("Lists follow queue events", func(t *testing.T) {
		m, q, _ := newModel(t, &tu.MockRemote{})

		q.AddOfflinePost(models.PostInput{Content: "draft"})
		mustQueue(t, q, "likes")

		msg := run(m, m.waitForEvent())
		if msg.(Msg).kind != MsgQueueChanged {
			t.Fatalf("expected queue change, got %+v", msg)
		}
		if n := len(m.lists[PostsTab].Items()); n != 1 {
			t.Errorf("expected 1 post, got %d", n)
		}
		if n := len(m.lists[QueueTab].Items()); n != 1 {
			t.Errorf("expected 1 queued operation, got %d", n)
		}
		if !strings.Contains(m.View(), "1 queued") {
			t.Errorf("status line missing counts:\n%s", m.View())
		}
	})

	t.Run("Tab cycles lists", func(t *testing.T) {
		m, _, _ := newModel(t, &tu.MockRemote{})
		want := []Tab{QueueTab, DeadTab, PostsTab}
		for _, tab := range want {
			m.Update(keyMsg("tab"))
			if m.tab != tab {
				t.Errorf("expected %v, got %v", tab, m.tab)
			}
		}
	})

	t.Run("Remove selected entry", func(t *testing.T) {
		m, q, _ := newModel(t, &tu.MockRemote{})
		mustQueue(t, q, "likes")
		m.sync()

		m.Update(keyMsg("tab"))
		_, cmd := m.Update(keyMsg("x"))
		run(m, cmd)

		if q.Status().QueueLength != 0 {
			t.Error("expected item removed")
		}
		if len(m.lists[QueueTab].Items()) != 0 || m.err != nil {
			t.Errorf("unexpected model state: items=%d err=%v", len(m.lists[QueueTab].Items()), m.err)
		}
	})

	t.Run("Remove with empty list is a no-op", func(t *testing.T) {
		m, _, _ := newModel(t, &tu.MockRemote{})
		if _, cmd := m.Update(keyMsg("x")); cmd != nil {
			t.Error("expected no command")
		}
	})

	t.Run("Drain reports progress and result", func(t *testing.T) {
		remote := &tu.MockRemote{}
		m, q, _ := newModel(t, remote)
		q.AddOfflinePost(models.PostInput{Content: "hello"})
		mustQueue(t, q, "likes")
		m.sync()

		m.draining = true
		m.progress = make(chan tasks.ProgressUpdate, 64)
		result, err := m.drainer.Drain(context.Background(), m.progress)
		close(m.progress)

		msg := run(m, m.waitForProgress())
		if msg.(Msg).kind != MsgProgressUpdate || m.last.Phase != tasks.DrainStart {
			t.Errorf("expected drain start progress, got %+v", m.last)
		}

		m.Update(drainCompleteMsg(result, err))
		if m.draining || m.err != nil {
			t.Errorf("unexpected state after drain: draining=%v err=%v", m.draining, m.err)
		}
		if len(remote.CallLog()) != 2 || q.Status().HasPendingItems {
			t.Error("expected queue drained")
		}
		if !strings.Contains(m.View(), "1 replayed") {
			t.Errorf("expected drain summary in view:\n%s", m.View())
		}
	})

	t.Run("Drain key is ignored while draining", func(t *testing.T) {
		m, _, _ := newModel(t, &tu.MockRemote{})
		m.draining = true
		if _, cmd := m.Update(keyMsg("d")); cmd != nil {
			t.Error("expected no command while a drain runs")
		}
	})

	t.Run("Connectivity transitions", func(t *testing.T) {
		m, _, conn := newModel(t, &tu.MockRemote{})
		if strings.Contains(m.View(), "● online") {
			t.Error("expected offline at start")
		}

		conn.Set(true)
		run(m, m.waitForConnectivity())
		if !m.status.Online || !strings.Contains(m.View(), "● online") {
			t.Errorf("expected online status:\n%s", m.View())
		}
	})

	t.Run("Quit", func(t *testing.T) {
		m, _, _ := newModel(t, &tu.MockRemote{})
		_, cmd := m.Update(keyMsg("q"))
		if cmd == nil {
			t.Fatal("expected quit command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Error("expected tea.QuitMsg")
		}
	})
}
