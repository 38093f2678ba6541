package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/murmur/internal/connectivity"
	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/queue"
	"github.com/desertthunder/murmur/internal/tasks"
)

// Queue is the part of the offline queue the TUI reads and edits.
type Queue interface {
	Refresh() error
	Status() models.Status
	OfflinePosts() []models.OfflinePost
	QueueItems() []models.QueueItem
	DeadLetters() []models.DeadLetter
	Subscribe(fn queue.Observer) func()
	RemoveOfflinePost(id string) error
	RemoveQueueItem(id string) error
	DiscardDeadLetter(id string) error
}

// Drainer runs one drain of the queue.
type Drainer interface {
	Drain(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*tasks.DrainResult, error)
}

// Tab identifies which list is shown.
type Tab int

const (
	PostsTab Tab = iota
	QueueTab
	DeadTab
)

var tabNames = [...]string{"Posts", "Queue", "Dead letter"}

func (t Tab) String() string { return tabNames[t] }

// Model represents the TUI application state.
type Model struct {
	ctx      context.Context
	queue    Queue
	drainer  Drainer
	conn     *connectivity.Observer
	tab      Tab
	lists    [3]list.Model
	status   models.Status
	width    int
	height   int
	events   chan queue.Event
	unsub    func()
	online   <-chan connectivity.Transition
	unwatch  func()
	draining bool
	progress chan tasks.ProgressUpdate
	last     tasks.ProgressUpdate
	result   *tasks.DrainResult
	notice   string
	err      error
	help     help.Model
	keys     keyMap
}

// NewModel creates a TUI model. conn may be nil when connectivity is not monitored.
func NewModel(ctx context.Context, q Queue, drainer Drainer, conn *connectivity.Observer) *Model {
	m := &Model{
		ctx:     ctx,
		queue:   q,
		drainer: drainer,
		conn:    conn,
		events:  make(chan queue.Event, 16),
		help:    help.New(),
		keys:    newKeyMap(),
	}

	for i := range m.lists {
		l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
		l.Title = Tab(i).String()
		l.SetShowHelp(false)
		l.DisableQuitKeybindings()
		m.lists[i] = l
	}

	m.unsub = q.Subscribe(func(ev queue.Event) {
		select {
		case m.events <- ev:
		default:
		}
	})
	if conn != nil {
		m.online, m.unwatch = conn.Subscribe()
	}

	m.sync()
	return m
}

// Close releases the queue and connectivity subscriptions.
func (m *Model) Close() {
	m.unsub()
	if m.unwatch != nil {
		m.unwatch()
	}
}

// Init refreshes from storage and starts listening for queue and connectivity changes.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.refresh(), m.waitForEvent()}
	if m.online != nil {
		cmds = append(cmds, m.waitForConnectivity())
	}
	return tea.Batch(cmds...)
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		for i := range m.lists {
			m.lists[i].SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateList(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgQueueChanged:
		m.sync()
		return m, m.waitForEvent()

	case MsgConnectivity:
		t := msg.data.(connectivity.Transition)
		m.notice = t.String()
		m.status.Online = t.Online
		return m, m.waitForConnectivity()

	case MsgProgressUpdate:
		m.last = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgDrainComplete:
		out := msg.data.(drainOutcome)
		m.draining = false
		m.result, m.err = out.result, out.err
		if out.result != nil {
			m.notice = out.result.Summary()
		}
		m.sync()
		return m, nil

	case MsgRemoved:
		data := msg.data.(struct {
			id  string
			err error
		})
		m.err = data.err
		if data.err == nil {
			m.notice = fmt.Sprintf("removed %s", data.id)
		}
		m.sync()
		return m, nil

	case MsgRefreshed:
		m.err, _ = msg.data.(error)
		m.sync()
		return m, nil
	}
	return m, nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.lists[m.tab].FilterState() == list.Filtering {
		return m.updateList(msg)
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		m.Close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.tab):
		m.tab = (m.tab + 1) % Tab(len(m.lists))
		return m, nil
	case key.Matches(msg, m.keys.refresh):
		return m, m.refresh()
	case key.Matches(msg, m.keys.drain):
		return m, m.startDrain()
	case key.Matches(msg, m.keys.remove):
		return m, m.removeSelected()
	}
	return m.updateList(msg)
}

func (m *Model) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.lists[m.tab], cmd = m.lists[m.tab].Update(msg)
	return m, cmd
}

// sync rebuilds the lists from the queue snapshots.
func (m *Model) sync() {
	online := m.status.Online
	m.status = m.queue.Status()
	m.status.Online = online
	if m.conn != nil {
		m.status.Online = m.conn.Online()
	}

	posts := m.queue.OfflinePosts()
	items := make([]list.Item, len(posts))
	for i, p := range posts {
		items[i] = postItem{post: p}
	}
	m.lists[PostsTab].SetItems(items)

	queued := m.queue.QueueItems()
	items = make([]list.Item, len(queued))
	for i, it := range queued {
		items[i] = queueItem{item: it}
	}
	m.lists[QueueTab].SetItems(items)

	dead := m.queue.DeadLetters()
	items = make([]list.Item, len(dead))
	for i, d := range dead {
		items[i] = deadItem{dead: d}
	}
	m.lists[DeadTab].SetItems(items)
}

func (m *Model) refresh() tea.Cmd {
	return func() tea.Msg {
		return refreshedMsg(m.queue.Refresh())
	}
}

func (m *Model) removeSelected() tea.Cmd {
	selected, ok := m.lists[m.tab].SelectedItem().(entry)
	if !ok {
		return nil
	}

	id, tab := selected.id(), m.tab
	return func() tea.Msg {
		var err error
		switch tab {
		case PostsTab:
			err = m.queue.RemoveOfflinePost(id)
		case QueueTab:
			err = m.queue.RemoveQueueItem(id)
		case DeadTab:
			err = m.queue.DiscardDeadLetter(id)
		}
		return removedMsg(id, err)
	}
}

func (m *Model) startDrain() tea.Cmd {
	if m.draining || m.drainer == nil {
		return nil
	}
	m.draining = true
	m.err = nil
	m.last = tasks.ProgressUpdate{Message: "Starting drain..."}
	m.progress = make(chan tasks.ProgressUpdate, 64)

	progress := m.progress
	run := func() tea.Msg {
		result, err := m.drainer.Drain(m.ctx, progress)
		close(progress)
		return drainCompleteMsg(result, err)
	}
	return tea.Batch(run, m.waitForProgress())
}

func (m *Model) waitForProgress() tea.Cmd {
	progress := m.progress
	if progress == nil {
		return nil
	}
	return func() tea.Msg {
		update, ok := <-progress
		if !ok {
			return nil
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.events:
			return queueChangedMsg(ev)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) waitForConnectivity() tea.Cmd {
	if m.online == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case t, ok := <-m.online:
			if !ok {
				return nil
			}
			return connectivityMsg(t)
		case <-m.ctx.Done():
			return nil
		}
	}
}

// View renders the tabs, the selected list, the status line, and help.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	b.WriteString(m.lists[m.tab].View())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	return b.String()
}

func (m *Model) renderTabs() string {
	counts := [...]int{m.status.PostsLength, m.status.QueueLength, m.status.DeadLetters}
	tabs := make([]string, len(m.lists))
	for i := range m.lists {
		label := fmt.Sprintf("%s (%d)", Tab(i), counts[i])
		if Tab(i) == m.tab {
			tabs[i] = styles.activeTab.Render(label)
		} else {
			tabs[i] = styles.tab.Render(label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m *Model) renderStatus() string {
	conn := styles.err.Render("● offline")
	if m.status.Online {
		conn = styles.ok.Render("● online")
	}
	line := fmt.Sprintf("%s  %d queued · %d post(s), %d failed · %d dead", conn,
		m.status.QueueLength, m.status.PostsLength, m.status.FailedPosts, m.status.DeadLetters)

	switch {
	case m.draining:
		step := ""
		if m.last.Total > 0 {
			step = fmt.Sprintf("[%d/%d] ", m.last.Step, m.last.Total)
		}
		line += "\n" + styles.warn.Render(step+m.last.Message)
	case m.err != nil:
		line += "\n" + styles.err.Render(fmt.Sprintf("Error: %v", m.err))
	case m.notice != "":
		line += "\n" + styles.help.Render(m.notice)
	}
	return line
}
