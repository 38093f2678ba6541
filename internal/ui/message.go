package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/murmur/internal/connectivity"
	"github.com/desertthunder/murmur/internal/queue"
	"github.com/desertthunder/murmur/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgQueueChanged MsgKind = iota
	MsgConnectivity
	MsgProgressUpdate
	MsgDrainComplete
	MsgRemoved
	MsgRefreshed
)

// queueChangedMsg is the constructor for [MsgQueueChanged]
func queueChangedMsg(ev queue.Event) Msg {
	return Msg{kind: MsgQueueChanged, data: ev}
}

// connectivityMsg is the constructor for [MsgConnectivity]
func connectivityMsg(t connectivity.Transition) Msg {
	return Msg{kind: MsgConnectivity, data: t}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

type drainOutcome struct {
	result *tasks.DrainResult
	err    error
}

// drainCompleteMsg is the constructor for [MsgDrainComplete]
func drainCompleteMsg(result *tasks.DrainResult, err error) Msg {
	return Msg{kind: MsgDrainComplete, data: drainOutcome{result, err}}
}

// removedMsg is the constructor for [MsgRemoved]
func removedMsg(id string, err error) Msg {
	return Msg{
		kind: MsgRemoved,
		data: struct {
			id  string
			err error
		}{id, err},
	}
}

// refreshedMsg is the constructor for [MsgRefreshed]
func refreshedMsg(err error) Msg {
	return Msg{kind: MsgRefreshed, data: err}
}
