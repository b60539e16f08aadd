package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/spotsync/internal/models"
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
	MsgJobsFetched MsgKind = iota
	MsgSyncEnqueued
	MsgTick
)

type jobsFetched struct {
	jobs   []*models.Job
	counts map[models.JobStatus]int
	err    error
}

type syncEnqueued struct {
	userID string
	jobs   []*models.Job
	err    error
}

// jobsFetchedMsg is the constructor for [MsgJobsFetched]
func jobsFetchedMsg(jobs []*models.Job, counts map[models.JobStatus]int, err error) Msg {
	return Msg{kind: MsgJobsFetched, data: jobsFetched{jobs, counts, err}}
}

// syncEnqueuedMsg is the constructor for [MsgSyncEnqueued]
func syncEnqueuedMsg(userID string, jobs []*models.Job, err error) Msg {
	return Msg{kind: MsgSyncEnqueued, data: syncEnqueued{userID, jobs, err}}
}

// tickMsg is the constructor for [MsgTick]
func tickMsg(t time.Time) Msg {
	return Msg{kind: MsgTick, data: t}
}
