package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/repositories"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	JobListView ViewState = iota
	JobDetailView
)

// DefaultRefreshInterval is how often the dashboard reloads jobs.
const DefaultRefreshInterval = 2 * time.Second

const listLimit = 200

// statusFilters is the cycle walked by the filter key. The empty status shows every job.
var statusFilters = []models.JobStatus{
	"",
	models.JobPending,
	models.JobRunning,
	models.JobRetrying,
	models.JobSucceeded,
	models.JobFailed,
}

// JobSource reads the durable queue. It is satisfied by *repositories.JobRepository.
type JobSource interface {
	List(ctx context.Context, filter repositories.JobFilter) ([]*models.Job, error)
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
}

// SyncEnqueuer schedules a sync of every resource. It is satisfied by *jobs.Scheduler.
type SyncEnqueuer interface {
	EnqueueSyncAll(ctx context.Context, userID string) ([]*models.Job, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx      context.Context
	view     ViewState
	source   JobSource
	enqueuer SyncEnqueuer
	interval time.Duration

	width    int
	height   int
	jobList  list.Model
	jobs     []*models.Job
	counts   map[models.JobStatus]int
	filter   int
	selected *models.Job
	notice   string
	err      error
	help     help.Model
	keys     keyMap
}

// NewModel creates a new TUI model. enqueuer may be nil, which disables the sync key.
func NewModel(ctx context.Context, source JobSource, enqueuer SyncEnqueuer, interval time.Duration) *Model {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	jobList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	jobList.Title = "Jobs"
	jobList.SetFilteringEnabled(false)

	return &Model{
		ctx:      ctx,
		view:     JobListView,
		source:   source,
		enqueuer: enqueuer,
		interval: interval,
		jobList:  jobList,
		counts:   map[models.JobStatus]int{},
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init initializes the TUI by loading jobs and starting the reload ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchJobs(), m.tick())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobList.SetSize(msg.Width-4, msg.Height-10)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case JobListView:
			return m.handleListKeys(msg)
		case JobDetailView:
			return m.handleDetailKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.jobList, cmd = m.jobList.Update(msg)
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgTick:
		return m, tea.Batch(m.fetchJobs(), m.tick())

	case MsgJobsFetched:
		data := msg.data.(jobsFetched)
		m.err = data.err
		if data.err != nil {
			return m, nil
		}
		m.jobs = data.jobs
		m.counts = data.counts
		cmd := m.jobList.SetItems(jobItems(data.jobs))
		m.reselect()
		return m, cmd

	case MsgSyncEnqueued:
		data := msg.data.(syncEnqueued)
		if data.err != nil {
			m.notice = styles.err.Render(fmt.Sprintf("sync for %s not scheduled: %v", data.userID, data.err))
			return m, nil
		}
		m.notice = styles.ok.Render(fmt.Sprintf("scheduled %d sync jobs for %s", len(data.jobs), data.userID))
		return m, m.fetchJobs()
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case JobDetailView:
		return m.renderDetail()
	default:
		return m.renderList()
	}
}

// Filter is the status currently shown. The empty status means every job.
func (m *Model) Filter() models.JobStatus { return statusFilters[m.filter] }

func (m *Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.jobList.SelectedItem().(jobItem); ok {
			m.selected = item.job
			m.view = JobDetailView
		}
		return m, nil
	case key.Matches(msg, m.keys.filter):
		m.filter = (m.filter + 1) % len(statusFilters)
		return m, m.fetchJobs()
	case key.Matches(msg, m.keys.refresh):
		return m, m.fetchJobs()
	case key.Matches(msg, m.keys.sync):
		if item, ok := m.jobList.SelectedItem().(jobItem); ok {
			return m, m.enqueueSync(item.job.UserID)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.jobList, cmd = m.jobList.Update(msg)
	return m, cmd
}

func (m *Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = JobListView
		m.selected = nil
		return m, nil
	case key.Matches(msg, m.keys.sync):
		if m.selected != nil {
			return m, m.enqueueSync(m.selected.UserID)
		}
	}
	return m, nil
}

// reselect swaps the detail view's job for its reloaded copy.
func (m *Model) reselect() {
	if m.selected == nil {
		return
	}
	for _, j := range m.jobs {
		if j.ID == m.selected.ID {
			m.selected = j
			return
		}
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) fetchJobs() tea.Cmd {
	filter := repositories.JobFilter{Status: m.Filter(), Limit: listLimit}
	return func() tea.Msg {
		jobs, err := m.source.List(m.ctx, filter)
		if err != nil {
			return jobsFetchedMsg(nil, nil, err)
		}
		counts, err := m.source.CountByStatus(m.ctx)
		return jobsFetchedMsg(jobs, counts, err)
	}
}

func (m *Model) enqueueSync(userID string) tea.Cmd {
	if m.enqueuer == nil {
		m.notice = styles.warn.Render("syncing is not available in this session")
		return nil
	}
	return func() tea.Msg {
		jobs, err := m.enqueuer.EnqueueSyncAll(m.ctx, userID)
		return syncEnqueuedMsg(userID, jobs, err)
	}
}

func (m *Model) renderCounts() string {
	parts := make([]string, 0, len(statusFilters)-1)
	for _, s := range statusFilters[1:] {
		parts = append(parts, fmt.Sprintf("%s %d", styles.Status(s), m.counts[s]))
	}
	return strings.Join(parts, "  ")
}

func (m *Model) renderList() string {
	var b strings.Builder

	b.WriteString(styles.title.Render("spotsync jobs"))
	b.WriteString("\n")
	b.WriteString(m.renderCounts())
	b.WriteString("\n")

	filter := "all"
	if s := m.Filter(); s != "" {
		filter = string(s)
	}
	b.WriteString(styles.help.Render("showing: " + filter))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}

	b.WriteString(m.jobList.View())
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString(m.notice)
		b.WriteString("\n")
	}

	helpKeys := []key.Binding{m.keys.enter, m.keys.filter, m.keys.sync, m.keys.refresh, m.keys.quit}
	b.WriteString(m.help.ShortHelpView(helpKeys))
	return b.String()
}

func (m *Model) renderDetail() string {
	j := m.selected
	if j == nil {
		return styles.err.Render("No job selected\n\nPress esc to go back")
	}

	title := styles.title.Render(fmt.Sprintf("Job %s", j.ID))
	info := fmt.Sprintf(
		"Kind:      %s\nUser:      %s\nResource:  %s\nStatus:    %s\nAttempts:  %d/%d\nRun at:    %s\nCreated:   %s\nUpdated:   %s",
		j.Kind,
		j.UserID,
		valueOr(string(j.ResourceType), "-"),
		styles.Status(j.Status),
		j.Attempts, j.MaxAttempts,
		j.RunAt.Local().Format(time.DateTime),
		j.CreatedAt.Local().Format(time.DateTime),
		j.UpdatedAt.Local().Format(time.DateTime),
	)

	var lastErr string
	if j.LastError != "" {
		lastErr = "\n\n" + styles.warn.Render("Last error: "+j.LastError)
	}

	var notice string
	if m.notice != "" {
		notice = "\n\n" + m.notice
	}

	helpKeys := []key.Binding{m.keys.back, m.keys.sync, m.keys.quit}
	return fmt.Sprintf("%s\n%s%s%s\n\n%s", title, info, lastErr, notice, m.help.ShortHelpView(helpKeys))
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
