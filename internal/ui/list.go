package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/spotsync/internal/models"
)

var (
	_ list.Item = jobItem{}
)

// jobItem wraps [models.Job] to implement [list.Item].
type jobItem struct {
	job *models.Job
}

func (i jobItem) FilterValue() string { return i.job.UserID + " " + i.job.Label() }
func (i jobItem) Title() string {
	return fmt.Sprintf("%s • %s", i.job.Label(), i.job.UserID)
}
func (i jobItem) Description() string {
	desc := fmt.Sprintf("%s • attempt %d/%d", i.job.Status, i.job.Attempts, i.job.MaxAttempts)
	if i.job.LastError != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.job.LastError)
	}
	return desc
}

func jobItems(jobs []*models.Job) []list.Item {
	items := make([]list.Item, len(jobs))
	for i, j := range jobs {
		items[i] = jobItem{job: j}
	}
	return items
}
