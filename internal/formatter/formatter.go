// package formatter renders synced records and jobs as tables, JSON, CSV and Markdown
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/shared"
	"github.com/desertthunder/spotsync/internal/ui"
)

// Format selects an output encoding.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// Formats lists every supported [Format].
var Formats = []Format{FormatTable, FormatJSON, FormatCSV, FormatMarkdown}

// ParseFormat validates s. "md" is accepted for Markdown and an empty string selects the table format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
}

// RecordView is the exported shape of a [models.SyncedRecord].
type RecordView struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Platform     string       `json:"platform"`
	ResourceType string       `json:"resource_type"`
	ExternalID   string       `json:"external_id"`
	ExternalURL  string       `json:"external_url"`
	Owner        string       `json:"external_owner_username"`
	OwnerURL     string       `json:"external_owner_url"`
	OccurredAt   *time.Time   `json:"occurred_at,omitempty"`
	Title        string       `json:"title,omitempty"`
	Media        models.Media `json:"media"`
	CreatedAt    time.Time    `json:"created_at"`
}

// NewRecordView converts r.
func NewRecordView(r *models.SyncedRecord) RecordView {
	return RecordView{
		ID:           r.ID,
		UserID:       r.UserID,
		Platform:     r.Platform,
		ResourceType: string(r.ResourceType),
		ExternalID:   r.ExternalID,
		ExternalURL:  r.ExternalURL,
		Owner:        r.ExternalOwnerUsername,
		OwnerURL:     r.ExternalOwnerURL,
		OccurredAt:   r.OccurredAt,
		Title:        deref(r.Title),
		Media:        r.Media,
		CreatedAt:    r.CreatedAt,
	}
}

// JobView is the exported shape of a [models.Job].
type JobView struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	UserID       string    `json:"user_id"`
	ResourceType string    `json:"resource_type,omitempty"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"max_attempts"`
	LastError    string    `json:"last_error,omitempty"`
	RunAt        time.Time `json:"run_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewJobView converts j.
func NewJobView(j *models.Job) JobView {
	return JobView{
		ID:           j.ID,
		Kind:         string(j.Kind),
		UserID:       j.UserID,
		ResourceType: string(j.ResourceType),
		Status:       string(j.Status),
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		LastError:    j.LastError,
		RunAt:        j.RunAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

var (
	recordHeaders = []string{"Resource", "External ID", "Title", "Added", "URL"}
	jobHeaders    = []string{"ID", "Job", "User", "Status", "Attempts", "Run At", "Last Error"}
)

func recordRow(r *models.SyncedRecord) []string {
	return []string{string(r.ResourceType), r.ExternalID, deref(r.Title), formatTime(r.OccurredAt), r.ExternalURL}
}

func jobRow(j *models.Job) []string {
	return []string{
		j.ID,
		j.Label(),
		j.UserID,
		string(j.Status),
		fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
		j.RunAt.UTC().Format(time.RFC3339),
		j.LastError,
	}
}

// RecordsToCSV renders records with columns Resource, External ID, Title, Added, URL.
func RecordsToCSV(records []*models.SyncedRecord) ([]byte, error) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, recordRow(r))
	}
	return toCSV(recordHeaders, rows)
}

// JobsToCSV renders jobs with columns ID, Job, User, Status, Attempts, Run At, Last Error.
func JobsToCSV(jobs []*models.Job) ([]byte, error) {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, jobRow(j))
	}
	return toCSV(jobHeaders, rows)
}

func toCSV(headers []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// RecordsToMarkdown renders records as a list grouped by resource type under title.
func RecordsToMarkdown(title string, records []*models.SyncedRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("# %s\n\n", title))
	buf.WriteString(fmt.Sprintf("**Records**: %d\n", len(records)))

	var current models.ResourceType
	n := 0
	for _, r := range records {
		if r.ResourceType != current {
			current = r.ResourceType
			n = 0
			buf.WriteString(fmt.Sprintf("\n## %s\n\n", current))
		}
		n++

		name := deref(r.Title)
		if name == "" {
			name = r.ExternalID
		}
		added := ""
		if r.OccurredAt != nil {
			added = fmt.Sprintf(" (added %s)", formatTime(r.OccurredAt))
		}
		buf.WriteString(fmt.Sprintf("%d. [%s](%s)%s\n", n, escapeMarkdown(name), r.ExternalURL, added))
	}

	return buf.Bytes(), nil
}

// JobsToMarkdown renders jobs as a Markdown table.
func JobsToMarkdown(jobs []*models.Job) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("| " + strings.Join(jobHeaders, " | ") + " |\n")
	buf.WriteString(strings.Repeat("|---", len(jobHeaders)) + "|\n")
	for _, j := range jobs {
		row := jobRow(j)
		for i := range row {
			row[i] = strings.ReplaceAll(row[i], "|", `\|`)
		}
		buf.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}

	return buf.Bytes(), nil
}

// RecordsToTable renders records as aligned plain text columns.
func RecordsToTable(records []*models.SyncedRecord) ([]byte, error) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, recordRow(r))
	}
	return toTable(recordHeaders, rows)
}

// JobsToTable renders jobs as an aligned table.
func JobsToTable(jobs []*models.Job) ([]byte, error) {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, jobRow(j))
	}
	return toTable(jobHeaders, rows)
}

func toTable(headers []string, rows [][]string) ([]byte, error) {
	upper := make([]string, 0, len(headers))
	for _, h := range headers {
		upper = append(upper, strings.ToUpper(h))
	}
	return []byte(ui.Styles().Table(upper, rows).String() + "\n"), nil
}

// WriteRecords renders records to w in format.
func WriteRecords(w io.Writer, format Format, records []*models.SyncedRecord) error {
	var (
		data []byte
		err  error
	)

	switch format {
	case FormatJSON:
		views := make([]RecordView, 0, len(records))
		for _, r := range records {
			views = append(views, NewRecordView(r))
		}
		data, err = marshalLine(views)
	case FormatCSV:
		data, err = RecordsToCSV(records)
	case FormatMarkdown:
		data, err = RecordsToMarkdown("Synced records", records)
	default:
		data, err = RecordsToTable(records)
	}
	if err != nil {
		return err
	}
	return write(w, data)
}

// WriteJobs renders jobs to w in format.
func WriteJobs(w io.Writer, format Format, jobs []*models.Job) error {
	var (
		data []byte
		err  error
	)

	switch format {
	case FormatJSON:
		views := make([]JobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, NewJobView(j))
		}
		data, err = marshalLine(views)
	case FormatCSV:
		data, err = JobsToCSV(jobs)
	case FormatMarkdown:
		data, err = JobsToMarkdown(jobs)
	default:
		data, err = JobsToTable(jobs)
	}
	if err != nil {
		return err
	}
	return write(w, data)
}

// MarkdownExportResult contains information about files created by WriteMarkdownExport
type MarkdownExportResult struct {
	Directory string
	Files     []string
}

// WriteMarkdownExport writes one Markdown file per resource type into outputDir.
//
// Creates {dir}/README.md with the full listing and {dir}/{resource}.md for each resource present.
func WriteMarkdownExport(records []*models.SyncedRecord, outputDir, title string) (*MarkdownExportResult, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("%w: output directory is required", shared.ErrMissingArgument)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &MarkdownExportResult{Directory: outputDir, Files: []string{}}

	write := func(name, heading string, rs []*models.SyncedRecord) error {
		data, err := RecordsToMarkdown(heading, rs)
		if err != nil {
			return fmt.Errorf("failed to generate Markdown: %w", err)
		}
		path := filepath.Join(outputDir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write Markdown file: %w", err)
		}
		result.Files = append(result.Files, path)
		return nil
	}

	if err := write("README.md", title, records); err != nil {
		return nil, err
	}

	byType := map[models.ResourceType][]*models.SyncedRecord{}
	for _, r := range records {
		byType[r.ResourceType] = append(byType[r.ResourceType], r)
	}
	for _, rt := range models.ResourceTypes {
		rs, ok := byType[rt]
		if !ok {
			continue
		}
		if err := write(string(rt)+".md", fmt.Sprintf("%s: %s", title, rt), rs); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// Summary counts records per resource type in sync order, e.g. "tracks=3 playlists=0 follows=1".
func Summary(records []*models.SyncedRecord) string {
	counts := map[models.ResourceType]int{}
	for _, r := range records {
		counts[r.ResourceType]++
	}

	parts := make([]string, 0, len(models.ResourceTypes))
	for _, rt := range models.ResourceTypes {
		parts = append(parts, string(rt)+"="+strconv.Itoa(counts[rt]))
	}
	return strings.Join(parts, " ")
}

func marshalLine(v any) ([]byte, error) {
	data, err := shared.MarshalJSON(v, true)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

func write(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
