package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/desertthunder/spotsync/internal/models"
)

var styles = NewPalette("#1DB954", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

// Styles returns the palette shared by the dashboard and CLI tables.
func Styles() *Palette { return styles }

// Table builds a borderless table with a rule under the header. Header cells use the title color.
func (p *Palette) Table(headers []string, rows [][]string) *table.Table {
	cell := lipgloss.NewStyle().PaddingRight(2)
	header := p.ok.Inherit(cell)

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderStyle(p.help).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
}

// Status renders a job status in its color: green when succeeded, red when failed, orange while retrying.
func (p *Palette) Status(s models.JobStatus) string {
	switch s {
	case models.JobSucceeded:
		return p.ok.Render(string(s))
	case models.JobFailed:
		return p.err.Render(string(s))
	case models.JobRetrying:
		return p.warn.Render(string(s))
	default:
		return string(s)
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}
