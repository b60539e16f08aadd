// Package ui implements a live job dashboard using bubbletea's Elm architecture.
//
// The dashboard has two views:
//  1. [JobListView] : Browse recent jobs with per-status counts, filtered by status
//  2. [JobDetailView] : Inspect one job, including its last error
//
// The [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the [Msg] union type.
// Jobs are reloaded from the durable queue on every tick, so the dashboard reflects work done by any worker process.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, tab, s, r, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
