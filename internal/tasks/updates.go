package tasks

import (
	"fmt"

	"github.com/desertthunder/spotsync/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase    Phase               // Operation phase
	Step     int                 // Current step number within phase
	Total    int                 // Total steps in this phase
	Resource models.ResourceType // Resource being synced, empty for refresh and authorize
	Message  string              // Human-readable message for display
	Data     any                 // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	ResolveToken Phase = iota
	Fetch
	Map
	Reconcile
	Done
	Refresh
	Authorize
	BulkSync
)

func (p Phase) String() string {
	switch p {
	case ResolveToken:
		return "resolve_token"
	case Fetch:
		return "fetch"
	case Map:
		return "map"
	case Reconcile:
		return "reconcile"
	case Done:
		return "done"
	case Refresh:
		return "refresh"
	case Authorize:
		return "authorize"
	case BulkSync:
		return "bulk_sync"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// syncSteps is the number of phases a single resource sync reports.
const syncSteps = 4

func resolveTokenUpdate(rt models.ResourceType) ProgressUpdate {
	return ProgressUpdate{
		Phase:    ResolveToken,
		Step:     1,
		Total:    syncSteps,
		Resource: rt,
		Message:  fmt.Sprintf("Resolving access token for %s...", rt),
	}
}

func fetchUpdate(rt models.ResourceType) ProgressUpdate {
	return ProgressUpdate{
		Phase:    Fetch,
		Step:     2,
		Total:    syncSteps,
		Resource: rt,
		Message:  fmt.Sprintf("Fetching %s from Spotify...", rt),
	}
}

func mapUpdate(rt models.ResourceType, fetched int) ProgressUpdate {
	return ProgressUpdate{
		Phase:    Map,
		Step:     3,
		Total:    syncSteps,
		Resource: rt,
		Message:  fmt.Sprintf("Mapping %d %s...", fetched, rt),
	}
}

func reconcileUpdate(rt models.ResourceType, mapped int) ProgressUpdate {
	return ProgressUpdate{
		Phase:    Reconcile,
		Step:     4,
		Total:    syncSteps,
		Resource: rt,
		Message:  fmt.Sprintf("Reconciling %d %s...", mapped, rt),
	}
}

func doneUpdate(res *SyncResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:    Done,
		Step:     syncSteps,
		Total:    syncSteps,
		Resource: res.Partition.ResourceType,
		Message:  fmt.Sprintf("✓ %s: +%d -%d (%d unchanged)", res.Partition.ResourceType, res.Added, res.Removed, res.Unchanged),
		Data:     res,
	}
}

func refreshUpdate(userID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Refresh,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Refreshing access token for %s...", userID),
	}
}

func authorizeUpdate(step, total int, message string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Authorize,
		Step:    step,
		Total:   total,
		Message: message,
	}
}

func bulkCompletedUpdate(step, total int, res BulkSyncItem) ProgressUpdate {
	return ProgressUpdate{
		Phase:    BulkSync,
		Step:     step,
		Total:    total,
		Resource: res.Target.ResourceType,
		Message:  fmt.Sprintf("[%d/%d] ✓ %s: +%d -%d", step, total, res.Target, res.Result.Added, res.Result.Removed),
		Data:     res,
	}
}

func bulkFailedUpdate(step, total int, res BulkSyncItem) ProgressUpdate {
	return ProgressUpdate{
		Phase:    BulkSync,
		Step:     step,
		Total:    total,
		Resource: res.Target.ResourceType,
		Message:  fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, res.Target, res.Error),
		Data:     res,
	}
}
