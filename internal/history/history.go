// Package history maintains the bounded, deduplicated series of
// _cat/health observations shown as the cluster health timeline.
package history

import (
	"sort"

	"github.com/espulse/espulse/internal/models"
)

// MaxEntries bounds the health history to the most recent observations.
const MaxEntries = 40

// Merge folds incoming rows into existing. Rows are keyed by epoch; an
// incoming row with the same epoch as an existing one replaces it. The
// result is ascending by epoch and truncated to the newest MaxEntries.
// Merge is pure: neither input is modified.
func Merge(existing, incoming []models.HealthHistoryRow) []models.HealthHistoryRow {
	byEpoch := make(map[int64]models.HealthHistoryRow, len(existing)+len(incoming))
	for _, row := range existing {
		byEpoch[row.Epoch] = row
	}
	for _, row := range incoming {
		byEpoch[row.Epoch] = row
	}

	merged := make([]models.HealthHistoryRow, 0, len(byEpoch))
	for _, row := range byEpoch {
		merged = append(merged, row)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Epoch < merged[j].Epoch
	})

	if len(merged) > MaxEntries {
		merged = merged[len(merged)-MaxEntries:]
	}
	return merged
}
