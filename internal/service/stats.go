package service

import (
	"context"
	"fmt"

	"labeling-service/internal/models"
)

// Stats summarizes annotation progress.
type Stats struct {
	Total      int                     `json:"total"`
	Unassigned int                     `json:"unassigned"`
	Pending    int                     `json:"pending"`
	Conflict   int                     `json:"conflict"`
	Resolved   int                     `json:"resolved"`
	Overridden int                     `json:"overridden"`
	ByLabel    map[models.Label]int    `json:"by_label"`
	Students   map[string]StudentStats `json:"students"`
}

// StudentStats counts one student's workload.
type StudentStats struct {
	Assigned int `json:"assigned"`
	Labeled  int `json:"labeled"`
}

// GetStats returns annotation statistics
func (a *Annotator) GetStats(ctx context.Context) (*Stats, error) {
	items, err := a.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	stats := &Stats{
		Total:    len(items),
		ByLabel:  make(map[models.Label]int),
		Students: make(map[string]StudentStats),
	}

	for _, item := range items {
		if item.IsUnassigned() {
			stats.Unassigned++
		}

		switch {
		case item.FinalLabel.IsPending():
			stats.Pending++
		case item.FinalLabel.IsConflict():
			stats.Conflict++
		default:
			stats.Resolved++
			if l, ok := item.FinalLabel.Label(); ok {
				stats.ByLabel[l]++
			}
			if item.FinalLabelOverridden {
				stats.Overridden++
			}
		}

		for _, s := range item.AssignedTo {
			st := stats.Students[s]
			st.Assigned++
			stats.Students[s] = st
		}
		for s := range item.Annotations {
			st := stats.Students[s]
			st.Labeled++
			stats.Students[s] = st
		}
	}

	return stats, nil
}
