// Package consensus derives an item's final verdict from the labels its
// assigned students have given.
package consensus

import "labeling-service/internal/models"

// ComputeFinalLabel returns the verdict for item without modifying it.
//
// An explicit admin override of a concrete, non-skip label is kept as is.
// Otherwise only labels from assigned students count: any disagreement among
// them, or a unanimous Skip/Unsure, is a conflict as soon as it appears; full
// agreement resolves only once every assigned student has answered.
func ComputeFinalLabel(item *models.Item) models.Verdict {
	if item.FinalLabelOverridden {
		if l, ok := item.FinalLabel.Label(); ok && l != models.SkipUnsure {
			return item.FinalLabel
		}
	}

	if len(item.AssignedTo) == 0 {
		return models.VerdictPending
	}

	given := make([]models.Label, 0, len(item.AssignedTo))
	for _, student := range item.AssignedTo {
		if l, ok := item.Annotations[student]; ok {
			given = append(given, l)
		}
	}
	if len(given) == 0 {
		return models.VerdictPending
	}

	first := given[0]
	for _, l := range given[1:] {
		if l != first {
			return models.VerdictConflict
		}
	}
	if first == models.SkipUnsure {
		return models.VerdictConflict
	}

	if len(given) < len(item.AssignedTo) {
		return models.VerdictPending
	}
	return models.VerdictOf(first)
}

// Apply recomputes item's verdict in place and reports whether it changed.
// A changed verdict is always an automatic one.
func Apply(item *models.Item) bool {
	next := ComputeFinalLabel(item)
	if next == item.FinalLabel {
		return false
	}
	item.FinalLabel = next
	item.FinalLabelOverridden = false
	return true
}
