package models

import (
	"slices"
	"time"
)

// Item is a unit of text under annotation, together with every student's
// response to it and the derived final verdict.
//
// All maps are always non-nil after NewItem or Normalize.
type Item struct {
	ID                   string               `json:"id"`
	Text                 string               `json:"text"`
	AssignedTo           []string             `json:"assignedTo"`
	Annotations          map[string]Label     `json:"annotations"`
	AnnotationFeatures   map[string][]string  `json:"annotationFeatures"`
	AnnotationTimestamps map[string]time.Time `json:"annotationTimestamps"`
	FinalLabel           Verdict              `json:"finalLabel,omitempty"`

	// FinalLabelOverridden marks FinalLabel as an explicit admin decision.
	FinalLabelOverridden bool      `json:"finalLabelOverridden"`
	CreatedAt            time.Time `json:"createdAt"`
}

// NewItem creates an unassigned item with empty annotation maps.
func NewItem(id, text string, createdAt time.Time) *Item {
	item := &Item{
		ID:        id,
		Text:      text,
		CreatedAt: createdAt,
	}
	item.Normalize()
	return item
}

// Normalize replaces nil collections with empty ones and drops duplicate
// or blank assignees, keeping first occurrence order.
func (i *Item) Normalize() {
	if i.Annotations == nil {
		i.Annotations = make(map[string]Label)
	}
	if i.AnnotationFeatures == nil {
		i.AnnotationFeatures = make(map[string][]string)
	}
	if i.AnnotationTimestamps == nil {
		i.AnnotationTimestamps = make(map[string]time.Time)
	}
	i.AssignedTo = dedupe(i.AssignedTo)
}

// IsAssigned reports whether student is in the item's assignment set.
func (i *Item) IsAssigned(student string) bool {
	return slices.Contains(i.AssignedTo, student)
}

// IsUnassigned reports whether no student has been assigned.
func (i *Item) IsUnassigned() bool {
	return len(i.AssignedTo) == 0
}

// ResetFinalLabel reopens the item for consensus and drops any admin override.
func (i *Item) ResetFinalLabel() {
	i.FinalLabel = VerdictPending
	i.FinalLabelOverridden = false
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	c := *i
	c.AssignedTo = slices.Clone(i.AssignedTo)
	if c.AssignedTo == nil {
		c.AssignedTo = []string{}
	}
	c.Annotations = make(map[string]Label, len(i.Annotations))
	for k, v := range i.Annotations {
		c.Annotations[k] = v
	}
	c.AnnotationFeatures = make(map[string][]string, len(i.AnnotationFeatures))
	for k, v := range i.AnnotationFeatures {
		c.AnnotationFeatures[k] = slices.Clone(v)
	}
	c.AnnotationTimestamps = make(map[string]time.Time, len(i.AnnotationTimestamps))
	for k, v := range i.AnnotationTimestamps {
		c.AnnotationTimestamps[k] = v
	}
	return &c
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
