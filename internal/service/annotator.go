package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"labeling-service/internal/assignment"
	"labeling-service/internal/consensus"
	"labeling-service/internal/models"
	"labeling-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AnnotatorConfig holds the tunables of the annotation service.
type AnnotatorConfig struct {
	// Reasons is the closed list of reason tags accepted with Category_A.
	// An empty list accepts any tag.
	Reasons []string

	// Now overrides the clock used for annotation timestamps.
	Now func() time.Time
}

// Annotator handles annotation business logic. Every mutation reloads the
// item from the store, applies the change, recomputes the verdict, and
// writes the whole record back while holding that item's lock.
type Annotator struct {
	store       repository.Store
	distributor *assignment.Distributor
	reasons     []string
	now         func() time.Time
	logger      *zap.Logger

	// bulk is held shared by single-item mutations and exclusively by
	// operations that rewrite many items at once.
	bulk  sync.RWMutex
	items itemLocks
}

// NewAnnotator creates a new annotator service
func NewAnnotator(
	store repository.Store,
	distributor *assignment.Distributor,
	cfg AnnotatorConfig,
	logger *zap.Logger,
) *Annotator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Annotator{
		store:       store,
		distributor: distributor,
		reasons:     slices.Clone(cfg.Reasons),
		now:         now,
		logger:      logger,
	}
}

// Taxonomy returns the labels and reason tags clients can choose from.
func (a *Annotator) Taxonomy() models.Taxonomy {
	return models.Taxonomy{
		Labels:  models.Labels(),
		Reasons: slices.Clone(a.reasons),
	}
}

// CreateItems wraps each non-blank text into a new unassigned item.
func (a *Annotator) CreateItems(ctx context.Context, texts []string) ([]*models.Item, error) {
	now := a.now()
	items := make([]*models.Item, 0, len(texts))
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		items = append(items, models.NewItem(uuid.New().String(), text, now))
	}
	if len(items) == 0 {
		return items, nil
	}

	added, err := a.store.AddItems(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("failed to add items: %w", err)
	}

	a.logger.Info("Items created", zap.Int("count", added))
	return items, nil
}

// GetItem returns a single item.
func (a *Annotator) GetItem(ctx context.Context, id string) (*models.Item, error) {
	item, err := a.store.GetItem(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// ListItems returns every item.
func (a *Annotator) ListItems(ctx context.Context) ([]*models.Item, error) {
	return a.store.ListItems(ctx)
}

// ListItemsForStudent returns the items assigned to student.
func (a *Annotator) ListItemsForStudent(ctx context.Context, student string) ([]*models.Item, error) {
	items, err := a.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Item, 0)
	for _, item := range items {
		if item.IsAssigned(student) {
			out = append(out, item)
		}
	}
	return out, nil
}

// RecordLabel sets student's label on an item and recomputes its verdict.
// Reasons are kept only for labels that accept them.
func (a *Annotator) RecordLabel(ctx context.Context, itemID, student, label string, reasons []string) (*models.Item, error) {
	if student == "" {
		return nil, ErrInvalidStudent
	}
	l, ok := models.ParseLabel(label)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}

	if l.AcceptsReasons() {
		var err error
		if reasons, err = a.checkReasons(reasons); err != nil {
			return nil, err
		}
	} else {
		reasons = nil
	}

	defer a.lockItem(itemID)()

	item, err := a.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if !item.IsAssigned(student) {
		a.logger.Warn("Label recorded for unassigned student",
			zap.String("item_id", itemID),
			zap.String("student", student))
	}

	item.Annotations[student] = l
	if len(reasons) > 0 {
		item.AnnotationFeatures[student] = reasons
	} else {
		delete(item.AnnotationFeatures, student)
	}
	item.AnnotationTimestamps[student] = a.now()
	consensus.Apply(item)

	if err := a.save(ctx, item); err != nil {
		return nil, err
	}

	a.logger.Info("Label recorded",
		zap.String("item_id", itemID),
		zap.String("student", student),
		zap.String("label", string(l)),
		zap.String("final_label", string(item.FinalLabel)))

	return item, nil
}

// ClearLabel removes student's response and reopens the item, dropping any
// admin override. It is a no-op when student has not labeled the item.
func (a *Annotator) ClearLabel(ctx context.Context, itemID, student string) (*models.Item, error) {
	defer a.lockItem(itemID)()

	item, err := a.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if _, ok := item.Annotations[student]; !ok {
		return item, nil
	}

	delete(item.Annotations, student)
	delete(item.AnnotationFeatures, student)
	delete(item.AnnotationTimestamps, student)
	item.ResetFinalLabel()

	if err := a.save(ctx, item); err != nil {
		return nil, err
	}

	a.logger.Info("Label cleared", zap.String("item_id", itemID), zap.String("student", student))
	return item, nil
}

// SetAssignment replaces the item's assignment set and resets its verdict
// to pending until the next label event.
func (a *Annotator) SetAssignment(ctx context.Context, itemID string, students []string) (*models.Item, error) {
	defer a.lockItem(itemID)()

	item, err := a.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	item.AssignedTo = students
	item.Normalize()
	item.ResetFinalLabel()

	if err := a.save(ctx, item); err != nil {
		return nil, err
	}

	a.logger.Info("Assignment changed", zap.String("item_id", itemID), zap.Strings("students", item.AssignedTo))
	return item, nil
}

// SetFinalLabelOverride records an admin decision that automatic
// recomputation keeps until the assignment changes or a label is cleared.
// An empty label withdraws the override and recomputes the verdict.
func (a *Annotator) SetFinalLabelOverride(ctx context.Context, itemID, label string) (*models.Item, error) {
	var l models.Label
	if label != "" {
		var ok bool
		l, ok = models.ParseLabel(label)
		if !ok || l == models.SkipUnsure {
			return nil, fmt.Errorf("%w: %q cannot be a final label", ErrInvalidLabel, label)
		}
	}

	defer a.lockItem(itemID)()

	item, err := a.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if label == "" {
		item.ResetFinalLabel()
		consensus.Apply(item)
	} else {
		item.FinalLabel = models.VerdictOf(l)
		item.FinalLabelOverridden = true
	}

	if err := a.save(ctx, item); err != nil {
		return nil, err
	}

	a.logger.Info("Final label set",
		zap.String("item_id", itemID),
		zap.String("final_label", string(item.FinalLabel)),
		zap.Bool("overridden", item.FinalLabelOverridden))
	return item, nil
}

// DeleteItem removes an item. Deleting a missing item succeeds.
func (a *Annotator) DeleteItem(ctx context.Context, itemID string) error {
	defer a.lockItem(itemID)()

	err := a.store.DeleteItem(ctx, itemID)
	if errors.Is(err, repository.ErrNotFound) {
		a.logger.Debug("Delete of missing item ignored", zap.String("item_id", itemID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// DeleteAll removes every item.
func (a *Annotator) DeleteAll(ctx context.Context) error {
	a.bulk.Lock()
	defer a.bulk.Unlock()

	if err := a.store.DeleteAllItems(ctx); err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	a.logger.Info("All items deleted")
	return nil
}

// AutoAssign distributes every unassigned item across students and
// persists the result in one bulk write.
func (a *Annotator) AutoAssign(ctx context.Context, students []string, overlapPercentage int) (*assignment.Result, error) {
	a.bulk.Lock()
	defer a.bulk.Unlock()

	items, err := a.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	result, err := a.distributor.Distribute(items, students, overlapPercentage)
	if err != nil {
		return nil, err
	}
	if len(result.Updated) == 0 {
		return result, nil
	}

	if err := a.store.SaveItems(ctx, result.Updated); err != nil {
		return nil, fmt.Errorf("failed to save assignments: %w", err)
	}
	return result, nil
}

// lockItem serializes mutations of one item against each other and against
// bulk rewrites. The returned func releases both.
func (a *Annotator) lockItem(id string) func() {
	a.bulk.RLock()
	unlock := a.items.lock(id)
	return func() {
		unlock()
		a.bulk.RUnlock()
	}
}

func (a *Annotator) save(ctx context.Context, item *models.Item) error {
	if err := a.store.SaveItem(ctx, item); err != nil {
		a.logger.Error("Failed to save item", zap.String("item_id", item.ID), zap.Error(err))
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

// checkReasons trims and dedupes reasons and rejects tags outside the
// configured list.
func (a *Annotator) checkReasons(reasons []string) ([]string, error) {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		r = strings.TrimSpace(r)
		if r == "" || slices.Contains(out, r) {
			continue
		}
		if strings.Contains(r, models.ReasonSeparator) {
			return nil, fmt.Errorf("%w: %q contains %q", ErrInvalidReason, r, models.ReasonSeparator)
		}
		if len(a.reasons) > 0 && !slices.Contains(a.reasons, r) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidReason, r)
		}
		out = append(out, r)
	}
	return out, nil
}
