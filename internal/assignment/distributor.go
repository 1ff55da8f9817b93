// Package assignment splits unassigned items across a set of students with
// a configurable share of double-assigned items for reliability checks.
package assignment

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"labeling-service/internal/models"

	"go.uber.org/zap"
)

// ErrInvalidConfiguration is returned when a distribution request cannot be
// carried out as given. No item is modified in that case.
var ErrInvalidConfiguration = errors.New("invalid assignment configuration")

// Config controls item ordering before assignment.
type Config struct {
	// Shuffle randomizes item order so upload order does not cluster sources
	// onto one student.
	Shuffle bool

	// Seed fixes the shuffle; zero seeds from the clock.
	Seed int64
}

// Distributor assigns students to unassigned items round-robin.
type Distributor struct {
	shuffle bool
	mu      sync.Mutex
	rng     *rand.Rand
	logger  *zap.Logger
}

// Result describes one distribution run.
type Result struct {
	// Updated holds copies of the items that received an assignment.
	Updated  []*models.Item `json:"-"`
	Assigned int            `json:"assigned"`
	Single   int            `json:"single"`
	Overlap  int            `json:"overlap"`

	// PerStudent counts how many items each student received.
	PerStudent map[string]int `json:"per_student"`
}

// NewDistributor creates a distributor.
func NewDistributor(cfg Config, logger *zap.Logger) *Distributor {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Distributor{
		shuffle: cfg.Shuffle,
		rng:     rand.New(rand.NewSource(seed)),
		logger:  logger,
	}
}

// Distribute assigns one or two students to every item with an empty
// assignment. About overlapPercentage percent of those items receive two
// distinct students; the rest receive one. Items that already have an
// assignment are never touched. The input items are not modified.
func (d *Distributor) Distribute(items []*models.Item, students []string, overlapPercentage int) (*Result, error) {
	students = uniqueStudents(students)
	if len(students) == 0 {
		return nil, fmt.Errorf("%w: no students selected", ErrInvalidConfiguration)
	}
	if overlapPercentage < 0 || overlapPercentage > 100 {
		return nil, fmt.Errorf("%w: overlap percentage %d outside 0-100", ErrInvalidConfiguration, overlapPercentage)
	}

	targets := make([]*models.Item, 0, len(items))
	for _, item := range items {
		if item.IsUnassigned() {
			targets = append(targets, item.Clone())
		}
	}

	result := &Result{PerStudent: make(map[string]int, len(students))}
	if len(targets) == 0 {
		d.logger.Info("Nothing to assign", zap.Int("items", len(items)))
		return result, nil
	}

	if d.shuffle {
		d.mu.Lock()
		d.rng.Shuffle(len(targets), func(i, j int) {
			targets[i], targets[j] = targets[j], targets[i]
		})
		d.mu.Unlock()
	}

	overlapCount := int(math.Round(float64(len(targets)) * float64(overlapPercentage) / 100))
	singleCount := len(targets) - overlapCount
	k := len(students)
	cursor := 0

	next := func() string {
		s := students[cursor%k]
		cursor++
		return s
	}

	for idx, item := range targets {
		first := next()
		assigned := []string{first}
		if idx >= singleCount {
			if second := next(); second != first {
				assigned = append(assigned, second)
			}
		}

		item.AssignedTo = assigned
		item.ResetFinalLabel()

		for _, s := range assigned {
			result.PerStudent[s]++
		}
		if len(assigned) == 2 {
			result.Overlap++
		} else {
			result.Single++
		}
	}

	result.Updated = targets
	result.Assigned = len(targets)

	d.logger.Info("Items distributed",
		zap.Int("assigned", result.Assigned),
		zap.Int("single", result.Single),
		zap.Int("overlap", result.Overlap),
		zap.Int("students", k))

	return result, nil
}

func uniqueStudents(students []string) []string {
	out := make([]string, 0, len(students))
	seen := make(map[string]struct{}, len(students))
	for _, s := range students {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
