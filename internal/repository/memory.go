package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"labeling-service/internal/models"
)

// MemoryRepository keeps everything in process memory, in insertion order.
type MemoryRepository struct {
	mu    sync.RWMutex
	order []string
	items map[string]*models.Item
	users map[string]*models.User
	names []string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items: make(map[string]*models.Item),
		users: make(map[string]*models.User),
	}
}

func (r *MemoryRepository) ListItems(ctx context.Context) ([]*models.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Item, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id].Clone())
	}
	return out, nil
}

func (r *MemoryRepository) GetItem(ctx context.Context, id string) (*models.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return item.Clone(), nil
}

func (r *MemoryRepository) SaveItem(ctx context.Context, item *models.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.put(item)
	return nil
}

func (r *MemoryRepository) SaveItems(ctx context.Context, items []*models.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		r.put(item)
	}
	return nil
}

func (r *MemoryRepository) AddItems(ctx context.Context, items []*models.Item) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, item := range items {
		if _, exists := r.items[item.ID]; exists {
			continue
		}
		r.put(item)
		added++
	}
	return added, nil
}

func (r *MemoryRepository) DeleteItem(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	delete(r.items, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryRepository) DeleteAllItems(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = make(map[string]*models.Item)
	r.order = nil
	return nil
}

func (r *MemoryRepository) CreateUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[user.Username]; exists {
		return fmt.Errorf("user %s: %w", user.Username, ErrUserExists)
	}
	u := *user
	r.users[user.Username] = &u
	r.names = append(r.names, user.Username)
	return nil
}

func (r *MemoryRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	u := *user
	return &u, nil
}

func (r *MemoryRepository) ListUsers(ctx context.Context) ([]*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.User, 0, len(r.names))
	for _, name := range r.names {
		u := *r.users[name]
		out = append(out, &u)
	}
	return out, nil
}

func (r *MemoryRepository) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// put stores a copy of item; caller holds the write lock.
func (r *MemoryRepository) put(item *models.Item) {
	c := item.Clone()
	c.Normalize()
	if _, exists := r.items[c.ID]; !exists {
		r.order = append(r.order, c.ID)
	}
	r.items[c.ID] = c
}

// memorySnapshot is a point-in-time copy of a MemoryRepository. Stored
// records are replaced on write and never modified in place, so sharing
// the pointers is safe.
type memorySnapshot struct {
	order []string
	items map[string]*models.Item
	users map[string]*models.User
	names []string
}

func (r *MemoryRepository) snapshot() memorySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return memorySnapshot{
		order: slices.Clone(r.order),
		items: maps.Clone(r.items),
		users: maps.Clone(r.users),
		names: slices.Clone(r.names),
	}
}

func (r *MemoryRepository) restore(s memorySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = s.order
	r.items = s.items
	r.users = s.users
	r.names = s.names
}
