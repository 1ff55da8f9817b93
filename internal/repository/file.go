package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"labeling-service/internal/models"

	"go.uber.org/zap"
)

// FileRepository keeps state in memory and rewrites a single JSON document
// after every mutation. The document layout is {"tweets": [...], "users": [...]}.
type FileRepository struct {
	path   string
	mem    *MemoryRepository
	mu     sync.Mutex // serializes mutate+flush
	logger *zap.Logger
}

type fileDocument struct {
	Tweets []*models.Item `json:"tweets"`
	Users  []fileUser     `json:"users"`
}

type fileUser struct {
	Username     string      `json:"username"`
	PasswordHash string      `json:"passwordHash"`
	Role         models.Role `json:"role"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// NewFileRepository opens path, loading any existing document.
func NewFileRepository(path string, logger *zap.Logger) (*FileRepository, error) {
	repo := &FileRepository{
		path:   path,
		mem:    NewMemoryRepository(),
		logger: logger,
	}

	if err := repo.load(); err != nil {
		return nil, err
	}

	logger.Info("File repository initialized", zap.String("path", path))
	return repo, nil
}

func (r *FileRepository) load() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode data file: %w", err)
	}

	ctx := context.Background()
	if _, err := r.mem.AddItems(ctx, doc.Tweets); err != nil {
		return err
	}
	for _, u := range doc.Users {
		user := &models.User{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Role:         u.Role,
			CreatedAt:    u.CreatedAt,
		}
		if err := r.mem.CreateUser(ctx, user); err != nil {
			r.logger.Warn("Skipping duplicate user in data file", zap.String("username", u.Username))
		}
	}
	return nil
}

// flush writes the current state to a temp file and renames it into place.
// Caller holds r.mu.
func (r *FileRepository) flush(ctx context.Context) error {
	items, err := r.mem.ListItems(ctx)
	if err != nil {
		return err
	}
	users, err := r.mem.ListUsers(ctx)
	if err != nil {
		return err
	}

	doc := fileDocument{Tweets: items, Users: make([]fileUser, 0, len(users))}
	for _, u := range users {
		doc.Users = append(doc.Users, fileUser{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Role:         u.Role,
			CreatedAt:    u.CreatedAt,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode data file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".labels-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace data file: %w", err)
	}
	return nil
}

// mutate applies fn and persists the result. When either step fails the
// in-memory state is rolled back to match the file.
func (r *FileRepository) mutate(ctx context.Context, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.mem.snapshot()
	if err := fn(); err != nil {
		r.mem.restore(before)
		return err
	}
	if err := r.flush(ctx); err != nil {
		r.mem.restore(before)
		r.logger.Error("Failed to save data file", zap.String("path", r.path), zap.Error(err))
		return err
	}
	return nil
}

func (r *FileRepository) ListItems(ctx context.Context) ([]*models.Item, error) {
	return r.mem.ListItems(ctx)
}

func (r *FileRepository) GetItem(ctx context.Context, id string) (*models.Item, error) {
	return r.mem.GetItem(ctx, id)
}

func (r *FileRepository) SaveItem(ctx context.Context, item *models.Item) error {
	return r.mutate(ctx, func() error { return r.mem.SaveItem(ctx, item) })
}

func (r *FileRepository) SaveItems(ctx context.Context, items []*models.Item) error {
	return r.mutate(ctx, func() error { return r.mem.SaveItems(ctx, items) })
}

func (r *FileRepository) AddItems(ctx context.Context, items []*models.Item) (int, error) {
	var added int
	err := r.mutate(ctx, func() error {
		var err error
		added, err = r.mem.AddItems(ctx, items)
		return err
	})
	return added, err
}

func (r *FileRepository) DeleteItem(ctx context.Context, id string) error {
	return r.mutate(ctx, func() error { return r.mem.DeleteItem(ctx, id) })
}

func (r *FileRepository) DeleteAllItems(ctx context.Context) error {
	return r.mutate(ctx, func() error { return r.mem.DeleteAllItems(ctx) })
}

func (r *FileRepository) CreateUser(ctx context.Context, user *models.User) error {
	return r.mutate(ctx, func() error { return r.mem.CreateUser(ctx, user) })
}

func (r *FileRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.mem.GetUserByUsername(ctx, username)
}

func (r *FileRepository) ListUsers(ctx context.Context) ([]*models.User, error) {
	return r.mem.ListUsers(ctx)
}

func (r *FileRepository) Close() error {
	return nil
}
