// Package repository persists items and users.
package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"labeling-service/internal/models"

	"go.uber.org/zap"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrUserExists = errors.New("user already exists")
)

// Store is the persistence contract shared by every backend. Items handed to
// and returned from a Store are never shared with its internal state.
type Store interface {
	ListItems(ctx context.Context) ([]*models.Item, error)
	GetItem(ctx context.Context, id string) (*models.Item, error)
	SaveItem(ctx context.Context, item *models.Item) error
	// SaveItems upserts all items in one write.
	SaveItems(ctx context.Context, items []*models.Item) error
	// AddItems inserts items whose id is not yet stored and returns how many were added.
	AddItems(ctx context.Context, items []*models.Item) (int, error)
	DeleteItem(ctx context.Context, id string) error
	DeleteAllItems(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)

	Close() error
}

// Config selects and locates a backend.
type Config struct {
	Type string // "sqlite", "postgres", "file" or "memory"
	Path string // SQLite path, PostgreSQL URL or JSON file path
}

// Open creates the backend described by cfg.
func Open(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Type {
	case "memory":
		logger.Info("Using in-memory storage")
		return NewMemoryRepository(), nil
	case "file":
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return NewFileRepository(cfg.Path, logger)
	case "sqlite":
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return NewSQLRepository(DriverSQLite, cfg.Path, logger)
	case "postgres":
		return NewSQLRepository(DriverPostgres, cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Type)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}
