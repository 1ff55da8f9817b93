package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"labeling-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryRepository()
		},
		"file": func(t *testing.T) Store {
			repo, err := NewFileRepository(filepath.Join(t.TempDir(), "data.json"), zap.NewNop())
			require.NoError(t, err)
			return repo
		},
		"sqlite": func(t *testing.T) Store {
			repo, err := NewSQLRepository(DriverSQLite, filepath.Join(t.TempDir(), "labels.db"), zap.NewNop())
			require.NoError(t, err)
			return repo
		},
	}
}

func sampleItem(id string, offset time.Duration) *models.Item {
	item := models.NewItem(id, "text of "+id, epoch.Add(offset))
	item.AssignedTo = []string{"s1", "s2"}
	item.Annotations["s1"] = models.CategoryA
	item.AnnotationFeatures["s1"] = []string{"sarcasm", "slur"}
	item.AnnotationTimestamps["s1"] = epoch.Add(time.Minute)
	return item
}

func TestStore_Contract(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("save and get item", func(t *testing.T) {
				store := open(t)
				defer store.Close()

				item := sampleItem("a", 0)
				require.NoError(t, store.SaveItem(ctx, item))

				got, err := store.GetItem(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, item.Text, got.Text)
				assert.Equal(t, item.AssignedTo, got.AssignedTo)
				assert.Equal(t, item.Annotations, got.Annotations)
				assert.Equal(t, item.AnnotationFeatures, got.AnnotationFeatures)
				assert.True(t, item.AnnotationTimestamps["s1"].Equal(got.AnnotationTimestamps["s1"]))
				assert.True(t, item.CreatedAt.Equal(got.CreatedAt))
				assert.True(t, got.FinalLabel.IsPending())
			})

			t.Run("returned items are copies", func(t *testing.T) {
				store := open(t)
				defer store.Close()

				require.NoError(t, store.SaveItem(ctx, sampleItem("a", 0)))
				got, err := store.GetItem(ctx, "a")
				require.NoError(t, err)
				got.Annotations["s2"] = models.Neither

				again, err := store.GetItem(ctx, "a")
				require.NoError(t, err)
				assert.NotContains(t, again.Annotations, "s2")
			})

			t.Run("upsert replaces record", func(t *testing.T) {
				store := open(t)
				defer store.Close()

				item := sampleItem("a", 0)
				require.NoError(t, store.SaveItem(ctx, item))

				item.Annotations["s2"] = models.CategoryA
				item.FinalLabel = models.VerdictOf(models.CategoryA)
				item.FinalLabelOverridden = true
				require.NoError(t, store.SaveItem(ctx, item))

				got, err := store.GetItem(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, models.VerdictOf(models.CategoryA), got.FinalLabel)
				assert.True(t, got.FinalLabelOverridden)
				assert.Len(t, got.Annotations, 2)

				all, err := store.ListItems(ctx)
				require.NoError(t, err)
				assert.Len(t, all, 1)
			})

			t.Run("list keeps insertion order", func(t *testing.T) {
				store := open(t)
				defer store.Close()

				require.NoError(t, store.SaveItems(ctx, []*models.Item{
					sampleItem("c", 0), sampleItem("a", time.Second), sampleItem("b", 2*time.Second),
				}))

				all, err := store.ListItems(ctx)
				require.NoError(t, err)
				ids := make([]string, len(all))
				for i, item := range all {
					ids[i] = item.ID
				}
				assert.Equal(t, []string{"c", "a", "b"}, ids)
			})

			t.Run("add skips existing ids", func(t *testing.T) {
				store := open(t)
				defer store.Close()

				require.NoError(t, store.SaveItem(ctx, sampleItem("a", 0)))
				replacement := models.NewItem("a", "other", epoch)
				added, err := store.AddItems(ctx, []*models.Item{replacement, sampleItem("b", 0)})
				require.NoError(t, err)
				assert.Equal(t, 1, added)

				got, err := store.GetItem(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, "text of a", got.Text)
			})

			t.Run("delete", func(t *testing.T) {
				store := open(t)
				defer store.Close()

				require.NoError(t, store.SaveItems(ctx, []*models.Item{sampleItem("a", 0), sampleItem("b", 0)}))
				require.NoError(t, store.DeleteItem(ctx, "a"))

				_, err := store.GetItem(ctx, "a")
				assert.ErrorIs(t, err, ErrNotFound)
				assert.ErrorIs(t, store.DeleteItem(ctx, "a"), ErrNotFound)

				_, err = store.GetItem(ctx, "b")
				assert.NoError(t, err)

				require.NoError(t, store.DeleteAllItems(ctx))
				all, err := store.ListItems(ctx)
				require.NoError(t, err)
				assert.Empty(t, all)
			})

			t.Run("users", func(t *testing.T) {
				store := open(t)
				defer store.Close()

				user := &models.User{Username: "alice", PasswordHash: "hash", Role: models.RoleAdmin, CreatedAt: epoch}
				require.NoError(t, store.CreateUser(ctx, user))
				assert.ErrorIs(t, store.CreateUser(ctx, user), ErrUserExists)

				got, err := store.GetUserByUsername(ctx, "alice")
				require.NoError(t, err)
				assert.Equal(t, "hash", got.PasswordHash)
				assert.Equal(t, models.RoleAdmin, got.Role)

				_, err = store.GetUserByUsername(ctx, "bob")
				assert.ErrorIs(t, err, ErrNotFound)

				users, err := store.ListUsers(ctx)
				require.NoError(t, err)
				assert.Len(t, users, 1)
			})
		})
	}
}

func TestFileRepository_ReloadsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.json")

	repo, err := NewFileRepository(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, repo.SaveItem(ctx, sampleItem("a", 0)))
	require.NoError(t, repo.CreateUser(ctx, &models.User{Username: "s1", PasswordHash: "h", Role: models.RoleStudent}))

	reopened, err := NewFileRepository(path, zap.NewNop())
	require.NoError(t, err)

	item, err := reopened.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"sarcasm", "slur"}, item.AnnotationFeatures["s1"])

	user, err := reopened.GetUserByUsername(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "h", user.PasswordHash)
}

func TestFileRepository_FailedFlushRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "store")
	require.NoError(t, os.Mkdir(dir, 0o755))

	repo, err := NewFileRepository(filepath.Join(dir, "data.json"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, repo.SaveItem(ctx, sampleItem("a", 0)))

	// Writes can no longer reach the disk.
	require.NoError(t, os.RemoveAll(dir))

	assert.Error(t, repo.SaveItem(ctx, sampleItem("b", time.Second)))
	_, err = repo.GetItem(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, repo.DeleteItem(ctx, "a"))
	_, err = repo.GetItem(ctx, "a")
	assert.NoError(t, err)

	assert.Error(t, repo.CreateUser(ctx, &models.User{Username: "s1", PasswordHash: "h"}))
	_, err = repo.GetUserByUsername(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLRepository_ReopenSkipsMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "labels.db")

	repo, err := NewSQLRepository(DriverSQLite, path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, repo.SaveItem(ctx, sampleItem("a", 0)))
	require.NoError(t, repo.Close())

	reopened, err := NewSQLRepository(DriverSQLite, path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.GetItem(ctx, "a")
	assert.NoError(t, err)
}

func TestOpen_UnknownType(t *testing.T) {
	_, err := Open(Config{Type: "mongo"}, zap.NewNop())
	assert.Error(t, err)
}
