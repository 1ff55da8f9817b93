package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"labeling-service/internal/models"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

// Driver names a database/sql driver supported by SQLRepository.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// SQLRepository stores items and users in SQLite or PostgreSQL. Map-valued
// item fields are kept as JSON text columns.
type SQLRepository struct {
	db     *sqlx.DB
	driver Driver
	logger *zap.Logger
}

type itemRow struct {
	ID                   string    `db:"id"`
	Text                 string    `db:"text"`
	AssignedTo           string    `db:"assigned_to"`
	Annotations          string    `db:"annotations"`
	AnnotationFeatures   string    `db:"annotation_features"`
	AnnotationTimestamps string    `db:"annotation_timestamps"`
	FinalLabel           string    `db:"final_label"`
	FinalLabelOverridden bool      `db:"final_label_overridden"`
	CreatedAt            time.Time `db:"created_at"`
}

const itemColumns = `id, text, assigned_to, annotations, annotation_features,
	annotation_timestamps, final_label, final_label_overridden, created_at`

// NewSQLRepository connects to dsn and applies pending migrations.
func NewSQLRepository(driver Driver, dsn string, logger *zap.Logger) (*SQLRepository, error) {
	db, err := sqlx.Connect(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	repo := &SQLRepository{
		db:     db,
		driver: driver,
		logger: logger,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("SQL repository initialized", zap.String("driver", string(driver)))
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	src, err := iofs.New(migrations, "migrations/"+string(r.driver))
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	var driver database.Driver
	switch r.driver {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(r.db.DB, &sqlite.Config{})
	case DriverPostgres:
		driver, err = postgres.WithInstance(r.db.DB, &postgres.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", r.driver)
	}
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, string(r.driver), driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	r.logger.Info("Database migration was run successfully")
	return nil
}

func (r *SQLRepository) ListItems(ctx context.Context) ([]*models.Item, error) {
	var rows []itemRow
	query := `SELECT ` + itemColumns + ` FROM items ORDER BY seq`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}

	items := make([]*models.Item, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toItem()
		if err != nil {
			r.logger.Error("Failed to decode item", zap.String("id", rows[i].ID), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *SQLRepository) GetItem(ctx context.Context, id string) (*models.Item, error) {
	var row itemRow
	query := r.db.Rebind(`SELECT ` + itemColumns + ` FROM items WHERE id = ?`)
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return row.toItem()
}

const upsertItem = `
	INSERT INTO items (` + itemColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		text = excluded.text,
		assigned_to = excluded.assigned_to,
		annotations = excluded.annotations,
		annotation_features = excluded.annotation_features,
		annotation_timestamps = excluded.annotation_timestamps,
		final_label = excluded.final_label,
		final_label_overridden = excluded.final_label_overridden`

const insertItem = `
	INSERT INTO items (` + itemColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING`

func (r *SQLRepository) SaveItem(ctx context.Context, item *models.Item) error {
	return r.SaveItems(ctx, []*models.Item{item})
}

func (r *SQLRepository) SaveItems(ctx context.Context, items []*models.Item) error {
	_, err := r.execItems(ctx, upsertItem, items)
	if err != nil {
		return fmt.Errorf("failed to save items: %w", err)
	}
	return nil
}

func (r *SQLRepository) AddItems(ctx context.Context, items []*models.Item) (int, error) {
	added, err := r.execItems(ctx, insertItem, items)
	if err != nil {
		return 0, fmt.Errorf("failed to add items: %w", err)
	}
	return added, nil
}

// execItems runs query once per item in a single transaction and returns
// the total number of affected rows.
func (r *SQLRepository) execItems(ctx context.Context, query string, items []*models.Item) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(query))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	affected := 0
	for _, item := range items {
		row, err := newItemRow(item)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx,
			row.ID,
			row.Text,
			row.AssignedTo,
			row.Annotations,
			row.AnnotationFeatures,
			row.AnnotationTimestamps,
			row.FinalLabel,
			row.FinalLabelOverridden,
			row.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("item %s: %w", item.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		affected += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

func (r *SQLRepository) DeleteItem(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM items WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQLRepository) DeleteAllItems(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	return nil
}

func (r *SQLRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := r.db.Rebind(`
		INSERT INTO users (username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username) DO NOTHING`)

	res, err := r.db.ExecContext(ctx, query, user.Username, user.PasswordHash, user.Role, user.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", user.Username, ErrUserExists)
	}
	return nil
}

func (r *SQLRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := r.db.Rebind(`SELECT username, password_hash, role, created_at FROM users WHERE username = ?`)
	err := r.db.GetContext(ctx, &user, query, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *SQLRepository) ListUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	query := `SELECT username, password_hash, role, created_at FROM users ORDER BY created_at, username`
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return users, nil
}

// Close closes the database connection
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func newItemRow(item *models.Item) (*itemRow, error) {
	c := item.Clone()
	c.Normalize()

	row := &itemRow{
		ID:                   c.ID,
		Text:                 c.Text,
		FinalLabel:           string(c.FinalLabel),
		FinalLabelOverridden: c.FinalLabelOverridden,
		CreatedAt:            c.CreatedAt.UTC(),
	}

	fields := []struct {
		dst *string
		src any
	}{
		{&row.AssignedTo, c.AssignedTo},
		{&row.Annotations, c.Annotations},
		{&row.AnnotationFeatures, c.AnnotationFeatures},
		{&row.AnnotationTimestamps, c.AnnotationTimestamps},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.src)
		if err != nil {
			return nil, fmt.Errorf("failed to encode item %s: %w", c.ID, err)
		}
		*f.dst = string(data)
	}
	return row, nil
}

func (row *itemRow) toItem() (*models.Item, error) {
	item := &models.Item{
		ID:                   row.ID,
		Text:                 row.Text,
		FinalLabel:           models.Verdict(row.FinalLabel),
		FinalLabelOverridden: row.FinalLabelOverridden,
		CreatedAt:            row.CreatedAt,
	}

	fields := []struct {
		src string
		dst any
	}{
		{row.AssignedTo, &item.AssignedTo},
		{row.Annotations, &item.Annotations},
		{row.AnnotationFeatures, &item.AnnotationFeatures},
		{row.AnnotationTimestamps, &item.AnnotationTimestamps},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode item %s: %w", row.ID, err)
		}
	}

	item.Normalize()
	return item, nil
}
