package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/entrance/internal/infrastructure/database"
	"github.com/nerrad567/entrance/migrations"
)

// Store keeps one JSON document per (userid, channel) in SQLite.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Store struct {
	db *database.DB
}

// OpenStore opens (creating if needed) the database at cfg.Path and
// applies pending migrations.
func OpenStore(ctx context.Context, cfg database.Config) (*Store, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, err
	}
	return &Store{db: db}, nil
}

// Save overwrites the document for (userid, channel).
func (s *Store) Save(ctx context.Context, userid, channel string, data any) error {
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("persist: encoding %s/%s: %w", userid, channel, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO persist_values (userid, channel, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (userid, channel) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		userid, channel, string(doc), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("persist: saving %s/%s: %w", userid, channel, err)
	}
	return nil
}

// Load returns the decoded document for (userid, channel), or ErrNotFound.
func (s *Store) Load(ctx context.Context, userid, channel string) (any, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM persist_values WHERE userid = ? AND channel = ?`,
		userid, channel).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persist: loading %s/%s: %w", userid, channel, err)
	}

	var data any
	if err := json.Unmarshal([]byte(doc), &data); err != nil {
		return nil, fmt.Errorf("persist: %s/%s holds invalid json: %w", userid, channel, err)
	}
	return data, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
