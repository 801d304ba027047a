// Package favorites persists named favorite prompt sets ("vibes") in an
// embedded SQLite database, so a good blend can be recalled by name later.
package favorites

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/vibecast/pkg/musicgen"
)

// ErrNotFound is returned when no favorite with the requested name exists.
var ErrNotFound = errors.New("favorites: not found")

// Favorite is a named prompt set with bookkeeping timestamps.
type Favorite struct {
	Name      string
	Prompts   []musicgen.WeightedPrompt
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists favorites in a single SQLite file. Safe for concurrent use;
// database/sql serialises access and the schema is created on open.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the favorites database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("favorites: create dir %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("favorites: open %q: %w", path, err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("favorites: configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS favorites (
			name       TEXT PRIMARY KEY,
			prompts    TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("favorites: create table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database is reachable. Used by readiness checks.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Save stores prompts under name, replacing any existing favorite with the
// same name.
func (s *Store) Save(name string, prompts []musicgen.WeightedPrompt) error {
	if name == "" {
		return errors.New("favorites: name is required")
	}
	data, err := json.Marshal(prompts)
	if err != nil {
		return fmt.Errorf("favorites: encode prompts: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO favorites (name, prompts) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET prompts = excluded.prompts, updated_at = CURRENT_TIMESTAMP
	`, name, string(data))
	if err != nil {
		return fmt.Errorf("favorites: save %q: %w", name, err)
	}
	return nil
}

// Get returns the favorite stored under name, or [ErrNotFound].
func (s *Store) Get(name string) (*Favorite, error) {
	row := s.db.QueryRow(`
		SELECT name, prompts, created_at, updated_at FROM favorites WHERE name = ?
	`, name)
	fav, err := scanFavorite(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("favorites: get %q: %w", name, err)
	}
	return fav, nil
}

// List returns all favorites ordered by name.
func (s *Store) List() ([]Favorite, error) {
	rows, err := s.db.Query(`
		SELECT name, prompts, created_at, updated_at FROM favorites ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("favorites: list: %w", err)
	}
	defer rows.Close()

	var favs []Favorite
	for rows.Next() {
		fav, err := scanFavorite(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("favorites: list: %w", err)
		}
		favs = append(favs, *fav)
	}
	return favs, rows.Err()
}

// Delete removes the favorite stored under name. Returns [ErrNotFound] when
// no such favorite exists.
func (s *Store) Delete(name string) error {
	res, err := s.db.Exec(`DELETE FROM favorites WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("favorites: delete %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("favorites: delete %q: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFavorite(scan func(dest ...any) error) (*Favorite, error) {
	var fav Favorite
	var raw string
	if err := scan(&fav.Name, &raw, &fav.CreatedAt, &fav.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &fav.Prompts); err != nil {
		return nil, fmt.Errorf("decode prompts: %w", err)
	}
	return &fav, nil
}
