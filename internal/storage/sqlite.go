package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite database holding the completed-download set and
// the resolution history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "clippyb.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: the in-memory database is per-connection and the
	// file database would otherwise report "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded migrations that are not yet recorded in
// schema_version, in filename order.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Completed set ---

func (s *Store) HasCompleted(ctx context.Context, sourceURL string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM completed WHERE source_url = ?", sourceURL).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking completed %s: %w", sourceURL, err)
	}
	return n > 0, nil
}

// MarkCompleted records r, replacing any earlier record for the same URL.
func (s *Store) MarkCompleted(ctx context.Context, r CompletedRecord) error {
	if r.SourceURL == "" {
		return errors.New("mark completed: source url is required")
	}
	if r.CompletedAt.IsZero() {
		r.CompletedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO completed (source_url, item_id, query, artist, title, file_path, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_url) DO UPDATE SET
			item_id = excluded.item_id, query = excluded.query, artist = excluded.artist,
			title = excluded.title, file_path = excluded.file_path, completed_at = excluded.completed_at`,
		r.SourceURL, r.ItemID, r.Query, r.Artist, r.Title, r.FilePath,
		r.CompletedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("marking completed %s: %w", r.SourceURL, err)
	}
	return nil
}

func (s *Store) GetCompleted(ctx context.Context, sourceURL string) (CompletedRecord, error) {
	var r CompletedRecord
	var completedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT source_url, item_id, query, artist, title, file_path, completed_at
		FROM completed WHERE source_url = ?`, sourceURL,
	).Scan(&r.SourceURL, &r.ItemID, &r.Query, &r.Artist, &r.Title, &r.FilePath, &completedAt)
	if err == sql.ErrNoRows {
		return CompletedRecord{}, ErrNotFound
	}
	if err != nil {
		return CompletedRecord{}, err
	}
	t, err := time.Parse(time.RFC3339, completedAt)
	if err != nil {
		return CompletedRecord{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	r.CompletedAt = t
	return r, nil
}

func (s *Store) RecentCompleted(ctx context.Context, limit int) ([]CompletedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_url, item_id, query, artist, title, file_path, completed_at
		FROM completed ORDER BY completed_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CompletedRecord
	for rows.Next() {
		var r CompletedRecord
		var completedAt string
		if err := rows.Scan(&r.SourceURL, &r.ItemID, &r.Query, &r.Artist, &r.Title, &r.FilePath, &completedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, completedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		r.CompletedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Resolutions ---

func (s *Store) SaveResolution(ctx context.Context, r Resolution) error {
	if r.SessionJSON == "" {
		r.SessionJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resolutions (id, query, outcome, rounds, selected_url, confidence, duration_ms, session_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Query, r.Outcome, r.Rounds, r.SelectedURL, r.Confidence, r.DurationMs, r.SessionJSON,
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving resolution %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetResolution(ctx context.Context, id string) (Resolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, outcome, rounds, selected_url, confidence, duration_ms, session_json, created_at
		FROM resolutions WHERE id = ?`, id)
	if err != nil {
		return Resolution{}, err
	}
	res, err := scanResolutions(rows)
	if err != nil {
		return Resolution{}, err
	}
	if len(res) == 0 {
		return Resolution{}, ErrNotFound
	}
	return res[0], nil
}

func (s *Store) RecentResolutions(ctx context.Context, limit int) ([]Resolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, outcome, rounds, selected_url, confidence, duration_ms, session_json, created_at
		FROM resolutions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanResolutions(rows)
}

func scanResolutions(rows *sql.Rows) ([]Resolution, error) {
	defer rows.Close()
	var results []Resolution
	for rows.Next() {
		var r Resolution
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Query, &r.Outcome, &r.Rounds, &r.SelectedURL, &r.Confidence, &r.DurationMs, &r.SessionJSON, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

