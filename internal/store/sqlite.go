package store

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

	_ "modernc.org/sqlite"

	"opsagent/internal/resolution"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no account matches a lookup.
var ErrNotFound = errors.New("account not found")

// User is one shop owner's account.
type User struct {
	Email        string
	PhoneNumber  string
	CredsJSON    string
	SheetID      string
	PasswordHash string
}

// Store is the SQLite account database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs pending migrations.
// Pass ":memory:" for an in-memory database (used by tests).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection avoids "database is locked" between the server, the
	// monitor and the dashboard when they share a process.
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

// migrate applies embedded SQL migrations that have not been run yet.
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

// AppliedMigrations returns the applied migration versions in ascending order.
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

// --- Users ---

const userColumns = `email, COALESCE(phone_number, ''), COALESCE(creds_json, ''), COALESCE(sheet_id, ''), COALESCE(password_hash, '')`

// SaveUser creates the account or replaces its stored credentials.
func (s *Store) SaveUser(ctx context.Context, email, credsJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, creds_json) VALUES (?, ?)
		ON CONFLICT(email) DO UPDATE SET creds_json = excluded.creds_json`,
		email, credsJSON,
	)
	if err != nil {
		return fmt.Errorf("saving user %s: %w", email, err)
	}
	return nil
}

// SaveSheetID records the spreadsheet that belongs to the account.
func (s *Store) SaveSheetID(ctx context.Context, email, sheetID string) error {
	return s.updateColumn(ctx, "sheet_id", email, sheetID)
}

// LinkPhone binds a WhatsApp number to the account. The number is stored
// normalized so lookups match regardless of formatting.
func (s *Store) LinkPhone(ctx context.Context, email, phone string) error {
	return s.updateColumn(ctx, "phone_number", email, resolution.NormalizePhone(phone))
}

// SetPasswordHash stores the bcrypt hash guarding the account's dashboard.
func (s *Store) SetPasswordHash(ctx context.Context, email, hash string) error {
	return s.updateColumn(ctx, "password_hash", email, hash)
}

func (s *Store) updateColumn(ctx context.Context, column, email, value string) error {
	// column is always one of the literals above.
	res, err := s.db.ExecContext(ctx, "UPDATE users SET "+column+" = ? WHERE email = ?", value, email)
	if err != nil {
		return fmt.Errorf("updating %s for %s: %w", column, email, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	return nil
}

// GetUserByPhone finds the account linked to phone, stored with or without
// the leading "+".
func (s *Store) GetUserByPhone(ctx context.Context, phone string) (User, error) {
	variants := resolution.PhoneVariants(phone)
	if len(variants) == 0 {
		return User{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE phone_number = ? OR phone_number = ? LIMIT 1",
		variants[0], variants[1],
	)
	return scanUser(row)
}

// GetUserByEmail finds the account by its primary key.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
	return scanUser(row)
}

// ListUsers returns every account ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Email, &u.PhoneNumber, &u.CredsJSON, &u.SheetID, &u.PasswordHash); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.Email, &u.PhoneNumber, &u.CredsJSON, &u.SheetID, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}
