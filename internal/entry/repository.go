package entry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Source records where an entry came from.
type Source string

// Entry sources.
const (
	SourceUser Source = "user"
	SourceFile Source = "file"
)

// fileNamespace scopes deterministic IDs of entries seeded from the config file.
var fileNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:fing-bridge:config-entry"))

// Entry is a stored configuration entry.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Data      Config    `json:"data"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntryID returns a random entry ID.
func NewEntryID() string {
	return uuid.NewString()
}

// FileEntryID returns a stable ID for an entry defined in the config file,
// so restarts seed the same row instead of a new one.
func FileEntryID(host string, port int) string {
	return uuid.NewSHA1(fileNamespace, []byte(host+":"+strconv.Itoa(port))).String()
}

// Repository persists configuration entries.
type Repository interface {
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, id string) (*Entry, error)
	Create(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, id string) error

	// CreateIfNotExists inserts e unless its ID is taken and reports whether it inserted.
	CreateIfNotExists(ctx context.Context, e *Entry) (bool, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed entry repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const timeLayout = "2006-01-02T15:04:05Z"

// List returns all entries, oldest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	const query = `SELECT id, title, data, source, created_at, updated_at
		FROM config_entries ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

// Get returns one entry by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Entry, error) {
	const query = `SELECT id, title, data, source, created_at, updated_at
		FROM config_entries WHERE id = ?`
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	return e, err
}

// Create inserts a new entry. An empty ID or title is filled in.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	args, err := r.prepare(e)
	if err != nil {
		return err
	}
	const query = `INSERT INTO config_entries (id, title, data, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting entry %s: %w", e.ID, err)
	}
	return nil
}

// CreateIfNotExists inserts e unless an entry with the same ID exists.
func (r *SQLiteRepository) CreateIfNotExists(ctx context.Context, e *Entry) (bool, error) {
	args, err := r.prepare(e)
	if err != nil {
		return false, err
	}
	const query = `INSERT OR IGNORE INTO config_entries (id, title, data, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("inserting entry %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert of entry %s: %w", e.ID, err)
	}
	return n > 0, nil
}

// Delete removes an entry.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM config_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete of entry %s: %w", id, err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *SQLiteRepository) prepare(e *Entry) ([]any, error) {
	if e.ID == "" {
		e.ID = NewEntryID()
	}
	if e.Title == "" {
		e.Title = DefaultTitle
	}
	if e.Source == "" {
		e.Source = SourceUser
	}
	now := time.Now().UTC().Truncate(time.Second)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("encoding entry %s data: %w", e.ID, err)
	}
	return []any{
		e.ID, e.Title, string(data), string(e.Source),
		e.CreatedAt.Format(timeLayout), e.UpdatedAt.Format(timeLayout),
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                    Entry
		data, source         string
		createdAt, updatedAt string
	)
	if err := row.Scan(&e.ID, &e.Title, &data, &source, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning entry: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
		return nil, fmt.Errorf("decoding entry %s data: %w", e.ID, err)
	}
	e.Source = Source(source)
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt) //nolint:errcheck // format is controlled
	e.UpdatedAt, _ = time.Parse(timeLayout, updatedAt) //nolint:errcheck // format is controlled
	return &e, nil
}
