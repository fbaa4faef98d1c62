package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"
)

// sqliteConstraint is the primary SQLITE_CONSTRAINT result code; extended
// constraint codes (unique, primary key, check) share its low byte.
const sqliteConstraint = 19

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	slug             TEXT NOT NULL,
	visibility       TEXT NOT NULL CHECK (visibility IN ('public', 'private')),
	description      TEXT NOT NULL DEFAULT '',
	remote_repo_id   INTEGER,
	remote_repo_name TEXT NOT NULL DEFAULT '',
	remote_enabled   INTEGER NOT NULL DEFAULT 0,
	clone_url        TEXT NOT NULL DEFAULT '',
	local_clone_path TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	UNIQUE (owner_id, slug)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_remote_claim
	ON projects (owner_id, remote_repo_name)
	WHERE remote_enabled = 1;
`

// sqliteStore implements Store on an embedded SQLite database.
type sqliteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (and migrates) the SQLite database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &sqliteStore{db: db, logger: logger.Named("store")}, nil
}

func (s *sqliteStore) Create(ctx context.Context, rec *ProjectRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (
			id, owner_id, slug, visibility, description,
			remote_repo_id, remote_repo_name, remote_enabled,
			clone_url, local_clone_path, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.Slug, string(rec.Visibility), rec.Description,
		nullableID(rec.RemoteRepoID), rec.RemoteRepoName, boolToInt(rec.RemoteEnabled),
		rec.CloneURL, nullableString(rec.LocalClonePath),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("%w: project %s/%s", ErrConflict, rec.OwnerID, rec.Slug)
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, owner, slug string) (*ProjectRecord, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` WHERE owner_id = ? AND slug = ?`, owner, slug)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, owner, slug)
		}
		return nil, fmt.Errorf("query project: %w", err)
	}
	return rec, nil
}

func (s *sqliteStore) ListByOwner(ctx context.Context, owner string) ([]*ProjectRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE owner_id = ? ORDER BY slug`, owner)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var recs []*ProjectRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return recs, nil
}

func (s *sqliteStore) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT owner_id FROM projects ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}

func (s *sqliteStore) Update(ctx context.Context, rec *ProjectRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET
			visibility = ?, description = ?,
			remote_repo_id = ?, remote_repo_name = ?, remote_enabled = ?,
			clone_url = ?, local_clone_path = ?, updated_at = ?
		WHERE owner_id = ? AND slug = ?`,
		string(rec.Visibility), rec.Description,
		nullableID(rec.RemoteRepoID), rec.RemoteRepoName, boolToInt(rec.RemoteEnabled),
		rec.CloneURL, nullableString(rec.LocalClonePath),
		rec.UpdatedAt.Format(time.RFC3339Nano),
		rec.OwnerID, rec.Slug,
	)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("%w: project %s/%s", ErrConflict, rec.OwnerID, rec.Slug)
		}
		return fmt.Errorf("update project: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, rec.OwnerID, rec.Slug)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, owner, slug string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM projects WHERE owner_id = ? AND slug = ?`, owner, slug)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, owner, slug)
	}

	s.logger.Debug("deleted project record",
		zap.String("owner", owner),
		zap.String("slug", slug),
	)
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `
	SELECT id, owner_id, slug, visibility, description,
		remote_repo_id, remote_repo_name, remote_enabled,
		clone_url, local_clone_path, created_at, updated_at
	FROM projects`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*ProjectRecord, error) {
	var (
		rec        ProjectRecord
		visibility string
		repoID     sql.NullInt64
		clonePath  sql.NullString
		enabled    int
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.Slug, &visibility, &rec.Description,
		&repoID, &rec.RemoteRepoName, &enabled,
		&rec.CloneURL, &clonePath, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	rec.Visibility = Visibility(visibility)
	rec.RemoteRepoID = repoID.Int64
	rec.RemoteEnabled = enabled == 1
	rec.LocalClonePath = clonePath.String

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &rec, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isConstraintErr(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqliteConstraint
	}
	return false
}
