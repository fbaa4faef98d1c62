// Package store persists ProjectRecords in a relational store.
//
// The store is the single arbiter of the engine's uniqueness invariants:
// (owner, slug) is unique, and no two remote-enabled records may claim
// the same remote repository name for an owner. Violations surface as
// ErrConflict, absent rows as ErrNotFound.
package store

import (
	"context"
	"errors"
	"time"
)

// Visibility is a project's visibility on the remote host.
type Visibility string

const (
	// VisibilityPublic marks a project readable by anyone.
	VisibilityPublic Visibility = "public"

	// VisibilityPrivate marks a project readable by its owner only.
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility value.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("project record not found")

	// ErrConflict indicates a uniqueness invariant would be violated.
	ErrConflict = errors.New("project record conflict")

	// ErrInvalidRecord indicates a record fails its own invariants
	// before ever reaching the database.
	ErrInvalidRecord = errors.New("invalid project record")
)

// ProjectRecord is the relational side of a synchronized project.
type ProjectRecord struct {
	// ID is the record's unique identifier (UUID).
	ID string

	// OwnerID is the owning account, matching the remote host owner name.
	OwnerID string

	// Slug is the repository name, unique per owner.
	Slug string

	// Visibility is the desired visibility, pushed to the remote host.
	Visibility Visibility

	// Description is the project description.
	Description string

	// RemoteRepoID is the host-assigned repository ID. Zero until the
	// record has claimed a remote repository.
	RemoteRepoID int64

	// RemoteRepoName is the repository name on the remote host.
	RemoteRepoName string

	// RemoteEnabled reports whether this record has successfully claimed
	// exactly one remote repository. When true, RemoteRepoID is non-zero.
	RemoteEnabled bool

	// CloneURL is the remote clone URL, recorded on claim.
	CloneURL string

	// LocalClonePath is the working-copy directory, empty until cloned.
	LocalClonePath string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the record's own invariants.
func (r *ProjectRecord) Validate() error {
	if r.OwnerID == "" {
		return errors.Join(ErrInvalidRecord, errors.New("owner is required"))
	}
	if r.Slug == "" {
		return errors.Join(ErrInvalidRecord, errors.New("slug is required"))
	}
	if !r.Visibility.Valid() {
		return errors.Join(ErrInvalidRecord, errors.New("visibility must be public or private"))
	}
	if r.RemoteEnabled && r.RemoteRepoID == 0 {
		return errors.Join(ErrInvalidRecord, errors.New("remote-enabled record must carry a remote repository id"))
	}
	if r.RemoteEnabled && r.RemoteRepoName == "" {
		return errors.Join(ErrInvalidRecord, errors.New("remote-enabled record must carry a remote repository name"))
	}
	return nil
}

// Store provides CRUD operations for ProjectRecords.
type Store interface {
	// Create inserts a new record, assigning ID and timestamps.
	// Returns ErrConflict if (owner, slug) is already taken.
	Create(ctx context.Context, rec *ProjectRecord) error

	// Get retrieves a record by owner and slug.
	Get(ctx context.Context, owner, slug string) (*ProjectRecord, error)

	// ListByOwner returns all records for an owner, ordered by slug.
	ListByOwner(ctx context.Context, owner string) ([]*ProjectRecord, error)

	// ListOwners returns every distinct owner with at least one record.
	ListOwners(ctx context.Context) ([]string, error)

	// Update persists record mutations. Returns ErrNotFound if the
	// record does not exist, ErrConflict on a uniqueness violation.
	Update(ctx context.Context, rec *ProjectRecord) error

	// Delete removes a record. Returns ErrNotFound if absent.
	Delete(ctx context.Context, owner, slug string) error

	// Close releases the underlying database.
	Close() error
}
