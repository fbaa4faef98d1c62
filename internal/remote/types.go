package remote

import "context"

// Repository describes a repository on the remote host. It is fetched
// live and never persisted.
type Repository struct {
	// ID is the host-assigned numeric identifier.
	ID int64

	// Name is the repository name, unique per owner on the host.
	Name string

	// Owner is the owning account name on the host.
	Owner string

	// Description is the repository description.
	Description string

	// Private reports whether the repository is private.
	Private bool

	// CloneURL is the HTTP(S) clone URL.
	CloneURL string

	// HTMLURL is the browsable web URL.
	HTMLURL string

	// DefaultBranch is the repository's default branch.
	DefaultBranch string
}

// CreateOptions configures repository creation on the remote host.
type CreateOptions struct {
	Name        string
	Description string
	Private     bool

	// AutoInit initializes the repository with an initial commit on
	// DefaultBranch so it is immediately cloneable.
	AutoInit      bool
	DefaultBranch string
}

// Client is the remote Git-hosting API surface consumed by the
// synchronization engine. One implementation exists per remote API
// version; the engine receives it via dependency injection.
type Client interface {
	// Ping checks that the remote host is reachable.
	Ping(ctx context.Context) error

	// GetRepository fetches a single repository. Returns a NotFound
	// APIError if no repository with that name exists under owner.
	GetRepository(ctx context.Context, owner, name string) (*Repository, error)

	// CreateRepository creates a repository under owner. Returns a
	// Conflict APIError if the name is already claimed on the host.
	CreateRepository(ctx context.Context, owner string, opts CreateOptions) (*Repository, error)

	// DeleteRepository deletes a repository. Returns a NotFound APIError
	// if it does not exist; callers on deletion paths treat that as
	// already satisfied.
	DeleteRepository(ctx context.Context, owner, name string) error

	// ListRepositories returns all repositories under owner, merging
	// pages as needed.
	ListRepositories(ctx context.Context, owner string) ([]*Repository, error)

	// UpdateVisibility flips a repository between private and public.
	UpdateVisibility(ctx context.Context, owner, name string, private bool) error

	// EnsureUser makes sure the owner account exists on the host,
	// provisioning it if absent. Idempotent.
	EnsureUser(ctx context.Context, owner string) error
}
