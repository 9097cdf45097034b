package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record with the requested id exists.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an update carries a stale version token.
	ErrConflict = errors.New("conflict")
)

// Identity is the authenticated caller, established by the transport layer.
// Create always takes userId/email from here, never from the payload.
type Identity struct {
	UserID string
	Email  string
}

// FolderRepository is the backend-agnostic contract for folder records.
// Every backend (sql, memory, redis) satisfies the same semantics: Get/Update/
// Delete fail with ErrNotFound for absent ids, List returns only the user's
// records in insertion order, Create assigns id and timestamps server-side.
type FolderRepository interface {
	Get(ctx context.Context, id string) (Folder, error)
	List(ctx context.Context, userID string, limit, offset int) ([]Folder, error)
	Create(ctx context.Context, dto FolderCreate, ident Identity) (Folder, error)
	Update(ctx context.Context, id string, dto FolderUpdate) (Folder, error)
	Delete(ctx context.Context, id string) error
}

// ThreadRepository is the contract for chat thread records. List additionally
// narrows by folderID when it is non-empty.
type ThreadRepository interface {
	Get(ctx context.Context, id string) (ChatThread, error)
	List(ctx context.Context, userID, folderID string, limit, offset int) ([]ChatThread, error)
	Create(ctx context.Context, dto ChatThreadCreate, ident Identity) (ChatThread, error)
	Update(ctx context.Context, id string, dto ChatThreadUpdate) (ChatThread, error)
	Delete(ctx context.Context, id string) error
}
