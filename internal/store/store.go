// Package store provides the durable memory store backed by a JSON document.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/agent-desk/internal/model"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates no entry carries the requested id.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidEntry indicates an entry failed validation (empty description, unknown type).
	ErrInvalidEntry = errors.New("invalid memory entry")
)

// AddParams holds the caller-supplied fields of a new memory.
// ID and Timestamp are assigned by the store.
type AddParams struct {
	Type           model.MemoryType
	Category       string
	Description    string
	Details        map[string]any
	Tags           []string
	RelatedQueries []string
}

// UpdateParams holds a partial update. Nil fields are left untouched.
type UpdateParams struct {
	Type           *model.MemoryType
	Category       *string
	Description    *string
	Details        map[string]any
	Tags           []string
	RelatedQueries []string
	Timestamp      *time.Time
}

// Store defines the memory storage interface.
type Store interface {
	// Add assigns id and timestamp, appends and persists the entry.
	Add(ctx context.Context, p AddParams) (*model.MemoryEntry, error)

	// All returns entries in storage order. A missing or corrupt backing
	// document yields an empty slice.
	All(ctx context.Context) ([]model.MemoryEntry, error)

	// Update shallow-merges p into the entry with the given id.
	Update(ctx context.Context, id string, p UpdateParams) (*model.MemoryEntry, error)

	// Delete removes the entry with the given id.
	Delete(ctx context.Context, id string) error
}
