package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/agent-desk/internal/model"
)

// ListParams filters entries. Empty fields match everything.
type ListParams struct {
	Type     model.MemoryType
	Category string
	Tag      string
	Limit    int // 0 means no limit
}

// Get returns the entry with the given id.
func (s *FileStore) Get(ctx context.Context, id string) (*model.MemoryEntry, error) {
	entries, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	if i := indexOf(entries, id); i >= 0 {
		return &entries[i], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ByCategory returns entries whose category equals category (case-insensitive).
func (s *FileStore) ByCategory(ctx context.Context, category string) ([]model.MemoryEntry, error) {
	return s.List(ctx, ListParams{Category: category})
}

// ByTag returns entries carrying tag.
func (s *FileStore) ByTag(ctx context.Context, tag string) ([]model.MemoryEntry, error) {
	return s.List(ctx, ListParams{Tag: tag})
}

// ByType returns entries of the given type.
func (s *FileStore) ByType(ctx context.Context, t model.MemoryType) ([]model.MemoryEntry, error) {
	return s.List(ctx, ListParams{Type: t})
}

// List returns entries matching every non-empty filter, in storage order.
func (s *FileStore) List(ctx context.Context, p ListParams) ([]model.MemoryEntry, error) {
	entries, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	out := []model.MemoryEntry{}
	for _, e := range entries {
		if p.Type != "" && e.Type != p.Type {
			continue
		}
		if p.Category != "" && !strings.EqualFold(e.Category, p.Category) {
			continue
		}
		if p.Tag != "" && !e.HasTag(p.Tag) {
			continue
		}
		out = append(out, e)
		if p.Limit > 0 && len(out) == p.Limit {
			break
		}
	}
	return out, nil
}
