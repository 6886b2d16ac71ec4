package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rcliao/agent-desk/internal/model"
)

// ExportTo writes the full store document to path.
func (s *FileStore) ExportTo(ctx context.Context, path string) (int, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	doc := model.MemoryDocument{
		Entries:     snap.Entries,
		LastUpdated: now(),
		Version:     model.SchemaVersion,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode export: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	return len(doc.Entries), nil
}

// ImportFrom appends the entries of an exported document at path. Entries
// whose id already exists are skipped; entries without id or timestamp get
// fresh ones. Returns the number of entries appended.
func (s *FileStore) ImportFrom(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read import: %w", err)
	}
	entries, err := DecodeEntries(data)
	if err != nil {
		return 0, fmt.Errorf("parse import: %w", err)
	}
	return s.Import(ctx, entries)
}

// Import appends entries, keeping ids unique.
func (s *FileStore) Import(ctx context.Context, entries []model.MemoryEntry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	seen := make(map[string]bool, len(doc.Entries))
	for _, e := range doc.Entries {
		seen[e.ID] = true
	}

	imported := 0
	for _, e := range entries {
		if e.ID != "" && seen[e.ID] {
			continue
		}
		normalize(&e)
		if err := validate(e); err != nil {
			s.logger.Warn("skip invalid imported memory", "entry_id", e.ID, "error", err)
			continue
		}
		if e.ID == "" {
			e.ID = s.newID()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now()
		}
		seen[e.ID] = true
		doc.Entries = append(doc.Entries, e)
		imported++
	}
	if imported == 0 {
		return 0, nil
	}
	if err := s.save(doc); err != nil {
		return 0, fmt.Errorf("import memories: %w", err)
	}
	return imported, nil
}

// DecodeEntries accepts either a full store document or a bare entry array.
func DecodeEntries(data []byte) ([]model.MemoryEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []model.MemoryEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}
	var doc model.MemoryDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	return doc.Entries, nil
}
