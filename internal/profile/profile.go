// Package profile provides the personal profile: a flat, durable key/value
// store of facts about the user.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/agent-desk/internal/model"
)

// Store persists the profile as a single JSON document. Every operation is a
// full read-modify-write of that document.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// Stats describes the profile contents.
type Stats struct {
	FieldCount int      `json:"fieldCount" yaml:"fieldCount"`
	FieldNames []string `json:"fieldNames" yaml:"fieldNames"`
}

// NewStore returns a profile store at path, creating its parent directory.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}, nil
}

// Path returns the backing document path.
func (s *Store) Path() string { return s.path }

func (s *Store) load() map[string]string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("read profile, starting empty", "path", s.path, "error", err)
		}
		return map[string]string{}
	}
	var doc model.ProfileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("parse profile, starting empty", "path", s.path, "error", err)
		return map[string]string{}
	}
	if doc.Data == nil {
		return map[string]string{}
	}
	return doc.Data
}

func (s *Store) save(data map[string]string) error {
	doc := model.ProfileDocument{
		Data:        data,
		LastUpdated: time.Now().UTC().Truncate(time.Millisecond),
		Version:     model.SchemaVersion,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return writeFileAtomic(s.path, b)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Get returns a copy of every fact.
func (s *Store) Get(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(), nil
}

// Update merges partial into the profile, overwriting existing keys, and
// returns the merged profile. Blank keys are ignored.
func (s *Store) Update(ctx context.Context, partial map[string]string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	changed := 0
	for k, v := range partial {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		data[k] = v
		changed++
	}
	if changed == 0 {
		return data, nil
	}
	if err := s.save(data); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	s.logger.Debug("profile updated", "fields", changed)
	return data, nil
}

// Field returns the value stored under key.
func (s *Store) Field(ctx context.Context, key string) (string, bool, error) {
	data, err := s.Get(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

// Clear removes every fact.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(map[string]string{}); err != nil {
		return fmt.Errorf("clear profile: %w", err)
	}
	return nil
}

// Stats returns the field count and sorted field names.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	data, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	names := slices.Sorted(maps.Keys(data))
	return &Stats{FieldCount: len(names), FieldNames: names}, nil
}

// ExportTo writes the profile document to path.
func (s *Store) ExportTo(ctx context.Context, path string) error {
	data, err := s.Get(ctx)
	if err != nil {
		return err
	}
	doc := model.ProfileDocument{
		Data:        data,
		LastUpdated: time.Now().UTC().Truncate(time.Millisecond),
		Version:     model.SchemaVersion,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile export: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	return writeFileAtomic(path, b)
}

// ImportFrom merges the facts of an exported profile into this one.
// Accepts a full profile document or, when there is no "data" key, a bare
// key/value object.
func (s *Store) ImportFrom(ctx context.Context, path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read profile import: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return 0, fmt.Errorf("parse profile import: %w", err)
	}
	var facts map[string]string
	src := b
	if data, ok := raw["data"]; ok {
		src = data
	}
	if err := json.Unmarshal(src, &facts); err != nil {
		return 0, fmt.Errorf("parse profile import: %w", err)
	}
	if len(facts) == 0 {
		return 0, nil
	}
	if _, err := s.Update(ctx, facts); err != nil {
		return 0, err
	}
	return len(facts), nil
}
