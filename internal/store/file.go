package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/agent-desk/internal/model"
)

// FileStore implements Store on a single JSON document. Every mutation is a
// full read-modify-write; the document is replaced atomically via rename.
type FileStore struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	entropy *rand.Rand
}

// NewFileStore opens (without reading) the memory document at path,
// creating its parent directory.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:    path,
		logger:  logger,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Path returns the backing document path.
func (s *FileStore) Path() string { return s.path }

// caller must hold s.mu for writing.
func (s *FileStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// load reads the document. Missing or unparseable files yield an empty document.
func (s *FileStore) load() model.MemoryDocument {
	doc := model.MemoryDocument{Version: model.SchemaVersion}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("read memory store, starting empty", "path", s.path, "error", err)
		}
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("parse memory store, starting empty", "path", s.path, "error", err)
		return model.MemoryDocument{Version: model.SchemaVersion}
	}
	if doc.Version == "" {
		doc.Version = model.SchemaVersion
	}
	return doc
}

func (s *FileStore) save(doc model.MemoryDocument) error {
	// Full precision: the ranker keys its index cache on this stamp.
	doc.LastUpdated = time.Now().UTC()
	doc.Version = model.SchemaVersion
	if doc.Entries == nil {
		doc.Entries = []model.MemoryEntry{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode memory store: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

// writeFileAtomic writes data to a temp file beside path and renames it into
// place, so readers see either the old or the new document.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func validate(e model.MemoryEntry) error {
	if strings.TrimSpace(e.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidEntry)
	}
	if !model.ValidTypes[e.Type] {
		return fmt.Errorf("%w: unknown type %q (valid: action, information, preference, context)", ErrInvalidEntry, e.Type)
	}
	return nil
}

// normalize fills defaults so the stored form matches what a reload produces.
func normalize(e *model.MemoryEntry) {
	if strings.TrimSpace(e.Category) == "" {
		e.Category = model.DefaultCategory
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if e.RelatedQueries == nil {
		e.RelatedQueries = []string{}
	}
}

func (s *FileStore) Add(ctx context.Context, p AddParams) (*model.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry := model.MemoryEntry{
		Type:           p.Type,
		Category:       p.Category,
		Description:    strings.TrimSpace(p.Description),
		Details:        p.Details,
		Tags:           p.Tags,
		RelatedQueries: p.RelatedQueries,
	}
	normalize(&entry)
	if err := validate(entry); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.newID()
	entry.Timestamp = now()

	doc := s.load()
	doc.Entries = append(doc.Entries, entry)
	if err := s.save(doc); err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}
	s.logger.Debug("memory added", "entry_id", entry.ID, "type", entry.Type)
	return &entry, nil
}

func (s *FileStore) All(ctx context.Context) ([]model.MemoryEntry, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Entries, nil
}

// Snapshot is a consistent read of the document.
type Snapshot struct {
	Entries     []model.MemoryEntry
	LastUpdated time.Time
}

// Snapshot returns the entries together with the document's lastUpdated stamp.
func (s *FileStore) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := s.load()
	entries := doc.Entries
	if entries == nil {
		entries = []model.MemoryEntry{}
	}
	return Snapshot{Entries: entries, LastUpdated: doc.LastUpdated}, nil
}

func (s *FileStore) Update(ctx context.Context, id string, p UpdateParams) (*model.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	idx := indexOf(doc.Entries, id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e := doc.Entries[idx]
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Description != nil {
		e.Description = strings.TrimSpace(*p.Description)
	}
	if p.Details != nil {
		e.Details = p.Details
	}
	if p.Tags != nil {
		e.Tags = p.Tags
	}
	if p.RelatedQueries != nil {
		e.RelatedQueries = p.RelatedQueries
	}
	if p.Timestamp != nil {
		e.Timestamp = p.Timestamp.UTC()
	}
	normalize(&e)
	if err := validate(e); err != nil {
		return nil, err
	}

	doc.Entries[idx] = e
	if err := s.save(doc); err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	return &e, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	idx := indexOf(doc.Entries, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc.Entries = append(doc.Entries[:idx], doc.Entries[idx+1:]...)
	if err := s.save(doc); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	s.logger.Debug("memory deleted", "entry_id", id)
	return nil
}

func indexOf(entries []model.MemoryEntry, id string) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}
