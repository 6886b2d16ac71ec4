// Package model defines the core memory and profile data types.
package model

import (
	"strings"
	"time"
)

// SchemaVersion is written to every persisted document.
const SchemaVersion = "1.0"

// DefaultCategory is used when an entry is stored without one.
const DefaultCategory = "general"

// MemoryType classifies a memory entry.
type MemoryType string

const (
	TypeAction      MemoryType = "action"
	TypeInformation MemoryType = "information"
	TypePreference  MemoryType = "preference"
	TypeContext     MemoryType = "context"
)

// ValidTypes are the allowed memory types.
var ValidTypes = map[MemoryType]bool{
	TypeAction:      true,
	TypeInformation: true,
	TypePreference:  true,
	TypeContext:     true,
}

// MemoryEntry is one persisted record of a past action or discovered fact.
type MemoryEntry struct {
	ID             string         `json:"id" yaml:"id"`
	Timestamp      time.Time      `json:"timestamp" yaml:"timestamp"`
	Type           MemoryType     `json:"type" yaml:"type"`
	Category       string         `json:"category" yaml:"category"`
	Description    string         `json:"description" yaml:"description"`
	Details        map[string]any `json:"details" yaml:"details"`
	Tags           []string       `json:"tags" yaml:"tags"`
	RelatedQueries []string       `json:"relatedQueries" yaml:"relatedQueries"`
}

// HasTag reports whether the entry carries tag (case-insensitive).
func (e MemoryEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// MemoryDocument is the on-disk envelope of the memory store.
type MemoryDocument struct {
	Entries     []MemoryEntry `json:"entries"`
	LastUpdated time.Time     `json:"lastUpdated"`
	Version     string        `json:"version"`
}

// ProfileDocument is the on-disk envelope of the personal profile.
type ProfileDocument struct {
	Data        map[string]string `json:"data"`
	LastUpdated time.Time         `json:"lastUpdated"`
	Version     string            `json:"version"`
}
