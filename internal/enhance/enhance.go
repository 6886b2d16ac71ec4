// Package enhance rewrites task queries with memory and profile context and
// summarizes worker output, backed by a language model.
package enhance

import (
	"context"
	"errors"
)

// ErrDisabled is returned by capabilities when no provider is configured.
var ErrDisabled = errors.New("language model not configured")

// Request is what the enhancement capability receives.
type Request struct {
	RawQuery       string
	MemoryContext  string
	ProfileContext string
}

// Response is what the enhancement capability returns. PersonalInfo holds
// newly observed facts about the user, possibly empty.
type Response struct {
	EnhancedQuery string            `json:"enhancedQuery"`
	PersonalInfo  map[string]string `json:"personalInfo"`
}

// Enhancer refines a query with context and extracts personal facts.
type Enhancer interface {
	Enhance(ctx context.Context, req Request) (*Response, error)
}

// Summarizer condenses worker output into a one-line description.
type Summarizer interface {
	Summarize(ctx context.Context, query, output string) (string, error)
}
