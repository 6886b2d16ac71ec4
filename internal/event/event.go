// Package event classifies raw worker output lines into typed events.
package event

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Stream identifies which child stream a line arrived on.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Generic event types. Structured events carry the worker-defined type instead.
const (
	TypeOutput   = "output"
	TypeError    = "error"
	TypeComplete = "complete"
)

// reserved types cannot be produced by a structured worker record.
var reserved = map[string]bool{
	TypeOutput:   true,
	TypeError:    true,
	TypeComplete: true,
}

// Event is a classified line of worker output, or the terminal completion of
// a run. Exactly one of Text or Data is set.
type Event struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Terminal bool            `json:"isTerminal"`
	Success  bool            `json:"success"`
	RunID    string          `json:"runId,omitempty"`
}

// Structured reports whether the event came from a worker record.
func (e Event) Structured() bool {
	return !reserved[e.Type]
}

// Payload returns the structured data when present, otherwise the text.
func (e Event) Payload() any {
	if len(e.Data) > 0 {
		return e.Data
	}
	return e.Text
}

// record is the worker's self-describing line format.
type record struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Classify turns one raw line into an event. It returns false for lines that
// are blank after trimming. Stderr lines are always error events; stdout lines
// become structured events when they decode as a record with a non-reserved
// type, and output events otherwise.
func Classify(stream Stream, line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Event{}, false
	}
	if stream == Stderr {
		return Event{Type: TypeError, Text: trimmed}, true
	}
	if rec, ok := parseRecord(trimmed); ok {
		data := rec.Data
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		return Event{Type: rec.Type, Data: data}, true
	}
	return Event{Type: TypeOutput, Text: trimmed}, true
}

// parseRecord is the structured branch of Classify; a false result is the
// normal outcome for freeform log lines.
func parseRecord(line string) (record, bool) {
	if !strings.HasPrefix(line, "{") {
		return record{}, false
	}
	var rec record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return record{}, false
	}
	rec.Type = strings.TrimSpace(rec.Type)
	if rec.Type == "" || reserved[rec.Type] {
		return record{}, false
	}
	if len(rec.Data) > 0 {
		rec.Data = bytes.TrimSpace(rec.Data)
	}
	return rec, true
}

// Complete builds the terminal event of a run.
func Complete(success bool, text string) Event {
	return Event{Type: TypeComplete, Text: text, Terminal: true, Success: success}
}
