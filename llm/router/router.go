// Package router classifies free text against a set of candidate providers.
// The mesh consumes it as a black box; the default implementation is a
// keyword heuristic, but anything satisfying TaskRouter can be plugged in.
package router

import (
	"context"
	"errors"
)

// ErrNoCandidates is returned when routing is attempted with no candidate providers.
var ErrNoCandidates = errors.New("no candidate providers")

// Category is the kind of work a piece of text asks for.
type Category string

const (
	CategoryCode     Category = "code"
	CategoryAnalysis Category = "analysis"
	CategoryCreative Category = "creative"
	CategoryGeneral  Category = "general"
)

// Request asks for a routing suggestion for one text segment.
type Request struct {
	Text       string   // the segment to classify
	Candidates []string // provider ids eligible to receive it
}

// Result is a routing suggestion for one text segment.
type Result struct {
	Provider   string   `json:"provider"`
	Model      string   `json:"model,omitempty"`
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"` // 0..1
	Reason     string   `json:"reason,omitempty"`
}

// TaskRouter suggests a destination provider for a text segment.
type TaskRouter interface {
	Route(ctx context.Context, req *Request) (*Result, error)
}
