// Package diffcollector defines the external Diff Collector interface
// consumed by the Review Loop. The collector itself is an injected
// callback — the core only depends on the shape of the diff it returns.
package diffcollector

import (
	"context"
	"time"
)

// FileDiff is one changed file in a collected diff.
type FileDiff struct {
	Path      string
	Additions int
	Deletions int
	Patch     string
}

// Diff is the structured result handed to the quality-gate pipeline.
type Diff struct {
	TaskID    string
	Files     []FileDiff
	Truncated bool
	Collected time.Time
}

// Empty reports whether the diff contains no changed files. The Review Loop
// treats an empty (or failed) diff as a transient-IO condition and leaves
// the task awaiting-rework rather than running the pipeline against nothing.
func (d *Diff) Empty() bool {
	return d == nil || len(d.Files) == 0
}

// Collector is the injected callback interface.
type Collector interface {
	Collect(ctx context.Context, taskID string) (*Diff, error)
}

// CollectorFunc adapts a plain function to the Collector interface.
type CollectorFunc func(ctx context.Context, taskID string) (*Diff, error)

// Collect implements Collector.
func (f CollectorFunc) Collect(ctx context.Context, taskID string) (*Diff, error) {
	return f(ctx, taskID)
}
