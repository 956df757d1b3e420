// Package check defines core types shared across subsystems.
package check

import (
	"fmt"
	"time"
)

// Priority orders task dispatch. Higher values dispatch first.
type Priority int

// Supported priorities.
const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// String renders the priority for logs and API payloads.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority maps API strings to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// TaskState represents the lifecycle state of a check task.
type TaskState string

// Task state values. Succeeded, Failed and Cancelled are terminal.
const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskRetrying  TaskState = "retrying"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether no further transitions may occur.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// TaskKey identifies a live task. One live task exists per key; it is the
// dedup key for submissions.
type TaskKey struct {
	PackageID  string
	SourceKind string
}

// String renders the key for logs.
func (k TaskKey) String() string {
	return k.PackageID + "/" + k.SourceKind
}

// SourceSpec describes where and how to check one upstream source.
type SourceSpec struct {
	// Kind selects the registered checker ("github", "pypi", ...).
	Kind string `json:"kind"`
	// URL is the upstream location; checkers interpret it per kind.
	URL string `json:"url"`
	// VersionKey optionally names a JSON field or URL marker holding the version.
	VersionKey string `json:"version_key,omitempty"`
	// VersionPattern optionally narrows extraction with a regexp; the first
	// capture group is the version.
	VersionPattern string `json:"version_pattern,omitempty"`
	// Headers carries extra request headers (auth tokens and the like).
	Headers map[string]string `json:"headers,omitempty"`
}

// Package is a locally tracked package whose upstream is checked.
type Package struct {
	ID           string     `json:"id"`
	LocalVersion string     `json:"local_version"`
	Source       SourceSpec `json:"source"`
	Priority     Priority   `json:"priority"`
}

// VersionInfo is the outcome of a single successful checker invocation.
type VersionInfo struct {
	// Version is the raw upstream version string.
	Version string `json:"version"`
	// Normalized is the comparable form (prefix/epoch stripped).
	Normalized string `json:"normalized"`
	// ReleasedAt is the upstream publication time when the source exposes one.
	ReleasedAt time.Time `json:"released_at,omitempty"`
	// Metadata carries low-volume source-specific context (release URL, tag).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is the immutable terminal outcome of one task. Exactly one Result
// is delivered per task; it must not be mutated after construction.
type Result struct {
	PackageID  string      `json:"package_id"`
	SourceKind string      `json:"source_kind"`
	Success    bool        `json:"success"`
	Version    VersionInfo `json:"version,omitempty"`
	ErrKind    ErrorKind   `json:"error_kind,omitempty"`
	Message    string      `json:"message,omitempty"`
	Attempts   int         `json:"attempts"`
	FetchedAt  time.Time   `json:"fetched_at"`
}

// Key returns the task identity the result belongs to.
func (r Result) Key() TaskKey {
	return TaskKey{PackageID: r.PackageID, SourceKind: r.SourceKind}
}
