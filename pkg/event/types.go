package event

import "fmt"

// Type identifies a chunk lifecycle event
type Type string

const (
	AlreadyLoaded   Type = "ALREADY_LOADED"
	Loaded          Type = "LOADED"
	Generated       Type = "GENERATED"
	Populated       Type = "POPULATED"
	UnloadScheduled Type = "UNLOAD_SCHEDULED"
	Unloaded        Type = "UNLOADED"
)

// Types lists every event type in lifecycle order
var Types = []Type{AlreadyLoaded, Loaded, Generated, Populated, UnloadScheduled, Unloaded}

// ParseType converts a wire name into a Type, rejecting unknown names
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Valid reports whether t is one of the known event types
func (t Type) Valid() bool {
	_, err := ParseType(string(t))
	return err == nil
}

// Metadata is the diagnostic payload attached to every event
type Metadata struct {
	// Trace holds the call stack at the capture site, innermost frame first
	Trace []string `json:"trace,omitempty"`

	// Annotation is an optional free-text tag supplied by the caller
	Annotation string `json:"annotation,omitempty"`
}

// Event is a single chunk lifecycle record.
// Events are values: once built by the capture layer they are never modified.
type Event struct {
	X         int32    `json:"x"`
	Z         int32    `json:"z"`
	Tick      int32    `json:"tick"`
	Dimension int32    `json:"dimension"`
	Type      Type     `json:"event"`
	Metadata  Metadata `json:"metadata"`
}

// Pos is a chunk position within a dimension
type Pos struct {
	Dimension int32 `json:"dimension"`
	X         int32 `json:"x"`
	Z         int32 `json:"z"`
}

// Pos returns the chunk position the event refers to
func (e Event) Pos() Pos {
	return Pos{Dimension: e.Dimension, X: e.X, Z: e.Z}
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d,%d", p.Dimension, p.X, p.Z)
}
