package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the entity kind a subscription watches.
type Kind string

const (
	// KindProjects watches every project row. It takes no scope.
	KindProjects Kind = "projects"
	// KindRequirementsByProject watches the requirements of one project.
	KindRequirementsByProject Kind = "requirements-by-project"
)

// Kinds lists every supported Kind.
var Kinds = []Kind{KindProjects, KindRequirementsByProject}

// DefaultSchema is the database schema change events are read from.
const DefaultSchema = "public"

var (
	// ErrUnknownKind is returned for a Kind outside Kinds.
	ErrUnknownKind = errors.New("unknown subscription kind")
	// ErrMissingScope is returned when a scoped kind has no scope.
	ErrMissingScope = errors.New("scope is required for this kind")
	// ErrUnexpectedScope is returned when a global kind is given a scope.
	ErrUnexpectedScope = errors.New("scope is not accepted for this kind")
	// ErrInvalidScope is returned for scopes with unsupported characters.
	ErrInvalidScope = errors.New("invalid scope")
)

var scopePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// Scoped reports whether the kind requires a scope identifier.
func (k Kind) Scoped() bool {
	return k == KindRequirementsByProject
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Key identifies one underlying channel. Equal (kind, scope) pairs always
// produce equal keys.
type Key string

// KeyFor derives the subscription key for a kind and scope.
func KeyFor(kind Kind, scope string) (Key, error) {
	switch kind {
	case KindProjects:
		if scope != "" {
			return "", fmt.Errorf("%s: %w", kind, ErrUnexpectedScope)
		}
		return Key("projects"), nil
	case KindRequirementsByProject:
		if scope == "" {
			return "", fmt.Errorf("%s: %w", kind, ErrMissingScope)
		}
		if !scopePattern.MatchString(scope) {
			return "", fmt.Errorf("%s: %w: %q", kind, ErrInvalidScope, scope)
		}
		return Key("requirements:" + scope), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Kind returns the kind the key was derived from.
func (k Key) Kind() Kind {
	if strings.HasPrefix(string(k), "requirements:") {
		return KindRequirementsByProject
	}
	if k == "projects" {
		return KindProjects
	}
	return ""
}

// Scope returns the scope the key was derived from, empty for global kinds.
func (k Key) Scope() string {
	_, scope, _ := strings.Cut(string(k), ":")
	return scope
}

// TableSpec names the table and optional row filter a channel watches.
type TableSpec struct {
	Schema string
	Table  string
	Filter string // column=eq.value, empty for all rows
}

// SpecFor returns the table spec for a kind and scope.
func SpecFor(schema string, kind Kind, scope string) TableSpec {
	if schema == "" {
		schema = DefaultSchema
	}
	switch kind {
	case KindRequirementsByProject:
		return TableSpec{Schema: schema, Table: "requirements", Filter: "project_id=eq." + scope}
	default:
		return TableSpec{Schema: schema, Table: "projects"}
	}
}

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Valid reports whether e is INSERT, UPDATE or DELETE.
func (e EventType) Valid() bool {
	switch e {
	case EventInsert, EventUpdate, EventDelete:
		return true
	}
	return false
}

// Subject returns the lower-case form used in subjects, SSE event names and
// metric labels. Unknown types map to "unknown".
func (e EventType) Subject() string {
	if !e.Valid() {
		return "unknown"
	}
	return strings.ToLower(string(e))
}

// ParseEventType accepts insert/update/delete in any case.
func ParseEventType(s string) (EventType, error) {
	e := EventType(strings.ToUpper(s))
	if !e.Valid() {
		return "", fmt.Errorf("invalid event type %q", s)
	}
	return e, nil
}

// Record is one row as delivered by the change-event source.
type Record map[string]any

// ChangeEvent is a row-level change notification.
type ChangeEvent struct {
	EventType       EventType `json:"eventType"`
	Schema          string    `json:"schema"`
	Table           string    `json:"table"`
	CommitTimestamp string    `json:"commit_timestamp,omitempty"`
	New             Record    `json:"new,omitempty"`
	Old             Record    `json:"old,omitempty"`
}

// RecordID returns the id of the affected row, preferring the new image.
func (e ChangeEvent) RecordID() string {
	if id, ok := e.New["id"]; ok && id != nil {
		return FormatValue(id)
	}
	if id, ok := e.Old["id"]; ok && id != nil {
		return FormatValue(id)
	}
	return ""
}

// FormatValue renders a decoded column value the way it appears in a key or
// filter. JSON numbers are written in plain decimal, never exponent form.
func FormatValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case json.Number:
		return n.String()
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

// Row returns the image a filter is evaluated against: old for deletes,
// new otherwise.
func (e ChangeEvent) Row() Record {
	if e.EventType == EventDelete || len(e.New) == 0 {
		return e.Old
	}
	return e.New
}

// Validate checks the fields required to route an event.
func (e ChangeEvent) Validate() error {
	if !e.EventType.Valid() {
		return fmt.Errorf("invalid event type %q", e.EventType)
	}
	if e.Table == "" {
		return errors.New("table is required")
	}
	if e.EventType == EventDelete && len(e.Old) == 0 {
		return errors.New("delete events require an old record")
	}
	if e.EventType != EventDelete && len(e.New) == 0 {
		return fmt.Errorf("%s events require a new record", strings.ToLower(string(e.EventType)))
	}
	return nil
}

// Handler receives change events for one subscription.
type Handler func(ChangeEvent)

// Disposer ends one subscription. Calling it more than once is a no-op.
type Disposer func()

func noopDisposer() {}
