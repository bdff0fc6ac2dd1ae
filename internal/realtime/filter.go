package realtime

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilter is returned when a filter is not of the form column=eq.value.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter is a single-column equality predicate.
type Filter struct {
	Column string
	Value  string
}

// ParseFilter parses column=eq.value. An empty string yields a Filter that
// matches every row.
func ParseFilter(s string) (Filter, error) {
	if s == "" {
		return Filter{}, nil
	}
	column, rest, ok := strings.Cut(s, "=")
	if !ok || column == "" {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok || value == "" {
		return Filter{}, fmt.Errorf("%w: only eq is supported: %q", ErrInvalidFilter, s)
	}
	return Filter{Column: column, Value: value}, nil
}

// Empty reports whether the filter matches every row.
func (f Filter) Empty() bool {
	return f.Column == ""
}

// Match evaluates the filter against the event's row image.
func (f Filter) Match(evt ChangeEvent) bool {
	if f.Empty() {
		return true
	}
	v, ok := evt.Row()[f.Column]
	if !ok || v == nil {
		return false
	}
	return FormatValue(v) == f.Value
}

// String returns the filter in column=eq.value form.
func (f Filter) String() string {
	if f.Empty() {
		return ""
	}
	return f.Column + "=eq." + f.Value
}
