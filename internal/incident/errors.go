package incident

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrNotFound is returned when no incident has the requested ID.
	ErrNotFound = errors.New("incident not found")

	// ErrDuplicate is returned by Store.Create when the ID already exists.
	ErrDuplicate = errors.New("incident already exists")

	// ErrStaleStatus is returned by Store.Commit when the stored status no
	// longer matches the event's From, i.e. another writer got there first.
	ErrStaleStatus = errors.New("incident status changed concurrently")
)

// InvalidTransitionError reports an attempted edge that is not in the
// transition table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// ValidationError carries field name -> problem for rejected input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalidField(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// IsInvalidTransition reports whether err is or wraps an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
