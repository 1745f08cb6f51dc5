package library

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation is matched by *ValidationError.
	ErrValidation = errors.New("library: validation failed")
	// ErrNotFound is matched by *NotFoundError.
	ErrNotFound = errors.New("library: entity not found")
	// ErrPersistence is matched by *PersistenceError.
	ErrPersistence = errors.New("library: persistence failed")
	// ErrPartialLoad is matched by *PartialLoadError.
	ErrPartialLoad = errors.New("library: partial load")
	// ErrNoSession is returned by mutations issued while no user is signed in.
	ErrNoSession = errors.New("library: no active session")
)

// ValidationError reports caller-fixable input problems. It never reaches the network.
type ValidationError struct {
	Collection Collection
	Reason     string
	Fields     map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Collection, e.Reason)
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Collection, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports an id unknown to the cache.
type NotFoundError struct {
	Collection Collection
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s/%s", ErrNotFound.Error(), e.Collection, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// PersistenceError reports a failed remote call. Retained is true when the optimistic
// cache state was kept (degraded session or delete) instead of rolled back.
type PersistenceError struct {
	Operation  string
	Collection Collection
	ID         string
	Retained   bool
	Err        error
}

func (e *PersistenceError) Error() string {
	target := string(e.Collection)
	if e.ID != "" {
		target += "/" + e.ID
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrPersistence.Error(), e.Operation, target, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// PartialLoadError lists the collections that failed during a bulk load.
type PartialLoadError struct {
	Failed map[Collection]error
}

func (e *PartialLoadError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for collection, err := range e.Failed {
		names = append(names, fmt.Sprintf("%s (%v)", collection, err))
	}
	sort.Strings(names)
	return fmt.Sprintf("%s: %s", ErrPartialLoad.Error(), strings.Join(names, ", "))
}

func (e *PartialLoadError) Is(target error) bool {
	return target == ErrPartialLoad
}

// Unwrap exposes the individual collection failures.
func (e *PartialLoadError) Unwrap() []error {
	causes := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		causes = append(causes, err)
	}
	return causes
}
