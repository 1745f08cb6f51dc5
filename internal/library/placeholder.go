package library

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const placeholderPrefix = "local-"

// IDProvider issues placeholder ids for optimistic creates.
type IDProvider interface {
	NewID() (string, error)
}

type nanoidProvider struct{}

// NewPlaceholderIDProvider returns an IDProvider issuing "local-<nanoid>" ids.
func NewPlaceholderIDProvider() IDProvider {
	return nanoidProvider{}
}

func (nanoidProvider) NewID() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate placeholder id: %w", err)
	}
	return placeholderPrefix + id, nil
}

// IsPlaceholderID reports whether id was issued locally and not yet confirmed by the store.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}
