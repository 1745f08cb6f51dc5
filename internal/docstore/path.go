package docstore

import (
	"fmt"
	"strings"
)

const (
	rootSegment         = "users"
	maxIdentifierLength = 190
)

// Path addresses a collection (DocumentID empty) or a document.
type Path struct {
	UserID     string
	Collection string
	DocumentID string
}

// CollectionPath builds users/{uid}/{collection}.
func CollectionPath(userID, collection string) Path {
	return Path{UserID: userID, Collection: collection}
}

// DocumentPath builds users/{uid}/{collection}/{id}.
func DocumentPath(userID, collection, documentID string) Path {
	return Path{UserID: userID, Collection: collection, DocumentID: documentID}
}

// ParsePath parses "users/{uid}/{collection}" or "users/{uid}/{collection}/{id}".
func ParsePath(raw string) (Path, error) {
	segments := strings.Split(strings.Trim(strings.TrimSpace(raw), "/"), "/")
	if len(segments) < 3 || len(segments) > 4 || segments[0] != rootSegment {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}
	path := Path{UserID: segments[1], Collection: segments[2]}
	if len(segments) == 4 {
		path.DocumentID = segments[3]
		if err := path.ValidateDocument(); err != nil {
			return Path{}, err
		}
		return path, nil
	}
	if err := path.ValidateCollection(); err != nil {
		return Path{}, err
	}
	return path, nil
}

// IsDocument reports whether the path addresses a single document.
func (p Path) IsDocument() bool {
	return p.DocumentID != ""
}

// CollectionPath returns the parent collection path.
func (p Path) CollectionPath() Path {
	return Path{UserID: p.UserID, Collection: p.Collection}
}

// Child returns the document path for id inside this collection.
func (p Path) Child(documentID string) Path {
	return Path{UserID: p.UserID, Collection: p.Collection, DocumentID: documentID}
}

// ValidateCollection checks the user and collection segments.
func (p Path) ValidateCollection() error {
	if err := validateSegment("user id", p.UserID); err != nil {
		return err
	}
	return validateSegment("collection", p.Collection)
}

// ValidateDocument checks every segment of a document path.
func (p Path) ValidateDocument() error {
	if err := p.ValidateCollection(); err != nil {
		return err
	}
	return validateSegment("document id", p.DocumentID)
}

func (p Path) String() string {
	base := rootSegment + "/" + p.UserID + "/" + p.Collection
	if p.DocumentID == "" {
		return base
	}
	return base + "/" + p.DocumentID
}

func validateSegment(name, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidPath, name)
	}
	if trimmed != value || strings.Contains(value, "/") {
		return fmt.Errorf("%w: malformed %s %q", ErrInvalidPath, name, value)
	}
	if len(value) > maxIdentifierLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidPath, name, maxIdentifierLength)
	}
	return nil
}
