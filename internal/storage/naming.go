package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// NewLocation generates a collision-free object location under prefix.
// The location is derived from a random UUID, never from the original
// filename, so concurrent uploads of identically named files land on
// distinct objects. Only the extension of originalName is kept, and only
// when it looks like a plain extension.
func NewLocation(prefix, originalName string) string {
	ext := strings.ToLower(path.Ext(originalName))
	if len(ext) > 16 || strings.ContainsAny(ext, "/\\") {
		ext = ""
	}

	name := uuid.NewString() + ext
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// ValidateLocation rejects locations that could escape a backend's root:
// empty strings, absolute paths, traversal segments and backslashes.
// Every backend applies it to each incoming location; for the local
// backend it is the security invariant that keeps keys inside the root
// directory.
func ValidateLocation(location string) error {
	if location == "" {
		return fmt.Errorf("%w: empty location", ErrInvalidInput)
	}
	if strings.HasPrefix(location, "/") {
		return fmt.Errorf("%w: absolute location %q", ErrInvalidInput, location)
	}
	if strings.Contains(location, "\\") {
		return fmt.Errorf("%w: backslash in location %q", ErrInvalidInput, location)
	}
	for _, seg := range strings.Split(location, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return fmt.Errorf("%w: traversal in location %q", ErrInvalidInput, location)
		}
	}
	return nil
}
