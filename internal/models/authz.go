package models

import (
	"fmt"

	"github.com/Chezo25/Krate-it/internal/apperr"
)

// Owned is implemented by every entity that carries an owner.
type Owned interface {
	OwnedBy() string
}

func (f *Folder) OwnedBy() string { return f.OwnerID }
func (f *File) OwnedBy() string   { return f.OwnerID }
func (s *Share) OwnedBy() string  { return s.OwnerID }

// Authorize is the single ownership gate used by every component. It must be
// called before any mutation of the resource.
func Authorize(userID string, resource Owned) error {
	if resource.OwnedBy() != userID {
		return fmt.Errorf("user %s does not own resource: %w", userID, apperr.ErrForbidden)
	}
	return nil
}
