package service

import (
	"github.com/google/uuid"

	"github.com/reelrate/reelrate/internal/domain"
)

// Authorize allows a mutation only when requesterID owns movie.
// uuid.UUID values compare in canonical form, so textual differences in
// how an id was written never affect the outcome.
func Authorize(movie *domain.Movie, requesterID uuid.UUID) error {
	if movie.OwnerID != requesterID {
		return domain.ErrForbidden
	}
	return nil
}
