package domain

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Normalize returns a copy of f with the name and actor names trimmed.
func (f MovieFields) Normalize() MovieFields {
	out := f
	out.Name = strings.TrimSpace(f.Name)
	out.Actors = make([]string, len(f.Actors))
	for i, a := range f.Actors {
		out.Actors[i] = strings.TrimSpace(a)
	}
	return out
}

// ValidateMovieFields checks field presence and ranges before any write.
// Callers should Normalize first.
func ValidateMovieFields(f MovieFields) error {
	if f.Name == "" {
		return NewValidationError("name", "is required")
	}
	if f.ReleaseDate.IsZero() {
		return NewValidationError("releaseDate", "is required")
	}
	if f.Duration < 1 {
		return NewValidationError("duration", "must be at least 1 minute")
	}
	for _, a := range f.Actors {
		if a == "" {
			return NewValidationError("actors", "must not contain empty names")
		}
	}
	return nil
}

// ValidateRating checks the rating value range and comment presence.
func ValidateRating(value int, comment string) error {
	if value < MinRatingValue || value > MaxRatingValue {
		return NewValidationError("rating", "must be between 1 and 5")
	}
	if strings.TrimSpace(comment) == "" {
		return NewValidationError("comment", "is required")
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// registration carries the account rules as validator tags.
type registration struct {
	Username string `validate:"min=3,max=50"`
	Email    string `validate:"required,email"`
	Password string `validate:"min=6"`
}

// registrationReasons are the client-facing messages per failing field.
var registrationReasons = map[string]struct{ field, reason string }{
	"Username": {"username", "must be between 3 and 50 characters"},
	"Email":    {"email", "is not a valid address"},
	"Password": {"password", "must be at least 6 characters"},
}

// ValidateRegistration checks the inputs of a new account. The first failing
// field is reported.
func ValidateRegistration(username, email, password string) error {
	err := validate.Struct(registration{Username: username, Email: email, Password: password})
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		if r, ok := registrationReasons[fieldErrs[0].StructField()]; ok {
			return NewValidationError(r.field, r.reason)
		}
	}
	return NewValidationError("registration", "is invalid")
}
