package cart

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrDuplicateCart is returned by Store.CreateCart when the user already has a cart.
var ErrDuplicateCart = errors.New("cart already exists")

// ValidationError reports missing or malformed input. Nothing is mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError names the resource that could not be found.
type NotFoundError struct {
	Resource string
	ID       int64
	Message  string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s with ID %d not found", e.Resource, e.ID)
}

// ConflictError is returned when a concurrent writer kept winning a race.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
