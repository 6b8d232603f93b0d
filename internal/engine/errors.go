package engine

import (
	"errors"

	"classroom-exchange/internal/book"
	"classroom-exchange/internal/common"
)

var (
	ErrSessionEnded    = errors.New("session has ended")
	ErrTimedOut        = errors.New("submission deadline elapsed while queued")
	ErrUnknownSecurity = errors.New("unknown security")
)

// classify maps a book-level sentinel error to the taxonomy of spec.md §7:
// malformed input is Validation, a post-match invariant failure is
// Internal (a bug, not a rejectable submission), and every other reject
// the book can produce is a business-rule Policy rejection.
func classify(err error) common.ErrorClass {
	if errors.Is(err, book.ErrBadPrice) || errors.Is(err, book.ErrBadQuantity) {
		return common.ClassValidation
	}
	if errors.Is(err, book.ErrInvariantViolation) {
		return common.ClassInternal
	}
	return common.ClassPolicy
}
