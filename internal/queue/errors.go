package queue

import (
	"errors"
	"fmt"

	"conveyor/internal/services"
)

var (
	// ErrStaleItem reports that the item row changed since it was read
	// (version mismatch). The caller lost a race and must not retry blindly.
	ErrStaleItem = fmt.Errorf("%w: item version changed", services.ErrConflict)

	// ErrRetryExhausted reports that a failed item used all manual retries.
	ErrRetryExhausted = fmt.Errorf("%w: retry limit reached", services.ErrConflict)

	// ErrItemNotFailed reports a retry request for an item that is not failed.
	ErrItemNotFailed = fmt.Errorf("%w: item is not failed", services.ErrConflict)

	// ErrItemNotFound reports a missing item.
	ErrItemNotFound = fmt.Errorf("%w: item", services.ErrNotFound)

	// ErrOwnerNotFound reports a missing owner.
	ErrOwnerNotFound = fmt.Errorf("%w: owner", services.ErrNotFound)

	// ErrScriptNotFound reports a missing generated script.
	ErrScriptNotFound = fmt.Errorf("%w: script", services.ErrNotFound)

	// ErrFeedbackNotFound reports a missing feedback entry.
	ErrFeedbackNotFound = fmt.Errorf("%w: feedback entry", services.ErrNotFound)

	// ErrPayloadMismatch reports a stage payload of the wrong variant.
	ErrPayloadMismatch = fmt.Errorf("%w: payload does not match stage", services.ErrValidation)
)

// IsStale reports whether err is an optimistic concurrency conflict on an item.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleItem)
}
