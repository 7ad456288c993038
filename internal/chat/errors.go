package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors for chat operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrValidation indicates rejected input, such as empty message content.
	// Nothing has been written when it is returned.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates the conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrForbidden indicates the caller does not own the conversation.
	ErrForbidden = errors.New("conversation does not belong to caller")

	// ErrTransientDelivery indicates a change feed disconnect or timeout.
	// Subscribers recover by resubscribing; it is never shown to a user.
	ErrTransientDelivery = errors.New("transient delivery error")

	// ErrSendFailure indicates the send call itself failed.
	ErrSendFailure = errors.New("send failure")

	// ErrPersistence indicates a storage failure unrelated to the input.
	ErrPersistence = errors.New("chat persistence error")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrForbidden) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
