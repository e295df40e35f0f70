package app

import (
	"errors"
	"fmt"
	"log"

	"tasklane/api/internal/bulk"
	"tasklane/api/internal/position"
	"tasklane/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// domainErrorFrom translates engine, bulk, and store sentinels into the
// HTTP-facing taxonomy. Internal failures keep a generic message; details
// stay in the server log.
func domainErrorFrom(err error) *DomainError {
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	switch {
	case errors.Is(err, position.ErrInvalidPosition),
		errors.Is(err, position.ErrInvalidPartition):
		return domainError(422, "INVALID_POSITION", err.Error(), nil)
	case errors.Is(err, bulk.ErrUnknownField), errors.Is(err, bulk.ErrInvalidValue):
		return domainError(422, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, position.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return domainError(404, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, position.ErrConcurrent):
		return domainError(409, "RETRY", "Concurrent update, please retry", nil)
	case errors.Is(err, position.ErrConstraint):
		log.Printf("position constraint reached (engine bug?): %v", err)
		return domainError(500, "POSITION_CONFLICT", "Failed to update position", nil)
	default:
		log.Printf("internal error: %v", err)
		return domainError(500, "INTERNAL", "Internal error", nil)
	}
}
