package ratelimit

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned before any backend call for empty keys or
	// non-positive limits and windows.
	ErrInvalidRequest = errors.New("invalid rate limit request")
	// ErrBackendUnavailable wraps every counter or abuse backend failure.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
	// ErrUnknownTierCategory is the panic value for a missing tier table entry.
	ErrUnknownTierCategory = errors.New("unknown tier/category pair")
)

func backendError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}

func validateRequest(req Request) error {
	switch {
	case req.Key == "":
		return fmt.Errorf("%w: key is required", ErrInvalidRequest)
	case req.Limit <= 0:
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidRequest, req.Limit)
	case req.WindowSeconds <= 0:
		return fmt.Errorf("%w: window must be positive, got %d", ErrInvalidRequest, req.WindowSeconds)
	}
	return nil
}
