package claims

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount            = errors.New("claimed amount must be greater than zero")
	ErrInsufficientAvailability = errors.New("claimed amount exceeds the remaining balance")
	ErrSessionRequired          = errors.New("session token is required")
	ErrActiveClaimExists        = errors.New("this session already holds an active claim on the order")
	ErrClaimNotFound            = errors.New("claim not found")
	ErrClaimNotActive           = errors.New("claim is no longer active")
	ErrOrderNotFound            = errors.New("order not found")
	ErrOrderClosed              = errors.New("order no longer accepts claims")
	ErrOrderPaidDirectly        = errors.New("order is being paid in full by a single payment")
	ErrIntentAlreadyAttached    = errors.New("claim already has a different payment intent")
)

// AvailabilityError reports the authoritative remaining balance so the
// diner can retry with a smaller amount
type AvailabilityError struct {
	Requested int64
	Remaining int64
}

func (e *AvailabilityError) Error() string {
	return fmt.Sprintf("claimed amount %d exceeds the remaining balance %d", e.Requested, e.Remaining)
}

func (e *AvailabilityError) Is(target error) bool {
	return target == ErrInsufficientAvailability
}

// ActiveClaimError carries the claim the session already holds
type ActiveClaimError struct {
	ClaimID string
}

func (e *ActiveClaimError) Error() string {
	return fmt.Sprintf("session already holds active claim %s", e.ClaimID)
}

func (e *ActiveClaimError) Is(target error) bool {
	return target == ErrActiveClaimExists
}
