package saga

import (
	"errors"
	"fmt"
)

// Kind discriminates the saga error taxonomy. Callers switch on the kind,
// never on concrete error types.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidTransition marks an ordering/programming error. The call
	// fails and the aggregate is left unchanged.
	KindInvalidTransition
	// KindNotFound marks an absent saga or resource.
	KindNotFound
	// KindServiceUnavailable marks an unreachable or timed-out downstream
	// service. Retryable up to the configured budget.
	KindServiceUnavailable
	// KindBusinessRejection marks a business-rule refusal such as
	// insufficient stock. Never retried.
	KindBusinessRejection
	// KindCompensationFailed marks a compensation run that exhausted its
	// retry budget and left reservations unreleased.
	KindCompensationFailed
	// KindConflict marks an optimistic concurrency conflict in the store.
	KindConflict
	// KindInvalidInput marks a malformed request.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindInvalidTransition:
		return "invalid_transition"
	case KindNotFound:
		return "not_found"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindBusinessRejection:
		return "business_rejection"
	case KindCompensationFailed:
		return "compensation_failed"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is the tagged-union domain error. Only the fields relevant to the
// Kind are populated.
type Error struct {
	Kind   Kind
	SagaID string

	// Invalid transition.
	From, To State

	// Downstream service failures.
	Service string

	// Stock rejections.
	ProductID string
	Requested int
	Available int

	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidTransition:
		return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
	case KindNotFound:
		return fmt.Sprintf("saga %s not found", e.SagaID)
	case KindServiceUnavailable:
		if e.Err != nil {
			return fmt.Sprintf("service %s unavailable: %s: %v", e.Service, e.Reason, e.Err)
		}
		return fmt.Sprintf("service %s unavailable: %s", e.Service, e.Reason)
	case KindBusinessRejection:
		if e.ProductID != "" {
			return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
				e.ProductID, e.Requested, e.Available)
		}
		return fmt.Sprintf("business rejection: %s", e.Reason)
	case KindCompensationFailed:
		return fmt.Sprintf("compensation failed for saga %s: %s", e.SagaID, e.Reason)
	case KindConflict:
		return fmt.Sprintf("version conflict for saga %s", e.SagaID)
	case KindInvalidInput:
		return fmt.Sprintf("invalid input: %s", e.Reason)
	default:
		return e.Reason
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or KindUnknown when err is not a saga
// error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// NewInvalidTransition reports an illegal (from, to) transition request.
func NewInvalidTransition(sagaID string, from, to State) *Error {
	return &Error{Kind: KindInvalidTransition, SagaID: sagaID, From: from, To: to}
}

// NewNotFound reports an absent saga.
func NewNotFound(sagaID string) *Error {
	return &Error{Kind: KindNotFound, SagaID: sagaID}
}

// NewServiceUnavailable reports an unreachable downstream service.
func NewServiceUnavailable(service, reason string, err error) *Error {
	return &Error{Kind: KindServiceUnavailable, Service: service, Reason: reason, Err: err}
}

// NewStockInsufficient reports a stock shortage for one product line.
func NewStockInsufficient(productID string, requested, available int) *Error {
	return &Error{
		Kind:      KindBusinessRejection,
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// NewBusinessRejection reports a non-stock business refusal.
func NewBusinessRejection(service, reason string) *Error {
	return &Error{Kind: KindBusinessRejection, Service: service, Reason: reason}
}

// NewCompensationFailed reports an incomplete compensation run. The saga is
// left flagged for operator attention, never silently discarded.
func NewCompensationFailed(sagaID, reason string, err error) *Error {
	return &Error{Kind: KindCompensationFailed, SagaID: sagaID, Reason: reason, Err: err}
}

// NewConflict reports a lost optimistic-concurrency race on the store.
func NewConflict(sagaID string) *Error {
	return &Error{Kind: KindConflict, SagaID: sagaID}
}

func invalidInput(reason string) *Error {
	return &Error{Kind: KindInvalidInput, Reason: reason}
}
