package order

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is matched by errors.Is against *InvalidTransitionError.
var ErrInvalidTransition = errors.New("order: invalid status transition")

type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
)

// successors is the full transition graph: a linear fulfilment chain, with
// cancelled and refunded reachable from every non-terminal status.
var successors = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled, StatusRefunded},
	StatusConfirmed:      {StatusPreparing, StatusCancelled, StatusRefunded},
	StatusPreparing:      {StatusReady, StatusCancelled, StatusRefunded},
	StatusReady:          {StatusOutForDelivery, StatusCancelled, StatusRefunded},
	StatusOutForDelivery: {StatusDelivered, StatusCancelled, StatusRefunded},
	StatusDelivered:      nil,
	StatusCancelled:      nil,
	StatusRefunded:       nil,
}

// InvalidTransitionError names both ends of a rejected transition.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order: invalid status transition from %q to %q", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return len(successors[s]) == 0
}

// CanTransition reports whether target is a legal successor of s.
// A same-status transition is always allowed (idempotent no-op).
func (s Status) CanTransition(target Status) bool {
	if s == target {
		return true
	}
	for _, next := range successors[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Transition moves the order to target, stamping the status timestamp on first
// entry. It authorizes and records the change only; side effects belong to the
// caller. A request to transition to the current status is a no-op success.
func (o *Order) Transition(target Status, reason string) error {
	if o.Status == target {
		return nil
	}
	if !o.Status.CanTransition(target) {
		return &InvalidTransitionError{From: o.Status, To: target}
	}

	o.Status = target
	if reason != "" {
		o.FailureReason = reason
	}
	o.stamp(target)
	o.touch()
	return nil
}

func (o *Order) stamp(s Status) {
	now := time.Now().UTC()
	set := func(field **time.Time) {
		if *field == nil {
			*field = &now
		}
	}
	switch s {
	case StatusConfirmed:
		set(&o.ConfirmedAt)
	case StatusPreparing:
		set(&o.PreparingAt)
	case StatusReady:
		set(&o.ReadyAt)
	case StatusOutForDelivery:
		set(&o.OutForDeliveryAt)
	case StatusDelivered:
		set(&o.DeliveredAt)
	case StatusCancelled:
		set(&o.CancelledAt)
	case StatusRefunded:
		set(&o.RefundedAt)
	}
}
