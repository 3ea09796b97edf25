package order

import "slices"

// Status is the lifecycle state of an order.
type Status string

// Known order statuses. Only StatusPending is set at creation.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// StatusPolicy decides whether an order may move between two statuses.
type StatusPolicy interface {
	Allow(from, to Status) error
}

// AnyStatus accepts every status change, including unknown values.
type AnyStatus struct{}

// Allow implements StatusPolicy.
func (AnyStatus) Allow(_, _ Status) error { return nil }

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusCancelled},
}

// StrictTransitions only accepts known statuses along the order lifecycle.
// Completed and cancelled orders are final. Re-applying the current status
// is allowed and only bumps the update timestamp.
type StrictTransitions struct{}

// Allow implements StatusPolicy.
func (StrictTransitions) Allow(from, to Status) error {
	if !to.Known() {
		return &InvalidTransitionError{From: from, To: to}
	}
	if from == to {
		return nil
	}
	if !slices.Contains(transitions[from], to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// Known reports whether s is one of the declared statuses.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s under
// StrictTransitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
