package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownAction is returned when a stored action kind cannot be decoded.
var ErrUnknownAction = errors.New("unknown agenda action kind")

// ActionKind is the closed set of agenda action kinds. The unexported
// method keeps other packages from adding cases; switch on the concrete
// type to handle each kind.
type ActionKind interface {
	Name() string
	isActionKind()
}

// NotifyEvent nudges the user about one task.
type NotifyEvent struct{}

// DailySummary sends the day's agenda.
type DailySummary struct{}

// IdleCheck mocks the user when nothing has happened for a while.
type IdleCheck struct{}

// Cleanup archives old threads and deletes old completed actions.
type Cleanup struct{}

func (NotifyEvent) Name() string  { return "NOTIFY_EVENT" }
func (DailySummary) Name() string { return "DAILY_SUMMARY" }
func (IdleCheck) Name() string    { return "IDLE_CHECK" }
func (Cleanup) Name() string      { return "CLEANUP" }

func (NotifyEvent) isActionKind()  {}
func (DailySummary) isActionKind() {}
func (IdleCheck) isActionKind()    {}
func (Cleanup) isActionKind()      {}

// ParseActionKind decodes the stored name of an action kind.
func ParseActionKind(name string) (ActionKind, error) {
	switch name {
	case "NOTIFY_EVENT":
		return NotifyEvent{}, nil
	case "DAILY_SUMMARY":
		return DailySummary{}, nil
	case "IDLE_CHECK":
		return IdleCheck{}, nil
	case "CLEANUP":
		return Cleanup{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// ActionStatus is the processing state of an agenda action
type ActionStatus string

const (
	ActionPending    ActionStatus = "PENDING"
	ActionProcessing ActionStatus = "PROCESSING"
	ActionCompleted  ActionStatus = "COMPLETED"
	ActionCancelled  ActionStatus = "CANCELLED"
)

// AgendaAction is a persisted one-shot unit of background work.
// ScheduledTime is never changed after insert; rescheduling means
// cancelling and inserting a new action.
type AgendaAction struct {
	ID            string
	ScheduledTime time.Time
	Kind          ActionKind
	EventID       string
	Message       string
	Status        ActionStatus
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// Done reports whether the action reached a terminal state.
func (a AgendaAction) Done() bool {
	return a.Status == ActionCompleted || a.Status == ActionCancelled
}
