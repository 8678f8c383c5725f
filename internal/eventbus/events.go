package eventbus

import (
	"time"

	"github.com/vthunder/chapelotas/internal/types"
)

// Keep list sorted A-Z
const (
	EventActionCompleted    Event = "agenda.action-completed"
	EventCheckCompleted     Event = "monkey.check-completed"
	EventReminderDispatched Event = "reminder.dispatched"
	EventUserResponded      Event = "user.responded"
	EventWakeupDegraded     Event = "wakeup.degraded"
)

// ActionCompletedPayload is emitted when an agenda action reaches COMPLETED.
type ActionCompletedPayload struct {
	Action  types.AgendaAction
	Skipped bool // completed without dispatching (gated or stale)
}

// CheckCompletedPayload is emitted after every monitoring pass.
type CheckCompletedPayload struct {
	At        time.Time
	Reason    string
	Reminders int
	Actions   int
	NextAlarm *time.Time
}

// ReminderDispatchedPayload is emitted when the reminder engine fires.
type ReminderDispatchedPayload struct {
	TaskID         string
	NotificationID string
	Message        string
	NextReminderAt time.Time
}

// UserRespondedPayload is emitted for every handled notification response.
type UserRespondedPayload struct {
	NotificationID string
	EventID        string
	Action         types.UserAction
	SnoozeUntil    *time.Time
}

// WakeupDegradedPayload is emitted when arming an exact alarm fails.
type WakeupDegradedPayload struct {
	Purpose string
	Err     error
}

func (bus *EventBus) PublishActionCompleted(p ActionCompletedPayload) {
	bus.send(EventActionCompleted, p)
}

func (bus *EventBus) SubscribeActionCompleted(fn func(ActionCompletedPayload)) {
	bus.subscribe(EventActionCompleted, func(v any) { fn(v.(ActionCompletedPayload)) })
}

func (bus *EventBus) PublishCheckCompleted(p CheckCompletedPayload) {
	bus.send(EventCheckCompleted, p)
}

func (bus *EventBus) SubscribeCheckCompleted(fn func(CheckCompletedPayload)) {
	bus.subscribe(EventCheckCompleted, func(v any) { fn(v.(CheckCompletedPayload)) })
}

func (bus *EventBus) PublishReminderDispatched(p ReminderDispatchedPayload) {
	bus.send(EventReminderDispatched, p)
}

func (bus *EventBus) SubscribeReminderDispatched(fn func(ReminderDispatchedPayload)) {
	bus.subscribe(EventReminderDispatched, func(v any) { fn(v.(ReminderDispatchedPayload)) })
}

func (bus *EventBus) PublishUserResponded(p UserRespondedPayload) {
	bus.send(EventUserResponded, p)
}

func (bus *EventBus) SubscribeUserResponded(fn func(UserRespondedPayload)) {
	bus.subscribe(EventUserResponded, func(v any) { fn(v.(UserRespondedPayload)) })
}

func (bus *EventBus) PublishWakeupDegraded(p WakeupDegradedPayload) {
	bus.send(EventWakeupDegraded, p)
}

func (bus *EventBus) SubscribeWakeupDegraded(fn func(WakeupDegradedPayload)) {
	bus.subscribe(EventWakeupDegraded, func(v any) { fn(v.(WakeupDegradedPayload)) })
}
