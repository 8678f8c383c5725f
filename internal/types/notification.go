package types

import (
	"context"
	"time"
)

// Priority decides how loudly a notification is shown
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high" // full-screen, un-missable
)

// Notification channels
const (
	ChannelGeneral          = "general"
	ChannelInsistenceNormal = "insistence_normal"
	ChannelInsistenceMedium = "insistence_medium"
	ChannelInsistenceLow    = "insistence_low"
	ChannelCritical         = "critical"
	ChannelSummary          = "summary"
)

// Notification is a dispatched nudge and the user's reaction to it.
type Notification struct {
	ID            string
	EventID       string
	Title         string
	Message       string
	Priority      Priority
	Channel       string
	ScheduledTime time.Time
	SnoozedUntil  *time.Time
	SnoozedAt     *time.Time
	SnoozeCount   int
	Executed      bool
	Dismissed     bool
	CreatedAt     time.Time
}

// Dispatcher shows a notification to the user. Implementations live in
// internal/effectors.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// UserAction is the user's response to a notification
type UserAction string

const (
	ActionSnooze  UserAction = "SNOOZE"
	ActionDismiss UserAction = "DISMISS"
	ActionOpen    UserAction = "OPEN"
	ActionTimeout UserAction = "TIMEOUT"
	ActionIgnored UserAction = "IGNORED"
)

// ResponseEntry records how (and how fast) the user reacted.
type ResponseEntry struct {
	NotificationID  string
	EventID         string
	Action          UserAction
	ResponseSeconds int64
	At              time.Time
}

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ConversationEntry is one line of a chat thread.
type ConversationEntry struct {
	ThreadID string
	Role     string
	Content  string
	At       time.Time
}

// ThreadID returns the conversation thread for a task.
func ThreadID(eventID string) string {
	if eventID == "" {
		return "general"
	}
	return "event_" + eventID
}
