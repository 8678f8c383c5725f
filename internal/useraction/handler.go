// Package useraction applies the user's response to a notification:
// snooze, dismiss, open, or the timeout that fires when they do nothing.
package useraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vthunder/chapelotas/internal/eventbus"
	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/metrics"
	"github.com/vthunder/chapelotas/internal/store"
	"github.com/vthunder/chapelotas/internal/types"
)

const (
	DefaultSnoozeMinutes = 15

	// a second snooze for the same notification inside this window is a redelivery
	duplicateWindow = time.Minute
)

// Store is what the handler touches. *store.Store implements it.
type Store interface {
	GetNotification(id string) (types.Notification, error)
	UpdateNotification(n types.Notification) error
	AppendResponse(e types.ResponseEntry) error
	ResponsesFor(notificationID string) ([]types.ResponseEntry, error)
	IncrementNotificationCount(id string, now time.Time) error
	MarkDelivery(key string, at time.Time) (bool, error)
	AppendConversation(e types.ConversationEntry) error
}

// Retractor removes a notification that is still on screen. Dispatchers
// that can take a message back implement it.
type Retractor interface {
	Retract(ctx context.Context, notificationID string) error
}

// Input is one delivered user response.
type Input struct {
	NotificationID string
	EventID        string // optional, taken from the notification when empty
	Action         types.UserAction
	SnoozeMinutes  int    // SNOOZE only; <= 0 uses the configured default
	DeliveryID     string // set by transports that may redeliver
}

// Result tells the caller what happened.
type Result struct {
	Applied     bool // false for duplicates and missing records
	SnoozeUntil *time.Time
}

// Handler applies user responses. All methods are safe to call from
// transport callbacks: nothing panics past Handle.
type Handler struct {
	store     Store
	retractor Retractor
	bus       *eventbus.EventBus
	metrics   *metrics.Metrics
}

func New(st Store) *Handler {
	return &Handler{store: st}
}

func (h *Handler) WithRetractor(r Retractor) *Handler {
	h.retractor = r
	return h
}

func (h *Handler) WithEvents(bus *eventbus.EventBus) *Handler {
	h.bus = bus
	return h
}

func (h *Handler) WithMetrics(m *metrics.Metrics) *Handler {
	h.metrics = m
	return h
}

// Handle applies in to the notification it names. Missing records and
// repeated deliveries are logged and reported as not applied; errors come
// back only for storage failures.
func (h *Handler) Handle(ctx context.Context, in Input, now time.Time, s types.Settings) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("useraction", fmt.Errorf("%v", r), "panic handling %s for %s", in.Action, in.NotificationID)
			res, err = Result{}, nil
		}
	}()

	if in.DeliveryID != "" {
		fresh, err := h.store.MarkDelivery("useraction:"+in.DeliveryID, now)
		if err != nil {
			return Result{}, fmt.Errorf("mark delivery: %w", err)
		}
		if !fresh {
			logging.Debug("useraction", "delivery %s already handled", in.DeliveryID)
			return Result{}, nil
		}
	}

	n, err := h.store.GetNotification(in.NotificationID)
	if errors.Is(err, store.ErrNotFound) {
		logging.Warn("useraction", "%s for unknown notification %s", in.Action, in.NotificationID)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load notification: %w", err)
	}
	if in.EventID == "" {
		in.EventID = n.EventID
	}

	switch in.Action {
	case types.ActionSnooze:
		return h.snooze(ctx, n, in, now, s)
	case types.ActionDismiss:
		return h.dismiss(ctx, n, in, now)
	case types.ActionOpen:
		return h.open(n, in, now)
	case types.ActionTimeout:
		return h.timeout(n, in, now, s)
	default:
		logging.Warn("useraction", "unknown action %q for %s", in.Action, n.ID)
		return Result{}, nil
	}
}

func (h *Handler) snooze(ctx context.Context, n types.Notification, in Input, now time.Time, s types.Settings) (Result, error) {
	if n.SnoozedUntil != nil && n.SnoozedUntil.After(now) &&
		n.SnoozedAt != nil && now.Sub(*n.SnoozedAt) < duplicateWindow {
		logging.Debug("useraction", "duplicate snooze for %s", n.ID)
		return Result{}, nil
	}

	mins := in.SnoozeMinutes
	if mins <= 0 {
		mins = s.SnoozeMinutes
	}
	if mins <= 0 {
		mins = DefaultSnoozeMinutes
	}
	until := now.Add(time.Duration(mins) * time.Minute)

	n.SnoozedUntil = &until
	n.SnoozedAt = &now
	n.SnoozeCount++
	if err := h.store.UpdateNotification(n); err != nil {
		return Result{}, fmt.Errorf("snooze %s: %w", n.ID, err)
	}
	h.retract(ctx, n.ID)

	if err := h.record(n, in, now, responseSeconds(n, now)); err != nil {
		return Result{}, err
	}
	h.converse(in, now, fmt.Sprintf("Snoozed %d min", mins))
	h.publish(in, &until)
	logging.Info("useraction", "snoozed %q until %s", n.Title, until.Format(time.Kitchen))
	return Result{Applied: true, SnoozeUntil: &until}, nil
}

func (h *Handler) dismiss(ctx context.Context, n types.Notification, in Input, now time.Time) (Result, error) {
	if n.Dismissed {
		logging.Debug("useraction", "%s already dismissed", n.ID)
		return Result{}, nil
	}
	n.Executed = true
	n.Dismissed = true
	n.SnoozedUntil = nil
	if err := h.store.UpdateNotification(n); err != nil {
		return Result{}, fmt.Errorf("dismiss %s: %w", n.ID, err)
	}
	h.retract(ctx, n.ID)

	if err := h.record(n, in, now, responseSeconds(n, now)); err != nil {
		return Result{}, err
	}
	if in.EventID != "" {
		if err := h.store.IncrementNotificationCount(in.EventID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			logging.Warn("useraction", "count notification for %s: %v", in.EventID, err)
		}
	}
	h.converse(in, now, "Got it")
	h.publish(in, nil)
	return Result{Applied: true}, nil
}

func (h *Handler) open(n types.Notification, in Input, now time.Time) (Result, error) {
	if n.Executed {
		logging.Debug("useraction", "%s already opened", n.ID)
		return Result{}, nil
	}
	n.Executed = true
	n.SnoozedUntil = nil
	if err := h.store.UpdateNotification(n); err != nil {
		return Result{}, fmt.Errorf("open %s: %w", n.ID, err)
	}
	if err := h.record(n, in, now, 0); err != nil {
		return Result{}, err
	}
	h.converse(in, now, "Opened")
	h.publish(in, nil)
	return Result{Applied: true}, nil
}

// timeout logs IGNORED unless the user already acted. The state check runs
// before the write so a late timeout never overwrites a real response.
func (h *Handler) timeout(n types.Notification, in Input, now time.Time, s types.Settings) (Result, error) {
	if n.Executed || n.Dismissed {
		return Result{}, nil
	}
	prior, err := h.store.ResponsesFor(n.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load responses: %w", err)
	}
	for _, r := range prior {
		if r.Action == types.ActionIgnored {
			return Result{}, nil
		}
	}

	in.Action = types.ActionIgnored
	if err := h.record(n, in, now, int64(s.Normalize().NotificationTimeoutMinutes)*60); err != nil {
		return Result{}, err
	}
	h.publish(in, nil)
	logging.Debug("useraction", "%q ignored", n.Title)
	return Result{Applied: true}, nil
}

func (h *Handler) record(n types.Notification, in Input, now time.Time, secs int64) error {
	err := h.store.AppendResponse(types.ResponseEntry{
		NotificationID:  n.ID,
		EventID:         in.EventID,
		Action:          in.Action,
		ResponseSeconds: secs,
		At:              now,
	})
	if err != nil {
		return fmt.Errorf("log response: %w", err)
	}
	h.metrics.UserResponse(string(in.Action))
	return nil
}

func (h *Handler) converse(in Input, now time.Time, text string) {
	err := h.store.AppendConversation(types.ConversationEntry{
		ThreadID: types.ThreadID(in.EventID),
		Role:     types.RoleUser,
		Content:  text,
		At:       now,
	})
	if err != nil {
		logging.Warn("useraction", "log conversation: %v", err)
	}
}

func (h *Handler) retract(ctx context.Context, id string) {
	if h.retractor == nil {
		return
	}
	if err := h.retractor.Retract(ctx, id); err != nil {
		logging.Debug("useraction", "retract %s: %v", id, err)
	}
}

func (h *Handler) publish(in Input, until *time.Time) {
	h.bus.PublishUserResponded(eventbus.UserRespondedPayload{
		NotificationID: in.NotificationID,
		EventID:        in.EventID,
		Action:         in.Action,
		SnoozeUntil:    until,
	})
}

func responseSeconds(n types.Notification, now time.Time) int64 {
	secs := int64(now.Sub(n.ScheduledTime) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
