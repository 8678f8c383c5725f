// Package tools registers the chapelotas MCP tools with dependency injection.
package tools

import (
	"context"
	"time"

	"github.com/vthunder/chapelotas/internal/activity"
	"github.com/vthunder/chapelotas/internal/control"
	"github.com/vthunder/chapelotas/internal/freetime"
	"github.com/vthunder/chapelotas/internal/monkey"
	"github.com/vthunder/chapelotas/internal/types"
	"github.com/vthunder/chapelotas/internal/useraction"
)

// Operations is what the tools can do. *control.Control implements it.
type Operations interface {
	Settings() types.Settings
	Tasks() ([]types.Task, error)
	Acknowledge(ctx context.Context, ref string) (types.Task, error)
	Finish(ctx context.Context, ref string) (types.Task, error)
	AddTask(ctx context.Context, nt control.NewTask) (types.Task, error)
	PlanEvent(ctx context.Context, ref string) (int, error)
	Respond(ctx context.Context, in useraction.Input) (useraction.Result, error)
	Snooze(ctx context.Context, notificationID string, minutes int, deliveryID string) (useraction.Result, error)
	FreeSlots(day time.Time) ([]freetime.Slot, error)
	Schedule(day time.Time) (freetime.Day, error)
	Status() (control.Status, error)
	Tick(ctx context.Context, reason string) (monkey.Report, error)
	Resync(ctx context.Context) (int, error)
}

// Dependencies holds everything the tools need.
type Dependencies struct {
	Ops Operations

	// Optional; recent_activity is only registered when set
	Activity *activity.Log

	// Now defaults to time.Now. Dates without a zone are read in its location.
	Now func() time.Time

	// If set, called with the tool name after every call
	OnToolCall func(toolName string)
}

func (d *Dependencies) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Dependencies) called(name string) {
	if d.OnToolCall != nil {
		d.OnToolCall(name)
	}
}
