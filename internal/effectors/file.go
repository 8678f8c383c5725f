package effectors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/types"
)

// FileRecord is one line of the file dispatcher's output.
type FileRecord struct {
	Op             string         `json:"op"` // "dispatch" or "retract"
	NotificationID string         `json:"notification_id"`
	EventID        string         `json:"event_id,omitempty"`
	Title          string         `json:"title,omitempty"`
	Message        string         `json:"message,omitempty"`
	Priority       types.Priority `json:"priority,omitempty"`
	Channel        string         `json:"channel,omitempty"`
	At             time.Time      `json:"at"`
}

// FileDispatcher appends notifications to a JSONL file instead of showing
// them. Every process dispatches through one, so the file is the complete
// record of what was sent.
type FileDispatcher struct {
	outputPath string
	now        func() time.Time
	mu         sync.Mutex
}

// NewFileDispatcher writes to state/system/notifications.jsonl
func NewFileDispatcher(statePath string) *FileDispatcher {
	return &FileDispatcher{
		outputPath: filepath.Join(statePath, "system", "notifications.jsonl"),
		now:        time.Now,
	}
}

func (d *FileDispatcher) Path() string { return d.outputPath }

func (d *FileDispatcher) Dispatch(_ context.Context, n types.Notification) error {
	logging.Info("file-dispatcher", "%s", logging.Truncate(Render(n, ""), 80))
	return d.append(FileRecord{
		Op:             "dispatch",
		NotificationID: n.ID,
		EventID:        n.EventID,
		Title:          n.Title,
		Message:        n.Message,
		Priority:       n.Priority,
		Channel:        n.Channel,
		At:             d.now(),
	})
}

func (d *FileDispatcher) Retract(_ context.Context, notificationID string) error {
	return d.append(FileRecord{Op: "retract", NotificationID: notificationID, At: d.now()})
}

func (d *FileDispatcher) append(rec FileRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(d.outputPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(d.outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Clear removes the output file
func (d *FileDispatcher) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.Remove(d.outputPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear output: %w", err)
	}
	return nil
}

// Multi fans a notification out to several dispatchers. The first error
// is returned after every dispatcher has been tried.
type Multi []types.Dispatcher

func (m Multi) Dispatch(ctx context.Context, n types.Notification) error {
	var first error
	for _, d := range m {
		if err := d.Dispatch(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Retract forwards to every dispatcher that can retract.
func (m Multi) Retract(ctx context.Context, notificationID string) error {
	var first error
	for _, d := range m {
		r, ok := d.(interface {
			Retract(context.Context, string) error
		})
		if !ok {
			continue
		}
		if err := r.Retract(ctx, notificationID); err != nil && first == nil {
			first = err
		}
	}
	return first
}
