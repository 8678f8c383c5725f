package effectors

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/chapelotas/internal/types"
)

func restError(code int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
}

func TestIsNonRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"generic", errors.New("network timeout"), false},
		{"400", restError(400), true},
		{"403", restError(403), true},
		{"429", restError(429), true},
		{"500", restError(500), false},
		{"503", restError(503), false},
		{"nil response", &discordgo.RESTError{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNonRetryableError(tt.err))
		})
	}
}

func TestDispatchWithoutSessionGivesUp(t *testing.T) {
	d := NewDiscordDispatcher(func() *discordgo.Session { return nil }, "chan", "").
		WithBackoff(func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) })

	err := d.Dispatch(context.Background(), types.Notification{ID: "n1", Message: "hi"})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRetractUnknownIsNoop(t *testing.T) {
	d := NewDiscordDispatcher(func() *discordgo.Session { return nil }, "chan", "")
	assert.NoError(t, d.Retract(context.Background(), "missing"))
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		n    types.Notification
		want string
	}{
		{
			name: "normal",
			n:    types.Notification{Title: "Dentist", Message: "In 10 minutes"},
			want: "⏰ **Dentist**\nIn 10 minutes",
		},
		{
			name: "title already in message",
			n:    types.Notification{Title: "Dentist", Message: "Dentist in 10 minutes"},
			want: "⏰ Dentist in 10 minutes",
		},
		{
			name: "critical mentions owner",
			n:    types.Notification{Message: "Board meeting NOW", Priority: types.PriorityHigh},
			want: "🚨 <@42> Board meeting NOW",
		},
		{
			name: "summary",
			n:    types.Notification{Message: "3 things today", Channel: types.ChannelSummary},
			want: "📋 3 things today",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.n, "42"))
		})
	}
}

func TestRefFromEmbeds(t *testing.T) {
	id, ok := RefFromEmbeds([]*discordgo.MessageEmbed{
		{Title: "no footer"},
		{Footer: &discordgo.MessageEmbedFooter{Text: "ref abc-123"}},
	})
	assert.True(t, ok)
	assert.Equal(t, "abc-123", id)

	_, ok = RefFromEmbeds([]*discordgo.MessageEmbed{{Footer: &discordgo.MessageEmbedFooter{Text: "something else"}}})
	assert.False(t, ok)
}

func TestNotificationForFallsBackToFooter(t *testing.T) {
	d := NewDiscordDispatcher(func() *discordgo.Session { return nil }, "chan", "")
	msg := &discordgo.Message{
		ID:     "m1",
		Embeds: []*discordgo.MessageEmbed{{Footer: &discordgo.MessageEmbedFooter{Text: "ref n9"}}},
	}
	id, ok := d.NotificationFor(msg)
	assert.True(t, ok)
	assert.Equal(t, "n9", id)

	_, ok = d.NotificationForMessageID("m1")
	assert.False(t, ok)
}

func TestFileDispatcherAppendsJSONL(t *testing.T) {
	d := NewFileDispatcher(t.TempDir())
	d.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }

	require.NoError(t, d.Dispatch(context.Background(), types.Notification{ID: "n1", EventID: "t1", Message: "hello"}))
	require.NoError(t, d.Retract(context.Background(), "n1"))

	f, err := os.Open(d.Path())
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"op":"dispatch"`)
	assert.Contains(t, lines[0], `"event_id":"t1"`)
	assert.Contains(t, lines[1], `"op":"retract"`)

	require.NoError(t, d.Clear())
	_, err = os.Stat(d.Path())
	assert.True(t, os.IsNotExist(err))
}

type countingDispatcher struct {
	n   int
	err error
}

func (c *countingDispatcher) Dispatch(context.Context, types.Notification) error {
	c.n++
	return c.err
}

func TestMultiTriesEveryDispatcher(t *testing.T) {
	a := &countingDispatcher{err: errors.New("down")}
	b := &countingDispatcher{}
	err := Multi{a, b}.Dispatch(context.Background(), types.Notification{ID: "n1"})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}
