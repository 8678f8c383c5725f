// Package effectors shows notifications to the user.
package effectors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v4"

	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/types"
)

// Reaction buttons attached to every reminder. The Discord sense maps them
// back to user actions.
const (
	ReactionDismiss = "✅"
	ReactionSnooze  = "💤"
	ReactionOpen    = "👀"

	footerPrefix = "ref "
)

// ErrNoSession is returned while the Discord session is not connected.
var ErrNoSession = errors.New("discord session not available")

type sentMessage struct {
	channelID string
	messageID string
	content   string
}

// DiscordDispatcher posts notifications to a Discord channel or DM.
type DiscordDispatcher struct {
	getSession   func() *discordgo.Session
	channelID    string
	ownerID      string
	buildBackoff func() backoff.BackOff

	mu   sync.Mutex
	sent map[string]sentMessage // notification id -> message
	refs map[string]string      // message id -> notification id
}

// NewDiscordDispatcher creates a dispatcher. getSession is called on every
// dispatch so a reconnecting sense can swap the session underneath.
func NewDiscordDispatcher(getSession func() *discordgo.Session, channelID, ownerID string) *DiscordDispatcher {
	return &DiscordDispatcher{
		getSession: getSession,
		channelID:  channelID,
		ownerID:    ownerID,
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 8 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
		sent: make(map[string]sentMessage),
		refs: make(map[string]string),
	}
}

// WithBackoff overrides the retry policy
func (d *DiscordDispatcher) WithBackoff(factory func() backoff.BackOff) *DiscordDispatcher {
	d.buildBackoff = factory
	return d
}

// Dispatch sends n and attaches the reaction buttons. Transient failures
// are retried; client errors (4xx) are not.
func (d *DiscordDispatcher) Dispatch(ctx context.Context, n types.Notification) error {
	msg := &discordgo.MessageSend{
		Content: Render(n, d.ownerID),
		Embeds: []*discordgo.MessageEmbed{{
			Footer: &discordgo.MessageEmbedFooter{Text: footerPrefix + n.ID},
		}},
		AllowedMentions: &discordgo.MessageAllowedMentions{Users: mentionable(d.ownerID, n)},
	}

	var sent *discordgo.Message
	err := d.retry(ctx, func(s *discordgo.Session) error {
		var err error
		sent, err = s.ChannelMessageSendComplex(d.channelID, msg, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("send %s: %w", n.ID, err)
	}

	d.mu.Lock()
	d.sent[n.ID] = sentMessage{channelID: sent.ChannelID, messageID: sent.ID, content: msg.Content}
	d.refs[sent.ID] = n.ID
	d.mu.Unlock()

	for _, emoji := range []string{ReactionDismiss, ReactionSnooze, ReactionOpen} {
		if err := d.getSession().MessageReactionAdd(sent.ChannelID, sent.ID, emoji); err != nil {
			logging.Debug("discord", "add %s to %s: %v", emoji, sent.ID, err)
		}
	}
	logging.Debug("discord", "sent %s as message %s", n.ID, sent.ID)
	return nil
}

// Retract strikes through a message the user has already handled.
func (d *DiscordDispatcher) Retract(ctx context.Context, notificationID string) error {
	d.mu.Lock()
	m, ok := d.sent[notificationID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return d.retry(ctx, func(s *discordgo.Session) error {
		_, err := s.ChannelMessageEdit(m.channelID, m.messageID, "~~"+m.content+"~~", discordgo.WithContext(ctx))
		return err
	})
}

// NotificationFor resolves the notification a Discord message carries,
// from memory or from the message footer.
func (d *DiscordDispatcher) NotificationFor(msg *discordgo.Message) (string, bool) {
	if msg == nil {
		return "", false
	}
	d.mu.Lock()
	id, ok := d.refs[msg.ID]
	d.mu.Unlock()
	if ok {
		return id, true
	}
	return RefFromEmbeds(msg.Embeds)
}

// NotificationForMessageID is NotificationFor without the message body.
func (d *DiscordDispatcher) NotificationForMessageID(messageID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.refs[messageID]
	return id, ok
}

func (d *DiscordDispatcher) retry(ctx context.Context, op func(*discordgo.Session) error) error {
	return backoff.Retry(func() error {
		s := d.getSession()
		if s == nil {
			return ErrNoSession
		}
		err := op(s)
		if err != nil && isNonRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(d.buildBackoff(), ctx))
}

// Render formats a notification as Discord markdown. High priority
// messages mention the owner so the phone rings.
func Render(n types.Notification, ownerID string) string {
	var b strings.Builder
	switch {
	case n.Priority == types.PriorityHigh:
		b.WriteString("🚨 ")
		if ownerID != "" {
			fmt.Fprintf(&b, "<@%s> ", ownerID)
		}
	case n.Channel == types.ChannelSummary:
		b.WriteString("📋 ")
	default:
		b.WriteString("⏰ ")
	}
	if n.Title != "" && !strings.Contains(n.Message, n.Title) {
		fmt.Fprintf(&b, "**%s**\n", n.Title)
	}
	b.WriteString(n.Message)
	return b.String()
}

// RefFromEmbeds extracts the notification id from a footer written by
// Dispatch.
func RefFromEmbeds(embeds []*discordgo.MessageEmbed) (string, bool) {
	for _, e := range embeds {
		if e == nil || e.Footer == nil {
			continue
		}
		if id, ok := strings.CutPrefix(e.Footer.Text, footerPrefix); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

func mentionable(ownerID string, n types.Notification) []string {
	if ownerID == "" || n.Priority != types.PriorityHigh {
		return []string{}
	}
	return []string{ownerID}
}

// isNonRetryableError reports whether Discord rejected the request itself
// (HTTP 4xx). Retrying those never helps.
func isNonRetryableError(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode >= 400 && restErr.Response.StatusCode < 500
	}
	return false
}
