package senses

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vthunder/chapelotas/internal/logging"
)

// NotificationResolver maps a Discord message back to the notification it
// carries. *effectors.DiscordDispatcher implements it.
type NotificationResolver interface {
	NotificationForMessageID(messageID string) (string, bool)
	NotificationFor(m *discordgo.Message) (string, bool)
}

// DiscordSense listens to the owner's commands and reactions on Discord
type DiscordSense struct {
	session   *discordgo.Session
	channelID string
	ownerID   string
	botID     string
	commands  *Commands
	resolver  NotificationResolver
	timeout   time.Duration
}

// DiscordConfig holds Discord connection settings
type DiscordConfig struct {
	Token     string
	ChannelID string
	OwnerID   string
}

// NewDiscordSense creates a new Discord sense. Bind must be called before
// Start; the dispatcher and commands are built on its session.
func NewDiscordSense(cfg DiscordConfig) (*DiscordSense, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	sense := &DiscordSense{
		session:   session,
		channelID: cfg.ChannelID,
		ownerID:   cfg.OwnerID,
		timeout:   30 * time.Second,
	}

	session.AddHandler(sense.handleMessage)
	session.AddHandler(sense.handleReaction)

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessageReactions

	return sense, nil
}

// Bind sets the commands to run and how reacted-to messages map back to
// notifications.
func (d *DiscordSense) Bind(commands *Commands, resolver NotificationResolver) {
	d.commands = commands
	d.resolver = resolver
}

// Start connects to Discord and begins listening
func (d *DiscordSense) Start() error {
	if d.commands == nil {
		return fmt.Errorf("discord sense started before Bind")
	}
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	d.botID = d.session.State.User.ID
	logging.Info("discord-sense", "Connected as %s", d.session.State.User.Username)
	return nil
}

// Stop disconnects from Discord
func (d *DiscordSense) Stop() error {
	return d.session.Close()
}

// Session returns the underlying Discord session (for sharing with effector)
func (d *DiscordSense) Session() *discordgo.Session {
	return d.session
}

// accept filters out the bot itself, other channels and, when an owner is
// configured, everyone else.
func (d *DiscordSense) accept(userID, channelID string) bool {
	if userID == "" || userID == d.botID {
		return false
	}
	if d.channelID != "" && channelID != d.channelID {
		return false
	}
	return d.ownerID == "" || userID == d.ownerID
}

func (d *DiscordSense) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || !d.accept(m.Author.ID, m.ChannelID) {
		return
	}

	msg := Message{
		Content:    m.Content,
		DeliveryID: "discord:" + m.ID,
	}
	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		msg.ReplyTo = d.resolve(s, ref.ChannelID, ref.MessageID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	reply, ok := d.commands.Execute(ctx, msg)
	if !ok {
		logging.Debug("discord-sense", "ignoring %q", logging.Truncate(m.Content, 50))
		return
	}
	d.reply(s, m.ChannelID, reply)
}

func (d *DiscordSense) handleReaction(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil || !d.accept(r.UserID, r.ChannelID) {
		return
	}

	nid := d.resolve(s, r.ChannelID, r.MessageID)
	if nid == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	deliveryID := fmt.Sprintf("discord:%s:%s:%s", r.MessageID, r.Emoji.Name, r.UserID)
	logging.Debug("discord-sense", "reaction %s on %s", r.Emoji.Name, nid)
	d.reply(s, r.ChannelID, d.commands.React(ctx, nid, r.Emoji.Name, deliveryID))
}

// resolve finds the notification behind a message, first from the
// dispatcher's memory, then from the message footer.
func (d *DiscordSense) resolve(s *discordgo.Session, channelID, messageID string) string {
	if d.resolver == nil {
		return ""
	}
	if nid, ok := d.resolver.NotificationForMessageID(messageID); ok {
		return nid
	}
	if channelID == "" {
		return ""
	}
	m, err := s.ChannelMessage(channelID, messageID)
	if err != nil {
		logging.Debug("discord-sense", "fetch message %s: %v", messageID, err)
		return ""
	}
	if nid, ok := d.resolver.NotificationFor(m); ok {
		return nid
	}
	return ""
}

func (d *DiscordSense) reply(s *discordgo.Session, channelID, text string) {
	if text == "" {
		return
	}
	if _, err := s.ChannelMessageSend(channelID, text); err != nil {
		logging.Warn("discord-sense", "reply: %v", err)
	}
}
