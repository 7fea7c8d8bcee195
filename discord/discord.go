// Package discord implements the platform interfaces on a discordgo session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/chat-archiver/platform"
)

// pageSize is the maximum number of messages the API returns per request.
const pageSize = 100

// api is the subset of *discordgo.Session used here.
type api interface {
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Client serves guilds, channels and history from Discord.
type Client struct {
	api    api
	guilds func() []*discordgo.Guild
	botID  func() string
	pace   time.Duration
	logger *slog.Logger
	close  func() error
}

var _ platform.Platform = (*Client)(nil)

// Open connects a bot session with the intents needed to read guild history.
func Open(token string, pace time.Duration, logger *slog.Logger) (*Client, error) {
	if token == "" {
		return nil, errors.New("discord: empty bot token")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent
	ready := make(chan struct{}, 1)
	s.AddHandlerOnce(func(_ *discordgo.Session, _ *discordgo.Ready) { ready <- struct{}{} })
	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord gateway: %w", err)
	}
	select {
	case <-ready:
	case <-time.After(30 * time.Second):
		_ = s.Close()
		return nil, errors.New("discord: timed out waiting for READY")
	}
	c := newClient(s, func() []*discordgo.Guild {
		s.State.RLock()
		defer s.State.RUnlock()
		return append([]*discordgo.Guild(nil), s.State.Guilds...)
	}, func() string {
		if s.State.User == nil {
			return ""
		}
		return s.State.User.ID
	}, pace, logger)
	c.close = s.Close
	c.logger.Info("discord session ready", slog.Int("guilds", len(c.guilds())))
	return c, nil
}

func newClient(a api, guilds func() []*discordgo.Guild, botID func() string, pace time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: a, guilds: guilds, botID: botID, pace: pace, logger: logger.With(slog.String("component", "discord"))}
}

// Close shuts the gateway connection.
func (c *Client) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

func (c *Client) Guilds(ctx context.Context) ([]platform.Guild, error) {
	gs := c.guilds()
	out := make([]platform.Guild, 0, len(gs))
	for _, g := range gs {
		if g.Unavailable {
			continue
		}
		out = append(out, platform.Guild{ID: g.ID, Name: g.Name})
	}
	return out, nil
}

func (c *Client) TextChannels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	chs, err := c.api.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("guild %s channels: %w", guildID, err)
	}
	out := make([]platform.Channel, 0, len(chs))
	for _, ch := range chs {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, platform.Channel{ID: ch.ID, Name: ch.Name, GuildID: guildID})
	}
	return out, nil
}

func (c *Client) Channel(ctx context.Context, id string) (platform.Channel, error) {
	ch, err := c.api.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		var rerr *discordgo.RESTError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode == 404 {
			return platform.Channel{}, fmt.Errorf("%w: %s", platform.ErrUnknownChannel, id)
		}
		return platform.Channel{}, fmt.Errorf("channel %s: %w", id, err)
	}
	if ch.Type != discordgo.ChannelTypeGuildText {
		return platform.Channel{}, fmt.Errorf("%w: %s is not a text channel", platform.ErrUnknownChannel, id)
	}
	return platform.Channel{ID: ch.ID, Name: ch.Name, GuildID: ch.GuildID}, nil
}

// History pages backwards through the channel and returns every message oldest first.
func (c *Client) History(ctx context.Context, ch platform.Channel) ([]platform.RawMessage, error) {
	var (
		all    []*discordgo.Message
		before string
	)
	for {
		page, err := c.api.ChannelMessages(ch.ID, pageSize, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("channel %s history before %q: %w", ch.ID, before, err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		before = page[len(page)-1].ID
		if c.pace > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pace):
			}
		}
	}

	out := make([]platform.RawMessage, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, convert(all[i]))
	}
	return out, nil
}

func convert(m *discordgo.Message) platform.RawMessage {
	rm := platform.RawMessage{ID: m.ID, Content: m.Content, Timestamp: m.Timestamp}
	if m.Author != nil {
		rm.Author = m.Author.Username
	}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		re := platform.RawEmbed{Title: e.Title, Description: e.Description, URL: e.URL}
		if e.Footer != nil {
			re.Footer = e.Footer.Text
		}
		if e.Image != nil {
			re.ImageURL = e.Image.URL
		}
		for _, f := range e.Fields {
			if f != nil {
				re.Fields = append(re.Fields, platform.EmbedField{Name: f.Name, Value: f.Value})
			}
		}
		rm.Embeds = append(rm.Embeds, re)
	}
	return rm
}

// EnsureChannel finds the text channel called name or creates it read-only
// for @everyone and writable by the bot.
func (c *Client) EnsureChannel(ctx context.Context, guildID, name string) (platform.Channel, error) {
	chs, err := c.api.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Channel{}, fmt.Errorf("guild %s channels: %w", guildID, err)
	}
	for _, ch := range chs {
		if ch.Type == discordgo.ChannelTypeGuildText && strings.EqualFold(ch.Name, name) {
			return platform.Channel{ID: ch.ID, Name: ch.Name, GuildID: guildID}, nil
		}
	}

	const readOnly = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory
	overwrites := []*discordgo.PermissionOverwrite{{
		// the @everyone role shares the guild id
		ID:    guildID,
		Type:  discordgo.PermissionOverwriteTypeRole,
		Deny:  discordgo.PermissionSendMessages,
		Allow: readOnly,
	}}
	if bot := c.botID(); bot != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    bot,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: readOnly | discordgo.PermissionSendMessages | discordgo.PermissionEmbedLinks,
		})
	}
	created, err := c.api.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                "Channel backup announcements",
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Channel{}, fmt.Errorf("create channel %s in guild %s: %w", name, guildID, err)
	}
	c.logger.Info("notification channel created", slog.String("guild_id", guildID), slog.String("channel_id", created.ID))
	return platform.Channel{ID: created.ID, Name: created.Name, GuildID: guildID}, nil
}

// Send posts n as an embed.
func (c *Client) Send(ctx context.Context, channelID string, n platform.Notice) error {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Description,
		URL:         n.URL,
		Color:       0x5865F2,
	}
	if !n.Timestamp.IsZero() {
		embed.Timestamp = n.Timestamp.UTC().Format(time.RFC3339)
	}
	if n.URL != "" {
		embed.Fields = []*discordgo.MessageEmbedField{{Name: "View", Value: n.URL}}
	}
	if _, err := c.api.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send to %s: %w", channelID, err)
	}
	return nil
}
