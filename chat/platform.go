package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/onnwee/chat-archiver/platform"
)

// Platform serves Twitch channels through the platform interfaces. Each
// broadcaster login is a guild holding one text channel of the same name.
type Platform struct {
	irc      IRC
	history  History
	channels []string
}

var _ platform.Platform = (*Platform)(nil)

// NewPlatform returns a Platform over the given channel logins.
func NewPlatform(irc IRC, history History, channels []string) *Platform {
	p := &Platform{irc: irc, history: history}
	seen := map[string]bool{}
	for _, c := range channels {
		c = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c), "#"))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		p.channels = append(p.channels, c)
	}
	return p
}

// ChannelID maps a login to an archive-safe id. Logins may contain '_',
// which archive filenames reserve as the timestamp separator.
func ChannelID(login string) string { return strings.ReplaceAll(login, "_", "-") }

func (p *Platform) channel(login string) platform.Channel {
	return platform.Channel{ID: ChannelID(login), Name: login, GuildID: login}
}

func (p *Platform) Guilds(ctx context.Context) ([]platform.Guild, error) {
	out := make([]platform.Guild, 0, len(p.channels))
	for _, c := range p.channels {
		out = append(out, platform.Guild{ID: c, Name: c})
	}
	return out, nil
}

func (p *Platform) TextChannels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	for _, c := range p.channels {
		if c == guildID {
			return []platform.Channel{p.channel(c)}, nil
		}
	}
	return nil, fmt.Errorf("unknown twitch channel %q", guildID)
}

func (p *Platform) Channel(ctx context.Context, id string) (platform.Channel, error) {
	for _, c := range p.channels {
		if ChannelID(c) == id || c == strings.ToLower(id) {
			return p.channel(c), nil
		}
	}
	return platform.Channel{}, fmt.Errorf("%w: %s", platform.ErrUnknownChannel, id)
}

// History returns every buffered line for ch, oldest first.
func (p *Platform) History(ctx context.Context, ch platform.Channel) ([]platform.RawMessage, error) {
	rows, err := p.history.ChatHistory(ctx, ch.Name)
	if err != nil {
		return nil, err
	}
	out := make([]platform.RawMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, platform.RawMessage{
			Author:    r.Username,
			Content:   r.Message,
			Timestamp: r.Timestamp,
		})
	}
	return out, nil
}

// EnsureChannel resolves to the broadcaster's own chat; Twitch has no side channels.
func (p *Platform) EnsureChannel(ctx context.Context, guildID, name string) (platform.Channel, error) {
	for _, c := range p.channels {
		if c == guildID {
			return p.channel(c), nil
		}
	}
	return platform.Channel{}, fmt.Errorf("%w: %s", platform.ErrUnknownChannel, guildID)
}

// Send posts n as a single chat line.
func (p *Platform) Send(ctx context.Context, channelID string, n platform.Notice) error {
	ch, err := p.Channel(ctx, channelID)
	if err != nil {
		return err
	}
	text := n.Title
	if n.URL != "" {
		text += " " + n.URL
	}
	p.irc.Say(ch.Name, text)
	return nil
}
