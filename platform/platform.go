// Package platform declares what the archiver needs from a chat platform:
// guild and channel enumeration, full channel history, and a way to post a
// notice into a named channel. The discord and chat (Twitch) packages
// implement it; tests use testutil.FakePlatform.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownChannel is returned by Directory.Channel for an id it cannot resolve.
var ErrUnknownChannel = errors.New("unknown channel")

// Guild is a server (or the single pseudo-guild of a platform without guilds).
type Guild struct {
	ID   string
	Name string
}

// Channel is a text channel that can be archived.
type Channel struct {
	ID      string
	Name    string
	GuildID string
}

// EmbedField is a name/value pair of a rich embed. It is never archived.
type EmbedField struct {
	Name  string
	Value string
}

// RawEmbed is a rich embed as the platform delivers it.
type RawEmbed struct {
	Title       string
	Description string
	URL         string
	Footer      string
	ImageURL    string
	Fields      []EmbedField
}

// RawMessage is a message as the platform delivers it.
type RawMessage struct {
	ID        string
	Author    string
	Content   string
	Timestamp time.Time
	Embeds    []RawEmbed
}

// Notice is a structured announcement posted by the notifier.
type Notice struct {
	Title       string
	Description string
	URL         string
	Timestamp   time.Time
}

// Directory enumerates guilds and their text channels.
type Directory interface {
	Guilds(ctx context.Context) ([]Guild, error)
	TextChannels(ctx context.Context, guildID string) ([]Channel, error)
	Channel(ctx context.Context, channelID string) (Channel, error)
}

// HistorySource returns a channel's complete history, oldest first.
// Pagination and request pacing are the implementation's concern.
type HistorySource interface {
	History(ctx context.Context, ch Channel) ([]RawMessage, error)
}

// Messenger resolves (creating if needed) a named notification channel and posts notices to it.
type Messenger interface {
	EnsureChannel(ctx context.Context, guildID, name string) (Channel, error)
	Send(ctx context.Context, channelID string, n Notice) error
}

// Platform is a full chat-platform collaborator.
type Platform interface {
	Directory
	HistorySource
	Messenger
}
