// Package notify posts backup announcements to a per-guild notification channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/chat-archiver/archive"
	"github.com/onnwee/chat-archiver/platform"
	"github.com/onnwee/chat-archiver/telemetry"
	"github.com/onnwee/chat-archiver/viewer"
)

// DefaultChannel is the notification channel name used when none is configured.
const DefaultChannel = "backup-logs"

// Summary describes what is being announced. Ref is set for single-channel
// backups and selects a detail link; otherwise the notice links to the listing.
type Summary struct {
	CreatedAt   time.Time
	Ref         archive.Ref
	ChannelID   string
	ChannelName string
	Archived    int
	Failed      int
}

// Notifier announces backups. A nil *Notifier is a no-op.
type Notifier struct {
	messenger platform.Messenger
	links     viewer.Links
	channel   string
	logger    *slog.Logger
}

// New returns a Notifier posting to the channel named channelName in each guild.
func New(m platform.Messenger, links viewer.Links, channelName string, logger *slog.Logger) *Notifier {
	if channelName == "" {
		channelName = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		messenger: m,
		links:     links,
		channel:   channelName,
		logger:    logger.With(slog.String("component", "notify")),
	}
}

// Announce posts one notice for guild. Failures are logged and counted, never returned.
func (n *Notifier) Announce(ctx context.Context, guild platform.Guild, s Summary) {
	if n == nil || n.messenger == nil {
		return
	}
	ctx, span := telemetry.StartSpan(ctx, "notify", "notify.announce", telemetry.GuildAttr(guild.ID))
	defer span.End()

	logger := n.logger.With(slog.String("guild_id", guild.ID))
	ch, err := n.messenger.EnsureChannel(ctx, guild.ID, n.channel)
	if err != nil {
		telemetry.Inc(telemetry.NotifyFailures)
		telemetry.RecordError(span, err)
		logger.Warn("resolve notification channel", slog.String("channel", n.channel), slog.Any("err", err))
		return
	}
	if err := n.messenger.Send(ctx, ch.ID, n.notice(guild, s)); err != nil {
		telemetry.Inc(telemetry.NotifyFailures)
		telemetry.RecordError(span, err)
		logger.Warn("send notification", slog.String("channel_id", ch.ID), slog.Any("err", err))
		return
	}
	telemetry.SetSpanSuccess(span)
	logger.Debug("notification sent", slog.String("channel_id", ch.ID))
}

// channelLabel names the channel in plain text that reads the same on every platform.
func channelLabel(s Summary) string {
	if s.ChannelName != "" {
		return "#" + strings.TrimPrefix(s.ChannelName, "#")
	}
	return "channel " + s.ChannelID
}

func (n *Notifier) notice(guild platform.Guild, s Summary) platform.Notice {
	stamp := s.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC")
	if s.Ref != "" {
		return platform.Notice{
			Title:       "Channel backup saved",
			Description: fmt.Sprintf("Backup of %s captured at %s.", channelLabel(s), stamp),
			URL:         n.links.DetailURL(s.Ref),
			Timestamp:   s.CreatedAt,
		}
	}
	desc := fmt.Sprintf("Backup sweep of %s finished at %s: %d channels archived", guild.Name, stamp, s.Archived)
	if s.Failed > 0 {
		desc += fmt.Sprintf(", %d failed", s.Failed)
	}
	return platform.Notice{
		Title:       "Server backup complete",
		Description: desc + ".",
		URL:         n.links.ListURL(),
		Timestamp:   s.CreatedAt,
	}
}
