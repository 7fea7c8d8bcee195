// Package collector turns a channel's raw platform history into an archive.
package collector

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/onnwee/chat-archiver/archive"
	"github.com/onnwee/chat-archiver/platform"
	"github.com/onnwee/chat-archiver/telemetry"
)

// Collector captures full channel histories.
type Collector struct {
	source platform.HistorySource
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Collector.
type Option func(*Collector)

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) Option { return func(c *Collector) { c.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Collector) { c.logger = l } }

// New returns a Collector reading history from source.
func New(source platform.HistorySource, opts ...Option) *Collector {
	c := &Collector{source: source, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Capture fetches the channel's entire history and returns it as an archive,
// oldest message first. Any retrieval error yields *archive.CollectionError and
// no archive; an empty channel yields an archive with zero messages.
func (c *Collector) Capture(ctx context.Context, ch platform.Channel) (*archive.Archive, error) {
	ctx, span := telemetry.StartSpan(ctx, "collector", "collector.capture", telemetry.ChannelAttr(ch.ID))
	defer span.End()

	createdAt := c.now().UTC().Truncate(time.Second)

	var (
		raw []platform.RawMessage
		err error
	)
	telemetry.TimeFunc(telemetry.CaptureDuration, func() {
		raw, err = c.source.History(ctx, ch)
	})
	if err != nil {
		cerr := &archive.CollectionError{ChannelID: ch.ID, Err: err}
		telemetry.RecordError(span, cerr)
		return nil, cerr
	}

	msgs := make([]archive.Message, 0, len(raw))
	for _, m := range raw {
		msgs = append(msgs, normalize(m))
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})

	telemetry.AddMessagesCaptured(len(msgs))
	c.logger.Debug("channel captured",
		slog.String("component", "collector"),
		slog.String("channel_id", ch.ID),
		slog.Int("messages", len(msgs)))
	telemetry.SetSpanSuccess(span)

	return &archive.Archive{
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		CreatedAt:   createdAt,
		Messages:    msgs,
	}, nil
}

// normalize keeps only the archived fields of a raw message.
func normalize(m platform.RawMessage) archive.Message {
	embeds := make([]archive.Embed, 0, len(m.Embeds))
	for _, e := range m.Embeds {
		embeds = append(embeds, archive.Embed{Title: e.Title, Description: e.Description})
	}
	return archive.Message{
		Author:    m.Author,
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC(),
		Embeds:    embeds,
	}
}
