// Package events publishes sweep and backup completions to NATS so other
// services can react to new archives.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/onnwee/chat-archiver/scheduler"
	"github.com/onnwee/chat-archiver/viewer"
)

const (
	SubjectSweep  = "archiver.sweep.completed"
	SubjectBackup = "archiver.backup.completed"
)

// SweepEvent is published once per finished sweep.
type SweepEvent struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Archived   int       `json:"archived"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// BackupEvent is published for every channel backup, successful or not.
type BackupEvent struct {
	Trigger   string    `json:"trigger"`
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id"`
	OK        bool      `json:"ok"`
	Ref       string    `json:"ref,omitempty"`
	URL       string    `json:"url,omitempty"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Publisher sends events on a NATS connection.
type Publisher struct {
	conn   conn
	links  viewer.Links
	logger *slog.Logger
}

// Connect dials url, retrying in the background until the server is reachable.
func Connect(url, token string, links viewer.Links, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "events"))
	opts := []nats.Option{
		nats.Name("chat-archiver"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("err", err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newPublisher(nc, links, logger), nil
}

func newPublisher(c conn, links viewer.Links, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: c, links: links, logger: logger}
}

func (p *Publisher) publish(subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishSweep is a scheduler.OnSweep hook. Errors are logged.
func (p *Publisher) PublishSweep(_ context.Context, s scheduler.SweepSummary) {
	ev := SweepEvent{
		ID:         s.ID,
		Trigger:    string(s.Trigger),
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Archived:   s.Archived(),
		Failed:     s.Failed(),
	}
	if s.Err != nil {
		ev.Error = s.Err.Error()
	}
	if err := p.publish(SubjectSweep, ev); err != nil {
		p.logger.Warn("sweep event dropped", slog.String("sweep_id", s.ID), slog.Any("err", err))
	}
}

// PublishBackup is a scheduler.OnBackup hook. Errors are logged.
func (p *Publisher) PublishBackup(_ context.Context, trigger scheduler.Trigger, r scheduler.ChannelResult) {
	ev := BackupEvent{
		Trigger:   string(trigger),
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		OK:        r.OK,
		Messages:  r.Messages,
		CreatedAt: r.CreatedAt,
	}
	if r.Ref != "" {
		ev.Ref = string(r.Ref)
		ev.URL = p.links.DetailURL(r.Ref)
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}
	if err := p.publish(SubjectBackup, ev); err != nil {
		p.logger.Warn("backup event dropped", slog.String("channel_id", r.ChannelID), slog.Any("err", err))
	}
}

// Close closes the connection.
func (p *Publisher) Close() { p.conn.Close() }
