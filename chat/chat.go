package chat

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chat-archiver/db"
)

// IRC is the subset of *twitch.Client the package uses.
type IRC interface {
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// History buffers chat lines per channel.
type History interface {
	InsertChatMessage(ctx context.Context, m db.ChatMessage) error
	ChatHistory(ctx context.Context, channel string) ([]db.ChatMessage, error)
}

// PostgresHistory stores chat lines in the chat_messages table.
type PostgresHistory struct{ DB *sql.DB }

func (p PostgresHistory) InsertChatMessage(ctx context.Context, m db.ChatMessage) error {
	return db.InsertChatMessage(ctx, p.DB, m)
}

func (p PostgresHistory) ChatHistory(ctx context.Context, channel string) ([]db.ChatMessage, error) {
	return db.ChatHistory(ctx, p.DB, channel)
}

// Recorder persists every message seen in the joined channels.
type Recorder struct {
	client   IRC
	history  History
	channels []string
	logger   *slog.Logger

	mu        sync.Mutex
	connected bool
}

// NewRecorder wires client to history for the given channel logins.
func NewRecorder(client IRC, history History, channels []string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	normalized := make([]string, 0, len(channels))
	for _, c := range channels {
		if c = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c), "#")); c != "" {
			normalized = append(normalized, c)
		}
	}
	r := &Recorder{
		client:   client,
		history:  history,
		channels: normalized,
		logger:   logger.With(slog.String("component", "chat_recorder")),
	}
	client.OnPrivateMessage(r.handle)
	return r
}

func (r *Recorder) handle(msg twitch.PrivateMessage) {
	ts := msg.Time.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	author := msg.User.DisplayName
	if author == "" {
		author = msg.User.Name
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.history.InsertChatMessage(ctx, db.ChatMessage{
		Channel:   strings.ToLower(msg.Channel),
		Username:  author,
		Message:   msg.Message,
		Timestamp: ts,
	})
	if err != nil {
		r.logger.Error("failed to insert chat message", slog.String("channel", msg.Channel), slog.Any("err", err))
	}
}

// Connected reports whether the IRC connection is up.
func (r *Recorder) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Run joins the channels and blocks until ctx is cancelled or the connection fails.
func (r *Recorder) Run(ctx context.Context) error {
	if len(r.channels) == 0 {
		r.logger.Info("no twitch channels configured; recorder idle")
		<-ctx.Done()
		return nil
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := r.client.Disconnect(); err != nil {
				r.logger.Debug("disconnect", slog.Any("err", err))
			}
		case <-done:
		}
	}()
	defer close(done)

	r.client.Join(r.channels...)
	r.setConnected(true)
	defer r.setConnected(false)
	r.logger.Info("chat recorder connecting", slog.Any("channels", r.channels))

	err := r.client.Connect()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		r.logger.Error("twitch chat connect error", slog.Any("err", err))
	}
	return err
}

func (r *Recorder) setConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}
