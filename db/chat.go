package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// ChatMessage is one recorded chat line.
type ChatMessage struct {
	Channel   string
	Username  string
	Message   string
	Timestamp time.Time
}

// InsertChatMessage appends a chat line to the history buffer.
func InsertChatMessage(ctx context.Context, dbc *sql.DB, m ChatMessage) error {
	_, err := dbc.ExecContext(ctx,
		`INSERT INTO chat_messages (channel, username, message, abs_timestamp) VALUES ($1,$2,$3,$4)`,
		m.Channel, m.Username, m.Message, m.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// ChatHistory returns every recorded line for channel, oldest first.
func ChatHistory(ctx context.Context, dbc *sql.DB, channel string) ([]ChatMessage, error) {
	rows, err := dbc.QueryContext(ctx,
		`SELECT channel, username, message, abs_timestamp FROM chat_messages WHERE channel=$1 ORDER BY abs_timestamp, id`,
		channel)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.Channel, &m.Username, &m.Message, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
