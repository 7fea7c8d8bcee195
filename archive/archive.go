// Package archive defines the persisted shape of a channel backup: the
// captured messages, the canonical JSON record, the filename scheme the
// archive index is derived from, and the error taxonomy shared by the
// collector, store, scheduler and viewer.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Embed is the part of a rich embed that survives capture.
type Embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Message is one captured chat message.
type Message struct {
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Embeds    []Embed   `json:"embeds"`
}

// Archive is one immutable capture of a channel's history, oldest message first.
type Archive struct {
	ChannelID   string
	ChannelName string
	CreatedAt   time.Time
	Messages    []Message
}

// Ref addresses a stored archive. It is the archive's bare filename.
type Ref string

func (r Ref) String() string { return string(r) }

// Entry is one row of the archive index derived from a directory listing.
type Entry struct {
	Ref       Ref       `json:"ref"`
	ChannelID string    `json:"channel_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Encode serializes the archive's messages into the canonical record: a JSON
// array of {author, content, timestamp, embeds}. Nil slices are written as [].
func Encode(a *Archive) ([]byte, error) {
	msgs := make([]Message, len(a.Messages))
	for i, m := range a.Messages {
		if m.Embeds == nil {
			m.Embeds = []Embed{}
		}
		msgs[i] = m
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(msgs); err != nil {
		return nil, fmt.Errorf("encode archive %s: %w", a.ChannelID, err)
	}
	return buf.Bytes(), nil
}

// Decode parses a canonical record. The top-level value must be an array;
// a null or object body is rejected.
func Decode(data []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("canonical record must be a JSON array")
	}
	var msgs []Message
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(&msgs); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after canonical record")
	}
	if msgs == nil {
		msgs = []Message{}
	}
	for i := range msgs {
		if msgs[i].Embeds == nil {
			msgs[i].Embeds = []Embed{}
		}
	}
	return msgs, nil
}
