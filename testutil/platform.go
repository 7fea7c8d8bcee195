// Package testutil provides fakes and fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onnwee/chat-archiver/platform"
)

// SentNotice records one notice delivered through FakePlatform.Send.
type SentNotice struct {
	ChannelID string
	Notice    platform.Notice
}

// FakePlatform is an in-memory platform.Platform.
type FakePlatform struct {
	mu sync.Mutex

	guilds     []platform.Guild
	channels   map[string][]platform.Channel
	histories  map[string][]platform.RawMessage
	historyErr map[string]error
	listErr    map[string]error
	calls      map[string]int
	notify     map[string]platform.Channel
	sent       []SentNotice

	// GuildsErr, EnsureErr and SendErr force the corresponding call to fail.
	GuildsErr error
	EnsureErr error
	SendErr   error
	// HistoryHook runs inside History before it returns; tests use it to block or panic.
	HistoryHook func(ch platform.Channel)
}

// NewFakePlatform returns an empty fake.
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		channels:   make(map[string][]platform.Channel),
		histories:  make(map[string][]platform.RawMessage),
		historyErr: make(map[string]error),
		listErr:    make(map[string]error),
		calls:      make(map[string]int),
		notify:     make(map[string]platform.Channel),
	}
}

// AddChannel registers ch under guild (adding the guild on first use) with the given history.
func (f *FakePlatform) AddChannel(guild platform.Guild, ch platform.Channel, msgs ...platform.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[guild.ID]; !ok {
		f.guilds = append(f.guilds, guild)
	}
	ch.GuildID = guild.ID
	f.channels[guild.ID] = append(f.channels[guild.ID], ch)
	f.histories[ch.ID] = msgs
}

// FailHistory makes History for channelID return err.
func (f *FakePlatform) FailHistory(channelID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyErr[channelID] = err
}

// FailChannels makes TextChannels for guildID return err.
func (f *FakePlatform) FailChannels(guildID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr[guildID] = err
}

// Guilds implements platform.Directory.
func (f *FakePlatform) Guilds(ctx context.Context) ([]platform.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GuildsErr != nil {
		return nil, f.GuildsErr
	}
	return append([]platform.Guild(nil), f.guilds...), nil
}

// TextChannels implements platform.Directory.
func (f *FakePlatform) TextChannels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[guildID]; err != nil {
		return nil, err
	}
	return append([]platform.Channel(nil), f.channels[guildID]...), nil
}

// Channel implements platform.Directory.
func (f *FakePlatform) Channel(ctx context.Context, channelID string) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, chs := range f.channels {
		for _, ch := range chs {
			if ch.ID == channelID {
				return ch, nil
			}
		}
	}
	return platform.Channel{}, fmt.Errorf("%w: %s", platform.ErrUnknownChannel, channelID)
}

// History implements platform.HistorySource.
func (f *FakePlatform) History(ctx context.Context, ch platform.Channel) ([]platform.RawMessage, error) {
	f.mu.Lock()
	f.calls[ch.ID]++
	hook := f.HistoryHook
	msgs := append([]platform.RawMessage(nil), f.histories[ch.ID]...)
	err := f.historyErr[ch.ID]
	f.mu.Unlock()

	if hook != nil {
		hook(ch)
	}
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// EnsureChannel implements platform.Messenger.
func (f *FakePlatform) EnsureChannel(ctx context.Context, guildID, name string) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnsureErr != nil {
		return platform.Channel{}, f.EnsureErr
	}
	if ch, ok := f.notify[guildID]; ok {
		return ch, nil
	}
	ch := platform.Channel{ID: "notify-" + guildID, Name: name, GuildID: guildID}
	f.notify[guildID] = ch
	return ch, nil
}

// Send implements platform.Messenger.
func (f *FakePlatform) Send(ctx context.Context, channelID string, n platform.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.sent = append(f.sent, SentNotice{ChannelID: channelID, Notice: n})
	return nil
}

// HistoryCalls returns how many times History ran for channelID.
func (f *FakePlatform) HistoryCalls(channelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[channelID]
}

// TotalHistoryCalls returns the number of History calls across all channels.
func (f *FakePlatform) TotalHistoryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Sent returns a copy of every delivered notice.
func (f *FakePlatform) Sent() []SentNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentNotice(nil), f.sent...)
}

// Messages builds n raw messages one second apart starting at start.
func Messages(author string, start time.Time, n int) []platform.RawMessage {
	out := make([]platform.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, platform.RawMessage{
			ID:        fmt.Sprintf("%s-%d", author, i),
			Author:    author,
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: start.Add(time.Duration(i) * time.Second),
		})
	}
	return out
}
