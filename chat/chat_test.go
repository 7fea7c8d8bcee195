package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/oauth2"

	"github.com/onnwee/chat-archiver/db"
	"github.com/onnwee/chat-archiver/platform"
)

type fakeIRC struct {
	mu        sync.Mutex
	handler   func(twitch.PrivateMessage)
	joined    []string
	said      [][2]string
	connected chan struct{}
	stop      chan struct{}
}

func newFakeIRC() *fakeIRC {
	return &fakeIRC{connected: make(chan struct{}), stop: make(chan struct{})}
}

func (f *fakeIRC) OnPrivateMessage(h func(twitch.PrivateMessage)) { f.handler = h }
func (f *fakeIRC) Join(ch ...string)                               { f.joined = append(f.joined, ch...) }

func (f *fakeIRC) Say(channel, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, [2]string{channel, text})
}

func (f *fakeIRC) Connect() error {
	close(f.connected)
	<-f.stop
	return twitch.ErrClientDisconnected
}

func (f *fakeIRC) Disconnect() error {
	close(f.stop)
	return nil
}

type memHistory struct {
	mu   sync.Mutex
	rows []db.ChatMessage
	err  error
}

func (m *memHistory) InsertChatMessage(_ context.Context, msg db.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, msg)
	return nil
}

func (m *memHistory) ChatHistory(_ context.Context, channel string) ([]db.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []db.ChatMessage
	for _, r := range m.rows {
		if r.Channel == channel {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestRecorderPersistsMessages(t *testing.T) {
	irc := newFakeIRC()
	hist := &memHistory{}
	rec := NewRecorder(irc, hist, []string{"#Some_Streamer", " "}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- rec.Run(ctx) }()
	<-irc.connected

	if len(irc.joined) != 1 || irc.joined[0] != "some_streamer" {
		t.Fatalf("joined = %v", irc.joined)
	}
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	irc.handler(twitch.PrivateMessage{
		User:    twitch.User{Name: "viewer", DisplayName: "Viewer"},
		Channel: "some_streamer",
		Message: "hi <3",
		Time:    at,
	})
	irc.handler(twitch.PrivateMessage{User: twitch.User{Name: "lurker"}, Channel: "some_streamer", Message: "o/"})

	if !rec.Connected() {
		t.Error("recorder not reporting connected")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run returned %v after cancel", err)
	}

	rows, _ := hist.ChatHistory(context.Background(), "some_streamer")
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Username != "Viewer" || !rows[0].Timestamp.Equal(at) {
		t.Errorf("first row = %+v", rows[0])
	}
	if rows[1].Username != "lurker" || rows[1].Timestamp.IsZero() {
		t.Errorf("second row = %+v", rows[1])
	}
}

func TestPlatformDirectory(t *testing.T) {
	p := NewPlatform(newFakeIRC(), &memHistory{}, []string{"Some_Streamer", "other", "other"})
	ctx := context.Background()

	guilds, _ := p.Guilds(ctx)
	if len(guilds) != 2 {
		t.Fatalf("guilds = %+v", guilds)
	}
	chs, err := p.TextChannels(ctx, "some_streamer")
	if err != nil || len(chs) != 1 {
		t.Fatalf("channels = %+v, %v", chs, err)
	}
	if chs[0].ID != "some-streamer" || chs[0].Name != "some_streamer" {
		t.Fatalf("channel = %+v", chs[0])
	}
	if _, err := p.Channel(ctx, "some-streamer"); err != nil {
		t.Fatalf("Channel by id: %v", err)
	}
	if _, err := p.Channel(ctx, "nobody"); !errors.Is(err, platform.ErrUnknownChannel) {
		t.Fatalf("err = %v", err)
	}
}

func TestPlatformHistoryAndSend(t *testing.T) {
	irc := newFakeIRC()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hist := &memHistory{rows: []db.ChatMessage{
		{Channel: "foo", Username: "a", Message: "one", Timestamp: at},
		{Channel: "bar", Username: "b", Message: "other", Timestamp: at},
	}}
	p := NewPlatform(irc, hist, []string{"foo", "bar"})
	ctx := context.Background()

	msgs, err := p.History(ctx, platform.Channel{ID: "foo", Name: "foo"})
	if err != nil || len(msgs) != 1 || msgs[0].Content != "one" {
		t.Fatalf("history = %+v, %v", msgs, err)
	}

	ch, err := p.EnsureChannel(ctx, "foo", "backup-logs")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Send(ctx, ch.ID, platform.Notice{Title: "Channel backup saved", URL: "https://b.test/logs/foo_1.json"}); err != nil {
		t.Fatal(err)
	}
	if len(irc.said) != 1 || irc.said[0][0] != "foo" || irc.said[0][1] != "Channel backup saved https://b.test/logs/foo_1.json" {
		t.Fatalf("said = %v", irc.said)
	}
}

func TestIRCTokenStatic(t *testing.T) {
	tok, err := IRCToken(context.Background(), Credentials{OAuthToken: "abc"}, nil)
	if err != nil || tok != "oauth:abc" {
		t.Fatalf("token = %q, %v", tok, err)
	}
	if _, err := IRCToken(context.Background(), Credentials{}, nil); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestIRCTokenRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("refresh_token") != "rt" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	creds := Credentials{ClientID: "id", ClientSecret: "secret", RefreshToken: "rt", OAuthToken: "stale"}
	ep := &oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams}
	tok, err := IRCToken(context.Background(), creds, ep)
	if err != nil {
		t.Fatalf("IRCToken: %v", err)
	}
	if tok != "oauth:fresh" {
		t.Fatalf("token = %q", tok)
	}
}
