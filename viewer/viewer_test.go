package viewer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chat-archiver/archive"
	"github.com/onnwee/chat-archiver/store"
)

func newFixture(t *testing.T) (*store.FileStore, *Service) {
	t.Helper()
	st, err := store.New(t.TempDir(), archive.PolicyVersioned)
	if err != nil {
		t.Fatal(err)
	}
	return st, New(st, Links{BaseURL: "https://backups.example.com/"}, nil)
}

func write(t *testing.T, st *store.FileStore, id string, at time.Time, msgs ...archive.Message) archive.Ref {
	t.Helper()
	if msgs == nil {
		msgs = []archive.Message{}
	}
	ref, err := st.Write(context.Background(), &archive.Archive{ChannelID: id, CreatedAt: at, Messages: msgs})
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

func TestLinks(t *testing.T) {
	l := Links{BaseURL: "https://x.test/"}
	if got := l.ListURL(); got != "https://x.test/view" {
		t.Errorf("ListURL = %q", got)
	}
	if got := l.DetailURL("123_456.json"); got != "https://x.test/logs/123_456.json" {
		t.Errorf("DetailURL = %q", got)
	}
	if got := l.RawURL("a b.json"); got != "https://x.test/backups/a%20b.json" {
		t.Errorf("RawURL = %q", got)
	}
	if got := (Links{}).ListURL(); got != "/view" {
		t.Errorf("relative ListURL = %q", got)
	}
}

func TestListingNewestFirst(t *testing.T) {
	st, v := newFixture(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	oldRef := write(t, st, "200", base)
	newRef := write(t, st, "200", base.Add(time.Hour))
	write(t, st, "100", base)

	groups, err := v.Listing(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 || groups[0].ChannelID != "100" || groups[1].ChannelID != "200" {
		t.Fatalf("groups = %+v", groups)
	}
	e := groups[1].Entries
	if len(e) != 2 || e[0].Ref != newRef || e[1].Ref != oldRef {
		t.Fatalf("entries not newest-first: %+v", e)
	}
	if e[0].DetailURL != "https://backups.example.com/logs/"+string(newRef) {
		t.Fatalf("DetailURL = %q", e[0].DetailURL)
	}

	page := v.ListView(context.Background())
	if page.Status != StatusOK {
		t.Fatalf("status = %v", page.Status)
	}
	html := string(page.HTML)
	if strings.Index(html, string(newRef)) > strings.Index(html, string(oldRef)) {
		t.Fatal("listing renders older archive first")
	}
}

func TestListViewEmpty(t *testing.T) {
	_, v := newFixture(t)
	page := v.ListView(context.Background())
	if page.Status != StatusOK || !strings.Contains(string(page.HTML), "No backups yet") {
		t.Fatalf("page = %v %s", page.Status, page.HTML)
	}
}

func TestDetailViewEscapesContent(t *testing.T) {
	st, v := newFixture(t)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ref := write(t, st, "100", at, archive.Message{
		Author:    `<img src=x onerror="alert(1)">`,
		Content:   `<script>alert("pwned")</script>`,
		Timestamp: at,
		Embeds:    []archive.Embed{{Title: "<b>t</b>", Description: "<i>d</i>"}},
	})

	page := v.DetailView(context.Background(), ref)
	if page.Status != StatusOK {
		t.Fatalf("status = %v reason = %s", page.Status, page.Reason)
	}
	html := string(page.HTML)
	for _, raw := range []string{"<script>", "<img", "<b>t</b>", "<i>d</i>"} {
		if strings.Contains(html, raw) {
			t.Errorf("rendered output contains unescaped %q", raw)
		}
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Error("escaped script tag missing from output")
	}
}

func TestDetailViewNotFound(t *testing.T) {
	_, v := newFixture(t)
	for _, ref := range []archive.Ref{"999_1.json", "../../etc/passwd", ""} {
		page := v.DetailView(context.Background(), ref)
		if page.Status != StatusNotFound {
			t.Errorf("DetailView(%q) status = %v, want not_found", ref, page.Status)
		}
		if len(page.HTML) == 0 {
			t.Errorf("DetailView(%q) rendered nothing", ref)
		}
	}
}

func TestDetailViewCorrupt(t *testing.T) {
	st, v := newFixture(t)
	for name, body := range map[string]string{
		"100_1.json": `[{"author":"a","content":"trunc`,
		"100_2.json": `{"not":"an array"}`,
	} {
		if err := os.WriteFile(filepath.Join(st.Dir(), name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		page := v.DetailView(context.Background(), archive.Ref(name))
		if page.Status != StatusCorrupt {
			t.Errorf("%s: status = %v, want corrupt", name, page.Status)
		}
		if page.Reason == "" {
			t.Errorf("%s: corrupt page carries no reason", name)
		}
	}
}

type failingStore struct{}

func (failingStore) List(context.Context) (map[string][]archive.Entry, error) {
	return nil, errors.New("disk gone")
}

func (failingStore) Read(context.Context, archive.Ref) (*archive.Archive, error) {
	return nil, errors.New("disk gone")
}

func TestViewsSurfaceStoreErrors(t *testing.T) {
	v := New(failingStore{}, Links{}, nil)
	if p := v.ListView(context.Background()); p.Status != StatusError {
		t.Fatalf("ListView status = %v", p.Status)
	}
	if p := v.DetailView(context.Background(), "1_1.json"); p.Status != StatusError {
		t.Fatalf("DetailView status = %v", p.Status)
	}
}
