// Package viewer renders archives read from the store as HTML pages.
// It is read-only and takes no locks: the store's atomic rename guarantees
// every read sees a complete file or none.
package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"sort"
	"time"

	"github.com/onnwee/chat-archiver/archive"
)

// Archives is the read side of the store.
type Archives interface {
	List(ctx context.Context) (map[string][]archive.Entry, error)
	Read(ctx context.Context, ref archive.Ref) (*archive.Archive, error)
}

// Status classifies a rendered page.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusCorrupt
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "error"
	}
}

// Page is a rendered view. Reason is set for non-OK pages.
type Page struct {
	Status Status
	Reason string
	HTML   []byte
}

// EntryView is one archive in the listing.
type EntryView struct {
	Ref       archive.Ref `json:"ref"`
	CreatedAt time.Time   `json:"created_at"`
	DetailURL string      `json:"url"`
	RawURL    string      `json:"raw_url"`
}

// ChannelGroup lists one channel's archives, newest first.
type ChannelGroup struct {
	ChannelID string      `json:"channel_id"`
	Entries   []EntryView `json:"archives"`
}

// Service renders list and detail views.
type Service struct {
	store  Archives
	links  Links
	logger *slog.Logger
}

// New returns a viewer over store.
func New(store Archives, links Links, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, links: links, logger: logger.With(slog.String("component", "viewer"))}
}

// Links returns the addressing scheme used by rendered pages.
func (s *Service) Links() Links { return s.links }

// Listing groups every archive by channel (channels sorted by id, archives newest first).
func (s *Service) Listing(ctx context.Context) ([]ChannelGroup, error) {
	index, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]ChannelGroup, 0, len(index))
	for id, entries := range index {
		g := ChannelGroup{ChannelID: id, Entries: make([]EntryView, 0, len(entries))}
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			g.Entries = append(g.Entries, EntryView{
				Ref:       e.Ref,
				CreatedAt: e.CreatedAt,
				DetailURL: s.links.DetailURL(e.Ref),
				RawURL:    s.links.RawURL(e.Ref),
			})
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ChannelID < groups[j].ChannelID })
	return groups, nil
}

// ListView renders the listing page.
func (s *Service) ListView(ctx context.Context) Page {
	groups, err := s.Listing(ctx)
	if err != nil {
		s.logger.Error("list archives", slog.Any("err", err))
		return s.errorPage(StatusError, "Backups unavailable", "The backup directory could not be read.")
	}
	return s.render(listPage, struct{ Groups []ChannelGroup }{groups})
}

type detailData struct {
	Title     string
	ChannelID string
	CreatedAt time.Time
	Messages  []archive.Message
	ListURL   string
	RawURL    string
}

// DetailView renders one archive. Missing references yield StatusNotFound,
// unparseable files StatusCorrupt with the parse failure as Reason.
func (s *Service) DetailView(ctx context.Context, ref archive.Ref) Page {
	a, err := s.store.Read(ctx, ref)
	switch {
	case err == nil:
	case errors.Is(err, archive.ErrNotFound):
		return s.errorPage(StatusNotFound, "Backup not found", fmt.Sprintf("No backup named %q exists.", ref))
	case errors.Is(err, archive.ErrCorrupt):
		s.logger.Warn("corrupt archive", slog.String("ref", string(ref)), slog.Any("err", err))
		return s.errorPage(StatusCorrupt, "Backup unreadable", err.Error())
	default:
		s.logger.Error("read archive", slog.String("ref", string(ref)), slog.Any("err", err))
		return s.errorPage(StatusError, "Backup unavailable", "The backup could not be read.")
	}
	return s.render(detailPage, detailData{
		Title:     "#" + a.ChannelID + " backup",
		ChannelID: a.ChannelID,
		CreatedAt: a.CreatedAt,
		Messages:  a.Messages,
		ListURL:   s.links.ListURL(),
		RawURL:    s.links.RawURL(ref),
	})
}

func (s *Service) errorPage(status Status, title, reason string) Page {
	p := s.render(errorPage, struct{ Title, Reason, ListURL string }{title, reason, s.links.ListURL()})
	if p.Status == StatusOK {
		p.Status = status
	}
	p.Reason = reason
	return p
}

func (s *Service) render(t *template.Template, data any) Page {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		s.logger.Error("render template", slog.String("template", t.Name()), slog.Any("err", err))
		return Page{Status: StatusError, Reason: "render failed", HTML: []byte("internal error")}
	}
	return Page{Status: StatusOK, HTML: buf.Bytes()}
}
