package viewer

import (
	"net/url"
	"strings"

	"github.com/onnwee/chat-archiver/archive"
)

// Links builds viewer URLs. BaseURL is the externally reachable origin
// ("https://backups.example.com"); empty yields root-relative paths.
type Links struct {
	BaseURL string
}

func (l Links) base() string { return strings.TrimRight(l.BaseURL, "/") }

// ListURL is the archive listing.
func (l Links) ListURL() string { return l.base() + "/view" }

// DetailURL renders one archive.
func (l Links) DetailURL(ref archive.Ref) string {
	return l.base() + "/logs/" + url.PathEscape(string(ref))
}

// RawURL serves the archive file as stored.
func (l Links) RawURL(ref archive.Ref) string {
	return l.base() + "/backups/" + url.PathEscape(string(ref))
}
