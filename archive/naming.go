package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Policy selects how archives are named and therefore how many are retained per channel.
type Policy string

const (
	// PolicyVersioned embeds the capture time in the filename; every sweep keeps its archive.
	PolicyVersioned Policy = "versioned"
	// PolicyLatest names the file after the channel only; each capture replaces the previous one.
	PolicyLatest Policy = "latest"
)

const fileExt = ".json"

// ParsePolicy accepts "versioned" or "latest" (case-insensitive). Empty means versioned.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicyVersioned):
		return PolicyVersioned, nil
	case string(PolicyLatest):
		return PolicyLatest, nil
	default:
		return "", &ConfigError{Key: "ARCHIVE_POLICY", Value: s, Reason: "must be versioned or latest"}
	}
}

// ValidChannelID reports whether id can be embedded in a filename and parsed back.
func ValidChannelID(id string) bool {
	if id == "" || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, "_/\\\x00") && !strings.Contains(id, "..")
}

// FileName returns the filename for a channel's archive under the given policy.
func FileName(policy Policy, channelID string, createdAt time.Time) (Ref, error) {
	if !ValidChannelID(channelID) {
		return "", fmt.Errorf("channel id %q cannot be used in an archive filename", channelID)
	}
	if policy == PolicyLatest {
		return Ref(channelID + fileExt), nil
	}
	return Ref(channelID + "_" + strconv.FormatInt(createdAt.Unix(), 10) + fileExt), nil
}

// ParseFileName recovers the channel id and capture time from an archive
// filename. Latest-mode names yield a zero time. ok is false for anything that
// is not an archive name (temp files, foreign files, path components).
func ParseFileName(name string) (channelID string, createdAt time.Time, ok bool) {
	if !strings.HasSuffix(name, fileExt) || strings.ContainsAny(name, "/\\") {
		return "", time.Time{}, false
	}
	base := strings.TrimSuffix(name, fileExt)
	id, stamp, versioned := strings.Cut(base, "_")
	if !ValidChannelID(id) {
		return "", time.Time{}, false
	}
	if !versioned {
		return id, time.Time{}, true
	}
	secs, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil || secs < 0 {
		return "", time.Time{}, false
	}
	return id, time.Unix(secs, 0).UTC(), true
}
