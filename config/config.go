// Package config loads environment variables into a typed Config used across
// the service. Defaults let the binary run locally with only a platform
// credential; use Validate before starting the platform session.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chat-archiver/archive"
	"github.com/onnwee/chat-archiver/scheduler"
)

// Supported chat platforms.
const (
	PlatformDiscord = "discord"
	PlatformTwitch  = "twitch"
)

type Config struct {
	Platform string

	// Discord
	DiscordToken string
	HistoryPace  time.Duration

	// Twitch
	TwitchChannels     []string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRefreshToken string
	TwitchNotify       bool

	// Archives
	DataDir         string
	ArchivePolicy   archive.Policy
	IntervalMinutes int
	SweepOnStart    bool
	NotifyChannel   string
	PublicBaseURL   string

	// HTTP
	HTTPAddr          string
	AdminUsername     string
	AdminPassword     string
	AdminToken        string
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSPermissive    bool
	CORSOrigins       []string

	// Optional backends
	DBDsn     string
	NATSURL   string
	NATSToken string
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Load reads environment variables and applies defaults. It fails only on
// values that would change archive semantics if silently replaced: the
// archive policy and the sweep interval.
func Load() (*Config, error) {
	cfg := &Config{
		Platform: strings.ToLower(getenv("CHAT_PLATFORM", PlatformDiscord)),

		DiscordToken: os.Getenv("DISCORD_TOKEN"),
		HistoryPace:  500 * time.Millisecond,

		TwitchChannels:     getList("TWITCH_CHANNELS"),
		TwitchBotUsername:  os.Getenv("TWITCH_BOT_USERNAME"),
		TwitchOAuthToken:   os.Getenv("TWITCH_OAUTH_TOKEN"),
		TwitchClientID:     os.Getenv("TWITCH_CLIENT_ID"),
		TwitchClientSecret: os.Getenv("TWITCH_CLIENT_SECRET"),
		TwitchRefreshToken: os.Getenv("TWITCH_REFRESH_TOKEN"),
		TwitchNotify:       getBool("TWITCH_NOTIFY", false),

		DataDir:       getenv("DATA_DIR", "backups"),
		SweepOnStart:  getBool("SWEEP_ON_START", true),
		NotifyChannel: getenv("NOTIFY_CHANNEL", "backup-logs"),
		PublicBaseURL: strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),

		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		AdminUsername:     os.Getenv("ADMIN_USERNAME"),
		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		AdminToken:        os.Getenv("ADMIN_TOKEN"),
		RateLimitEnabled:  getBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: getInt("RATE_LIMIT_REQUESTS_PER_IP", 10),
		RateLimitWindow:   time.Duration(getInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		CORSOrigins:       getList("CORS_ALLOWED_ORIGINS"),

		DBDsn:     os.Getenv("DB_DSN"),
		NATSURL:   os.Getenv("NATS_URL"),
		NATSToken: os.Getenv("NATS_TOKEN"),
	}
	if len(cfg.TwitchChannels) == 0 {
		if ch := os.Getenv("TWITCH_CHANNEL"); ch != "" {
			cfg.TwitchChannels = []string{ch}
		}
	}
	if v := os.Getenv("HISTORY_PACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.HistoryPace = d
		}
	}
	mode := strings.ToLower(os.Getenv("ENV"))
	cfg.CORSPermissive = getBool("CORS_PERMISSIVE", mode == "" || mode == "dev" || mode == "development")

	policy, err := archive.ParsePolicy(os.Getenv("ARCHIVE_POLICY"))
	if err != nil {
		return nil, err
	}
	cfg.ArchivePolicy = policy

	cfg.IntervalMinutes = int(scheduler.DefaultInterval / time.Minute)
	if v := strings.TrimSpace(os.Getenv("BACKUP_INTERVAL_MINUTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < scheduler.MinIntervalMinutes || n > scheduler.MaxIntervalMinutes {
			return nil, &archive.ConfigError{Key: "BACKUP_INTERVAL_MINUTES", Value: v, Reason: "must be an integer between 1 and 1440"}
		}
		cfg.IntervalMinutes = n
	}
	return cfg, nil
}

// Interval is the configured starting sweep interval.
func (c *Config) Interval() time.Duration { return time.Duration(c.IntervalMinutes) * time.Minute }

// Validate checks the credentials the selected platform needs.
func (c *Config) Validate() error {
	switch c.Platform {
	case PlatformDiscord:
		if c.DiscordToken == "" {
			return fmt.Errorf("missing discord env: require DISCORD_TOKEN")
		}
	case PlatformTwitch:
		if len(c.TwitchChannels) == 0 || c.TwitchBotUsername == "" {
			return fmt.Errorf("missing twitch env: require TWITCH_CHANNELS and TWITCH_BOT_USERNAME")
		}
		refresh := c.TwitchRefreshToken != "" && c.TwitchClientID != "" && c.TwitchClientSecret != ""
		if c.TwitchOAuthToken == "" && !refresh {
			return fmt.Errorf("missing twitch env: require TWITCH_OAUTH_TOKEN or TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET and TWITCH_REFRESH_TOKEN")
		}
		if c.DBDsn == "" {
			return fmt.Errorf("twitch history is buffered in postgres: require DB_DSN")
		}
	default:
		return &archive.ConfigError{Key: "CHAT_PLATFORM", Value: c.Platform, Reason: "must be discord or twitch"}
	}
	return nil
}
