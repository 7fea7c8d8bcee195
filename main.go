// Command chat-archiver backs up chat channel history on a schedule and
// serves the archives over HTTP. It:
//   - Loads configuration and initializes structured logging.
//   - Opens the configured chat platform (Discord bot session or Twitch IRC recorder).
//   - Optionally connects to Postgres, NATS and an S3 mirror.
//   - Runs the sweep scheduler, retention pruning and the HTTP server.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/joho/godotenv"

	"github.com/onnwee/chat-archiver/chat"
	"github.com/onnwee/chat-archiver/collector"
	"github.com/onnwee/chat-archiver/config"
	"github.com/onnwee/chat-archiver/db"
	"github.com/onnwee/chat-archiver/discord"
	"github.com/onnwee/chat-archiver/events"
	"github.com/onnwee/chat-archiver/notify"
	"github.com/onnwee/chat-archiver/platform"
	"github.com/onnwee/chat-archiver/scheduler"
	"github.com/onnwee/chat-archiver/server"
	"github.com/onnwee/chat-archiver/store"
	"github.com/onnwee/chat-archiver/telemetry"
	"github.com/onnwee/chat-archiver/viewer"
)

func main() {
	// local dev convenience only; production relies on real env
	_ = godotenv.Load()

	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("chat-archiver", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("exiting", slog.Any("err", err))
		stop()
		shutdownTracing()
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	var database *sql.DB
	if cfg.DBDsn != "" {
		var err error
		if database, err = db.Connect(ctx, cfg.DBDsn); err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			return err
		}
	}

	links := viewer.Links{BaseURL: cfg.PublicBaseURL}

	var storeOpts []store.Option
	if s3cfg, ok := store.LoadS3Config(); ok {
		mirror, err := store.NewS3Mirror(ctx, s3cfg)
		if err != nil {
			return err
		}
		storeOpts = append(storeOpts, store.WithMirror(mirror))
		slog.Info("s3 mirror enabled", slog.String("bucket", s3cfg.Bucket), slog.String("prefix", s3cfg.Prefix))
	}
	files, err := store.New(cfg.DataDir, cfg.ArchivePolicy, storeOpts...)
	if err != nil {
		return err
	}
	if n := files.CleanupTempFiles(time.Hour); n > 0 {
		slog.Info("removed stale temp files", slog.Int("count", n))
	}
	go store.StartRetentionJob(ctx, files, store.LoadRetentionPolicy())

	plat, notifyEnabled, closePlatform, err := openPlatform(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer closePlatform()

	schedOpts := []scheduler.Option{scheduler.WithSweepOnStart(cfg.SweepOnStart)}
	if notifyEnabled {
		schedOpts = append(schedOpts, scheduler.WithNotifier(notify.New(plat, links, cfg.NotifyChannel, nil)))
	}
	sched := scheduler.New(plat, collector.New(plat), files, scheduler.NewConfig(cfg.Interval()), schedOpts...)

	if database != nil {
		sched.OnSweep(func(ctx context.Context, s scheduler.SweepSummary) {
			if err := db.RecordSweep(context.WithoutCancel(ctx), database, sweepRecord(s)); err != nil {
				slog.Warn("failed to record sweep", slog.String("sweep_id", s.ID), slog.Any("err", err))
			}
		})
	}
	if cfg.NATSURL != "" {
		pub, err := events.Connect(cfg.NATSURL, cfg.NATSToken, links, nil)
		if err != nil {
			return err
		}
		defer pub.Close()
		sched.OnSweep(pub.PublishSweep)
		sched.OnBackup(pub.PublishBackup)
	}

	sched.Start(ctx)
	defer sched.Stop()

	router := server.NewRouter(ctx, server.Options{
		Viewer:  viewer.New(files, links, nil),
		Files:   files,
		Backups: sched,
		DB:      database,
		Auth:    server.AuthConfig{Username: cfg.AdminUsername, Password: cfg.AdminPassword, Token: cfg.AdminToken},
		RateLimit: server.RateLimitConfig{
			Enabled:  cfg.RateLimitEnabled,
			Requests: cfg.RateLimitRequests,
			Window:   cfg.RateLimitWindow,
		},
		CORS: server.CORSConfig{Permissive: cfg.CORSPermissive, Origins: cfg.CORSOrigins},
	})
	return server.Start(ctx, cfg.HTTPAddr, router)
}

// openPlatform connects the configured chat platform. Twitch notices go to the
// broadcaster's own chat, so they are sent only when TWITCH_NOTIFY is set.
func openPlatform(ctx context.Context, cfg *config.Config, database *sql.DB) (platform.Platform, bool, func(), error) {
	switch cfg.Platform {
	case config.PlatformTwitch:
		token, err := chat.IRCToken(ctx, chat.Credentials{
			Username:     cfg.TwitchBotUsername,
			OAuthToken:   cfg.TwitchOAuthToken,
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			RefreshToken: cfg.TwitchRefreshToken,
		}, nil)
		if err != nil {
			return nil, false, nil, err
		}
		client := twitch.NewClient(cfg.TwitchBotUsername, token)
		history := chat.PostgresHistory{DB: database}
		rec := chat.NewRecorder(client, history, cfg.TwitchChannels, nil)
		go func() {
			if err := rec.Run(ctx); err != nil {
				slog.Error("twitch chat recorder stopped", slog.Any("err", err))
			}
		}()
		return chat.NewPlatform(client, history, cfg.TwitchChannels), cfg.TwitchNotify, func() {}, nil
	default:
		c, err := discord.Open(cfg.DiscordToken, cfg.HistoryPace, nil)
		if err != nil {
			return nil, false, nil, err
		}
		return c, true, func() {
			if err := c.Close(); err != nil {
				slog.Warn("discord close", slog.Any("err", err))
			}
		}, nil
	}
}

func sweepRecord(s scheduler.SweepSummary) db.SweepRecord {
	rec := db.SweepRecord{
		ID:         s.ID,
		Trigger:    string(s.Trigger),
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Archived:   s.Archived(),
		Failed:     s.Failed(),
	}
	if s.Err != nil {
		rec.Error = s.Err.Error()
	}
	for _, r := range s.Results {
		cr := db.ChannelRecord{ChannelID: r.ChannelID, OK: r.OK, Ref: string(r.Ref), Messages: r.Messages}
		if r.Err != nil {
			cr.Error = r.Err.Error()
		}
		rec.Channels = append(rec.Channels, cr)
	}
	return rec
}
