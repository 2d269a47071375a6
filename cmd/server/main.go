package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitewarden/sitewarden/internal/alert"
	"github.com/sitewarden/sitewarden/internal/audit"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/counter"
	"github.com/sitewarden/sitewarden/internal/database"
	"github.com/sitewarden/sitewarden/internal/detect"
	"github.com/sitewarden/sitewarden/internal/email"
	"github.com/sitewarden/sitewarden/internal/emergency"
	"github.com/sitewarden/sitewarden/internal/filescan"
	"github.com/sitewarden/sitewarden/internal/firewall"
	"github.com/sitewarden/sitewarden/internal/ghost"
	"github.com/sitewarden/sitewarden/internal/handler"
	"github.com/sitewarden/sitewarden/internal/logger"
	"github.com/sitewarden/sitewarden/internal/middleware"
	"github.com/sitewarden/sitewarden/internal/repository"
	"github.com/sitewarden/sitewarden/internal/router"
	"github.com/sitewarden/sitewarden/internal/secretbox"
	"github.com/sitewarden/sitewarden/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", "0.1.0").Msg("starting SiteWarden server")

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("connected to Redis")

	// Initialize repositories
	eventRepo := repository.NewEventRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	configRepo := repository.NewConfigRepository(db)
	checksumRepo := repository.NewChecksumRepository(db)
	hiddenUserRepo := repository.NewHiddenUserRepository(db)

	// Build alert channels
	dispatcher := buildDispatcher(cfg, log)

	// Initialize the audit log (everything else records through it)
	auditLog := audit.NewLog(eventRepo, dispatcher, log, cfg.Audit)

	// Counters and blocklist
	counters := counter.NewRedisStore(rdb, "counters")
	sink := firewall.NewRedisSink(rdb)

	// Detection engine
	detector := detect.NewDetector(counters, auditLog, sink, log, cfg.Detection)

	// File integrity monitor
	monitor := filescan.NewMonitor(checksumRepo, configRepo, auditLog, log, cfg.FileScan)

	// Emergency access
	var box *secretbox.Box
	if cfg.Security.SiteSecret != "" {
		box, err = secretbox.New(cfg.Security.SiteSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize secretbox")
		}
	} else {
		log.Warn().Msg("no site secret configured; emergency access is disabled")
	}
	sessions := session.NewManager(cfg.Security.SiteSecret, cfg.Security.SessionTTL, "sitewarden")
	emergencyCtl := emergency.NewController(
		tokenRepo, configRepo, counters, auditLog, box,
		sessions.Establish, log, cfg.Emergency, cfg.Security.SiteSecret,
	)

	// Ghost mode
	ghostSvc := ghost.NewService(hiddenUserRepo, auditLog, cfg.Ghost)

	// Initialize handlers
	h := handler.New(db, rdb, log, cfg, auditLog, detector, monitor, emergencyCtl, ghostSvc)

	// Initialize middleware
	mw := middleware.New(rdb, sink, sessions, log, cfg)

	// Set up router
	r := router.New(h, mw, cfg.Emergency.PathSlug)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background jobs: scheduled integrity scans and token cleanup
	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	if cfg.FileScan.Enabled && cfg.FileScan.ScanInterval > 0 {
		go runScheduledScans(jobsCtx, monitor, log, cfg.FileScan.ScanInterval)
	}
	go runTokenCleanup(jobsCtx, emergencyCtl, log)

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	stopJobs()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// buildDispatcher wires the configured alert channels. Returns nil when no
// channel is usable so the audit log skips dispatch entirely.
func buildDispatcher(cfg *config.Config, log *logger.Logger) alert.Dispatcher {
	if !cfg.Alerts.Enabled {
		return nil
	}

	var channels []alert.Channel
	for _, name := range cfg.Alerts.Channels {
		switch name {
		case "email":
			sender, err := buildEmailSender(cfg)
			if err != nil {
				log.Error().Err(err).Msg("email alert channel unavailable")
				continue
			}
			channels = append(channels, alert.NewEmailChannel(sender, cfg.Alerts.Email.Recipient, cfg.Alerts.Email.AppName))
			log.Info().Msg("email alert channel configured")
		case "webhook":
			if cfg.Alerts.Webhook.URL == "" {
				log.Error().Msg("webhook alert channel enabled but no URL configured")
				continue
			}
			channels = append(channels, alert.NewWebhookChannel(cfg.Alerts.Webhook.URL, cfg.Security.SiteSecret))
			log.Info().Msg("webhook alert channel configured")
		default:
			log.Error().Str("channel", name).Msg("unknown alert channel")
		}
	}
	if len(channels) == 0 {
		return nil
	}
	return alert.NewMultiDispatcher(log, channels...)
}

func buildEmailSender(cfg *config.Config) (email.Sender, error) {
	gmail := cfg.Alerts.Email.Gmail
	ctx := context.Background()
	if gmail.CredentialsJSON != "" {
		return email.NewGmailSender(ctx, email.GmailConfig{
			CredentialsJSON: gmail.CredentialsJSON,
			SenderAddress:   gmail.SenderAddress,
			SenderName:      gmail.SenderName,
		})
	}
	return email.NewGmailSenderWithToken(ctx, gmail.ClientID, gmail.ClientSecret, gmail.RefreshToken, gmail.SenderAddress, gmail.SenderName)
}

// runScheduledScans runs an incremental scan on the configured interval.
func runScheduledScans(ctx context.Context, monitor *filescan.Monitor, log *logger.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := monitor.RunIncrementalScan(ctx)
			if err != nil {
				log.Error().Err(err).Msg("scheduled scan failed")
				continue
			}
			log.Info().
				Int("scanned", result.Scanned).
				Int("changed", len(result.Changes)).
				Int("new", len(result.NewFiles)).
				Int("missing", len(result.MissingFiles)).
				Msg("scheduled scan complete")
		}
	}
}

// runTokenCleanup drops expired emergency tokens hourly.
func runTokenCleanup(ctx context.Context, ctl *emergency.Controller, log *logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := ctl.CleanupExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("token cleanup failed")
				continue
			}
			if removed > 0 {
				log.Info().Int64("removed", removed).Msg("expired emergency tokens removed")
			}
		}
	}
}
