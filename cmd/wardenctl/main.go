// wardenctl is the operator CLI: it drives scans, emergency credentials,
// ghost mode, and audit maintenance against the same database the server
// uses, so it works even when the HTTP surface is down.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sitewarden/sitewarden/internal/audit"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/counter"
	"github.com/sitewarden/sitewarden/internal/database"
	"github.com/sitewarden/sitewarden/internal/emergency"
	"github.com/sitewarden/sitewarden/internal/filescan"
	"github.com/sitewarden/sitewarden/internal/ghost"
	"github.com/sitewarden/sitewarden/internal/logger"
	"github.com/sitewarden/sitewarden/internal/repository"
	"github.com/sitewarden/sitewarden/internal/secretbox"
	"github.com/sitewarden/sitewarden/internal/session"
)

// env bundles the wiring every subcommand needs.
type env struct {
	cfg          *config.Config
	log          *logger.Logger
	db           *database.Postgres
	auditLog     *audit.Log
	monitor      *filescan.Monitor
	emergencyCtl *emergency.Controller
	ghostSvc     *ghost.Service
}

func newEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, "text")

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	eventRepo := repository.NewEventRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	configRepo := repository.NewConfigRepository(db)
	checksumRepo := repository.NewChecksumRepository(db)
	hiddenUserRepo := repository.NewHiddenUserRepository(db)

	// CLI runs never dispatch alerts; findings go to stdout and the trail.
	auditLog := audit.NewLog(eventRepo, nil, log, cfg.Audit)
	monitor := filescan.NewMonitor(checksumRepo, configRepo, auditLog, log, cfg.FileScan)

	var box *secretbox.Box
	if cfg.Security.SiteSecret != "" {
		box, err = secretbox.New(cfg.Security.SiteSecret)
		if err != nil {
			return nil, err
		}
	}
	sessions := session.NewManager(cfg.Security.SiteSecret, cfg.Security.SessionTTL, "sitewarden")
	emergencyCtl := emergency.NewController(
		tokenRepo, configRepo, counter.NewMemoryStore(), auditLog, box,
		sessions.Establish, log, cfg.Emergency, cfg.Security.SiteSecret,
	)

	return &env{
		cfg:          cfg,
		log:          log,
		db:           db,
		auditLog:     auditLog,
		monitor:      monitor,
		emergencyCtl: emergencyCtl,
		ghostSvc:     ghost.NewService(hiddenUserRepo, auditLog, cfg.Ghost),
	}, nil
}

func (e *env) Close() {
	e.db.Close()
}

var rootCmd = &cobra.Command{
	Use:   "wardenctl",
	Short: "SiteWarden operator CLI",
}

var scanType string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a file integrity scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		ctx := context.Background()

		switch scanType {
		case "baseline":
			count, err := e.monitor.CreateBaseline(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Baseline created: %d files\n", count)
		case "incremental":
			result, err := e.monitor.RunIncrementalScan(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Scanned:     %d\n", result.Scanned)
			fmt.Printf("Changed:     %d\n", len(result.Changes))
			fmt.Printf("New:         %d\n", len(result.NewFiles))
			fmt.Printf("Missing:     %d\n", len(result.MissingFiles))
			fmt.Printf("Quarantined: %d\n", len(result.Quarantined))
		default:
			return fmt.Errorf("unknown scan type %q (want baseline or incremental)", scanType)
		}
		return nil
	},
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new emergency access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		plaintext, token, err := e.emergencyCtl.CreateToken(context.Background(), "127.0.0.1", "wardenctl")
		if err != nil {
			return err
		}
		fmt.Printf("Token:     %s\n", plaintext)
		fmt.Printf("Login URL: /%s?t=%s\n", e.cfg.Emergency.PathSlug, plaintext)
		fmt.Printf("Expires:   %s\n", token.ExpiresAt)
		fmt.Println("The token is shown once and cannot be recovered.")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage emergency access tokens",
}

var passwordSetCmd = &cobra.Command{
	Use:   "set [password]",
	Short: "Set the emergency password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		if len(args[0]) < 12 {
			return fmt.Errorf("password must be at least 12 characters")
		}
		if err := e.emergencyCtl.SetPassword(context.Background(), args[0], "127.0.0.1"); err != nil {
			return err
		}
		fmt.Println("Emergency password set.")
		return nil
	},
}

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Manage the emergency password",
}

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Inspect and restore quarantined files",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantined files",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		mappings, err := e.monitor.ListQuarantined(context.Background())
		if err != nil {
			return err
		}
		if len(mappings) == 0 {
			fmt.Println("No quarantined files")
			return nil
		}
		for original, dest := range mappings {
			fmt.Printf("%s -> %s\n", original, dest)
		}
		return nil
	},
}

var quarantineRestoreCmd = &cobra.Command{
	Use:   "restore [original-path]",
	Short: "Move a quarantined file back to its original location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.monitor.Restore(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Restored %s\n", args[0])
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit events past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		deleted, err := e.auditLog.Prune(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d events\n", deleted)
		return nil
	},
}

var ghostCmd = &cobra.Command{
	Use:   "ghost",
	Short: "Manage hidden users",
}

var ghostHideCmd = &cobra.Command{
	Use:   "hide [user-id]",
	Short: "Hide a user from listings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		var userID int64
		if _, err := fmt.Sscanf(args[0], "%d", &userID); err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		if err := e.ghostSvc.Hide(context.Background(), userID, nil, "127.0.0.1"); err != nil {
			return err
		}
		fmt.Printf("User %d hidden\n", userID)
		return nil
	},
}

var ghostUnhideCmd = &cobra.Command{
	Use:   "unhide [user-id]",
	Short: "Make a hidden user visible again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		var userID int64
		if _, err := fmt.Sscanf(args[0], "%d", &userID); err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		if err := e.ghostSvc.Unhide(context.Background(), userID, "127.0.0.1"); err != nil {
			return err
		}
		fmt.Printf("User %d visible\n", userID)
		return nil
	},
}

var ghostListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hidden users",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		users, err := e.ghostSvc.List(context.Background())
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No hidden users")
			return nil
		}
		for _, user := range users {
			note := ""
			if user.Note != nil {
				note = " (" + *user.Note + ")"
			}
			fmt.Printf("user %d hidden since %s%s\n", user.UserID, user.HiddenSince.Format("2006-01-02"), note)
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanType, "type", "incremental", "scan type: baseline or incremental")
	tokenCmd.AddCommand(tokenCreateCmd)
	passwordCmd.AddCommand(passwordSetCmd)
	quarantineCmd.AddCommand(quarantineListCmd, quarantineRestoreCmd)
	ghostCmd.AddCommand(ghostHideCmd, ghostUnhideCmd, ghostListCmd)
	rootCmd.AddCommand(scanCmd, tokenCmd, passwordCmd, quarantineCmd, pruneCmd, ghostCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
