package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/relay"
	"chatrelay/internal/widget"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your ChatRelay installation",
		Long: `Verifies that ChatRelay's configuration, webhook endpoint, history
backend, and widget port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("ChatRelay Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'chatrelay init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Webhook endpoint reachable
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client := relay.New(relay.Config{
				EndpointURL: cfg.Relay.EndpointURL,
				Timeout:     5 * time.Second,
				Logger:      logger,
			})
			if err := client.Healthy(ctx); err != nil {
				printWarn("Webhook", fmt.Sprintf("%s not reachable: %v", cfg.Relay.EndpointURL, err))
				warned++
			} else {
				printPass("Webhook", cfg.Relay.EndpointURL)
				passed++
			}

			// 4. History backend
			switch cfg.History.Backend {
			case "sqlite":
				if err := checkDatabase(cfg.History.DBPath); err != nil {
					printFail("History (sqlite)", err.Error())
					failed++
				} else {
					printPass("History (sqlite)", cfg.History.DBPath)
					passed++
				}
			case "redis":
				if err := checkTCP(cfg.History.Redis.Addr); err != nil {
					printFail("History (redis)", fmt.Sprintf("%s: %v", cfg.History.Redis.Addr, err))
					failed++
				} else {
					printPass("History (redis)", cfg.History.Redis.Addr)
					passed++
				}
			default:
				printWarn("History", "in-memory backend: history is lost on restart")
				warned++
			}

			// 5. Theme file parses
			if cfg.Widget.ThemePath != "" {
				if _, err := os.Stat(cfg.Widget.ThemePath); err != nil {
					printWarn("Theme", fmt.Sprintf("not found, defaults will be used: %s", cfg.Widget.ThemePath))
					warned++
				} else {
					widget.LoadTheme(cfg.Widget.ThemePath, logger)
					printPass("Theme", cfg.Widget.ThemePath)
					passed++
				}
			}

			// 6. Widget port available
			if err := checkPort(cfg.Widget.Port); err != nil {
				printWarn("Widget port", fmt.Sprintf("port %d may be in use: %v", cfg.Widget.Port, err))
				warned++
			} else {
				printPass("Widget port", fmt.Sprintf(":%d available", cfg.Widget.Port))
				passed++
			}

			// 7. Auth configured sensibly
			if cfg.Widget.Auth.Enabled {
				if len(cfg.Widget.Auth.PasswordHash) != 64 {
					printWarn("Auth", "passwordHash does not look like a SHA-256 hex digest")
					warned++
				} else {
					printPass("Auth", "basic auth enabled")
					passed++
				}
			}

			// 8. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running ChatRelay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nChatRelay should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! ChatRelay is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkTCP(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
