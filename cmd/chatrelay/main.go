package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chatrelay/internal/bus"
	"chatrelay/internal/config"
	"chatrelay/internal/history"
	"chatrelay/internal/relay"
	"chatrelay/internal/turn"
	"chatrelay/internal/widget"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "chatrelay",
		Short: "ChatRelay: browser chat widget relaying to a webhook backend",
		Long:  "ChatRelay serves an embeddable browser chat widget and relays each message to a configured webhook endpoint, formatting replies for display.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.chatrelay/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// setupLogger rebuilds the process logger from config: level from
// general.logLevel, optionally teeing to general.logFile.
func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
		} else {
			out = io.MultiWriter(os.Stderr, f)
		}
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the default config file and theme",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}

			themePath := filepath.Join(cfgDir, "theme.yaml")
			if _, err := os.Stat(themePath); os.IsNotExist(err) {
				if err := widget.SaveTheme(themePath, widget.DefaultTheme()); err != nil {
					return fmt.Errorf("write theme: %w", err)
				}
			}

			logger.Info("initialized", "config", cfgPath, "theme", themePath)
			logger.Info("next: set relay.endpointUrl, then run 'chatrelay serve'")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the widget server and relay loop",
		Long:  "Serves the chat widget over HTTP and relays messages to the webhook endpoint. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	store, err := history.Open(history.Options{
		Backend:       cfg.History.Backend,
		DBPath:        cfg.History.DBPath,
		RedisAddr:     cfg.History.Redis.Addr,
		RedisPassword: cfg.History.Redis.Password,
		RedisDB:       cfg.History.Redis.DB,
		MaxMessages:   cfg.History.MaxMessagesPerSession,
		RetentionDays: cfg.History.RetentionDays,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	defer store.Close()

	relayClient := relay.New(relay.Config{
		EndpointURL:    cfg.Relay.EndpointURL,
		MaxRetries:     cfg.Relay.MaxRetries,
		BaseRetryDelay: time.Duration(cfg.Relay.BaseRetryDelayMs) * time.Millisecond,
		Timeout:        time.Duration(cfg.Relay.TimeoutSeconds) * time.Second,
		Logger:         logger,
	})
	if err := relayClient.Healthy(ctx); err != nil {
		logger.Warn("webhook endpoint unreachable at startup", "endpoint", cfg.Relay.EndpointURL, "err", err)
	} else {
		logger.Info("webhook endpoint reachable", "endpoint", cfg.Relay.EndpointURL)
	}

	turnLoop := turn.NewLoop(turn.LoopConfig{
		Relay:   relayClient,
		History: store,
		Bus:     messageBus,
		Logger:  logger,
	})
	go turnLoop.Run(ctx)

	srv := widget.New(widget.Config{
		Host:            cfg.Widget.Host,
		Port:            cfg.Widget.Port,
		History:         store,
		Theme:           widget.LoadTheme(cfg.Widget.ThemePath, logger),
		Logger:          logger,
		Version:         version,
		AuthEnabled:     cfg.Widget.Auth.Enabled,
		AuthUsername:    cfg.Widget.Auth.Username,
		AuthPassHash:    cfg.Widget.Auth.PasswordHash,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx, messageBus)
	}()

	logger.Info("chatrelay started. Press Ctrl+C to stop.")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("widget server failed", "err", serveErr)
		}
		stop()
	}

	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Stop()
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}

	return serveErr
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config and webhook reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			client := relay.New(relay.Config{
				EndpointURL: cfg.Relay.EndpointURL,
				Timeout:     5 * time.Second,
				Logger:      logger,
			})
			if err := client.Healthy(ctx); err != nil {
				logger.Info("webhook", "endpoint", cfg.Relay.EndpointURL, "reachable", false, "err", err)
			} else {
				logger.Info("webhook", "endpoint", cfg.Relay.EndpointURL, "reachable", true)
			}

			logger.Info("widget", "addr", fmt.Sprintf("http://%s:%d", cfg.Widget.Host, cfg.Widget.Port), "auth", cfg.Widget.Auth.Enabled)
			logger.Info("history", "backend", cfg.History.Backend)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. relay.maxRetries)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. relay.maxRetries 5)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
