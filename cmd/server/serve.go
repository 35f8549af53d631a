package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/OCharnyshevich/mcproto-server/internal/server"
	"github.com/OCharnyshevich/mcproto-server/internal/server/config"
)

func serveCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	var (
		configPath string
		saveConfig bool
		logLevel   string
		logFormat  string
		rateLimit  time.Duration
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(logLevel, logFormat)
			if err != nil {
				return err
			}
			cfg.RateLimit = config.Duration(rateLimit)
			cfg.ReadTimeout = config.Duration(timeout)

			fromFile, ok, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if ok {
				explicit := make(map[string]bool)
				cmd.Flags().Visit(func(f *pflag.Flag) { explicit[f.Name] = true })
				config.Merge(cfg, fromFile, explicit)
				log.Info("loaded config from file", "path", configPath)
			}
			if saveConfig {
				if err := config.Save(configPath, cfg); err != nil {
					return fmt.Errorf("save config: %w", err)
				}
				log.Info("saved config", "path", configPath)
			}

			srv, err := server.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return srv.Start(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "config.json", "JSON config file; flags given explicitly win over it")
	f.BoolVar(&saveConfig, "save-config", false, "write the effective config back to --config")
	f.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	f.StringVar(&logFormat, "log-format", "text", "text or json")

	f.IntVar(&cfg.Port, "port", cfg.Port, "server port")
	f.BoolVar(&cfg.OnlineMode, "online-mode", cfg.OnlineMode, "verify players with the session service")
	f.StringVar(&cfg.MOTD, "motd", cfg.MOTD, "server description")
	f.IntVar(&cfg.MaxPlayers, "max-players", cfg.MaxPlayers, "maximum players")
	f.IntVar(&cfg.ViewDistance, "view-distance", cfg.ViewDistance, "maximum view distance in chunks")
	f.IntVar(&cfg.CompressionThreshold, "compression-threshold", cfg.CompressionThreshold, "smallest payload to compress, negative disables")
	f.BoolVar(&cfg.AcceptTransfers, "accept-transfers", cfg.AcceptTransfers, "accept players transferred from another server")
	f.DurationVar(&rateLimit, "rate-limit", time.Duration(cfg.RateLimit), "minimum time between connections from one address")
	f.IntVar(&cfg.MaxAccountsPerIP, "max-accounts", cfg.MaxAccountsPerIP, "concurrent connections allowed per address")
	f.DurationVar(&timeout, "read-timeout", time.Duration(cfg.ReadTimeout), "drop clients silent for this long")
	f.StringVar(&cfg.SessionServerURL, "session-server", cfg.SessionServerURL, "session service hasJoined endpoint")
	f.IntVar(&cfg.AuthRetries, "auth-retries", cfg.AuthRetries, "retries for transient session service failures")
	f.StringVar(&cfg.FaviconSource, "favicon", cfg.FaviconSource, "64x64 PNG icon: path, URL, s3:: or git:: source")
	f.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for cached assets")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve /metrics and /healthz on this address")
	f.IntVar(&cfg.MailboxWorkers, "mailbox-workers", cfg.MailboxWorkers, "plugin bridge delivery workers")
	f.IntVar(&cfg.MailboxDepth, "mailbox-depth", cfg.MailboxDepth, "plugin bridge queue size")
	return cmd
}
