package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/delivery"
	"relaybot/internal/domain"
	"relaybot/internal/enrich"
	"relaybot/internal/health"
	"relaybot/internal/metrics"
	"relaybot/internal/relay"
	"relaybot/internal/trigger"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // optional YAML file
	envFile    string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "relaybot",
		Short:         "Relay Discord messages to a webhook",
		Long:          "relaybot classifies Discord messages as commands or chat, enriches them and posts them to a single webhook.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to an optional YAML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file merged under the process environment")

	root.AddCommand(runCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		logger.Error("relaybot failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	environ, err := config.Environ(envFile)
	if err != nil {
		return nil, err
	}
	return config.Load(configPath, environ)
}

// newLogger builds the process logger from the log settings.
func newLogger(cfg config.LogConfig) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and relay events",
		Long:  "Connects to the Discord gateway, starts the health listener and relays every message until interrupted.",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hcfg := health.Config{Port: cfg.Health.Port, Logger: logger}
	if cfg.Health.Metrics {
		hcfg.Metrics = metrics.Collector.Handler()
	}
	hs := health.NewServer(hcfg)
	healthErr := make(chan error, 1)
	go func() { healthErr <- hs.Start(ctx) }()

	discord := channel.NewDiscord(channel.DiscordConfig{
		Token:  cfg.Discord.Token,
		Logger: logger,
	})
	self, err := discord.Open(ctx)
	if err != nil {
		stop()
		<-healthErr
		return err
	}

	assembler := enrich.NewAssembler(enrich.Config{
		Directory:       discord,
		ContextMessages: cfg.Relay.ContextMessages,
		EnrichMembers:   cfg.Relay.EnrichMembers,
		LookupTimeout:   cfg.Relay.EnrichTimeout,
		Logger:          logger,
	})
	deliverer := delivery.New(delivery.Config{
		URL:        cfg.Webhook.URL,
		Secret:     cfg.Webhook.Secret,
		MaxRetries: cfg.Webhook.MaxRetries,
		Logger:     logger,
	})
	r := relay.New(relay.Config{
		Rules: trigger.Rules{
			AllowedChannels: cfg.Relay.AllowedChannels,
			CommandPrefix:   cfg.Relay.CommandPrefix,
			Triggers:        cfg.Relay.ChatTriggers,
		},
		Self:      self,
		Assembler: assembler,
		Deliverer: deliverer,
		Logger:    logger,
	})

	discord.Listen(func(ev domain.InboundEvent) {
		r.Dispatch(ctx, ev)
	})

	logger.Info("relay started",
		"allowed_channels", len(cfg.Relay.AllowedChannels),
		"triggers", cfg.Relay.ChatTriggers.String(),
		"context_messages", cfg.Relay.ContextMessages,
		"max_retries", cfg.Webhook.MaxRetries,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-healthErr:
		stop()
	}

	// In-flight retries are abandoned, not drained.
	logger.Info("shutting down relay...")
	if err := discord.Close(); err != nil {
		logger.Warn("discord close failed", "err", err)
	}
	if runErr == nil {
		runErr = <-healthErr
	}
	logger.Info("shutdown complete")
	return runErr
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out, err := yaml.Marshal(config.Sanitize(cfg))
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relaybot v%s (%s/%s, Go %s)\n", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}
