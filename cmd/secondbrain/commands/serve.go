package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/secondbrain/pkg/secondbrain/assistant"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/channels"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/channels/discord"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/claude"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/config"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/mcp"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/session"
	"github.com/jholhewres/secondbrain/pkg/secondbrain/vault"
)

// newServeCmd creates the `secondbrain serve` command that starts the bot.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Discord bot",
		Long: `Connect to Discord and answer the owner's messages with the Claude
Code CLI. Requires DISCORD_TOKEN, OWNER_ID and VAULT_PATH in the
environment or a .env file.

Examples:
  secondbrain serve
  secondbrain serve --env ./.env --allowed-channel 123456789`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("allowed-channel", nil, "restrict the bot to these Discord channel ids")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	envPath, _ := cmd.Root().PersistentFlags().GetString("env")
	cfg, err := config.FromEnv(envPath)
	if err != nil {
		return err
	}

	// ── Logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	// ── Build the pieces ──
	runner := claude.NewRunner(claude.Options{
		Bin:          cfg.ClaudeBin,
		Model:        cfg.Model,
		MaxBudgetUSD: cfg.MaxBudgetUSD,
		AllowedTools: cfg.AllowedTools,
		WorkDir:      cfg.VaultPath,
		Timeout:      cfg.RunTimeout,
	}, logger)

	store := session.NewStore(cfg.Model)

	vaultMgr, err := vault.NewManager(cfg.VaultPath, logger)
	if err != nil {
		return err
	}

	channelMgr := channels.NewManager(logger)
	allowed, _ := cmd.Flags().GetStringSlice("allowed-channel")
	dc := discord.New(discord.Config{
		Token:           cfg.DiscordToken,
		AllowedChannels: allowed,
		SendTyping:      true,
	}, logger)
	if err := channelMgr.Register(dc); err != nil {
		return err
	}

	bot := assistant.New(runner, store, channelMgr, vaultMgr, mcp.NewManager(""), assistant.Options{
		OwnerID:     cfg.OwnerID,
		DownloadDir: cfg.DownloadDir,
	}, logger)

	// ── Start ──
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := channelMgr.Start(ctx); err != nil {
		return err
	}

	go bot.Start(ctx)

	logger.Info("Second Brain running. Press Ctrl+C to stop.",
		"owner", cfg.OwnerID,
		"model", cfg.Model,
		"vault", cfg.VaultPath,
	)

	// ── Wait for shutdown ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")
	cancel()
	if n := runner.KillAll(); n > 0 {
		logger.Info("killed in-flight Claude processes", "count", n)
	}
	channelMgr.Stop()
	logger.Info("goodbye")
	return nil
}
