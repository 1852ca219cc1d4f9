package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/comigor/lana-go/internal/config"
	"github.com/comigor/lana-go/internal/gateway"
	"github.com/comigor/lana-go/internal/history"
	"github.com/comigor/lana-go/internal/llm"
	"github.com/comigor/lana-go/internal/logger"
	"github.com/comigor/lana-go/internal/server"
	"github.com/comigor/lana-go/internal/session"
	"github.com/comigor/lana-go/internal/ui"
)

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "lana",
	Short:         "lana is a terminal AI assistant with a credential-injecting completion proxy",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return errors.Wrap(err, "failed to load configuration")
		}
		if logLevelSet(cmd) {
			cfg.LogLevel = logLevel
		}
		logger.SetLevel(cfg.LogLevel)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the completion proxy on /api/chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		llmClient := llm.NewClient(cfg.LLM)
		srv := server.New(llmClient, *cfg)
		return srv.ListenAndServe(ctx)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal; conversations are kept in local storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetString("gateway-url"); cmd.Flags().Changed("gateway-url") {
			cfg.Client.GatewayURL = v
		}
		if v, _ := cmd.Flags().GetBool("direct"); cmd.Flags().Changed("direct") {
			cfg.Client.Direct = v
		}
		if !logLevelSet(cmd) {
			// keep logs from interleaving with the conversation
			logger.SetLevel("warn")
		}

		backend, err := history.OpenBackend(cfg.Storage)
		if err != nil {
			return err
		}
		store := history.Open(backend)
		defer store.Close()

		var gw gateway.Gateway
		if cfg.Client.Direct {
			gw = gateway.NewDirect(llm.NewClient(cfg.LLM), cfg.LLM.Model)
		} else {
			gw = gateway.NewHTTP(cfg.Client.GatewayURL, nil)
		}

		renderer, err := ui.NewRenderer(cmd.OutOrStdout(), cfg.Client)
		if err != nil {
			return err
		}
		return ui.NewREPL(session.New(gw, store), renderer).Run(cmd.Context())
	},
}

func logLevelSet(cmd *cobra.Command) bool {
	return cmd.Flags().Changed("log-level") || cmd.Root().PersistentFlags().Changed("log-level")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml or $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	chatCmd.Flags().String("gateway-url", "", "base URL of the lana proxy")
	chatCmd.Flags().Bool("direct", false, "call the completion API directly instead of through the proxy")

	rootCmd.AddCommand(serveCmd, chatCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.L.Error().Err(err).Msg("lana failed")
		stop()
		os.Exit(1)
	}
}
