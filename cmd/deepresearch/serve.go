package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	srv "github.com/fupingyezi/mini-DeepResearch/internal/server"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := srv.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			addr := serveAddr
			if !cmd.Flags().Changed("addr") && cfg.Server.Address != "" {
				addr = cfg.Server.Address
			}
			logger.Info("listening", zap.String("addr", addr))
			return app.Run(ctx, addr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", getenv("DEEPRESEARCH_HTTP_ADDR", ":8080"), "listen address")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	return serve
}
