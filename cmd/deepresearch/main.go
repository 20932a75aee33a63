package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fupingyezi/mini-DeepResearch/config"
	"github.com/fupingyezi/mini-DeepResearch/internal/logging"
)

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	var root = &cobra.Command{
		Use:          "deepresearch",
		Short:        "Deep research agent server and client",
		SilenceUsage: true,
	}
	root.AddCommand(serveCMD(), migrateCMD(), askCMD(), pruneCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration at path and builds the process logger.
func setup(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.General)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
