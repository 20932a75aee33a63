package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/fupingyezi/mini-DeepResearch/internal/cache"
	srv "github.com/fupingyezi/mini-DeepResearch/internal/server"
	"github.com/fupingyezi/mini-DeepResearch/internal/store"
)

func pruneCMD() *cobra.Command {
	var cfgPath string
	var olderThan string

	var prune = &cobra.Command{
		Use:   "prune",
		Short: "Drop research checkpoints past the retention window once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx := cmd.Context()

			retention := cfg.Checkpoint.Retention
			if olderThan != "" {
				if retention, err = parseDuration(olderThan); err != nil {
					return err
				}
			}

			var rdb *redis.Client
			if cfg.Storage.Redis.Enabled() {
				if rdb, err = cache.NewClient(ctx, cfg.Storage.Redis); err != nil {
					return err
				}
				defer rdb.Close()
			}

			var p srv.Pruner
			switch cfg.Checkpoint.Backend {
			case "memory":
				return fmt.Errorf("memory checkpoints live only inside the server process")
			case "redis":
				if rdb == nil {
					return fmt.Errorf("redis checkpoints need storage.redis.host")
				}
				p = cache.NewRedisCheckpointer(rdb, cfg.Cache.Prefix, cfg.Checkpoint.TTL)
			default:
				st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
				if err != nil {
					return err
				}
				defer st.Close()
				p = st
			}

			j, err := srv.NewJanitor(p, cfg.Checkpoint.PruneSchedule, retention, rdb, logger.Named("janitor"))
			if err != nil {
				return err
			}
			n, err := j.PruneOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d checkpoints\n", n)
			return nil
		},
	}
	prune.Flags().StringVar(&olderThan, "older-than", "", "retention override, e.g. 72h or 7d")
	prune.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	return prune
}
