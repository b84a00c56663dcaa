package cli

import (
	"context"
	"fmt"
	"os"

	"flowdesk/internal/config"
	"flowdesk/internal/services"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var rebuildWorkspace string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Trigger cache maintenance",
}

var cacheRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the enabled-trigger cache from the database",
	Long: `Rebuilds the Redis trigger cache from durable trigger definitions.
Use after a cache outage or to force-converge any drift left by partial
sync failures. Rebuilds all workspaces unless --workspace is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		logger := logrus.StandardLogger()

		dsn := os.Getenv("DB_DSN")
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
				cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
		}
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}

		redisClient := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(cmd.Context()).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}

		cache := services.NewRedisTriggerCache(redisClient, logger)
		triggers := services.NewTriggerService(db, cache, 0, logger)
		reconciler := services.NewCacheReconciler(db, cache, triggers, 0, logger)

		ctx := context.Background()
		if rebuildWorkspace != "" {
			if err := reconciler.ReconcileWorkspace(ctx, rebuildWorkspace); err != nil {
				return err
			}
			fmt.Printf("Rebuilt trigger cache for workspace %s\n", rebuildWorkspace)
			return nil
		}
		if err := reconciler.ReconcileAll(ctx); err != nil {
			return err
		}
		fmt.Println("Rebuilt trigger cache for all workspaces")
		return nil
	},
}

func init() {
	cacheRebuildCmd.Flags().StringVar(&rebuildWorkspace, "workspace", "", "rebuild a single workspace only")
	cacheCmd.AddCommand(cacheRebuildCmd)
	rootCmd.AddCommand(cacheCmd)
}
