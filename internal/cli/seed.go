package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-quiz-service/internal/config"
	pgstore "live-quiz-service/internal/infra/postgres"
	redisstore "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/logger"
)

// NewSeedCmd loads a YAML quiz catalogue into postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert quizzes from a YAML catalogue into the content store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.New(serviceName, cfg.Log.Level, cfg.Log.Format)
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			if file == "" {
				file = cfg.Quiz.File
			}
			quizzes, err := loadCatalogue(file)
			if err != nil {
				return err
			}
			if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
				return err
			}

			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("postgres connect: %w", err)
			}
			defer pool.Close()
			loader := pgstore.NewQuizLoader(pool)

			// Cached copies would outlive the update by up to quiz.ttl.
			var cache *redisstore.QuizRepository
			if cfg.Redis.Addr != "" {
				client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
				defer client.Close()
				cache = redisstore.NewQuizRepository(client, loader, config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute))
			}

			ids := make([]string, 0, len(quizzes))
			for id := range quizzes {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				if err := loader.SaveQuiz(ctx, quizzes[id]); err != nil {
					return err
				}
				if cache != nil {
					if err := cache.Invalidate(ctx, id); err != nil {
						log.WithError(err).WithField("quiz_id", id).Warn("cache invalidation failed")
					}
				}
				log.WithField("quiz_id", id).Info("quiz seeded")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML quiz catalogue (defaults to quiz.file)")
	return cmd
}
