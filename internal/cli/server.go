package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/messaging"
	pgstore "live-quiz-service/internal/infra/postgres"
	redisstore "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/logger"
	"live-quiz-service/internal/metrics"
	transport "live-quiz-service/internal/transport/http"
)

const serviceName = "live-quiz-service"

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(serviceName, cfg.Log.Level, cfg.Log.Format)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)

	var reports app.ReportSinks
	var loader memory.QuizLoader
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		defer pool.Close()
		loader = pgstore.NewQuizLoader(pool)

		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		reports = append(reports, pgstore.NewReportArchive(db))
	} else {
		quizzes := map[string]domain.Quiz{}
		if cfg.Quiz.File != "" {
			quizzes, err = loadCatalogue(cfg.Quiz.File)
			if err != nil {
				return fmt.Errorf("quiz catalogue: %w", err)
			}
		}
		log.WithField("quizzes", len(quizzes)).Warn("postgres not configured, serving quizzes from catalogue file")
		loader = memory.NewStaticQuizLoader(quizzes)
	}

	if cfg.AMQP.URL != "" {
		publisher, err := messaging.Dial(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		defer publisher.Close()
		reports = append(reports, publisher)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	deps := app.Dependencies{
		Metrics: m,
		Logger:  log,
	}
	if len(reports) > 0 {
		deps.Reports = reports
	}
	if redisClient != nil {
		deps.Quizzes = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
		deps.Sessions = redisstore.NewSessionStore(redisClient, redisTTL)
		deps.Participations = redisstore.NewParticipationStore(redisClient, redisTTL)
	} else {
		deps.Quizzes = memory.NewQuizRepository(loader, quizTTL)
		deps.Sessions = memory.NewSessionStore()
		deps.Participations = memory.NewParticipationStore()
	}

	hub := transport.NewHub(m, log.WithField("component", "hub"))
	deps.Broadcaster = hub

	service := app.NewSessionService(deps, app.Settings{
		DefaultTimeLimit: config.TTLDuration(cfg.Live.DefaultTimeLimit, 20*time.Second),
		ResultPause:      config.TTLDuration(cfg.Live.ResultPause, 8*time.Second),
		RankingSize:      config.IntOr(cfg.Live.RankingSize, 5),
		PinAttempts:      config.IntOr(cfg.Live.PinAttempts, 10),
	})

	router := transport.NewRouter(
		transport.NewSessionHandler(service, log.WithField("component", "api")),
		transport.NewWSHandler(service, hub, log.WithField("component", "ws")),
		reg,
		log,
	)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return serve(ctx, server, log)
}

// serve runs server until SIGINT, SIGTERM or ctx cancellation.
func serve(ctx context.Context, server *http.Server, log logrus.FieldLogger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", server.Addr).Info("starting live quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
