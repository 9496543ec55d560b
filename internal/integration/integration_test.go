package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/postgres"
	pgmigrations "live-quiz-service/internal/infra/postgres/migrations"
	infraredis "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/logger"
	"live-quiz-service/internal/schedule"
)

func TestLiveSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := migrateDB(t, ctx, pgURL)
	defer db.Close()

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := postgres.NewQuizLoader(pool)
	if err := loader.SaveQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	archive := postgres.NewReportArchive(db)
	clock := schedule.NewManualClock()
	service := app.NewSessionService(app.Dependencies{
		Sessions:       infraredis.NewSessionStore(redisClient, 5*time.Minute),
		Participations: infraredis.NewParticipationStore(redisClient, 5*time.Minute),
		Quizzes:        infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute),
		Reports:        archive,
		Clock:          clock,
		Logger:         logger.Discard(),
	}, app.DefaultSettings())

	session, err := service.CreateSession(ctx, app.NewSession{
		QuizID:  "quiz-1",
		OwnerID: "prof",
		Live:    domain.LiveConfig{TimePerQuestion: 20, ShowRanking: true},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, u := range []string{"u1", "u2"} {
		if _, err := service.Join(ctx, session.Pin, u, strings.ToUpper(u)); err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
	}
	if _, err := service.Start(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	submit := func(user, question string, timeSpent float64, selected ...int) domain.AnswerResult {
		t.Helper()
		res, err := service.SubmitAnswer(ctx, app.Submission{
			SessionID:  session.ID,
			UserID:     user,
			QuestionID: question,
			Selected:   selected,
			TimeSpent:  timeSpent,
		})
		if err != nil {
			t.Fatalf("submit %s/%s: %v", user, question, err)
		}
		return res
	}

	if res := submit("u1", "q1", 0, 1); res.Points != 1000 {
		t.Fatalf("expected 1000 points, got %+v", res)
	}
	submit("u2", "q1", 3, 0)
	// Both answered, so q1 concluded early and q2 waits out the result pause.
	clock.Advance(app.DefaultSettings().ResultPause)

	if res := submit("u1", "q2", 10, 0); res.Points != 750 {
		t.Fatalf("expected 750 points, got %+v", res)
	}
	submit("u2", "q2", 10, 0)
	clock.Advance(app.DefaultSettings().ResultPause)

	finished, err := service.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if finished.Phase != domain.PhaseFinished {
		t.Fatalf("expected finished session, got %s", finished.Phase)
	}
	if _, err := service.GetByPin(ctx, session.Pin); err == nil {
		t.Fatalf("expected pin to be released")
	}

	summary, err := archive.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("archived report: %v", err)
	}
	if len(summary.Ranking) != 2 || summary.Ranking[0].UserID != "u1" || summary.Ranking[0].Score != 1750 {
		t.Fatalf("unexpected ranking %+v", summary.Ranking)
	}
	if len(summary.Questions) != 2 || summary.Questions[0].Histogram[1] != 1 || summary.Questions[0].Histogram[0] != 1 {
		t.Fatalf("unexpected question report %+v", summary.Questions)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	addr, cleanup := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")
	return fmt.Sprintf("postgres://quiz:quizpass@%s/quizdb?sslmode=disable", addr), cleanup
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	addr, cleanup := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}, "6379/tcp")
	return "redis://" + addr, cleanup
}

// startContainer runs req and returns host:port for the exposed port.
func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest, exposed nat.Port) (string, func()) {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	cleanup := func() { _ = container.Terminate(ctx) }
	host, err := container.Host(ctx)
	if err != nil {
		cleanup()
		t.Fatalf("%s host: %v", req.Image, err)
	}
	port, err := container.MappedPort(ctx, exposed)
	if err != nil {
		cleanup()
		t.Fatalf("%s port: %v", req.Image, err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), cleanup
}

// migrateDB applies every migration and returns the bun handle.
func migrateDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Integration",
		Questions: []domain.Question{
			{
				ID:       "q2",
				Position: 2,
				Text:     "Largest planet?",
				Options:  []domain.Option{{Text: "Jupiter", Correct: true}, {Text: "Mars"}},
			},
			{
				ID:       "q1",
				Position: 1,
				Text:     "What is 2 + 2?",
				Options:  []domain.Option{{Text: "3"}, {Text: "4", Correct: true}, {Text: "5"}},
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
