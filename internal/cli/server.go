package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adaptive-quiz-service/internal/app"
	"adaptive-quiz-service/internal/config"
	"adaptive-quiz-service/internal/infra/ai"
	"adaptive-quiz-service/internal/infra/memory"
	"adaptive-quiz-service/internal/infra/postgres"
	infraredis "adaptive-quiz-service/internal/infra/redis"
	"adaptive-quiz-service/internal/logger"
	"adaptive-quiz-service/internal/seed"
	transport "adaptive-quiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backends are the storage collaborators chosen from config: Postgres and
// Redis when configured, in-memory otherwise.
type backends struct {
	store     app.Store
	questions app.QuestionRepository
	pool      app.QuestionPool
	cache     app.Cache
	limiter   app.RateLimiter
	closers   []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

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

	b, err := buildBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	var generator *ai.Client
	if cfg.AI.APIKey != "" {
		generator, err = ai.NewClient(ai.Config{APIKey: cfg.AI.APIKey, Model: cfg.AI.Model, BaseURL: cfg.AI.BaseURL}, log)
		if err != nil {
			return err
		}
	} else {
		log.Warn("ai api key not set, using static feedback and seeded questions only")
	}

	hub := app.NewLeaderboardHub()
	answerDeps := app.AnswerDeps{
		Store:     b.store,
		Questions: b.questions,
		Cache:     b.cache,
		Limiter:   b.limiter,
		Hub:       hub,
		Logger:    log.With("component", "answers"),
	}
	questionDeps := app.QuestionDeps{
		Users:   b.store,
		Pool:    b.pool,
		Cache:   b.cache,
		Limiter: b.limiter,
		Logger:  log.With("component", "questions"),
	}
	if generator != nil {
		answerDeps.Feedback = generator
		questionDeps.Generator = generator
	}

	questionSvc := app.NewQuestionService(questionDeps)
	services := transport.Services{
		Answers: app.NewAnswerService(answerDeps, app.AnswerOptions{
			IdempotencyTTL:  config.TTLDuration(cfg.Quiz.IdempotencyTTL, time.Hour),
			CommitTimeout:   config.TTLDuration(cfg.Quiz.CommitTimeout, 5*time.Second),
			FeedbackTimeout: config.TTLDuration(cfg.Quiz.FeedbackTimeout, 3*time.Second),
		}),
		Questions:    questionSvc,
		Users:        app.NewUserService(b.store, b.cache, config.TTLDuration(cfg.Quiz.UserStateTTL, 5*time.Minute), log),
		Leaderboards: app.NewLeaderboardService(b.store, b.cache, hub, config.TTLDuration(cfg.Quiz.LeaderboardTTL, 10*time.Second), log),
		Logger:       log,
	}
	if generator != nil {
		go func() {
			added, err := questionSvc.RefillAll(context.Background())
			if err != nil {
				log.Warn("initial pool refill failed", "error", err)
				return
			}
			log.Info("initial pool refill done", "added", added)
		}()
	}

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(services),
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	go func() {
		log.Info("starting quiz service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildBackends(ctx context.Context, cfg config.Config, log *logger.Logger) (*backends, error) {
	b := &backends{}
	questionTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	window := config.TTLDuration(cfg.RateLimit.Window, time.Minute)

	var loader memory.QuestionLoader
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		questionStore := postgres.NewQuestionStore(pool)
		b.store = postgres.NewStore(pool)
		b.pool = questionStore
		loader = questionStore
		log.Info("using postgres store")
	} else {
		bank := memory.NewQuestionBank(seed.Questions())
		b.store = memory.NewStore()
		b.pool = bank
		loader = bank
		log.Warn("postgres url not set, using in-memory store")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.questions = infraredis.NewQuestionRepository(client, loader, config.TTLDuration(cfg.Redis.TTL, questionTTL))
		b.cache = infraredis.NewCache(client)
		b.limiter = infraredis.NewRateLimiter(client, cfg.RateLimit.MaxRequests, window)
		log.Info("using redis cache", "addr", cfg.Redis.Addr)
	} else {
		b.questions = memory.NewQuestionRepository(loader, questionTTL)
		b.cache = memory.NewCache()
		b.limiter = memory.NewRateLimiter(cfg.RateLimit.MaxRequests, window)
	}
	return b, nil
}
