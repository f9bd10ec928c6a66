package http

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"adaptive-quiz-service/internal/app"
	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/infra/memory"
	"adaptive-quiz-service/internal/seed"
)

type fixture struct {
	server *httptest.Server
	bank   *memory.QuestionBank
	hub    *app.LeaderboardHub
}

func newFixture(t *testing.T, limiter app.RateLimiter) *fixture {
	t.Helper()
	store := memory.NewStore()
	cache := memory.NewCache()
	bank := memory.NewQuestionBank(seed.Questions())
	questions := memory.NewQuestionRepository(bank, time.Minute)
	hub := app.NewLeaderboardHub()

	svc := Services{
		Answers: app.NewAnswerService(app.AnswerDeps{
			Store:     store,
			Questions: questions,
			Cache:     cache,
			Limiter:   limiter,
			Hub:       hub,
		}, app.AnswerOptions{}),
		Questions: app.NewQuestionService(app.QuestionDeps{
			Users:   store,
			Pool:    bank,
			Cache:   cache,
			Limiter: limiter,
		}),
		Users:        app.NewUserService(store, cache, time.Minute, nil),
		Leaderboards: app.NewLeaderboardService(store, cache, hub, time.Second, nil),
	}
	srv := httptest.NewServer(NewRouter(svc))
	t.Cleanup(srv.Close)
	return &fixture{server: srv, bank: bank, hub: hub}
}

func (f *fixture) question(t *testing.T, id string) domain.Question {
	t.Helper()
	q, err := f.bank.LoadQuestion(context.Background(), id)
	if err != nil {
		t.Fatalf("load question %s: %v", id, err)
	}
	return q
}
