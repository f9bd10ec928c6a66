package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"adaptive-quiz-service/internal/app"
	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/infra/memory"
	"adaptive-quiz-service/internal/logger"
	"adaptive-quiz-service/internal/metrics"
	"adaptive-quiz-service/internal/seed"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type testEnv struct {
	store   *memory.Store
	cache   *memory.Cache
	bank    *memory.QuestionBank
	hub     *app.LeaderboardHub
	users   *app.UserService
	answers *app.AnswerService
	now     time.Time
}

type envOption func(*app.AnswerDeps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	env := &testEnv{
		store: memory.NewStore(),
		cache: memory.NewCache(),
		bank:  memory.NewQuestionBank(seed.Questions()),
		hub:   app.NewLeaderboardHub(),
		now:   time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
	deps := app.AnswerDeps{
		Store:     env.store,
		Questions: memory.NewQuestionRepository(env.bank, time.Minute),
		Cache:     env.cache,
		Hub:       env.hub,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.users = app.NewUserService(env.store, env.cache, time.Minute, nil)
	env.answers = app.NewAnswerService(deps, app.AnswerOptions{}).WithClock(func() time.Time { return env.now })
	return env
}

func (e *testEnv) register(t *testing.T, username string) domain.User {
	t.Helper()
	user, err := e.users.Register(context.Background(), username)
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return user
}

func (e *testEnv) correctIndex(t *testing.T, questionID string) int {
	t.Helper()
	q, err := e.bank.LoadQuestion(context.Background(), questionID)
	if err != nil {
		t.Fatalf("load question: %v", err)
	}
	return q.CorrectIndex
}

func (e *testEnv) answer(t *testing.T, userID, questionID, key string, correct bool) domain.AnswerOutcome {
	t.Helper()
	choice := e.correctIndex(t, questionID)
	if !correct {
		choice = (choice + 1) % 4
	}
	out, err := e.answers.SubmitAnswer(context.Background(), domain.AnswerRequest{
		UserID:         userID,
		QuestionID:     questionID,
		ChosenOption:   choice,
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("submit %s: %v", key, err)
	}
	return out
}

func intPtr(v int) *int { return &v }

func TestSubmitAnswerCorrectThenWrong(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "alice")

	first := env.answer(t, user.ID, "seed-1-1", "k1", true)
	if !first.Correct || first.ScoreDelta != 11 || first.TotalScore != 11 || first.NewStreak != 1 || first.MaxStreak != 1 {
		t.Fatalf("unexpected first outcome %+v", first)
	}
	if first.StateVersion != 2 || first.NewDifficulty != 1 || first.Momentum != 0.15 || first.CorrectAnswer != 1 {
		t.Fatalf("unexpected first state %+v", first)
	}
	if first.LeaderboardRankScore != 1 || first.LeaderboardRankStreak != 1 || first.Duplicate {
		t.Fatalf("unexpected ranks %+v", first)
	}
	if first.AIFeedback == "" || first.AIExplanation != nil {
		t.Fatalf("expected fallback feedback and no explanation, got %+v", first)
	}

	env.now = env.now.Add(time.Minute)
	second := env.answer(t, user.ID, "seed-1-2", "k2", false)
	if second.Correct || second.ScoreDelta != 0 || second.TotalScore != 11 || second.NewStreak != 0 || second.MaxStreak != 1 {
		t.Fatalf("unexpected second outcome %+v", second)
	}
	if !second.StreakReset || second.Momentum != 0 || second.NewDifficulty != 1 || second.StateVersion != 3 {
		t.Fatalf("unexpected second state %+v", second)
	}

	state, err := env.store.GetUserState(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.TotalAnswered != 2 || state.TotalCorrect != 1 || len(state.RecentAnswers) != 2 || state.LastQuestionID != "seed-1-2" {
		t.Fatalf("unexpected persisted state %+v", state)
	}
}

func TestSustainedStreakRaisesDifficulty(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "bob")

	wantDeltas := []int{11, 12, 13, 14}
	var last domain.AnswerOutcome
	for i, want := range wantDeltas {
		env.now = env.now.Add(time.Minute)
		last = env.answer(t, user.ID, "seed-1-3", "streak-"+string(rune('a'+i)), true)
		if last.ScoreDelta != want {
			t.Fatalf("answer %d: expected delta %d, got %d", i+1, want, last.ScoreDelta)
		}
		if i < 3 && last.NewDifficulty != 1 {
			t.Fatalf("answer %d: difficulty rose too early to %d", i+1, last.NewDifficulty)
		}
	}
	if last.NewDifficulty != 2 || last.TotalScore != 50 || last.NewStreak != 4 {
		t.Fatalf("expected difficulty 2 after four correct answers, got %+v", last)
	}

	env.now = env.now.Add(time.Minute)
	wrong := env.answer(t, user.ID, "seed-2-1", "streak-wrong", false)
	if wrong.NewDifficulty != 1 || !wrong.StreakReset {
		t.Fatalf("a wrong answer must drop difficulty immediately, got %+v", wrong)
	}
}

func TestInactivityDecayResetsStreak(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "carol")

	env.answer(t, user.ID, "seed-1-1", "d1", true)
	env.now = env.now.Add(time.Minute)
	env.answer(t, user.ID, "seed-1-2", "d2", true)

	env.now = env.now.Add(40 * time.Minute)
	out := env.answer(t, user.ID, "seed-1-3", "d3", true)
	if !out.InactivityDecay || out.NewStreak != 1 || out.Momentum != 0.25 || out.MaxStreak != 2 {
		t.Fatalf("expected decay before the answer, got %+v", out)
	}
	if out.ScoreDelta != 11 {
		t.Fatalf("expected streak multiplier of 1.1 after decay, got delta %d", out.ScoreDelta)
	}
}

func TestDuplicateSubmissionReplaysOutcome(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "dave")

	first := env.answer(t, user.ID, "seed-1-1", "dup", true)
	env.now = env.now.Add(time.Second)
	replay := env.answer(t, user.ID, "seed-1-1", "dup", true)

	if !replay.Duplicate {
		t.Fatalf("expected duplicate flag on replay")
	}
	replay.Duplicate = false
	if replay.TotalScore != first.TotalScore || replay.StateVersion != first.StateVersion || replay.ScoreDelta != first.ScoreDelta || replay.AIFeedback != first.AIFeedback {
		t.Fatalf("replay differs from first outcome: %+v vs %+v", replay, first)
	}
	state, _ := env.store.GetUserState(context.Background(), user.ID)
	if state.StateVersion != 2 || state.TotalAnswered != 1 {
		t.Fatalf("duplicate must not change state, got %+v", state)
	}
}

func TestDuplicateAfterCacheLossUsesAnswerLog(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "erin")

	env.answer(t, user.ID, "seed-1-1", "c1", true)
	env.now = env.now.Add(time.Minute)
	first := env.answer(t, user.ID, "seed-1-2", "c2", false)
	env.cache.Flush()

	// Replay with a different chosen option: the recorded answer wins.
	replay, err := env.answers.SubmitAnswer(context.Background(), domain.AnswerRequest{
		UserID:         user.ID,
		QuestionID:     "seed-1-2",
		ChosenOption:   env.correctIndex(t, "seed-1-2"),
		IdempotencyKey: "c2",
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Duplicate || replay.Correct || !replay.StreakReset {
		t.Fatalf("expected recorded wrong answer to be replayed, got %+v", replay)
	}
	if replay.CorrectAnswer != env.correctIndex(t, "seed-1-2") || replay.StateVersion != first.StateVersion || replay.TotalScore != first.TotalScore {
		t.Fatalf("unexpected rebuilt outcome %+v", replay)
	}
	if replay.LeaderboardRankScore != 1 {
		t.Fatalf("expected rank on rebuilt outcome, got %+v", replay)
	}
}

func TestConcurrentSameKeyAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "frank")
	choice := env.correctIndex(t, "seed-1-1")

	const workers = 10
	var wg sync.WaitGroup
	outcomes := make([]domain.AnswerOutcome, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = env.answers.SubmitAnswer(context.Background(), domain.AnswerRequest{
				UserID:         user.ID,
				QuestionID:     "seed-1-1",
				ChosenOption:   choice,
				IdempotencyKey: "same-key",
			})
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if !outcomes[i].Duplicate {
			fresh++
		}
		if outcomes[i].TotalScore != 11 || outcomes[i].StateVersion != 2 {
			t.Fatalf("worker %d saw %+v", i, outcomes[i])
		}
	}
	if fresh != 1 {
		t.Fatalf("expected exactly one applied submission, got %d", fresh)
	}
	state, _ := env.store.GetUserState(context.Background(), user.ID)
	if state.TotalAnswered != 1 || state.TotalScore != 11 {
		t.Fatalf("expected single application, got %+v", state)
	}
}

func TestConcurrentSameVersionOneWins(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "gina")
	choice := env.correctIndex(t, "seed-1-1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.answers.SubmitAnswer(context.Background(), domain.AnswerRequest{
				UserID:               user.ID,
				QuestionID:           "seed-1-1",
				ChosenOption:         choice,
				ExpectedStateVersion: intPtr(1),
				IdempotencyKey:       "v-" + string(rune('a'+i)),
			})
		}(i)
	}
	wg.Wait()

	succeeded, conflicted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrStateConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("expected one success and one conflict, got %d/%d", succeeded, conflicted)
	}
	state, _ := env.store.GetUserState(context.Background(), user.ID)
	if state.StateVersion != 2 || state.TotalAnswered != 1 {
		t.Fatalf("expected one applied answer, got %+v", state)
	}
}

func TestStaleExpectedVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "hank")
	env.answer(t, user.ID, "seed-1-1", "s1", true)

	_, err := env.answers.SubmitAnswer(context.Background(), domain.AnswerRequest{
		UserID:               user.ID,
		QuestionID:           "seed-1-2",
		ChosenOption:         0,
		ExpectedStateVersion: intPtr(1),
		IdempotencyKey:       "s2",
	})
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if code, status := domain.Code(err); code != domain.CodeConflict || status != 409 {
		t.Fatalf("unexpected code %s/%d", code, status)
	}

	// Retrying with the same key and refreshed version succeeds.
	out, err := env.answers.SubmitAnswer(context.Background(), domain.AnswerRequest{
		UserID:               user.ID,
		QuestionID:           "seed-1-2",
		ChosenOption:         0,
		ExpectedStateVersion: intPtr(2),
		IdempotencyKey:       "s2",
	})
	if err != nil || out.StateVersion != 3 {
		t.Fatalf("expected retry to apply, got %+v err=%v", out, err)
	}
}

func TestSubmitAnswerValidation(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "ivan")

	cases := []struct {
		name string
		req  domain.AnswerRequest
		want error
	}{
		{"missing key", domain.AnswerRequest{UserID: user.ID, QuestionID: "seed-1-1"}, domain.ErrInvalidInput},
		{"missing user", domain.AnswerRequest{QuestionID: "seed-1-1", IdempotencyKey: "x"}, domain.ErrInvalidInput},
		{"negative option", domain.AnswerRequest{UserID: user.ID, QuestionID: "seed-1-1", ChosenOption: -1, IdempotencyKey: "x"}, domain.ErrInvalidInput},
		{"option out of range", domain.AnswerRequest{UserID: user.ID, QuestionID: "seed-1-1", ChosenOption: 4, IdempotencyKey: "x"}, domain.ErrInvalidInput},
		{"zero expected version", domain.AnswerRequest{UserID: user.ID, QuestionID: "seed-1-1", ExpectedStateVersion: intPtr(0), IdempotencyKey: "x"}, domain.ErrInvalidInput},
		{"unknown question", domain.AnswerRequest{UserID: user.ID, QuestionID: "missing", IdempotencyKey: "x"}, domain.ErrQuestionNotFound},
		{"unknown user", domain.AnswerRequest{UserID: "ghost", QuestionID: "seed-1-1", IdempotencyKey: "x"}, domain.ErrUserNotFound},
	}
	for _, tc := range cases {
		if _, err := env.answers.SubmitAnswer(context.Background(), tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	state, _ := env.store.GetUserState(context.Background(), user.ID)
	if state.StateVersion != 1 {
		t.Fatalf("rejected requests must not touch state, got version %d", state.StateVersion)
	}
}

func TestRateLimitedSubmissionHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t, func(d *app.AnswerDeps) {
		d.Limiter = memory.NewRateLimiter(1, time.Minute)
	})
	user := env.register(t, "judy")
	env.answer(t, user.ID, "seed-1-1", "r1", true)

	_, err := env.answers.SubmitAnswer(context.Background(), domain.AnswerRequest{
		UserID:         user.ID,
		QuestionID:     "seed-1-2",
		ChosenOption:   0,
		IdempotencyKey: "r2",
	})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) || rl.ResetAt.IsZero() {
		t.Fatalf("expected reset time, got %v", err)
	}
	if _, err := env.store.GetAnswer(context.Background(), "r2"); !errors.Is(err, domain.ErrAnswerNotFound) {
		t.Fatalf("rate limited answer must not be logged, got %v", err)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (domain.RateLimitResult, error) {
	return domain.RateLimitResult{}, errors.New("redis down")
}

func TestRateLimiterErrorsFailOpen(t *testing.T) {
	env := newTestEnv(t, func(d *app.AnswerDeps) { d.Limiter = failingLimiter{} })
	user := env.register(t, "kate")
	if out := env.answer(t, user.ID, "seed-1-1", "fo", true); out.StateVersion != 2 {
		t.Fatalf("expected answer applied despite limiter error, got %+v", out)
	}
}

type failingCommitStore struct {
	*memory.Store
}

func (failingCommitStore) CommitAnswer(context.Context, domain.AnswerCommit) error {
	return errors.New("connection reset")
}

func TestCommitFailureSurfacesAsInternal(t *testing.T) {
	env := newTestEnv(t, func(d *app.AnswerDeps) {
		d.Store = failingCommitStore{Store: d.Store.(*memory.Store)}
	})
	user := env.register(t, "leo")

	_, err := env.answers.SubmitAnswer(context.Background(), domain.AnswerRequest{
		UserID:         user.ID,
		QuestionID:     "seed-1-1",
		ChosenOption:   1,
		IdempotencyKey: "cf",
	})
	if !errors.Is(err, domain.ErrCommitFailed) {
		t.Fatalf("expected commit failure, got %v", err)
	}
	if code, status := domain.Code(err); code != domain.CodeInternal || status != 500 {
		t.Fatalf("unexpected code %s/%d", code, status)
	}
	state, _ := env.store.GetUserState(context.Background(), user.ID)
	if state.StateVersion != 1 || state.TotalAnswered != 0 {
		t.Fatalf("failed commit must leave state untouched, got %+v", state)
	}
	var cached domain.AnswerOutcome
	if ok, _ := env.cache.Get(context.Background(), "idempotency:cf", &cached); ok {
		t.Fatalf("failed commit must not cache an outcome")
	}
}

type stubFeedback struct {
	feedback    string
	explanation string
	err         error
}

func (s stubFeedback) Feedback(context.Context, bool, int, int, string) (string, error) {
	return s.feedback, s.err
}

func (s stubFeedback) Explanation(context.Context, string, string, string) (string, error) {
	return s.explanation, s.err
}

func TestFeedbackFromGenerator(t *testing.T) {
	env := newTestEnv(t, func(d *app.AnswerDeps) {
		d.Feedback = stubFeedback{feedback: "Nailed it!", explanation: "Because."}
	})
	user := env.register(t, "mia")

	right := env.answer(t, user.ID, "seed-1-1", "f1", true)
	if right.AIFeedback != "Nailed it!" || right.AIExplanation != nil {
		t.Fatalf("correct answers get feedback only, got %+v", right)
	}
	env.now = env.now.Add(time.Minute)
	wrong := env.answer(t, user.ID, "seed-1-2", "f2", false)
	if wrong.AIExplanation == nil || *wrong.AIExplanation != "Because." {
		t.Fatalf("wrong answers get an explanation, got %+v", wrong)
	}
}

func TestFeedbackFallsBackOnGeneratorError(t *testing.T) {
	env := newTestEnv(t, func(d *app.AnswerDeps) {
		d.Feedback = stubFeedback{err: errors.New("quota exceeded")}
	})
	user := env.register(t, "nina")

	out := env.answer(t, user.ID, "seed-1-1", "fb", false)
	if out.AIFeedback != app.FallbackFeedback(false, 0, 1) || out.AIExplanation != nil {
		t.Fatalf("expected static fallback, got %+v", out)
	}
	if out.StateVersion != 2 {
		t.Fatalf("feedback failure must not affect the commit, got %+v", out)
	}
}

func TestCommitInvalidatesCachesAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "omar")
	ctx := context.Background()

	before, err := env.users.Metrics(ctx, user.ID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if before.TotalAnswered != 0 {
		t.Fatalf("unexpected metrics %+v", before)
	}

	updates, cancel := env.hub.Subscribe()
	defer cancel()

	env.answer(t, user.ID, "seed-1-1", "inv", true)

	after, err := env.users.Metrics(ctx, user.ID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if after.TotalAnswered != 1 || after.TotalScore != 11 {
		t.Fatalf("expected metrics cache invalidated, got %+v", after)
	}

	select {
	case update := <-updates:
		if update.UserID != user.ID || update.TotalScore != 11 || update.MaxStreak != 1 {
			t.Fatalf("unexpected update %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected leaderboard update")
	}
}

// racingStore replays the view of a request that raced a commit of its own
// idempotency key: answer log lookups miss, state reads return an earlier
// snapshot and the commit loses the version check.
type racingStore struct {
	*memory.Store
	hiddenLookups atomic.Int32
	conflicts     atomic.Int32
	staleState    *domain.UserState
	stateErr      error
}

func (s *racingStore) GetAnswer(ctx context.Context, key string) (domain.AnswerRecord, error) {
	if s.hiddenLookups.Add(-1) >= 0 {
		return domain.AnswerRecord{}, domain.ErrAnswerNotFound
	}
	return s.Store.GetAnswer(ctx, key)
}

func (s *racingStore) GetUserState(ctx context.Context, userID string) (domain.UserState, error) {
	if s.stateErr != nil {
		return domain.UserState{}, s.stateErr
	}
	if s.staleState != nil {
		state := *s.staleState
		s.staleState = nil
		return state, nil
	}
	return s.Store.GetUserState(ctx, userID)
}

func (s *racingStore) CommitAnswer(ctx context.Context, commit domain.AnswerCommit) error {
	if s.conflicts.Add(-1) >= 0 {
		return domain.ErrStateConflict
	}
	return s.Store.CommitAnswer(ctx, commit)
}

func newRacingEnv(t *testing.T) (*testEnv, *racingStore) {
	t.Helper()
	store := &racingStore{}
	env := newTestEnv(t, func(d *app.AnswerDeps) {
		store.Store = d.Store.(*memory.Store)
		d.Store = store
		d.Cache = nil
	})
	return env, store
}

func stageCount(stage app.Stage) float64 {
	return testutil.ToFloat64(metrics.AnswersTotal.WithLabelValues(string(stage)))
}

func assertSameOutcome(t *testing.T, replay, first domain.AnswerOutcome) {
	t.Helper()
	if !replay.Duplicate {
		t.Fatalf("expected duplicate flag on replay, got %+v", replay)
	}
	if replay.Correct != first.Correct || replay.CorrectAnswer != first.CorrectAnswer || replay.ScoreDelta != first.ScoreDelta ||
		replay.TotalScore != first.TotalScore || replay.StateVersion != first.StateVersion || replay.NewStreak != first.NewStreak ||
		replay.NewDifficulty != first.NewDifficulty || replay.LeaderboardRankScore != first.LeaderboardRankScore {
		t.Fatalf("replay differs from the committed outcome: %+v vs %+v", replay, first)
	}
}

func TestSameKeyWithExpectedVersionReplaysAfterLostRace(t *testing.T) {
	env, store := newRacingEnv(t)
	ctx := context.Background()
	user := env.register(t, "pia")

	req := domain.AnswerRequest{
		UserID:               user.ID,
		QuestionID:           "seed-1-1",
		ChosenOption:         1,
		ExpectedStateVersion: intPtr(1),
		IdempotencyKey:       "k-race",
	}
	first, err := env.answers.SubmitAnswer(ctx, req)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// The retry's idempotency lookup ran before the first commit landed.
	store.hiddenLookups.Store(1)
	duplicates := stageCount(app.StageRejectedDuplicate)
	conflicts := stageCount(app.StageRejectedConflict)

	replay, err := env.answers.SubmitAnswer(ctx, req)
	if err != nil {
		t.Fatalf("expected the committed outcome, got %v", err)
	}
	assertSameOutcome(t, replay, first)
	if got := stageCount(app.StageRejectedDuplicate) - duplicates; got != 1 {
		t.Fatalf("expected one duplicate stage, got %v", got)
	}
	if got := stageCount(app.StageRejectedConflict) - conflicts; got != 0 {
		t.Fatalf("expected no conflict stage, got %v", got)
	}

	state, _ := env.store.GetUserState(ctx, user.ID)
	if state.StateVersion != 2 || state.TotalAnswered != 1 {
		t.Fatalf("expected a single application, got %+v", state)
	}
}

func TestSameKeyCommitConflictReplaysCommittedOutcome(t *testing.T) {
	env, store := newRacingEnv(t)
	ctx := context.Background()
	user := env.register(t, "quinn")
	before, _ := env.store.GetUserState(ctx, user.ID)

	first := env.answer(t, user.ID, "seed-1-1", "k-commit", true)

	// The retry read state before the first commit and then lost the version check.
	store.hiddenLookups.Store(1)
	store.staleState = &before
	store.conflicts.Store(1)

	replay, err := env.answers.SubmitAnswer(ctx, domain.AnswerRequest{
		UserID:         user.ID,
		QuestionID:     "seed-1-1",
		ChosenOption:   1,
		IdempotencyKey: "k-commit",
	})
	if err != nil {
		t.Fatalf("expected the committed outcome, got %v", err)
	}
	assertSameOutcome(t, replay, first)
}

func TestCommitConflictWithoutOwnRecordStillConflicts(t *testing.T) {
	env, store := newRacingEnv(t)
	user := env.register(t, "rosa")
	store.conflicts.Store(1)

	_, err := env.answers.SubmitAnswer(context.Background(), domain.AnswerRequest{
		UserID:         user.ID,
		QuestionID:     "seed-1-1",
		ChosenOption:   1,
		IdempotencyKey: "k-other",
	})
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

type failingQuestions struct{}

func (failingQuestions) GetQuestion(context.Context, string) (domain.Question, error) {
	return domain.Question{}, errors.New("redis down")
}

func TestLookupFailuresCountAsFailed(t *testing.T) {
	env := newTestEnv(t, func(d *app.AnswerDeps) { d.Questions = failingQuestions{} })
	user := env.register(t, "sam")
	failed := stageCount(app.StageFailed)
	invalid := stageCount(app.StageRejectedInvalid)

	_, err := env.answers.SubmitAnswer(context.Background(), domain.AnswerRequest{
		UserID:         user.ID,
		QuestionID:     "seed-1-1",
		IdempotencyKey: "lf-1",
	})
	if err == nil || errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected an infrastructure error, got %v", err)
	}
	if code, _ := domain.Code(err); code != domain.CodeInternal {
		t.Fatalf("expected internal code, got %s", code)
	}

	stateEnv, store := newRacingEnv(t)
	stateUser := stateEnv.register(t, "tess")
	store.stateErr = errors.New("connection refused")
	if _, err := stateEnv.answers.SubmitAnswer(context.Background(), domain.AnswerRequest{
		UserID:         stateUser.ID,
		QuestionID:     "seed-1-1",
		IdempotencyKey: "lf-2",
	}); err == nil || errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected an infrastructure error, got %v", err)
	}

	if got := stageCount(app.StageFailed) - failed; got != 2 {
		t.Fatalf("expected two failed stages, got %v", got)
	}
	if got := stageCount(app.StageRejectedInvalid) - invalid; got != 0 {
		t.Fatalf("infrastructure errors must not count as invalid, got %v", got)
	}
}

type failingSetCache struct {
	*memory.Cache
}

func (failingSetCache) Set(context.Context, string, interface{}, time.Duration) error {
	return errors.New("cache full")
}

func TestRebuiltOutcomeCacheFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	env := newTestEnv(t, func(d *app.AnswerDeps) {
		d.Cache = failingSetCache{Cache: memory.NewCache()}
		d.Logger = &logger.Logger{SugaredLogger: zap.New(core).Sugar()}
	})
	user := env.register(t, "uma")

	first := env.answer(t, user.ID, "seed-1-1", "cs-1", true)
	replay := env.answer(t, user.ID, "seed-1-1", "cs-1", true)
	assertSameOutcome(t, replay, first)

	if n := logs.FilterMessage("cache rebuilt outcome").Len(); n != 1 {
		t.Fatalf("expected the rebuilt outcome cache failure logged once, got %d", n)
	}
}
