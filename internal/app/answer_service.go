package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"adaptive-quiz-service/internal/adaptive"
	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/logger"
	"adaptive-quiz-service/internal/metrics"
	"adaptive-quiz-service/internal/scoring"
	"golang.org/x/sync/errgroup"
)

// Stage is a step of the answer transaction. Every submission ends in
// StageResponded or one of the rejected stages.
type Stage string

const (
	StageReceived            Stage = "RECEIVED"
	StageIdempotencyChecked  Stage = "IDEMPOTENCY_CHECKED"
	StageValidated           Stage = "VALIDATED"
	StageComputed            Stage = "COMPUTED"
	StageCommitted           Stage = "COMMITTED"
	StageResponded           Stage = "RESPONDED"
	StageRejectedDuplicate   Stage = "REJECTED_DUPLICATE"
	StageRejectedInvalid     Stage = "REJECTED_INVALID"
	StageRejectedConflict    Stage = "REJECTED_CONFLICT"
	StageRejectedRateLimited Stage = "REJECTED_RATE_LIMITED"
	StageFailed              Stage = "FAILED"
)

// AnswerOptions tunes the answer coordinator. Zero values fall back to defaults.
type AnswerOptions struct {
	IdempotencyTTL  time.Duration
	CommitTimeout   time.Duration
	FeedbackTimeout time.Duration
}

func (o AnswerOptions) withDefaults() AnswerOptions {
	if o.IdempotencyTTL <= 0 {
		o.IdempotencyTTL = time.Hour
	}
	if o.CommitTimeout <= 0 {
		o.CommitTimeout = 5 * time.Second
	}
	if o.FeedbackTimeout <= 0 {
		o.FeedbackTimeout = 3 * time.Second
	}
	return o
}

// AnswerService coordinates answer submissions: idempotency, validation,
// adaptive computation, scoring and the atomic commit.
type AnswerService struct {
	store     Store
	questions QuestionRepository
	cache     Cache
	limiter   RateLimiter
	feedback  FeedbackGenerator
	hub       *LeaderboardHub
	log       *logger.Logger
	opts      AnswerOptions
	now       func() time.Time
}

// AnswerDeps are the collaborators of AnswerService. Cache, Limiter, Feedback
// and Hub are optional.
type AnswerDeps struct {
	Store     Store
	Questions QuestionRepository
	Cache     Cache
	Limiter   RateLimiter
	Feedback  FeedbackGenerator
	Hub       *LeaderboardHub
	Logger    *logger.Logger
}

func NewAnswerService(deps AnswerDeps, opts AnswerOptions) *AnswerService {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &AnswerService{
		store:     deps.Store,
		questions: deps.Questions,
		cache:     deps.Cache,
		limiter:   deps.Limiter,
		feedback:  deps.Feedback,
		hub:       deps.Hub,
		log:       log,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// WithClock replaces the time source; the clock is sampled once per submission.
func (s *AnswerService) WithClock(now func() time.Time) *AnswerService {
	s.now = now
	return s
}

// SubmitAnswer applies one answer with exactly-once effect per idempotency key.
func (s *AnswerService) SubmitAnswer(ctx context.Context, req domain.AnswerRequest) (domain.AnswerOutcome, error) {
	stage := StageReceived
	log := s.log.With("user_id", req.UserID, "question_id", req.QuestionID, "idempotency_key", req.IdempotencyKey)
	defer func() {
		metrics.AnswersTotal.WithLabelValues(string(stage)).Inc()
		log.Debug("answer submission finished", "stage", stage)
	}()

	if err := validateAnswerRequest(req); err != nil {
		stage = StageRejectedInvalid
		return domain.AnswerOutcome{}, err
	}

	if err := checkRateLimit(ctx, s.limiter, req.UserID, log); err != nil {
		stage = StageRejectedRateLimited
		return domain.AnswerOutcome{}, err
	}

	if outcome, ok, err := s.previousOutcome(ctx, req); err != nil {
		stage = StageFailed
		return domain.AnswerOutcome{}, err
	} else if ok {
		stage = StageRejectedDuplicate
		return outcome, nil
	}
	stage = StageIdempotencyChecked

	question, err := s.questions.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		if errors.Is(err, domain.ErrQuestionNotFound) {
			stage = StageRejectedInvalid
			return domain.AnswerOutcome{}, err
		}
		stage = StageFailed
		return domain.AnswerOutcome{}, fmt.Errorf("get question: %w", err)
	}
	if req.ChosenOption >= len(question.Choices) {
		stage = StageRejectedInvalid
		return domain.AnswerOutcome{}, fmt.Errorf("%w: chosenOption out of range", domain.ErrInvalidInput)
	}

	state, err := s.store.GetUserState(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			stage = StageRejectedInvalid
			return domain.AnswerOutcome{}, err
		}
		stage = StageFailed
		return domain.AnswerOutcome{}, fmt.Errorf("get user state: %w", err)
	}
	if req.ExpectedStateVersion != nil && *req.ExpectedStateVersion != state.StateVersion {
		var outcome domain.AnswerOutcome
		outcome, stage, err = s.resolveConflict(ctx, req)
		return outcome, err
	}
	stage = StageValidated

	now := s.now()
	correct := req.ChosenOption == question.CorrectIndex
	next := adaptive.Next(adaptive.FromUser(state), correct, now)
	// Scored at the difficulty the question was served at, with the post-answer streak.
	delta := scoring.Delta(question.Difficulty, next.Streak, correct)
	commit := buildCommit(state, question, req, next, delta, now)
	stage = StageComputed

	if err := s.commit(ctx, commit); err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateAnswer):
			// Lost a same-key race: replay the winner's outcome.
			stage = StageRejectedDuplicate
			outcome, ok, lookupErr := s.previousOutcome(ctx, req)
			if lookupErr != nil {
				return domain.AnswerOutcome{}, lookupErr
			}
			if !ok {
				return domain.AnswerOutcome{}, fmt.Errorf("%w: duplicate key without log record", domain.ErrCommitFailed)
			}
			return outcome, nil
		case errors.Is(err, domain.ErrStateConflict):
			var outcome domain.AnswerOutcome
			outcome, stage, err = s.resolveConflict(ctx, req)
			return outcome, err
		default:
			stage = StageFailed
			log.Error("answer commit failed", "error", err)
			return domain.AnswerOutcome{}, err
		}
	}
	stage = StageCommitted

	s.invalidate(ctx, req.UserID, log)
	if s.hub != nil {
		s.hub.Publish(domain.LeaderboardUpdate{
			UserID:     commit.State.UserID,
			Username:   commit.State.Username,
			TotalScore: commit.State.TotalScore,
			MaxStreak:  commit.State.MaxStreak,
			UpdatedAt:  now,
		})
	}

	outcome := outcomeFromCommit(commit, question, next)
	s.enrich(ctx, &outcome, question, req, next.Streak)
	if s.cache != nil {
		if err := s.cache.Set(ctx, idempotencyCacheKey(req.IdempotencyKey), outcome, s.opts.IdempotencyTTL); err != nil {
			log.Warn("cache idempotent outcome", "error", err)
		}
	}
	stage = StageResponded
	return outcome, nil
}

// previousOutcome consults the transient cache and then the durable answer log.
func (s *AnswerService) previousOutcome(ctx context.Context, req domain.AnswerRequest) (domain.AnswerOutcome, bool, error) {
	cacheKey := idempotencyCacheKey(req.IdempotencyKey)
	if s.cache != nil {
		var cached domain.AnswerOutcome
		ok, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			s.log.Warn("idempotency cache read failed", "error", err)
		}
		if ok {
			cached.Duplicate = true
			return cached, true, nil
		}
	}

	record, err := s.store.GetAnswer(ctx, req.IdempotencyKey)
	if errors.Is(err, domain.ErrAnswerNotFound) {
		return domain.AnswerOutcome{}, false, nil
	}
	if err != nil {
		return domain.AnswerOutcome{}, false, fmt.Errorf("lookup answer log: %w", err)
	}

	// Cache was lost: rebuild from the record and the current persisted state.
	state, err := s.store.GetUserState(ctx, record.UserID)
	if err != nil {
		return domain.AnswerOutcome{}, false, fmt.Errorf("get user state: %w", err)
	}
	outcome := domain.AnswerOutcome{
		Correct:         record.Correct,
		CorrectAnswer:   -1,
		NewDifficulty:   state.CurrentDifficulty,
		NewStreak:       state.Streak,
		MaxStreak:       state.MaxStreak,
		ScoreDelta:      record.ScoreDelta,
		TotalScore:      state.TotalScore,
		Momentum:        state.Momentum,
		StateVersion:    state.StateVersion,
		StreakReset:     record.StreakReset,
		InactivityDecay: record.InactivityDecay,
	}
	if question, err := s.questions.GetQuestion(ctx, record.QuestionID); err == nil {
		outcome.CorrectAnswer = question.CorrectIndex
	} else if record.Correct {
		outcome.CorrectAnswer = record.ChosenOption
	}
	outcome.LeaderboardRankScore, outcome.LeaderboardRankStreak = s.ranks(ctx, record.UserID)
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, outcome, s.opts.IdempotencyTTL); err != nil {
			s.log.Warn("cache rebuilt outcome", "error", err)
		}
	}
	outcome.Duplicate = true
	return outcome, true, nil
}

// resolveConflict runs after a version mismatch. When the mismatch came from a
// commit of the same idempotency key, that commit's outcome is replayed.
func (s *AnswerService) resolveConflict(ctx context.Context, req domain.AnswerRequest) (domain.AnswerOutcome, Stage, error) {
	outcome, ok, err := s.previousOutcome(ctx, req)
	if err != nil {
		return domain.AnswerOutcome{}, StageFailed, err
	}
	if ok {
		return outcome, StageRejectedDuplicate, nil
	}
	return domain.AnswerOutcome{}, StageRejectedConflict, domain.ErrStateConflict
}

// commit runs detached from caller cancellation: once started it finishes or
// aborts as a unit within CommitTimeout.
func (s *AnswerService) commit(ctx context.Context, commit domain.AnswerCommit) error {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CommitTimeout)
	defer cancel()

	start := time.Now()
	err := s.store.CommitAnswer(commitCtx, commit)
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	if err == nil || errors.Is(err, domain.ErrDuplicateAnswer) || errors.Is(err, domain.ErrStateConflict) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrCommitFailed, err)
}

func (s *AnswerService) invalidate(ctx context.Context, userID string, log *logger.Logger) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, userMetricsKey(userID), leaderboardScoreKey, leaderboardStreakKey); err != nil {
		log.Warn("cache invalidation failed", "error", err)
	}
}

// enrich adds ranks and AI feedback. Both are best effort and run concurrently.
func (s *AnswerService) enrich(ctx context.Context, outcome *domain.AnswerOutcome, q domain.Question, req domain.AnswerRequest, streak int) {
	var g errgroup.Group
	g.Go(func() error {
		outcome.LeaderboardRankScore, outcome.LeaderboardRankStreak = s.ranks(ctx, req.UserID)
		return nil
	})
	g.Go(func() error {
		outcome.AIFeedback, outcome.AIExplanation = s.generateFeedback(ctx, q, req.ChosenOption, outcome.Correct, streak)
		return nil
	})
	_ = g.Wait()
}

func (s *AnswerService) ranks(ctx context.Context, userID string) (int, int) {
	var scoreRank, streakRank int
	var g errgroup.Group
	g.Go(func() error {
		rank, err := s.store.RankByScore(ctx, userID)
		if err != nil {
			s.log.Warn("score rank lookup failed", "user_id", userID, "error", err)
			return nil
		}
		scoreRank = rank
		return nil
	})
	g.Go(func() error {
		rank, err := s.store.RankByStreak(ctx, userID)
		if err != nil {
			s.log.Warn("streak rank lookup failed", "user_id", userID, "error", err)
			return nil
		}
		streakRank = rank
		return nil
	})
	_ = g.Wait()
	return scoreRank, streakRank
}

func (s *AnswerService) generateFeedback(ctx context.Context, q domain.Question, chosen int, correct bool, streak int) (string, *string) {
	if s.feedback == nil {
		return FallbackFeedback(correct, streak, q.Difficulty), nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.FeedbackTimeout)
	defer cancel()

	var feedback string
	var explanation *string
	var g errgroup.Group
	g.Go(func() error {
		text, err := s.feedback.Feedback(ctx, correct, streak, q.Difficulty, q.Prompt)
		if err != nil || strings.TrimSpace(text) == "" {
			metrics.AIFallbackTotal.WithLabelValues("feedback").Inc()
			s.log.Debug("feedback fallback", "error", err)
			feedback = FallbackFeedback(correct, streak, q.Difficulty)
			return nil
		}
		feedback = text
		return nil
	})
	if !correct {
		g.Go(func() error {
			text, err := s.feedback.Explanation(ctx, q.Prompt, q.Choices[q.CorrectIndex], q.Choices[chosen])
			if err != nil || strings.TrimSpace(text) == "" {
				metrics.AIFallbackTotal.WithLabelValues("explanation").Inc()
				return nil
			}
			explanation = &text
			return nil
		})
	}
	_ = g.Wait()
	return feedback, explanation
}

func buildCommit(state domain.UserState, q domain.Question, req domain.AnswerRequest, next adaptive.Result, delta int, now time.Time) domain.AnswerCommit {
	updated := state
	updated.CurrentDifficulty = next.Difficulty
	updated.Momentum = next.Momentum
	updated.Streak = next.Streak
	updated.MaxStreak = next.MaxStreak
	updated.RecentAnswers = next.RecentAnswers
	updated.LastAnswerAt = &now
	updated.LastQuestionID = q.ID
	updated.StateVersion = state.StateVersion + 1
	updated.TotalScore = state.TotalScore + int64(delta)
	updated.TotalAnswered = state.TotalAnswered + 1
	correct := req.ChosenOption == q.CorrectIndex
	if correct {
		updated.TotalCorrect = state.TotalCorrect + 1
	}

	return domain.AnswerCommit{
		ExpectedVersion: state.StateVersion,
		State:           updated,
		Record: domain.AnswerRecord{
			IdempotencyKey:  req.IdempotencyKey,
			UserID:          state.UserID,
			QuestionID:      q.ID,
			Difficulty:      q.Difficulty,
			ChosenOption:    req.ChosenOption,
			Correct:         correct,
			ScoreDelta:      delta,
			StreakAtAnswer:  next.Streak,
			StreakReset:     next.StreakReset,
			InactivityDecay: next.InactivityDecay,
			AnsweredAt:      now,
		},
	}
}

func outcomeFromCommit(commit domain.AnswerCommit, q domain.Question, next adaptive.Result) domain.AnswerOutcome {
	return domain.AnswerOutcome{
		Correct:         commit.Record.Correct,
		CorrectAnswer:   q.CorrectIndex,
		NewDifficulty:   next.Difficulty,
		NewStreak:       next.Streak,
		MaxStreak:       next.MaxStreak,
		ScoreDelta:      commit.Record.ScoreDelta,
		TotalScore:      commit.State.TotalScore,
		Momentum:        next.Momentum,
		StateVersion:    commit.State.StateVersion,
		StreakReset:     next.StreakReset,
		InactivityDecay: next.InactivityDecay,
	}
}

func validateAnswerRequest(req domain.AnswerRequest) error {
	var missing []string
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(req.QuestionID) == "" {
		missing = append(missing, "questionId")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		missing = append(missing, "idempotencyKey")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", domain.ErrInvalidInput, strings.Join(missing, ", "))
	}
	if req.ChosenOption < 0 {
		return fmt.Errorf("%w: chosenOption must be >= 0", domain.ErrInvalidInput)
	}
	if req.ExpectedStateVersion != nil && *req.ExpectedStateVersion < 1 {
		return fmt.Errorf("%w: expectedStateVersion must be >= 1", domain.ErrInvalidInput)
	}
	return nil
}

// checkRateLimit fails open when the limiter itself errors.
func checkRateLimit(ctx context.Context, limiter RateLimiter, userID string, log *logger.Logger) error {
	if limiter == nil {
		return nil
	}
	res, err := limiter.Allow(ctx, userID)
	if err != nil {
		log.Warn("rate limiter unavailable, allowing request", "error", err)
		return nil
	}
	if !res.Allowed {
		metrics.RateLimitRejections.Inc()
		return &domain.RateLimitError{ResetAt: res.ResetAt}
	}
	return nil
}
