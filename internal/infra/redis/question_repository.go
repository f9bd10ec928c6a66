package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"adaptive-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches questions from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// QuestionRepository caches questions in Redis (hash per question) and falls back to a loader on cache miss.
// Fields are stored as: HSET question:{id} difficulty prompt choices correctIndex category ai
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	key := questionKey(questionID)

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		if q, ok := questionFromHash(questionID, fields); ok {
			return q, nil
		}
	}

	result, err, _ := r.sf.Do(questionID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err == nil && len(fields) > 0 {
			if q, ok := questionFromHash(questionID, fields); ok {
				return q, nil
			}
		}

		q, err := r.loader.LoadQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}

		choices, err := json.Marshal(q.Choices)
		if err != nil {
			return q, nil
		}
		pipe := r.client.Pipeline()
		pipe.HSet(ctx, key,
			"difficulty", q.Difficulty,
			"prompt", q.Prompt,
			"choices", string(choices),
			"correctIndex", q.CorrectIndex,
			"category", q.Category,
			"ai", strconv.FormatBool(q.AIGenerated),
		)
		if ttl := r.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func questionKey(questionID string) string {
	return "question:" + questionID
}

func questionFromHash(questionID string, fields map[string]string) (domain.Question, bool) {
	difficulty, err := strconv.Atoi(fields["difficulty"])
	if err != nil {
		return domain.Question{}, false
	}
	correct, err := strconv.Atoi(fields["correctIndex"])
	if err != nil {
		return domain.Question{}, false
	}
	var choices []string
	if err := json.Unmarshal([]byte(fields["choices"]), &choices); err != nil {
		return domain.Question{}, false
	}
	ai, _ := strconv.ParseBool(fields["ai"])
	return domain.Question{
		ID:           questionID,
		Difficulty:   difficulty,
		Prompt:       fields["prompt"],
		Choices:      choices,
		CorrectIndex: correct,
		Category:     fields["category"],
		AIGenerated:  ai,
	}, true
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
