package memory

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"adaptive-quiz-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader resolves a question by id from the question bank of record.
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// QuestionRepository serves answer validation from process memory. Entries
// expire after ttl plus up to 10% jitter; concurrent misses for one id share a
// single load.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	loads  singleflight.Group

	mu      sync.RWMutex
	jitter  *rand.Rand
	entries map[string]questionEntry
}

type questionEntry struct {
	question  domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader:  loader,
		ttl:     ttl,
		clock:   time.Now,
		jitter:  rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: make(map[string]questionEntry),
	}
}

// GetQuestion returns a copy of the question, so callers may not mutate the
// cached choices.
func (r *QuestionRepository) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	if q, ok := r.fresh(questionID); ok {
		return q, nil
	}
	v, err, _ := r.loads.Do(questionID, func() (interface{}, error) {
		if q, ok := r.fresh(questionID); ok {
			return q, nil
		}
		q, err := r.loader.LoadQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}
		r.store(questionID, q)
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return cloneQuestion(v.(domain.Question)), nil
}

func (r *QuestionRepository) fresh(questionID string) (domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[questionID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.Question{}, false
	}
	return cloneQuestion(entry.question), true
}

func (r *QuestionRepository) store(questionID string, q domain.Question) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiresAt := r.clock().Add(r.ttl)
	if spread := int64(r.ttl) / 10; spread > 0 {
		expiresAt = expiresAt.Add(time.Duration(r.jitter.Int63n(spread + 1)))
	}
	r.entries[questionID] = questionEntry{question: cloneQuestion(q), expiresAt: expiresAt}
}

// QuestionBank is an in-memory question source and pool (useful for tests/demos
// and for running without Postgres).
type QuestionBank struct {
	mu        sync.RWMutex
	questions map[string]domain.Question
	order     []string
}

func NewQuestionBank(questions []domain.Question) *QuestionBank {
	b := &QuestionBank{questions: make(map[string]domain.Question, len(questions))}
	for _, q := range questions {
		b.add(q)
	}
	return b
}

func (b *QuestionBank) add(q domain.Question) {
	if _, ok := b.questions[q.ID]; !ok {
		b.order = append(b.order, q.ID)
	}
	b.questions[q.ID] = cloneQuestion(q)
}

func (b *QuestionBank) LoadQuestion(_ context.Context, questionID string) (domain.Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if q, ok := b.questions[questionID]; ok {
		return cloneQuestion(q), nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (b *QuestionBank) ListByDifficulty(_ context.Context, difficulty int, aiGenerated bool, excludeID string, limit int) ([]domain.Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.Question
	for _, id := range b.order {
		q := b.questions[id]
		if q.Difficulty != difficulty || q.AIGenerated != aiGenerated || q.ID == excludeID {
			continue
		}
		out = append(out, cloneQuestion(q))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (b *QuestionBank) CountByDifficulty(_ context.Context, difficulty int, aiGenerated bool) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, q := range b.questions {
		if q.Difficulty == difficulty && q.AIGenerated == aiGenerated {
			n++
		}
	}
	return n, nil
}

func (b *QuestionBank) SaveQuestion(_ context.Context, q domain.Question) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(q)
	return nil
}

// IDs returns all question ids sorted, for diagnostics and tests.
func (b *QuestionBank) IDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := append([]string(nil), b.order...)
	sort.Strings(ids)
	return ids
}

func cloneQuestion(q domain.Question) domain.Question {
	q.Choices = append([]string(nil), q.Choices...)
	return q
}
