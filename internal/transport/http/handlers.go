package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/logger"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Handler serves the REST endpoints.
type Handler struct {
	svc Services
	log *logger.Logger
}

func NewHandler(s Services) *Handler {
	log := s.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{svc: s, log: log}
}

type usernameRequest struct {
	Username string `json:"username" validate:"required,min=2,max=64"`
}

// answerRequest is the wire form of a submission. ChosenOption is a pointer so
// that a missing field is distinguishable from option 0.
type answerRequest struct {
	UserID               string `json:"userId" validate:"required"`
	QuestionID           string `json:"questionId" validate:"required"`
	ChosenOption         *int   `json:"chosenOption" validate:"required,min=0"`
	ExpectedStateVersion *int   `json:"expectedStateVersion,omitempty" validate:"omitempty,min=1"`
	IdempotencyKey       string `json:"idempotencyKey" validate:"required,max=128"`
}

func (r answerRequest) toDomain() domain.AnswerRequest {
	return domain.AnswerRequest{
		UserID:               r.UserID,
		QuestionID:           r.QuestionID,
		ChosenOption:         *r.ChosenOption,
		ExpectedStateVersion: r.ExpectedStateVersion,
		IdempotencyKey:       r.IdempotencyKey,
	}
}

type errorResponse struct {
	Error   string     `json:"error"`
	Code    string     `json:"code"`
	ResetAt *time.Time `json:"resetAt,omitempty"`
}

// Register handles POST /v1/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	user, err := h.svc.Users.Register(r.Context(), req.Username)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Login handles POST /v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	user, err := h.svc.Users.Login(r.Context(), req.Username)
	if err != nil {
		h.writeError(w, err)
		return
	}
	state, err := h.svc.Users.State(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId":   user.ID,
		"username": user.Username,
		"state":    state,
	})
}

// NextQuestion handles GET /v1/quiz/next?userId=.
func (h *Handler) NextQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.Questions.Next(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// SubmitAnswer handles POST /v1/quiz/answer. An Idempotency-Key header is
// used when the body omits idempotencyKey.
func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput))
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	if err := validateStruct(req); err != nil {
		h.writeError(w, err)
		return
	}
	outcome, err := h.svc.Answers.SubmitAnswer(r.Context(), req.toDomain())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// Metrics handles GET /v1/quiz/metrics?userId=.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Users.Metrics(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// LeaderboardScore handles GET /v1/leaderboard/score?limit=&userId=.
func (h *Handler) LeaderboardScore(w http.ResponseWriter, r *http.Request) {
	board, err := h.svc.Leaderboards.TopByScore(r.Context(), queryLimit(r), r.URL.Query().Get("userId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// LeaderboardStreak handles GET /v1/leaderboard/streak?limit=&userId=.
func (h *Handler) LeaderboardStreak(w http.ResponseWriter, r *http.Request) {
	board, err := h.svc.Leaderboards.TopByStreak(r.Context(), queryLimit(r), r.URL.Query().Get("userId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func decodeAndValidate(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	return validateStruct(dst)
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", lowerFirst(fe.Field()), fe.Tag()))
		}
		return fmt.Errorf("%w: invalid fields: %s", domain.ErrInvalidInput, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code, status := domain.Code(err)
	resp := errorResponse{Error: err.Error(), Code: code}
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		resetAt := rl.ResetAt
		resp.ResetAt = &resetAt
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(resetAt)))
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func retryAfterSeconds(resetAt time.Time) int {
	secs := int(time.Until(resetAt).Seconds() + 0.5)
	if secs < 1 {
		return 1
	}
	return secs
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
