package http

import (
	"net/http"
	"os"

	"adaptive-quiz-service/internal/app"
	"adaptive-quiz-service/internal/logger"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services holds the use cases exposed over HTTP and websockets.
type Services struct {
	Answers      *app.AnswerService
	Questions    *app.QuestionService
	Users        *app.UserService
	Leaderboards *app.LeaderboardService
	Logger       *logger.Logger
}

// NewRouter builds the API router: REST endpoints under /v1, the websocket
// channel, health and Prometheus metrics.
func NewRouter(s Services) http.Handler {
	if s.Logger == nil {
		s.Logger = logger.Nop()
	}
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	h := NewHandler(s)
	ws := NewWSHandler(s)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/quiz/next", h.NextQuestion).Methods(http.MethodGet, http.MethodOptions)
	v1.HandleFunc("/quiz/answer", h.SubmitAnswer).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/quiz/metrics", h.Metrics).Methods(http.MethodGet, http.MethodOptions)
	v1.HandleFunc("/leaderboard/score", h.LeaderboardScore).Methods(http.MethodGet, http.MethodOptions)
	v1.HandleFunc("/leaderboard/streak", h.LeaderboardStreak).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/ws", ws.ServeWS).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			allowedOrigins = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Idempotency-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
