package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/logger"
	"github.com/gorilla/websocket"
)

// WSHandler streams leaderboard updates and accepts answer/next messages over
// a websocket.
type WSHandler struct {
	svc      Services
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(s Services) *WSHandler {
	log := s.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &WSHandler{
		svc: s,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type connectedPayload struct {
	UserID string `json:"userId"`
}

// ServeWS upgrades the request. userId is required; answers submitted on the
// socket are always attributed to it.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}
	if h.svc.Users != nil {
		if _, err := h.svc.Users.State(r.Context(), userID); err != nil {
			code, status := domain.Code(err)
			http.Error(w, code, status)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	var updates <-chan domain.LeaderboardUpdate
	if h.svc.Leaderboards != nil {
		ch, cancel, err := h.svc.Leaderboards.Subscribe(ctx)
		if err == nil {
			updates = ch
			defer cancel()
		} else {
			h.log.Warn("leaderboard updates unavailable", "error", err)
		}
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches conn for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		if updates == nil {
			<-closeSignals
			return
		}
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "leaderboard", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "connected", Payload: connectedPayload{UserID: userID}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		send <- h.handleMessage(ctx, userID, inbound)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handleMessage(ctx context.Context, userID string, inbound inboundMessage) outboundMessage[any] {
	switch inbound.Type {
	case "answer":
		var req answerRequest
		if err := json.Unmarshal(inbound.Payload, &req); err != nil {
			return wsError(errors.New("invalid answer payload"), domain.CodeInvalidInput)
		}
		req.UserID = userID
		if err := validateStruct(req); err != nil {
			return wsErrorFrom(err)
		}
		outcome, err := h.svc.Answers.SubmitAnswer(ctx, req.toDomain())
		if err != nil {
			return wsErrorFrom(err)
		}
		return outboundMessage[any]{Type: "answerResult", Payload: outcome}
	case "next":
		q, err := h.svc.Questions.Next(ctx, userID)
		if err != nil {
			return wsErrorFrom(err)
		}
		return outboundMessage[any]{Type: "question", Payload: q}
	default:
		return wsError(errors.New("unsupported message type"), domain.CodeInvalidInput)
	}
}

func wsErrorFrom(err error) outboundMessage[any] {
	code, _ := domain.Code(err)
	return wsError(err, code)
}

func wsError(err error, code string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error(), Code: code}}
}
