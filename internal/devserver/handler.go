package devserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/middleware"
)

// HandlerConfig configures the HTTP surface.
type HandlerConfig struct {
	// Token, when set, is required as a Bearer credential.
	Token          string
	AllowedOrigins []string
	// MessageLimiter throttles user turns per chat. Nil disables throttling.
	MessageLimiter *RateLimiter
}

// Handler returns the chi router serving s.
func (s *Server) Handler(cfg HandlerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/health"))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(cfg.AllowedOrigins))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(cfg.Token))

		r.Route("/api/chats", func(r chi.Router) {
			r.Post("/", s.handleCreateChat)
			r.Get("/", s.handleListChats)
			r.Route("/{chatID}", func(r chi.Router) {
				r.Get("/messages/", s.handleListMessages)
				r.Post("/messages/", s.handlePostMessage(cfg.MessageLimiter))
				r.Post("/heartbeat/", s.handleHeartbeat)
				r.Post("/confirm-actions/", s.handleConfirm)
				r.Post("/cancel-actions/", s.handleCancel)
				r.Post("/checklist/", s.handleChecklist)
			})
		})
		r.Get("/api/goals/{goalID}", s.handleGetGoal)
		r.Get("/api/milestones/", s.handleMilestones)
		r.Get("/api/tasks/", s.handleTasks)
	})
	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a FastAPI style {"detail": ...} error response.
func Error(w http.ResponseWriter, status int, detail string) {
	JSON(w, status, map[string]string{"detail": detail})
}

// injected writes an injected failure and reports whether it did.
func (s *Server) injected(w http.ResponseWriter, route string) bool {
	if status := s.hit(route); status != 0 {
		Error(w, status, "injected failure")
		return true
	}
	return false
}

func pathID(r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	return id, err == nil && id > 0
}

func queryID(r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return id, err == nil
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteCreateChat) {
		return
	}
	var req struct {
		GoalID int64 `json:"goal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GoalID <= 0 {
		Error(w, http.StatusUnprocessableEntity, "goal_id is required")
		return
	}
	JSON(w, http.StatusCreated, s.createChat(req.GoalID))
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteListChats) {
		return
	}
	goalID, ok := queryID(r, "goal_id")
	if !ok {
		Error(w, http.StatusUnprocessableEntity, "goal_id is required")
		return
	}
	JSON(w, http.StatusOK, s.chatsForGoal(goalID))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(r, "chatID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	route := RouteListMessages
	var afterID int64
	if r.URL.Query().Has("after_id") {
		route = RouteMessagesSince
		if afterID, ok = queryID(r, "after_id"); !ok {
			Error(w, http.StatusUnprocessableEntity, "after_id must be an integer")
			return
		}
	}
	if s.injected(w, route) {
		return
	}

	msgs, found := s.messagesAfter(chatID, afterID)
	if !found {
		Error(w, http.StatusNotFound, "Chat not found")
		return
	}
	JSON(w, http.StatusOK, msgs)
}

func (s *Server) handlePostMessage(limiter *RateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.injected(w, RoutePostMessage) {
			return
		}
		chatID, ok := pathID(r, "chatID")
		if !ok {
			Error(w, http.StatusBadRequest, "invalid chat id")
			return
		}
		if limiter != nil && !limiter.Allow(strconv.FormatInt(chatID, 10)) {
			Error(w, http.StatusTooManyRequests, "Too many messages, slow down")
			return
		}

		var req struct {
			Content string `json:"content"`
			Sender  string `json:"sender"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
			Error(w, http.StatusUnprocessableEntity, "content is required")
			return
		}
		debug, _ := strconv.ParseBool(r.URL.Query().Get("debug_mode"))

		msg, found := s.postUserMessage(chatID, req.Content, debug)
		if !found {
			Error(w, http.StatusNotFound, "Chat not found")
			return
		}
		s.logger.Debug("Devserver stored user turn",
			"chat_id", chatID,
			"message_id", msg.ID,
			"request_id", chimw.GetReqID(r.Context()),
		)
		JSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteHeartbeat) {
		return
	}
	chatID, ok := pathID(r, "chatID")
	if !ok || !s.heartbeat(chatID) {
		Error(w, http.StatusNotFound, "Chat not found")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteConfirmActions) {
		return
	}
	chatID, ok := pathID(r, "chatID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	var req struct {
		Actions []directive.PendingAction `json:"actions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Actions) == 0 {
		Error(w, http.StatusUnprocessableEntity, "actions are required")
		return
	}
	if !s.confirm(chatID, req.Actions) {
		Error(w, http.StatusNotFound, "Chat not found")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"status": "applied", "count": len(req.Actions)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteCancelActions) {
		return
	}
	chatID, ok := pathID(r, "chatID")
	if !ok || !s.cancel(chatID) {
		Error(w, http.StatusNotFound, "Chat not found")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleChecklist(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteChecklist) {
		return
	}
	chatID, ok := pathID(r, "chatID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	var sub ChecklistSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		Error(w, http.StatusUnprocessableEntity, "invalid checklist submission")
		return
	}
	sub.ChatID = chatID
	if !s.submitChecklist(sub) {
		Error(w, http.StatusNotFound, "Chat not found")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteGetGoal) {
		return
	}
	goalID, ok := pathID(r, "goalID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid goal id")
		return
	}
	g, found := s.goal(goalID)
	if !found {
		Error(w, http.StatusNotFound, "Goal not found")
		return
	}
	JSON(w, http.StatusOK, g)
}

func (s *Server) handleMilestones(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteMilestones) {
		return
	}
	goalID, ok := queryID(r, "goal_id")
	if !ok {
		Error(w, http.StatusUnprocessableEntity, "goal_id is required")
		return
	}
	JSON(w, http.StatusOK, s.goalMilestones(goalID))
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteTasks) {
		return
	}
	goalID, ok := queryID(r, "goal_id")
	if !ok {
		Error(w, http.StatusUnprocessableEntity, "goal_id is required")
		return
	}
	JSON(w, http.StatusOK, s.goalTasks(goalID))
}
