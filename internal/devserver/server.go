// Package devserver is an in-memory goal server implementing the chat HTTP
// surface. It backs the client tests and the `goalchat devserver` command.
package devserver

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
)

// Route names used by Calls and FailNext.
const (
	RouteCreateChat     = "create_chat"
	RouteListChats      = "list_chats"
	RouteListMessages   = "list_messages"
	RouteMessagesSince  = "messages_since"
	RoutePostMessage    = "post_message"
	RouteHeartbeat      = "heartbeat"
	RouteConfirmActions = "confirm_actions"
	RouteCancelActions  = "cancel_actions"
	RouteChecklist      = "checklist"
	RouteGetGoal        = "get_goal"
	RouteMilestones     = "milestones"
	RouteTasks          = "tasks"
)

// Responder produces the assistant reply to a user turn. Returning false
// means the assistant stays silent.
type Responder func(s *Server, chatID int64, text string) (string, bool)

// Confirmation is a recorded confirm-actions call.
type Confirmation struct {
	ChatID  int64
	Actions []directive.PendingAction
}

// ChecklistSubmission is a recorded checklist post.
type ChecklistSubmission struct {
	ChatID      int64                     `json:"-"`
	ChecklistID int64                     `json:"checklist_id"`
	Answers     map[string]any            `json:"answers"`
	Title       string                    `json:"title"`
	Items       []directive.ChecklistItem `json:"items"`
}

type chatState struct {
	chat     domain.Chat
	messages []domain.Message
}

type failure struct {
	status    int
	remaining int
}

// Server holds chats, messages and goal data in memory. It is safe for
// concurrent use.
type Server struct {
	mu sync.Mutex

	chats      map[int64]*chatState
	goals      map[int64]domain.Goal
	milestones map[int64][]domain.Milestone
	tasks      map[int64][]domain.Task

	nextChatID      int64
	nextMessageID   int64
	nextGoalID      int64
	nextMilestoneID int64
	nextTaskID      int64

	responder  Responder
	replyDelay time.Duration
	timers     []*time.Timer
	closed     bool

	calls         map[string]int
	failures      map[string]*failure
	heartbeats    map[int64]int
	confirmations []Confirmation
	cancellations map[int64]int
	checklists    []ChecklistSubmission

	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithResponder sets the assistant reply function.
func WithResponder(r Responder) Option {
	return func(s *Server) { s.responder = r }
}

// WithReplyDelay delays assistant replies, imitating server-side generation.
func WithReplyDelay(d time.Duration) Option {
	return func(s *Server) { s.replyDelay = d }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates an empty server with the default responder.
func New(opts ...Option) *Server {
	s := &Server{
		chats:         make(map[int64]*chatState),
		goals:         make(map[int64]domain.Goal),
		milestones:    make(map[int64][]domain.Milestone),
		tasks:         make(map[int64][]domain.Task),
		responder:     DefaultResponder,
		calls:         make(map[string]int),
		failures:      make(map[string]*failure),
		heartbeats:    make(map[int64]int),
		cancellations: make(map[int64]int),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetResponder swaps the reply function.
func (s *Server) SetResponder(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = r
}

// Close stops pending delayed replies.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

// CreateGoal stores a goal and returns it with its assigned id.
func (s *Server) CreateGoal(title, description string) domain.Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGoalID++
	g := domain.Goal{
		ID:          s.nextGoalID,
		Title:       title,
		Description: description,
		Status:      "active",
		CreatedAt:   now(),
	}
	s.goals[g.ID] = g
	return g
}

// AddMilestone stores a milestone for a goal.
func (s *Server) AddMilestone(goalID int64, title string) domain.Milestone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addMilestoneLocked(goalID, title, "")
}

func (s *Server) addMilestoneLocked(goalID int64, title, targetDate string) domain.Milestone {
	s.nextMilestoneID++
	m := domain.Milestone{
		ID:         s.nextMilestoneID,
		GoalID:     goalID,
		Title:      title,
		TargetDate: targetDate,
		CreatedAt:  now(),
	}
	s.milestones[goalID] = append(s.milestones[goalID], m)
	return m
}

// AddTask stores a task for a goal.
func (s *Server) AddTask(goalID int64, title string) domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTaskLocked(goalID, title, 0, "")
}

func (s *Server) addTaskLocked(goalID int64, title string, milestoneID int64, due string) domain.Task {
	s.nextTaskID++
	t := domain.Task{
		ID:        s.nextTaskID,
		GoalID:    goalID,
		Title:     title,
		DueDate:   due,
		CreatedAt: now(),
	}
	if milestoneID != 0 {
		t.MilestoneID = &milestoneID
	}
	s.tasks[goalID] = append(s.tasks[goalID], t)
	return t
}

// Inject appends an assistant message the client did not ask for.
func (s *Server) Inject(chatID int64, body string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return domain.Message{}, fmt.Errorf("chat %d not found", chatID)
	}
	return s.appendLocked(cs, domain.SenderAssistant, body), nil
}

// Messages returns a copy of a chat's messages.
func (s *Server) Messages(chatID int64) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	return slices.Clone(cs.messages)
}

// Calls returns how many times a route was hit.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// FailNext makes the next n calls to route answer with status.
func (s *Server) FailNext(route string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = &failure{status: status, remaining: n}
}

// Heartbeats returns the number of heartbeats received for a chat.
func (s *Server) Heartbeats(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats[chatID]
}

// Confirmations returns the recorded confirm-actions calls.
func (s *Server) Confirmations() []Confirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.confirmations)
}

// Cancellations returns the number of cancel-actions calls for a chat.
func (s *Server) Cancellations(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancellations[chatID]
}

// Checklists returns the recorded checklist submissions.
func (s *Server) Checklists() []ChecklistSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.checklists)
}

// hit counts a call and reports an injected failure status, or 0.
func (s *Server) hit(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[route]++
	f, ok := s.failures[route]
	if !ok || f.remaining <= 0 {
		return 0
	}
	f.remaining--
	return f.status
}

func (s *Server) createChat(goalID int64) domain.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextChatID++
	c := domain.Chat{ID: s.nextChatID, GoalID: goalID, CreatedAt: now()}
	s.chats[c.ID] = &chatState{chat: c}
	return c
}

func (s *Server) chatsForGoal(goalID int64) []domain.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Chat{}
	for _, cs := range s.chats {
		if cs.chat.GoalID == goalID {
			out = append(out, cs.chat)
		}
	}
	slices.SortFunc(out, func(a, b domain.Chat) int { return int(a.ID - b.ID) })
	return out
}

func (s *Server) messagesAfter(chatID, afterID int64) ([]domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return nil, false
	}
	out := []domain.Message{}
	for _, m := range cs.messages {
		if m.ID > afterID {
			out = append(out, m)
		}
	}
	return out, true
}

// postUserMessage stores a user turn and schedules the assistant reply.
func (s *Server) postUserMessage(chatID int64, text string, debug bool) (domain.Message, bool) {
	s.mu.Lock()
	cs, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return domain.Message{}, false
	}
	userMsg := s.appendLocked(cs, domain.SenderUser, text)
	responder := s.responder
	delay := s.replyDelay
	s.mu.Unlock()

	reply := func() {
		body, ok := responder(s, chatID, text)
		if !ok {
			return
		}
		if debug {
			body += "\n\n━━━━━━━━━━━━━━━━━━━━\n🔧 DEBUG LOG:\nresponder=devserver\nchars=" + fmt.Sprint(len(text))
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		if cs, ok := s.chats[chatID]; ok {
			s.appendLocked(cs, domain.SenderAssistant, body)
		}
	}

	if delay <= 0 {
		reply()
		return userMsg, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.timers = append(s.timers, time.AfterFunc(delay, reply))
	}
	return userMsg, true
}

func (s *Server) appendLocked(cs *chatState, sender domain.Sender, body string) domain.Message {
	s.nextMessageID++
	m := domain.Message{
		ID:        s.nextMessageID,
		ChatID:    cs.chat.ID,
		Body:      body,
		Sender:    sender,
		CreatedAt: now(),
	}
	cs.messages = append(cs.messages, m)
	cs.chat.UpdatedAt = m.CreatedAt
	return m
}

// confirm applies the batch to the goal's milestones and acknowledges it.
func (s *Server) confirm(chatID int64, actions []directive.PendingAction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return false
	}
	s.confirmations = append(s.confirmations, Confirmation{ChatID: chatID, Actions: actions})

	goalID := cs.chat.GoalID
	var applied []string
	for _, pa := range actions {
		switch a := pa.Decode().(type) {
		case directive.CreateMilestone:
			s.addMilestoneLocked(goalID, a.Title, a.TargetDate)
		case directive.CompleteMilestone:
			s.setMilestoneDoneLocked(goalID, a.MilestoneID, a.Title)
		case directive.DeleteMilestone:
			s.milestones[goalID] = slices.DeleteFunc(s.milestones[goalID], func(m domain.Milestone) bool {
				return matchesMilestone(m, a.MilestoneID, a.Title)
			})
		case directive.CreateTask:
			s.addTaskLocked(goalID, a.Title, a.MilestoneID, a.DueDate)
		case directive.CompleteTask:
			for i, t := range s.tasks[goalID] {
				if t.ID == a.TaskID || (a.TaskID == 0 && strings.EqualFold(t.Title, a.Title)) {
					s.tasks[goalID][i].IsCompleted = true
				}
			}
		case directive.SetDeadline:
			for i, m := range s.milestones[goalID] {
				if matchesMilestone(m, a.MilestoneID, a.Title) {
					s.milestones[goalID][i].TargetDate = a.TargetDate
				}
			}
		default:
			s.logger.Info("Devserver ignoring action", "type", pa.Type)
			continue
		}
		applied = append(applied, pa.Decode().Preview())
	}

	body := "✅ Actions applied."
	if len(applied) > 0 {
		body = "✅ Actions applied:\n" + strings.Join(applied, "\n")
	}
	s.appendLocked(cs, domain.SenderAssistant, body)
	return true
}

func (s *Server) setMilestoneDoneLocked(goalID, id int64, title string) {
	for i, m := range s.milestones[goalID] {
		if matchesMilestone(m, id, title) {
			s.milestones[goalID][i].IsCompleted = true
		}
	}
}

func matchesMilestone(m domain.Milestone, id int64, title string) bool {
	if id != 0 {
		return m.ID == id
	}
	return title != "" && strings.EqualFold(m.Title, title)
}

func (s *Server) cancel(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return false
	}
	s.cancellations[chatID]++
	s.appendLocked(cs, domain.SenderAssistant, "Okay, I won't make those changes.")
	return true
}

func (s *Server) submitChecklist(sub ChecklistSubmission) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[sub.ChatID]
	if !ok {
		return false
	}
	s.checklists = append(s.checklists, sub)
	s.appendLocked(cs, domain.SenderAssistant, fmt.Sprintf("Thanks! Recorded %d answers for %q.", len(sub.Answers), sub.Title))
	return true
}

func (s *Server) heartbeat(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return false
	}
	s.heartbeats[chatID]++
	return true
}

func (s *Server) goal(id int64) (domain.Goal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	return g, ok
}

func (s *Server) goalMilestones(goalID int64) []domain.Milestone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Milestone{}, s.milestones[goalID]...)
}

func (s *Server) goalTasks(goalID int64) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task{}, s.tasks[goalID]...)
}

func now() domain.Timestamp {
	return domain.Timestamp{Time: time.Now().UTC()}
}
