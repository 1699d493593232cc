// Package session implements the client side of a goal chat: an owned
// SyncSession that polls for assistant replies, picks up proactive
// messages, keeps the chat marked active and applies directive side
// effects exactly once.
//
// All timers belong to the session and stop on Close.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/api"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/chatlog"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/store"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/transcript"
)

// Client is the server surface a session consumes. *api.Client implements it.
type Client interface {
	CreateChat(ctx context.Context, goalID int64) (domain.Chat, error)
	ListChats(ctx context.Context, goalID int64) ([]domain.Chat, error)
	ListMessages(ctx context.Context, chatID int64) ([]domain.Message, error)
	ListMessagesSince(ctx context.Context, chatID, afterID int64) ([]domain.Message, error)
	PostMessage(ctx context.Context, chatID int64, content string, sender domain.Sender, debug bool) (domain.Message, error)
	Heartbeat(ctx context.Context, chatID int64) error
	ConfirmActions(ctx context.Context, chatID int64, actions []directive.PendingAction) error
	CancelActions(ctx context.Context, chatID int64) error
	SubmitChecklist(ctx context.Context, chatID int64, sub api.ChecklistSubmission) error
	GetGoal(ctx context.Context, goalID int64) (domain.Goal, error)
}

var _ Client = (*api.Client)(nil)

// Options configures a session. GoalID and Client are required.
type Options struct {
	GoalID int64
	Client Client

	// Store caches the log and processed goal ids. Nil disables caching.
	Store store.Repository
	// Transcript receives an audit event per turn, message and outcome.
	Transcript transcript.Logger
	Logger     *slog.Logger

	// Debug asks the server for diagnostic trailers and renders failures
	// with full detail.
	Debug bool

	PollInitialDelay  time.Duration
	PollInterval      time.Duration
	PollMaxAttempts   int
	SyncInterval      time.Duration
	HeartbeatInterval time.Duration

	// Callbacks run on the goroutine that caused them.
	OnChange      func()
	OnGoalCreated func(domain.Goal)
	// OnRefresh asks collaborators to reload derived state such as
	// milestones and tasks.
	OnRefresh func(ctx context.Context)
}

func (o *Options) setDefaults() {
	if o.PollInitialDelay <= 0 {
		o.PollInitialDelay = time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.PollMaxAttempts <= 0 {
		o.PollMaxAttempts = 10
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.Transcript == nil {
		o.Transcript = transcript.Nop{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// State is a snapshot of the session's synchronization state.
type State struct {
	ChatID            int64
	LastSeenMessageID int64
	InFlight          bool
	ProcessedGoalIDs  []int64
}

// SyncSession owns the message log of one goal chat and the loops that keep
// it current.
type SyncSession struct {
	opts   Options
	client Client
	log    *chatlog.Log
	logger *slog.Logger

	// fetchMu orders the in-flight transition against proactive "since"
	// requests.
	fetchMu  sync.Mutex
	inFlight atomic.Bool

	mu        sync.Mutex
	chat      *domain.Chat
	processed map[int64]struct{}
	claiming  map[int64]struct{}
	resolved  map[int64]Result
	action    *actionOp
	started   bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Open creates a session for opts.GoalID. It renders the cached log first,
// then adopts the goal's existing chat on the server and loads its messages.
// A chat that does not exist yet is created by the first Send. Open fails
// only when nothing could be loaded from either the server or the cache.
func Open(ctx context.Context, opts Options) (*SyncSession, error) {
	if opts.GoalID <= 0 {
		return nil, fmt.Errorf("goal id must be positive, got %d", opts.GoalID)
	}
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	opts.setDefaults()

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &SyncSession{
		opts:      opts,
		client:    opts.Client,
		log:       chatlog.New(nil),
		logger:    opts.Logger.With("goal_id", opts.GoalID),
		processed: make(map[int64]struct{}),
		claiming:  make(map[int64]struct{}),
		resolved:  make(map[int64]Result),
		ctx:       sctx,
		cancel:    cancel,
	}

	cached := s.loadCache(ctx)
	if err := s.bootstrap(ctx); err != nil {
		if !cached {
			cancel()
			return nil, fmt.Errorf("open chat for goal %d: %w", opts.GoalID, err)
		}
		s.logger.Warn("Server unavailable, rendering cached chat", "error", err)
	}
	return s, nil
}

// loadCache seeds the log and processed goal ids from the store.
func (s *SyncSession) loadCache(ctx context.Context) bool {
	if s.opts.Store == nil {
		return false
	}
	chat, err := s.opts.Store.ChatForGoal(ctx, s.opts.GoalID)
	if err != nil {
		s.logger.Warn("Failed to read cached chat", "error", err)
		return false
	}
	if chat == nil {
		return false
	}
	s.chat = chat

	msgs, err := s.opts.Store.LoadMessages(ctx, chat.ID)
	if err != nil {
		s.logger.Warn("Failed to read cached messages", "chat_id", chat.ID, "error", err)
	} else {
		s.log.Replace(msgs)
	}
	ids, err := s.opts.Store.ProcessedGoals(ctx, chat.ID)
	if err != nil {
		s.logger.Warn("Failed to read processed goals", "chat_id", chat.ID, "error", err)
	}
	for _, id := range ids {
		s.processed[id] = struct{}{}
	}
	s.logger.Debug("Loaded cached chat", "chat_id", chat.ID, "messages", len(msgs))
	return true
}

func (s *SyncSession) bootstrap(ctx context.Context) error {
	chats, err := s.client.ListChats(ctx, s.opts.GoalID)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}
	if len(chats) == 0 {
		if s.chat != nil {
			s.logger.Info("Cached chat no longer exists on server", "chat_id", s.chat.ID)
			s.chat = nil
			s.log = chatlog.New(nil)
		}
		return nil
	}

	chat := chats[0]
	if s.chat != nil && s.chat.ID != chat.ID {
		s.log = chatlog.New(nil)
		s.processed = make(map[int64]struct{})
	}
	s.chat = &chat
	s.saveChat(ctx, chat)

	msgs, err := s.client.ListMessages(ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	s.log.Replace(msgs)
	s.persist(ctx, chat.ID, msgs)
	s.logger.Info("Chat opened", "chat_id", chat.ID, "messages", len(msgs))
	return nil
}

// Start launches the proactive sync and heartbeat loops. Calling it again is
// a no-op.
func (s *SyncSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.syncLoop(ctx) })
	g.Go(func() error { return s.heartbeatLoop(ctx) })
	s.group = g
	return nil
}

// Close cancels every timer and in-progress call and waits for the loops to
// exit. It is safe to call more than once.
func (s *SyncSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	g := s.group
	s.mu.Unlock()

	s.cancel()
	if g == nil {
		return nil
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// bind derives a context cancelled by either ctx or the session's lifetime.
func (s *SyncSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// opErr maps a cancellation caused by Close to ErrClosed.
func (s *SyncSession) opErr(err error) error {
	if err != nil && s.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ErrClosed
	}
	return err
}

func (s *SyncSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SyncSession) currentChat() *domain.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat == nil {
		return nil
	}
	c := *s.chat
	return &c
}

// ensureChat returns the goal's chat, creating it on first use.
func (s *SyncSession) ensureChat(ctx context.Context) (domain.Chat, error) {
	if c := s.currentChat(); c != nil {
		return *c, nil
	}
	chat, err := s.client.CreateChat(ctx, s.opts.GoalID)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	s.mu.Lock()
	s.chat = &chat
	s.mu.Unlock()
	s.saveChat(ctx, chat)
	s.logger.Info("Chat created", "chat_id", chat.ID)
	return chat, nil
}

// Refresh re-fetches the full log. A failed fetch appends one local failure
// message; cancellation appends nothing.
func (s *SyncSession) Refresh(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	chat := s.currentChat()
	if chat == nil {
		return nil
	}
	ctx, stop := s.bind(ctx)
	defer stop()

	msgs, err := s.client.ListMessages(ctx, chat.ID)
	if err != nil {
		err = s.opErr(fmt.Errorf("list messages: %w", err))
		if !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Refresh failed", "chat_id", chat.ID, "error", err)
			s.fail(chat.ID, err)
		}
		return err
	}
	s.applyFull(ctx, chat.ID, msgs, transcript.EventAssistantMessage)
	s.detectGoal(ctx)
	return nil
}

// Messages returns the rendered log.
func (s *SyncSession) Messages() []domain.Message {
	return s.log.Messages()
}

// State returns a snapshot of the synchronization state.
func (s *SyncSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		LastSeenMessageID: s.log.LastSeenID(),
		InFlight:          s.inFlight.Load(),
	}
	if s.chat != nil {
		st.ChatID = s.chat.ID
	}
	for id := range s.processed {
		st.ProcessedGoalIDs = append(st.ProcessedGoalIDs, id)
	}
	slices.Sort(st.ProcessedGoalIDs)
	return st
}

// applyFull replaces the log with an authoritative fetch and audits the
// messages that were not present before.
func (s *SyncSession) applyFull(ctx context.Context, chatID int64, msgs []domain.Message, event string) {
	known := make(map[int64]struct{})
	for _, m := range s.log.Authoritative() {
		known[m.ID] = struct{}{}
	}
	s.log.Replace(msgs)
	s.persist(ctx, chatID, msgs)

	for _, m := range msgs {
		if _, ok := known[m.ID]; ok {
			continue
		}
		s.audit(chatID, m, event)
	}
	s.notifyChange()
}

func (s *SyncSession) audit(chatID int64, m domain.Message, assistantEvent string) {
	ev := transcript.Event{
		GoalID:     s.opts.GoalID,
		ChatID:     chatID,
		EventType:  transcript.EventUserTurn,
		MessageID:  m.ID,
		Sender:     string(m.Sender),
		ContentRaw: m.Body,
	}
	if m.IsAssistant() {
		ev.EventType = assistantEvent
		ev.Actions = directive.Extract(m.Body).PendingActions
	}
	s.opts.Transcript.Log(ev)
}

// fail renders err as a local assistant message.
func (s *SyncSession) fail(chatID int64, err error) domain.Message {
	m := s.log.NewLocal(domain.SenderAssistant, FailureText(err, s.opts.Debug))
	s.opts.Transcript.Log(transcript.Event{
		GoalID:     s.opts.GoalID,
		ChatID:     chatID,
		EventType:  transcript.EventFailure,
		MessageID:  m.ID,
		Sender:     string(m.Sender),
		ContentRaw: m.Body,
		Error:      err.Error(),
	})
	s.notifyChange()
	return m
}

func (s *SyncSession) persist(ctx context.Context, chatID int64, msgs []domain.Message) {
	if s.opts.Store == nil || len(msgs) == 0 {
		return
	}
	if err := s.opts.Store.SaveMessages(ctx, chatID, msgs); err != nil {
		s.logger.Warn("Failed to cache messages", "chat_id", chatID, "error", err)
	}
}

func (s *SyncSession) saveChat(ctx context.Context, chat domain.Chat) {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.SaveChat(ctx, chat); err != nil {
		s.logger.Warn("Failed to cache chat", "chat_id", chat.ID, "error", err)
	}
}

func (s *SyncSession) notifyChange() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

func (s *SyncSession) refreshDerived(ctx context.Context) {
	if s.opts.OnRefresh != nil {
		s.opts.OnRefresh(ctx)
	}
}
