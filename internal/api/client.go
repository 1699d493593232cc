// Package api is the HTTP client for the goal server's chat surface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
	"github.com/google/uuid"
)

// RequestIDHeader carries a per-call correlation id.
const RequestIDHeader = "X-Request-ID"

// Client talks to the goal server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for baseURL. An empty token sends no Authorization header.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChecklistSubmission is the body of a checklist answer post. The schema
// travels with the answers because the server does not keep it apart from
// the originating message.
type ChecklistSubmission struct {
	ChecklistID int64                     `json:"checklist_id"`
	Answers     map[string]any            `json:"answers"`
	Title       string                    `json:"title"`
	Items       []directive.ChecklistItem `json:"items"`
}

// CreateChat creates the chat for a goal.
func (c *Client) CreateChat(ctx context.Context, goalID int64) (domain.Chat, error) {
	var chat domain.Chat
	err := c.do(ctx, http.MethodPost, "/api/chats/", nil, map[string]int64{"goal_id": goalID}, &chat)
	return chat, err
}

// ListChats returns the chats bound to a goal.
func (c *Client) ListChats(ctx context.Context, goalID int64) ([]domain.Chat, error) {
	var chats []domain.Chat
	q := url.Values{"goal_id": {strconv.FormatInt(goalID, 10)}}
	err := c.do(ctx, http.MethodGet, "/api/chats/", q, nil, &chats)
	return chats, err
}

// ListMessages returns every message of a chat ordered by id.
func (c *Client) ListMessages(ctx context.Context, chatID int64) ([]domain.Message, error) {
	var msgs []domain.Message
	err := c.do(ctx, http.MethodGet, chatPath(chatID, "messages"), nil, nil, &msgs)
	return msgs, err
}

// ListMessagesSince returns the messages of a chat with id greater than afterID.
func (c *Client) ListMessagesSince(ctx context.Context, chatID, afterID int64) ([]domain.Message, error) {
	var msgs []domain.Message
	q := url.Values{"after_id": {strconv.FormatInt(afterID, 10)}}
	err := c.do(ctx, http.MethodGet, chatPath(chatID, "messages"), q, nil, &msgs)
	return msgs, err
}

// PostMessage submits a turn. The assistant reply is generated server-side
// and is not part of the response. debug asks the server to append its
// diagnostic trailer to the reply.
func (c *Client) PostMessage(ctx context.Context, chatID int64, content string, sender domain.Sender, debug bool) (domain.Message, error) {
	var created domain.Message
	q := url.Values{"debug_mode": {strconv.FormatBool(debug)}}
	body := map[string]string{"content": content, "sender": string(sender)}
	err := c.do(ctx, http.MethodPost, chatPath(chatID, "messages"), q, body, &created)
	return created, err
}

// Heartbeat marks the chat as actively viewed.
func (c *Client) Heartbeat(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodPost, chatPath(chatID, "heartbeat"), nil, nil, nil)
}

// ConfirmActions applies a batch of pending actions.
func (c *Client) ConfirmActions(ctx context.Context, chatID int64, actions []directive.PendingAction) error {
	body := map[string][]directive.PendingAction{"actions": actions}
	return c.do(ctx, http.MethodPost, chatPath(chatID, "confirm-actions"), nil, body, nil)
}

// CancelActions rejects the outstanding pending actions.
func (c *Client) CancelActions(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodPost, chatPath(chatID, "cancel-actions"), nil, nil, nil)
}

// SubmitChecklist posts checklist answers.
func (c *Client) SubmitChecklist(ctx context.Context, chatID int64, sub ChecklistSubmission) error {
	return c.do(ctx, http.MethodPost, chatPath(chatID, "checklist"), nil, sub, nil)
}

// GetGoal fetches a goal by id.
func (c *Client) GetGoal(ctx context.Context, goalID int64) (domain.Goal, error) {
	var goal domain.Goal
	err := c.do(ctx, http.MethodGet, "/api/goals/"+strconv.FormatInt(goalID, 10), nil, nil, &goal)
	return goal, err
}

// ListMilestones returns the milestones of a goal.
func (c *Client) ListMilestones(ctx context.Context, goalID int64) ([]domain.Milestone, error) {
	var out []domain.Milestone
	q := url.Values{"goal_id": {strconv.FormatInt(goalID, 10)}}
	err := c.do(ctx, http.MethodGet, "/api/milestones/", q, nil, &out)
	return out, err
}

// ListTasks returns the tasks of a goal.
func (c *Client) ListTasks(ctx context.Context, goalID int64) ([]domain.Task, error) {
	var out []domain.Task
	q := url.Values{"goal_id": {strconv.FormatInt(goalID, 10)}}
	err := c.do(ctx, http.MethodGet, "/api/tasks/", q, nil, &out)
	return out, err
}

func chatPath(chatID int64, leaf string) string {
	return "/api/chats/" + strconv.FormatInt(chatID, 10) + "/" + leaf + "/"
}

// do sends a JSON request and decodes a JSON response into result.
// payload and result may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, result any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	c.logger.Debug("API request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", reqID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(method, target, resp.StatusCode, respBody)
	}

	if result == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
