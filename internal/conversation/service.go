// Package conversation manages conversations, their messages, and rolling summaries.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/internal/storage"
	"github.com/hyperjump/readmatrix/pkg/utils"
)

const (
	DefaultWindowTurns         = 6
	DefaultSummaryRefreshEvery = 8
	DefaultSummaryMaxChars     = 1200
	minSummaryMaxChars         = 200

	clarificationLookback = 2
	defaultListLimit      = 30
)

// Config sets the memory window and summary cadence. Out-of-range values are clamped.
type Config struct {
	WindowTurns         int
	SummaryRefreshEvery int
	SummaryMaxChars     int
}

func (c Config) normalized() Config {
	if c.WindowTurns < 1 {
		c.WindowTurns = 1
	}
	if c.SummaryRefreshEvery < 1 {
		c.SummaryRefreshEvery = 1
	}
	if c.SummaryMaxChars < minSummaryMaxChars {
		c.SummaryMaxChars = minSummaryMaxChars
	}
	return c
}

// SummaryBuilder produces a new summary from the previous one and recent history.
type SummaryBuilder func(ctx context.Context, previous string, history []*models.ConversationMessage) (string, error)

// Service is the conversation memory used by the QA orchestrator and the HTTP API.
type Service struct {
	store  storage.ConversationStore
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a conversation service backed by store.
func NewService(store storage.ConversationStore, cfg Config, opts ...Option) *Service {
	s := &Service{
		store: store,
		cfg:   cfg.normalized(),
		locks: make(map[string]*convLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective settings.
func (s *Service) Config() Config {
	return s.cfg
}

// Create starts a new conversation.
func (s *Service) Create(ctx context.Context, title string) (*models.Conversation, error) {
	conv := &models.Conversation{Title: strings.TrimSpace(title)}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Debug("conversation created", zap.String("id", conv.ID))
	}
	return conv, nil
}

// Ensure returns the id of an existing conversation, creating a new one when id is
// empty or unknown.
func (s *Service) Ensure(ctx context.Context, id string) (string, error) {
	if id != "" {
		_, err := s.store.GetConversation(ctx, id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return "", err
		}
	}
	conv, err := s.Create(ctx, "")
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

// Get returns a conversation or an error wrapping models.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// List returns conversations, most recently active first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*models.Conversation, error) {
	limit, offset = page(limit, offset)
	return s.store.ListConversations(ctx, limit, offset)
}

// Delete removes a conversation and its messages.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteConversation(ctx, id)
}

// ListMessages pages through messages oldest-first. The summary is only included
// when includeSystem is set.
func (s *Service) ListMessages(ctx context.Context, id string, limit, offset int, includeSystem bool) ([]*models.ConversationMessage, error) {
	if _, err := s.store.GetConversation(ctx, id); err != nil {
		return nil, err
	}
	limit, offset = page(limit, offset)
	return s.store.ListMessages(ctx, id, limit, offset, includeSystem)
}

// AppendUser records a user turn.
func (s *Service) AppendUser(ctx context.Context, id, content string) (*models.ConversationMessage, error) {
	return s.append(ctx, &models.ConversationMessage{
		ConversationID: id,
		Role:           models.RoleUser,
		Content:        content,
	})
}

// AppendAssistant records an assistant turn with its citations.
func (s *Service) AppendAssistant(ctx context.Context, id, content string, citations []models.Citation, isClarification bool) (*models.ConversationMessage, error) {
	return s.append(ctx, &models.ConversationMessage{
		ConversationID:  id,
		Role:            models.RoleAssistant,
		Content:         content,
		Citations:       citations,
		IsClarification: isClarification,
	})
}

func (s *Service) append(ctx context.Context, msg *models.ConversationMessage) (*models.ConversationMessage, error) {
	msg.TokenEstimate = EstimateTokens(msg.Content)
	if err := s.store.AddMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.TouchConversation(ctx, msg.ConversationID); err != nil {
		return nil, err
	}
	return msg, nil
}

// RecentWindow returns the last WindowTurns exchanges, oldest-first.
func (s *Service) RecentWindow(ctx context.Context, id string) ([]*models.ConversationMessage, error) {
	return s.store.RecentMessages(ctx, id, s.cfg.WindowTurns*2)
}

// Summary returns the current summary text, or "".
func (s *Service) Summary(ctx context.Context, id string) (string, error) {
	msg, err := s.store.GetSummary(ctx, id)
	if err != nil || msg == nil {
		return "", err
	}
	return msg.Content, nil
}

// SaveSummary replaces the conversation summary, truncated to SummaryMaxChars.
// An empty summary is ignored.
func (s *Service) SaveSummary(ctx context.Context, id, summary string) error {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil
	}
	summary = utils.Prefix(summary, s.cfg.SummaryMaxChars)
	return s.store.SaveSummary(ctx, &models.ConversationMessage{
		ConversationID: id,
		Content:        summary,
		TokenEstimate:  EstimateTokens(summary),
	})
}

// ShouldRefreshSummary reports whether the user turn count has reached a multiple of
// SummaryRefreshEvery.
func (s *Service) ShouldRefreshSummary(ctx context.Context, id string) (bool, error) {
	n, err := s.store.CountMessages(ctx, id, models.RoleUser)
	if err != nil {
		return false, err
	}
	return n > 0 && n%s.cfg.SummaryRefreshEvery == 0, nil
}

// RefreshSummaryIfNeeded rebuilds the summary on cadence. Builder failures keep the
// previous summary and are only logged.
func (s *Service) RefreshSummaryIfNeeded(ctx context.Context, id string, build SummaryBuilder) error {
	due, err := s.ShouldRefreshSummary(ctx, id)
	if err != nil || !due {
		return err
	}
	previous, err := s.Summary(ctx, id)
	if err != nil {
		return err
	}
	history, err := s.store.RecentMessages(ctx, id, s.cfg.WindowTurns*4)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}
	updated, err := build(ctx, previous, history)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("summary refresh failed", zap.String("conversation", id), zap.Error(err))
		}
		return nil
	}
	return s.SaveSummary(ctx, id, updated)
}

// RecentClarificationCount counts consecutive clarification turns among the latest
// assistant messages.
func (s *Service) RecentClarificationCount(ctx context.Context, id string) (int, error) {
	msgs, err := s.store.RecentAssistantMessages(ctx, id, clarificationLookback)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if !m.IsClarification {
			break
		}
		n++
	}
	return n, nil
}

// Lock serializes turns within one conversation. The returned func releases it.
func (s *Service) Lock(id string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &convLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			s.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, id)
			}
			s.mu.Unlock()
		})
	}
}

// EstimateTokens is a rough count: a quarter of the rune count, at least one.
func EstimateTokens(content string) int {
	return max(1, utils.RuneLen(content)/4)
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
