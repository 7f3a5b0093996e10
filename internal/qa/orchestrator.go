// Package qa answers questions over the note library with citations and conversation memory.
package qa

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/clarify"
	"github.com/hyperjump/readmatrix/internal/conversation"
	"github.com/hyperjump/readmatrix/internal/llm"
	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/internal/retriever"
)

const defaultNoteRatio = 80

// Searcher retrieves note chunks for a question.
type Searcher interface {
	Search(ctx context.Context, query string, opts retriever.SearchOptions) ([]models.Chunk, error)
}

// Orchestrator runs one question through clarification, retrieval, generation, and
// conversation bookkeeping.
type Orchestrator struct {
	conversations *conversation.Service
	searcher      Searcher
	policy        *clarify.Policy
	client        llm.Client
	assembler     *conversation.ContextAssembler
	linker        *Linker
	noteRatio     int
	temperature   float64
	topK          int
	logger        *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithNoteRatio sets how much of the answer should rest on the notes, in percent.
func WithNoteRatio(ratio int) Option {
	return func(o *Orchestrator) { o.noteRatio = ClampNoteRatio(ratio) }
}

// WithTemperature sets the answer sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithTopK sets the retrieval depth used when a request does not specify one.
func WithTopK(k int) Option {
	return func(o *Orchestrator) { o.topK = k }
}

// WithLinker enables obsidian:// links on citations.
func WithLinker(l *Linker) Option {
	return func(o *Orchestrator) { o.linker = l }
}

// New creates an orchestrator.
func New(conversations *conversation.Service, searcher Searcher, policy *clarify.Policy, client llm.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		conversations: conversations,
		searcher:      searcher,
		policy:        policy,
		client:        client,
		assembler:     conversation.NewContextAssembler(conversations.Config().SummaryMaxChars),
		noteRatio:     defaultNoteRatio,
		temperature:   0.5,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// turn is the state of one request after everything up to generation has run.
type turn struct {
	conversationID string
	clarification  string
	prompt         string
	citations      []models.Citation
	noInfo         bool
}

// Ask answers req and records both turns in the conversation.
func (o *Orchestrator) Ask(ctx context.Context, req *models.AskRequest) (*models.AskResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	convID, err := o.conversations.Ensure(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation: %w", err)
	}
	unlock := o.conversations.Lock(convID)
	defer unlock()

	t, err := o.prepare(ctx, convID, req)
	if err != nil {
		return nil, err
	}
	if t.clarification != "" {
		return &models.AskResult{
			Answer:                t.clarification,
			Citations:             []models.Citation{},
			ConversationID:        convID,
			NeedsClarification:    true,
			ClarificationQuestion: t.clarification,
		}, nil
	}

	answer := NoInfoAnswer
	if !t.noInfo {
		answer, err = o.client.Complete(ctx, llm.UserPrompt(t.prompt, o.temperature, 0))
		if err != nil {
			return nil, fmt.Errorf("failed to generate answer: %w", err)
		}
	}
	if err := o.finish(ctx, t, answer); err != nil {
		return nil, err
	}
	return &models.AskResult{
		Answer:         answer,
		Citations:      t.citations,
		ConversationID: convID,
	}, nil
}

// AskStream starts answering req and returns the ordered event stream. Everything
// before generation runs before AskStream returns, so setup errors are reported here
// rather than on the stream. The caller must drain the stream or Close it.
func (o *Orchestrator) AskStream(ctx context.Context, req *models.AskRequest) (*Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	convID, err := o.conversations.Ensure(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation: %w", err)
	}
	unlock := o.conversations.Lock(convID)
	t, err := o.prepare(ctx, convID, req)
	if err != nil {
		unlock()
		return nil, err
	}

	s := newStream(ctx)
	go func() {
		defer s.finish()
		defer unlock()
		s.err = o.run(s, t)
		if s.err != nil && o.logger != nil {
			o.logger.Warn("answer stream ended early", zap.String("conversation", convID), zap.Error(s.err))
		}
	}()
	return s, nil
}

func (o *Orchestrator) run(s *Stream, t *turn) error {
	ctx := s.ctx
	if t.clarification != "" {
		return s.emitAll(
			Event{Type: EventMeta, Data: Meta{ConversationID: t.conversationID, NeedsClarification: true, ClarificationQuestion: &t.clarification}},
			Event{Type: EventDelta, Data: Delta{Content: t.clarification}},
			Event{Type: EventCitations, Data: []models.Citation{}},
			Event{Type: EventDone, Data: struct{}{}},
		)
	}
	if err := s.emit(Event{Type: EventMeta, Data: Meta{ConversationID: t.conversationID}}); err != nil {
		return err
	}

	if t.noInfo {
		if err := o.finish(ctx, t, NoInfoAnswer); err != nil {
			return err
		}
		return s.emitAll(
			Event{Type: EventDelta, Data: Delta{Content: NoInfoAnswer}},
			Event{Type: EventCitations, Data: t.citations},
			Event{Type: EventDone, Data: struct{}{}},
		)
	}

	var answer strings.Builder
	err := o.client.Stream(ctx, llm.UserPrompt(t.prompt, o.temperature, 0), func(delta string) error {
		if delta == "" {
			return nil
		}
		answer.WriteString(delta)
		return s.emit(Event{Type: EventDelta, Data: Delta{Content: delta}})
	})
	if err != nil {
		return fmt.Errorf("failed to generate answer: %w", err)
	}
	if err := o.finish(ctx, t, answer.String()); err != nil {
		return err
	}
	return s.emitAll(
		Event{Type: EventCitations, Data: t.citations},
		Event{Type: EventDone, Data: struct{}{}},
	)
}

// prepare records the user turn, then either settles on a clarifying question or builds
// the answer prompt. The caller holds the conversation lock.
func (o *Orchestrator) prepare(ctx context.Context, convID string, req *models.AskRequest) (*turn, error) {
	useContext := req.ContextEnabled()
	t := &turn{conversationID: convID, citations: []models.Citation{}}

	var recent []*models.ConversationMessage
	if useContext {
		var err error
		recent, err = o.conversations.RecentWindow(ctx, convID)
		if err != nil {
			return nil, fmt.Errorf("failed to load recent messages: %w", err)
		}
	}
	if _, err := o.conversations.AppendUser(ctx, convID, req.Query); err != nil {
		return nil, fmt.Errorf("failed to record question: %w", err)
	}

	if useContext {
		asked, err := o.conversations.RecentClarificationCount(ctx, convID)
		if err != nil {
			return nil, fmt.Errorf("failed to count clarifications: %w", err)
		}
		if asked < clarify.MaxConsecutive && o.policy != nil && o.policy.NeedsClarification(ctx, req.Query, recent) {
			question := o.policy.Question(recent)
			if _, err := o.conversations.AppendAssistant(ctx, convID, question, nil, true); err != nil {
				return nil, fmt.Errorf("failed to record clarification: %w", err)
			}
			t.clarification = question
			return t, nil
		}
	}

	var summary string
	if useContext {
		var err error
		if summary, err = o.conversations.Summary(ctx, convID); err != nil {
			return nil, fmt.Errorf("failed to load summary: %w", err)
		}
	}

	topK := req.TopK
	if topK <= 0 {
		topK = o.topK
	}
	chunks, err := o.searcher.Search(ctx, req.Query, retriever.SearchOptions{
		TopK:      topK,
		BookID:    req.BookID(),
		BookTitle: req.BookTitle(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve notes: %w", err)
	}
	if o.logger != nil {
		o.logger.Debug("retrieved notes", zap.String("conversation", convID), zap.Int("chunks", len(chunks)))
	}

	if len(chunks) == 0 && o.noteRatio > 0 {
		t.noInfo = true
		return t, nil
	}
	t.citations = BuildCitations(chunks, o.linker)
	sec := o.assembler.Assemble(summary, recent, FormatNotes(chunks))
	t.prompt = BuildPrompt(req.Query, o.noteRatio, sec)
	return t, nil
}

// finish records the assistant turn and refreshes the summary when it is due.
func (o *Orchestrator) finish(ctx context.Context, t *turn, answer string) error {
	if _, err := o.conversations.AppendAssistant(ctx, t.conversationID, answer, t.citations, false); err != nil {
		return fmt.Errorf("failed to record answer: %w", err)
	}
	if err := o.conversations.RefreshSummaryIfNeeded(ctx, t.conversationID, o.buildSummary); err != nil && o.logger != nil {
		o.logger.Warn("summary refresh failed", zap.String("conversation", t.conversationID), zap.Error(err))
	}
	return nil
}

// buildSummary asks the model for an updated summary. An empty reply keeps the previous one.
func (o *Orchestrator) buildSummary(ctx context.Context, previous string, history []*models.ConversationMessage) (string, error) {
	reply, err := o.client.Complete(ctx, llm.UserPrompt(buildSummaryPrompt(previous, history), summaryTemp, summaryMaxTokens))
	if err != nil {
		return "", err
	}
	if reply = strings.TrimSpace(reply); reply == "" {
		return previous, nil
	}
	return reply, nil
}
