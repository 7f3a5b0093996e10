package llm

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"
)

// Responder produces a reply for a request.
type Responder func(req Request) (string, error)

// MockClient is an offline client. It records every request and answers through its
// Responder; Stream splits the reply into single-rune deltas.
type MockClient struct {
	respond Responder

	mu       sync.Mutex
	requests []Request
}

// NewMockClient returns a client answering with respond, or with DefaultMockReply when nil.
func NewMockClient(respond Responder) *MockClient {
	if respond == nil {
		respond = DefaultMockReply
	}
	return &MockClient{respond: respond}
}

// DefaultMockReply answers classifier prompts with NO, returns the question for rewrite
// prompts, and otherwise echoes the tail of the prompt so answers stay deterministic.
func DefaultMockReply(req Request) (string, error) {
	prompt := ""
	if n := len(req.Messages); n > 0 {
		prompt = req.Messages[n-1].Content
	}
	switch {
	case strings.Contains(prompt, "仅输出 YES 或 NO"):
		return "NO", nil
	case strings.Contains(prompt, "搜索查询："):
		return "", nil
	case strings.Contains(prompt, "新摘要："):
		return "（离线摘要）", nil
	}
	return "（离线模式）已根据检索到的笔记生成回答 [1]", nil
}

// Complete records req and returns the responder's reply.
func (m *MockClient) Complete(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.respond(req)
}

// Stream records req and emits the reply rune by rune.
func (m *MockClient) Stream(ctx context.Context, req Request, fn func(string) error) error {
	reply, err := m.Complete(ctx, req)
	if err != nil {
		return err
	}
	for len(reply) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, size := utf8.DecodeRuneInString(reply)
		if err := fn(reply[:size]); err != nil {
			return err
		}
		reply = reply[size:]
	}
	return nil
}

// Requests returns a copy of the recorded requests.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}
