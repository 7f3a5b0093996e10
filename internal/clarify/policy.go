// Package clarify decides whether a question is too ambiguous to answer without first
// asking the user what they mean.
package clarify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/llm"
	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/pkg/utils"
)

// MaxConsecutive is the number of clarification turns in a row after which the
// orchestrator answers directly.
const MaxConsecutive = 2

const (
	historyMessages   = 6
	hintRunes         = 48
	explicitMinRunes  = 20
	classifierTemp    = 0
	classifierTokens  = 5
	fallbackQuestion  = "我需要先确认一下：你说的“它/这/那”具体指什么对象？请补充主语后我再继续回答。"
	hintQuestionFmt   = "我需要先确认一下：你这次提到的对象具体指哪一个？例如你是指“%s”里的哪部分？"
	classifierHistory = "（无历史）"
)

var ambiguousReferences = []string{
	"他", "她", "它", "这", "那", "这个", "那个", "这件事", "那件事",
	"这种", "这样", "上面", "前面", "刚才", "之前", "前者", "后者",
}

var explicitSubjectHints = []string{
	"这本书", "那本书", "这个问题", "这个回答", "上一个回答",
}

const classifierPrompt = `你是对话澄清分类器。

任务：判断“当前问题”在“历史对话”下是否指代不清，是否需要先追问澄清。
输出要求：仅输出 YES 或 NO。

历史对话：
%s

当前问题：
%s
`

// Policy combines a keyword rule with an optional language-model classifier.
type Policy struct {
	client llm.Client
	logger *zap.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// New creates a policy. A nil client leaves only the rule stage.
func New(client llm.Client, opts ...Option) *Policy {
	p := &Policy{client: client}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NeedsClarification reports whether query should be answered with a clarifying
// question. The classifier is only consulted when the rule fires, and a classifier
// failure falls back to the rule verdict.
func (p *Policy) NeedsClarification(ctx context.Context, query string, recent []*models.ConversationMessage) bool {
	if !RuleMatches(query) {
		return false
	}
	if p.client == nil {
		return true
	}
	prompt := fmt.Sprintf(classifierPrompt, formatHistory(recent), query)
	reply, err := p.client.Complete(ctx, llm.UserPrompt(prompt, classifierTemp, classifierTokens))
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("clarification classifier failed, using rule verdict", zap.Error(err))
		}
		return true
	}
	verdict := strings.HasPrefix(strings.ToUpper(strings.TrimSpace(reply)), "YES")
	if p.logger != nil {
		p.logger.Debug("clarification classifier", zap.String("reply", reply), zap.Bool("clarify", verdict))
	}
	return verdict
}

// Question builds the clarifying question, quoting the latest message as a hint.
func (p *Policy) Question(recent []*models.ConversationMessage) string {
	if len(recent) > 0 {
		hint := strings.ReplaceAll(strings.TrimSpace(recent[len(recent)-1].Content), "\n", " ")
		hint = utils.Prefix(hint, hintRunes)
		if hint != "" {
			return fmt.Sprintf(hintQuestionFmt, hint)
		}
	}
	return fallbackQuestion
}

// RuleMatches reports whether query contains an ambiguous reference and no explicit subject.
func RuleMatches(query string) bool {
	text := strings.TrimSpace(query)
	if text == "" || !containsAny(text, ambiguousReferences) {
		return false
	}
	return !hasExplicitSubject(text)
}

func hasExplicitSubject(text string) bool {
	if containsAny(text, explicitSubjectHints) {
		return true
	}
	if strings.Contains(text, "“") && strings.Contains(text, "”") {
		return true
	}
	if strings.Contains(text, `"`) {
		return true
	}
	return utils.RuneLen(text) >= explicitMinRunes
}

func formatHistory(recent []*models.ConversationMessage) string {
	if len(recent) > historyMessages {
		recent = recent[len(recent)-historyMessages:]
	}
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		role := "助手"
		if m.Role == models.RoleUser {
			role = "用户"
		}
		lines = append(lines, role+": "+m.Content)
	}
	if len(lines) == 0 {
		return classifierHistory
	}
	return strings.Join(lines, "\n")
}

func containsAny(text string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
