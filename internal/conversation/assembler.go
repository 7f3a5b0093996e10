package conversation

import (
	"strings"

	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/pkg/utils"
)

// Placeholders used when a prompt section would otherwise be empty.
const (
	NoSummary  = "（暂无会话摘要）"
	NoDialogue = "（暂无历史对话）"
	NoNotes    = "（未检索到相关笔记片段）"
)

// Sections are the conversation parts injected into the answer prompt.
type Sections struct {
	Summary        string
	RecentDialogue string
	NoteContext    string
}

// ContextAssembler formats summary, recent dialogue, and retrieved notes for prompting.
type ContextAssembler struct {
	summaryMaxChars int
}

// NewContextAssembler creates an assembler that caps the summary at summaryMaxChars runes
// (minimum 200).
func NewContextAssembler(summaryMaxChars int) *ContextAssembler {
	return &ContextAssembler{summaryMaxChars: max(minSummaryMaxChars, summaryMaxChars)}
}

// Assemble builds the prompt sections, substituting placeholders for empty parts.
func (a *ContextAssembler) Assemble(summary string, recent []*models.ConversationMessage, notes string) Sections {
	sec := Sections{
		Summary:        utils.Prefix(strings.TrimSpace(summary), a.summaryMaxChars),
		RecentDialogue: FormatDialogue(recent),
		NoteContext:    strings.TrimSpace(notes),
	}
	if sec.Summary == "" {
		sec.Summary = NoSummary
	}
	if sec.RecentDialogue == "" {
		sec.RecentDialogue = NoDialogue
	}
	if sec.NoteContext == "" {
		sec.NoteContext = NoNotes
	}
	return sec
}

// FormatDialogue renders user and assistant turns as "用户: ..." / "助手: ..." lines.
// Other roles and blank messages are skipped.
func FormatDialogue(messages []*models.ConversationMessage) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		var prefix string
		switch m.Role {
		case models.RoleUser:
			prefix = "用户"
		case models.RoleAssistant:
			prefix = "助手"
		default:
			continue
		}
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		lines = append(lines, prefix+": "+text)
	}
	return strings.Join(lines, "\n")
}
