package qa

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperjump/readmatrix/internal/conversation"
	"github.com/hyperjump/readmatrix/internal/models"
)

// NoInfoAnswer is returned without calling the model when nothing was retrieved and
// the answer must lean on the notes.
const NoInfoAnswer = "根据你的笔记，我没有找到相关信息。"

const answerTemplate = `你是一位深度阅读助手，帮助用户基于他们的读书笔记回答问题。

【你的任务】
1. 先理解用户问题的核心意图
2. 分析提供的笔记内容，找出与问题相关的关键信息
3. 结合会话上下文，将多条观点进行整合、对比、归纳
4. 给出有深度、有结构的回答

【笔记使用比例】
请将笔记内容的占比控制在约 {note_ratio}%。
- 0%：完全基于你的理解回答
- 100%：严格只使用笔记内容

【回答要求】
1. 不要简单罗列笔记内容，要进行深度分析和整合
2. 对话中出现代词（他/它/这/那）且指代不清时，先提出澄清问题
3. 使用 [1][2] 等标记引用来源，引用必须出现在正文中
4. 可以补充你的理解，但要与笔记观点一致，不得编造
5. 回答要有结构：先给出核心观点，再展开分析
6. 当占比 > 0 且笔记中没有相关信息时，回答"根据你的笔记，我没有找到相关信息。"

【会话摘要】
{conversation_summary}

【最近对话】
{recent_dialogue}

【用户的笔记】
{note_context}

【当前问题】
{question}

【回答】`

const summaryTemplate = `请把以下对话整理成紧凑摘要，供后续追问使用。

要求：
1. 保留用户目标、关键结论、关键术语
2. 保留已确认的约束与偏好
3. 不要虚构事实
4. 输出中文，最多 1200 字

历史摘要：
%s

最近对话：
%s

新摘要：`

const (
	summaryTemp      = 0.2
	summaryMaxTokens = 500
	summaryHistory   = 16
	noPrevSummary    = "（无）"
)

// ClampNoteRatio limits ratio to [0, 100].
func ClampNoteRatio(ratio int) int {
	return max(0, min(100, ratio))
}

// BuildPrompt fills the answer template. Placeholders are substituted in one pass, so
// braces inside the question or notes are left alone.
func BuildPrompt(question string, noteRatio int, sec conversation.Sections) string {
	r := strings.NewReplacer(
		"{note_ratio}", strconv.Itoa(ClampNoteRatio(noteRatio)),
		"{conversation_summary}", sec.Summary,
		"{recent_dialogue}", sec.RecentDialogue,
		"{note_context}", sec.NoteContext,
		"{question}", question,
	)
	return r.Replace(answerTemplate)
}

// FormatNotes renders chunks as numbered blocks headed by book title and chapter path.
func FormatNotes(chunks []models.Chunk) string {
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		header := fmt.Sprintf("[%d] %s", i+1, c.BookTitle)
		if chapter := joinChapter(c.TitlePath); chapter != "" {
			header += " / " + chapter
		}
		parts = append(parts, header+"\n"+c.Content)
	}
	return strings.Join(parts, "\n\n")
}

func joinChapter(path []string) string {
	var kept []string
	for _, p := range path {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " / ")
}

func buildSummaryPrompt(previous string, history []*models.ConversationMessage) string {
	if len(history) > summaryHistory {
		history = history[len(history)-summaryHistory:]
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		role := "助手"
		if m.Role == models.RoleUser {
			role = "用户"
		}
		lines = append(lines, role+": "+m.Content)
	}
	if strings.TrimSpace(previous) == "" {
		previous = noPrevSummary
	}
	return fmt.Sprintf(summaryTemplate, previous, strings.Join(lines, "\n"))
}
