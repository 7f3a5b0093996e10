package clarify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/readmatrix/internal/llm"
	"github.com/hyperjump/readmatrix/internal/models"
)

func TestRuleMatches(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"他为什么这么做？", true},
		{"那个呢", true},
		{"后者更好吗", true},
		{"", false},
		{"福贵的结局是什么", false},
		{"这本书讲了什么", false},
		{"上一个回答里的第二点", false},
		{"它和“活着”有关吗", false},
		{`它和"活着"有关吗`, false},
		{"这个观点和余华在活着里面描写福贵的那段经历有什么联系", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, RuleMatches(tt.query))
		})
	}
}

func history(contents ...string) []*models.ConversationMessage {
	msgs := make([]*models.ConversationMessage, len(contents))
	for i, c := range contents {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs[i] = &models.ConversationMessage{Role: role, Content: c}
	}
	return msgs
}

func TestNeedsClarification_RuleOnly(t *testing.T) {
	p := New(nil)
	assert.True(t, p.NeedsClarification(context.Background(), "他是谁", nil))
	assert.False(t, p.NeedsClarification(context.Background(), "福贵是谁", nil))
}

func TestNeedsClarification_ClassifierSkippedWhenRuleDoesNotFire(t *testing.T) {
	client := llm.NewMockClient(func(llm.Request) (string, error) { return "YES", nil })
	p := New(client)
	assert.False(t, p.NeedsClarification(context.Background(), "福贵是谁", nil))
	assert.Empty(t, client.Requests())
}

func TestNeedsClarification_Classifier(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		want  bool
	}{
		{"yes", "YES", nil, true},
		{"lowercase yes with text", " yes, 指代不清", nil, true},
		{"no", "NO", nil, false},
		{"empty", "", nil, false},
		{"error falls back to rule", "", errors.New("timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := llm.NewMockClient(func(llm.Request) (string, error) { return tt.reply, tt.err })
			p := New(client)
			assert.Equal(t, tt.want, p.NeedsClarification(context.Background(), "那个呢", nil))
		})
	}
}

func TestNeedsClarification_ClassifierRequest(t *testing.T) {
	client := llm.NewMockClient(nil)
	p := New(client)

	var contents []string
	for i := 1; i <= 8; i++ {
		contents = append(contents, fmt.Sprintf("消息%d", i))
	}
	assert.False(t, p.NeedsClarification(context.Background(), "那个呢", history(contents...)))

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 5, reqs[0].MaxTokens)
	assert.Zero(t, reqs[0].Temperature)
	prompt := reqs[0].Messages[0].Content
	assert.Contains(t, prompt, "仅输出 YES 或 NO")
	assert.NotContains(t, prompt, "消息2\n")
	assert.Contains(t, prompt, "用户: 消息3\n助手: 消息4")
	assert.Contains(t, prompt, "当前问题：\n那个呢\n")
}

func TestNeedsClarification_EmptyHistoryPlaceholder(t *testing.T) {
	client := llm.NewMockClient(nil)
	New(client).NeedsClarification(context.Background(), "那个呢", nil)
	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[0].Content, "历史对话：\n（无历史）\n")
}

func TestQuestion(t *testing.T) {
	p := New(nil)

	assert.Equal(t, fallbackQuestion, p.Question(nil))
	assert.Equal(t, fallbackQuestion, p.Question(history("  ")))

	q := p.Question(history("活着讲了什么", "讲了福贵\n的一生"))
	assert.Equal(t, "我需要先确认一下：你这次提到的对象具体指哪一个？例如你是指“讲了福贵 的一生”里的哪部分？", q)

	long := strings.Repeat("长", 60)
	q = p.Question(history(long))
	assert.Contains(t, q, "“"+strings.Repeat("长", 48)+"”")
}
