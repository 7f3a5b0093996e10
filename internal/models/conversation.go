package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ConversationStatusActive is the default conversation status.
const ConversationStatusActive = "active"

// Conversation owns an ordered list of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationMessage is one persisted turn. Summary messages use RoleSystem with IsSummary set.
type ConversationMessage struct {
	ID              string     `json:"id"`
	ConversationID  string     `json:"conversation_id"`
	Role            string     `json:"role"`
	Content         string     `json:"content"`
	Citations       []Citation `json:"citations"`
	CreatedAt       time.Time  `json:"created_at"`
	TokenEstimate   int        `json:"token_estimate"`
	IsClarification bool       `json:"is_clarification"`
	IsSummary       bool       `json:"is_summary"`
}

// Citation is a per-answer view of a retrieved chunk.
type Citation struct {
	ID            int      `json:"id"`
	ChunkID       string   `json:"chunk_id"`
	BlockID       string   `json:"block_id"`
	SourcePath    string   `json:"source_path"`
	TitlePath     []string `json:"title_path"`
	Snippet       string   `json:"snippet"`
	BookID        string   `json:"book_id"`
	BookTitle     string   `json:"book_title"`
	Author        string   `json:"author,omitempty"`
	HighlightTime string   `json:"highlight_time,omitempty"`
	ObsidianURI   string   `json:"obsidian_uri,omitempty"`
}
