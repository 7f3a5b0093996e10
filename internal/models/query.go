package models

import (
	"fmt"
	"strings"
)

// AskFilters restricts retrieval to one book. BookID takes priority over BookTitle.
type AskFilters struct {
	BookID    string `json:"book_id,omitempty"`
	BookTitle string `json:"book_title,omitempty"`
}

// AskRequest is a question posted to the QA orchestrator.
type AskRequest struct {
	Query          string      `json:"query"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Filters        *AskFilters `json:"filters,omitempty"`
	// UseContext defaults to true; false disables history, summary, and clarification.
	UseContext *bool `json:"use_context,omitempty"`
	TopK       int   `json:"top_k,omitempty"`
}

// Validate trims the query and rejects empty or oversized requests.
func (r *AskRequest) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if r.TopK < 0 {
		return fmt.Errorf("%w: top_k must not be negative", ErrInvalidInput)
	}
	if r.TopK > 50 {
		r.TopK = 50
	}
	return nil
}

// ContextEnabled reports whether conversation context should be used.
func (r *AskRequest) ContextEnabled() bool {
	return r.UseContext == nil || *r.UseContext
}

// BookID returns the book id filter, or "".
func (r *AskRequest) BookID() string {
	if r.Filters == nil {
		return ""
	}
	return strings.TrimSpace(r.Filters.BookID)
}

// BookTitle returns the book title filter, or "".
func (r *AskRequest) BookTitle() string {
	if r.Filters == nil {
		return ""
	}
	return strings.TrimSpace(r.Filters.BookTitle)
}

// SearchQuery is a keyword search over indexed chunks.
type SearchQuery struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
func (q *SearchQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}
