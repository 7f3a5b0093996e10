package models

// AskResult is the outcome of one QA request, either an answer or a clarification turn.
type AskResult struct {
	Answer                string     `json:"answer"`
	Citations             []Citation `json:"citations"`
	ConversationID        string     `json:"conversation_id"`
	NeedsClarification    bool       `json:"needs_clarification"`
	ClarificationQuestion string     `json:"clarification_question,omitempty"`
}

// IndexStats summarizes a full rebuild or incremental update.
type IndexStats struct {
	TotalFiles    int      `json:"total_files"`
	IndexedFiles  int      `json:"indexed_files"`
	FilesToIndex  int      `json:"files_to_index"`
	FilesToRemove int      `json:"files_to_remove"`
	Removed       int      `json:"removed"`
	Skipped       int      `json:"skipped"`
	TotalChunks   int      `json:"total_chunks"`
	Errors        []string `json:"errors"`
}

// SearchHit is one keyword search result.
type SearchHit struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// SearchResponse is the response for a keyword search request.
type SearchResponse struct {
	Query     string      `json:"query"`
	Hits      []SearchHit `json:"hits"`
	Total     int         `json:"total"`
	QueryTime int64       `json:"query_time_ms"`
}

// IndexOverview describes the current state of the index.
type IndexOverview struct {
	Files          map[string]int `json:"files"`
	TotalFiles     int            `json:"total_files"`
	TotalChunks    int            `json:"total_chunks"`
	KeywordChunks  uint64         `json:"keyword_chunks"`
	BookIDs        []string       `json:"book_ids"`
	DiskUsageBytes int64          `json:"disk_usage_bytes"`
	LastTask       *Task          `json:"last_task,omitempty"`
}
