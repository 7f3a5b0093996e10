package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/readmatrix/internal/models"
)

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Query:     "活着",
		QueryTime: 42,
		Total:     1,
		Hits: []models.SearchHit{{
			Score: 0.9,
			Chunk: models.Chunk{
				ChunkID:   "c1",
				BookTitle: "活着",
				TitlePath: []string{"第一章"},
				Content:   "人是为活着本身而活着的",
			},
		}},
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	response := sampleResponse()
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	var decoded models.SearchResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != response.Query || decoded.QueryTime != response.QueryTime {
		t.Errorf("decoded query=%q query_time=%d", decoded.Query, decoded.QueryTime)
	}
	if len(decoded.Hits) != 1 || decoded.Hits[0].Chunk.ChunkID != "c1" {
		t.Errorf("decoded hits: want one hit with id c1, got %+v", decoded.Hits)
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatalf("WriteSearchResults(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"Found 1 results", "42ms", "[1] Score: 0.9000", "活着 / 第一章", "ID: c1", "人是为活着本身而活着的"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteAskResult(t *testing.T) {
	result := &models.AskResult{
		Answer:         "要为活着本身而活 [1]",
		ConversationID: "conv-1",
		Citations: []models.Citation{{
			ID:          1,
			BookTitle:   "活着",
			TitlePath:   []string{"第一章"},
			ObsidianURI: "obsidian://open?vault=v&file=a.md",
		}},
	}
	var buf bytes.Buffer
	if err := WriteAskResult(&buf, result, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"要为活着本身而活 [1]", "Sources:", "[1] 活着 / 第一章", "obsidian://open?vault=v&file=a.md", "Conversation: conv-1"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}

	buf.Reset()
	clarifying := &models.AskResult{Answer: "你指的是哪本书？", NeedsClarification: true, ClarificationQuestion: "你指的是哪本书？", ConversationID: "conv-1"}
	if err := WriteAskResult(&buf, clarifying, OutputText); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Sources:") || !strings.Contains(buf.String(), "你指的是哪本书？") {
		t.Errorf("unexpected clarification output:\n%s", buf.String())
	}

	buf.Reset()
	if err := WriteAskResult(&buf, result, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "obsidian://open?vault=v&file=a.md") {
		t.Errorf("JSON output should not escape &:\n%s", buf.String())
	}
}

func TestWriteStats(t *testing.T) {
	overview := &models.IndexOverview{
		Files:          map[string]int{"indexed": 2, "error": 1},
		TotalFiles:     3,
		TotalChunks:    10,
		BookIDs:        []string{"A1", "B1"},
		DiskUsageBytes: 2048,
		LastTask:       &models.Task{Type: "incremental", Status: "error", Progress: 1, Total: 3, Error: "boom"},
	}
	var buf bytes.Buffer
	if err := WriteStats(&buf, overview, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Files:          3", "error", "indexed", "Chunks:         10", "Books:          2", "2.0 KiB", "incremental error (1/3) error: boom"} {
		if !strings.Contains(out, sub) {
			t.Errorf("stats output missing %q:\n%s", sub, out)
		}
	}
	if strings.Index(out, "  error") > strings.Index(out, "  indexed") {
		t.Errorf("statuses should be sorted:\n%s", out)
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := map[string]OutputFormat{"json": OutputJSON, " JSON ": OutputJSON, "text": OutputText, "yaml": OutputText, "": OutputText}
	for in, want := range tests {
		if got := ParseOutputFormat(in); got != want {
			t.Errorf("ParseOutputFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		maxLen int
		want   string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"truncated", "hello world", 5, "hello..."},
		{"runes", "人是为活着本身", 3, "人是为..."},
		{"zero max", "hello", 0, "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.s, tt.maxLen); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
			}
		})
	}
}
