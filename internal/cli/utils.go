// Package cli provides CLI output helpers for ReadMatrix.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

// ParseOutputFormat accepts "text" or "json"; anything else is text.
func ParseOutputFormat(s string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(s), string(OutputJSON)) {
		return OutputJSON
	}
	return OutputText
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// WriteSearchResults writes keyword search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for i, hit := range response.Hits {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "[%d] Score: %.4f | %s\n", i+1, hit.Score, chunkLabel(hit.Chunk))
		fmt.Fprintf(w, "ID: %s\n", hit.Chunk.ChunkID)
		fmt.Fprintf(w, "\n%s\n\n", Truncate(hit.Chunk.Content, 200))
	}
	return nil
}

// WriteAskResult writes an answer and its numbered sources.
func WriteAskResult(w io.Writer, result *models.AskResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, result)
	}
	if result.NeedsClarification {
		fmt.Fprintf(w, "\n%s\n", result.ClarificationQuestion)
	} else {
		fmt.Fprintf(w, "\n%s\n", result.Answer)
	}
	if len(result.Citations) > 0 {
		fmt.Fprintf(w, "\nSources:\n")
		for _, c := range result.Citations {
			label := c.BookTitle
			if len(c.TitlePath) > 0 {
				label += " / " + strings.Join(c.TitlePath, " / ")
			}
			fmt.Fprintf(w, "[%d] %s\n", c.ID, label)
			if c.ObsidianURI != "" {
				fmt.Fprintf(w, "    %s\n", c.ObsidianURI)
			}
		}
	}
	fmt.Fprintf(w, "\nConversation: %s\n", result.ConversationID)
	return nil
}

// WriteStats writes an index overview.
func WriteStats(w io.Writer, overview *models.IndexOverview, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, overview)
	}
	fmt.Fprintf(w, "Files:          %d\n", overview.TotalFiles)
	statuses := make([]string, 0, len(overview.Files))
	for status := range overview.Files {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(w, "  %-12s  %d\n", status, overview.Files[status])
	}
	fmt.Fprintf(w, "Chunks:         %d\n", overview.TotalChunks)
	fmt.Fprintf(w, "Keyword chunks: %d\n", overview.KeywordChunks)
	fmt.Fprintf(w, "Books:          %d\n", len(overview.BookIDs))
	fmt.Fprintf(w, "Disk usage:     %s\n", FormatBytes(overview.DiskUsageBytes))
	if t := overview.LastTask; t != nil {
		fmt.Fprintf(w, "Last task:      %s %s (%d/%d)", t.Type, t.Status, t.Progress, t.Total)
		if t.Error != "" {
			fmt.Fprintf(w, " error: %s", t.Error)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func chunkLabel(c models.Chunk) string {
	parts := []string{c.BookTitle}
	parts = append(parts, c.TitlePath...)
	return strings.Join(parts, " / ")
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}
