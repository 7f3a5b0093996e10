package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/keyword"
	"github.com/hyperjump/readmatrix/internal/models"
)

type indexRequest struct {
	FullRebuild bool `json:"full_rebuild"`
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleDoctor(w http.ResponseWriter, r *http.Request) {
	if s.doctor == nil {
		s.respondError(w, http.StatusNotImplemented, "doctor not enabled")
		return
	}
	report := s.doctor.Run(r.Context())
	status := "ok"
	if !report.Healthy {
		status = "error"
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"healthy": report.Healthy,
		"checks":  report.Checks,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeOptional(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("index request", zap.Bool("full_rebuild", req.FullRebuild))
	var (
		stats *models.IndexStats
		err   error
	)
	if req.FullRebuild {
		stats, err = s.indexer.FullRebuild(r.Context(), nil)
	} else {
		stats, err = s.indexer.IncrementalUpdate(r.Context(), nil)
	}
	if err != nil {
		s.respondErr(w, "indexing failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "stats": stats})
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.indexer.LatestTask(r.Context())
	if err != nil {
		s.respondErr(w, "index status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	overview, err := s.indexer.Stats(r.Context())
	if err != nil {
		s.respondErr(w, "stats failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, overview)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.keyword == nil {
		s.respondError(w, http.StatusNotImplemented, "keyword search not enabled")
		return
	}
	query := models.SearchQuery{Query: r.URL.Query().Get("q")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		query.Limit = limit
	}
	if err := query.Validate(); err != nil {
		s.respondErr(w, "search failed", err)
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))

	start := time.Now()
	var opts *keyword.SearchOptions
	if bookID := strings.TrimSpace(r.URL.Query().Get("book_id")); bookID != "" {
		opts = &keyword.SearchOptions{TitleBoost: 1, BookID: bookID}
	}
	results, err := s.keyword.Search(r.Context(), query.Query, query.Limit, opts)
	if err != nil {
		s.respondErr(w, "search failed", err)
		return
	}
	resp := models.SearchResponse{Query: query.Query, Hits: make([]models.SearchHit, 0, len(results))}
	for _, res := range results {
		resp.Hits = append(resp.Hits, models.SearchHit{Chunk: res.Chunk, Score: res.Score})
	}
	resp.Total = len(resp.Hits)
	resp.QueryTime = time.Since(start).Milliseconds()
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ask request",
		zap.String("query", req.Query),
		zap.String("conversation", req.ConversationID),
		zap.Bool("stream", wantsStream(r)))

	if wantsStream(r) {
		s.streamAsk(w, r, &req)
		return
	}
	result, err := s.qa.Ask(r.Context(), &req)
	if err != nil {
		s.respondErr(w, "ask failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) streamAsk(w http.ResponseWriter, r *http.Request, req *models.AskRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	stream, err := s.qa.AskStream(r.Context(), req)
	if err != nil {
		s.respondErr(w, "ask failed", err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for stream.Next() {
		ev := stream.Event()
		if err := writeEvent(w, ev.Type, ev.Data); err != nil {
			s.logger.Debug("sse client gone", zap.Error(err))
			return
		}
		flusher.Flush()
	}
	if err := stream.Err(); err != nil && r.Context().Err() == nil {
		_ = writeEvent(w, "error", map[string]string{"error": err.Error()})
		flusher.Flush()
	}
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeOptional(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	conv, err := s.conversations.Create(r.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		s.respondErr(w, "create conversation failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	convs, err := s.conversations.List(r.Context(), limit, offset)
	if err != nil {
		s.respondErr(w, "list conversations failed", err)
		return
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.conversations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, "get conversation failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	msgs, err := s.conversations.ListMessages(r.Context(), id, limit, offset, false)
	if err != nil {
		s.respondErr(w, "list messages failed", err)
		return
	}
	if msgs == nil {
		msgs = []*models.ConversationMessage{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"conversation_id": id, "messages": msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete conversation request", zap.String("id", id))
	if err := s.conversations.Delete(r.Context(), id); err != nil {
		s.respondErr(w, "delete conversation failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func wantsStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// decodeOptional decodes a JSON body into v, leaving v untouched when the body is empty.
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// writeEvent writes one server-sent event.
func writeEvent(w io.Writer, name string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrIndexInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrProviderUnavailable), errors.Is(err, models.ErrRateLimited):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
