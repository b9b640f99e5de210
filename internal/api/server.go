// Package api exposes the HTTP surface: feedback intake, read views over
// topics, inquiries and jobs, and the cost endpoints. Intake never does
// provider work inline; it persists the item and hands analysis to the queue.
package api

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"feedbackd/internal/cost"
	"feedbackd/internal/domain"
	"feedbackd/internal/store"
)

// Queue is the scheduler surface intake needs. Enqueues are fire and forget;
// the periodic sweep covers anything that slips through.
type Queue interface {
	EnqueueProcess(itemID string)
	EnqueueSummarizeTopic(topicID string)
	EnqueueSummarizeInquiry(inquiryID string)
}

type Server struct {
	db     *sql.DB
	ledger *cost.Ledger
	queue  Queue
	now    func() time.Time
}

func NewServer(db *sql.DB, ledger *cost.Ledger, queue Queue) *Server {
	return &Server{db: db, ledger: ledger, queue: queue, now: time.Now}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Post("/feedback", s.handleCreateFeedback)
	r.Get("/feedback/{id}", s.handleGetFeedback)
	r.Post("/feedback/{id}/enqueue", s.handleEnqueueFeedback)

	r.Get("/topics", s.handleListTopics)
	r.Get("/topics/{id}", s.handleGetTopic)
	r.Get("/topics/{id}/summary", s.handleGetTopicSummary)
	r.Post("/topics/{id}/summarize", s.handleSummarizeTopic)
	r.Post("/topics/{id}/archive", s.handleArchiveTopic)

	r.Post("/inquiries", s.handleCreateInquiry)
	r.Get("/inquiries", s.handleListInquiries)
	r.Get("/inquiries/{id}", s.handleGetInquiry)
	r.Post("/inquiries/{id}/close", s.handleCloseInquiry)
	r.Post("/inquiries/{id}/summarize", s.handleSummarizeInquiry)

	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)

	r.Get("/costs/today", s.handleCostsToday)
	r.Get("/costs/range", s.handleCostsRange)
	r.Get("/costs/stats", s.handleCostsStats)
	r.Get("/costs/projection", s.handleCostsProjection)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api encode response err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createFeedbackRequest struct {
	Body       string `json:"body"`
	Kind       string `json:"kind"`
	InquiryID  string `json:"inquiry_id"`
	Department string `json:"department"`
}

func (s *Server) handleCreateFeedback(w http.ResponseWriter, r *http.Request) {
	var req createFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	if req.Kind == "" {
		req.Kind = domain.KindGeneral
	}
	switch req.Kind {
	case domain.KindGeneral:
		req.InquiryID = ""
	case domain.KindInquiry:
		if req.InquiryID == "" {
			writeError(w, http.StatusBadRequest, "inquiry_id is required for inquiry responses")
			return
		}
		inquiry, err := store.GetInquiryByID(s.db, req.InquiryID)
		if err == store.ErrNotFound {
			writeError(w, http.StatusBadRequest, "inquiry does not exist")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "loading inquiry failed")
			return
		}
		if inquiry.Status != domain.InquiryOpen {
			writeError(w, http.StatusConflict, "inquiry is closed")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "kind must be general or inquiry")
		return
	}

	item := domain.FeedbackItem{
		ID:         uuid.NewString(),
		Body:       req.Body,
		Kind:       req.Kind,
		InquiryID:  req.InquiryID,
		Department: req.Department,
		CreatedAt:  s.now().UTC(),
	}
	if err := store.InsertFeedback(s.db, item); err != nil {
		log.Printf("api insert feedback err=%v", err)
		writeError(w, http.StatusInternalServerError, "storing feedback failed")
		return
	}
	s.queue.EnqueueProcess(item.ID)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     item.ID,
		"status": domain.StatusAwaitingAnalysis,
	})
}

type feedbackResponse struct {
	ID          string        `json:"id"`
	Body        string        `json:"body"`
	Kind        string        `json:"kind"`
	Status      string        `json:"status"`
	Sentiment   string        `json:"sentiment,omitempty"`
	Scores      domain.Scores `json:"scores"`
	Aggregate   float64       `json:"aggregate"`
	Severity    string        `json:"severity,omitempty"`
	Theme       string        `json:"theme,omitempty"`
	TopicID     string        `json:"topic_id,omitempty"`
	InquiryID   string        `json:"inquiry_id,omitempty"`
	Department  string        `json:"department,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
}

func toFeedbackResponse(item domain.FeedbackItem) feedbackResponse {
	resp := feedbackResponse{
		ID:         item.ID,
		Body:       item.Body,
		Kind:       item.Kind,
		Status:     item.Status,
		Sentiment:  item.Sentiment,
		Scores:     item.Scores,
		Aggregate:  item.Aggregate,
		Severity:   item.Severity,
		Theme:      item.Theme,
		TopicID:    item.TopicID,
		InquiryID:  item.InquiryID,
		Department: item.Department,
		CreatedAt:  item.CreatedAt,
	}
	if !item.ProcessedAt.IsZero() {
		t := item.ProcessedAt
		resp.ProcessedAt = &t
	}
	return resp
}

func (s *Server) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	item, err := store.GetFeedbackByID(s.db, chi.URLParam(r, "id"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "feedback not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading feedback failed")
		return
	}
	writeJSON(w, http.StatusOK, toFeedbackResponse(item))
}

func (s *Server) handleEnqueueFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := store.GetFeedbackByID(s.db, id)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "feedback not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading feedback failed")
		return
	}
	if item.Status != domain.StatusAwaitingAnalysis {
		writeError(w, http.StatusConflict, "feedback already analyzed")
		return
	}
	s.queue.EnqueueProcess(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": item.Status})
}

type topicResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Department   string          `json:"department,omitempty"`
	Archived     bool            `json:"archived"`
	ItemCount    int             `json:"item_count"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	SummarizedAt *time.Time      `json:"summarized_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (s *Server) toTopicResponse(topic domain.Topic) topicResponse {
	resp := topicResponse{
		ID:         topic.ID,
		Name:       topic.Name,
		Department: topic.Department,
		Archived:   topic.Archived,
		CreatedAt:  topic.CreatedAt,
	}
	if topic.Summary != "" {
		resp.Summary = json.RawMessage(topic.Summary)
	}
	if !topic.SummarizedAt.IsZero() {
		t := topic.SummarizedAt
		resp.SummarizedAt = &t
	}
	if stats, err := store.GetTopicStats(s.db, topic.ID); err == nil {
		resp.ItemCount = stats.Count
	}
	return resp
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := store.GetActiveTopics(s.db, r.URL.Query().Get("department"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading topics failed")
		return
	}
	resp := make([]topicResponse, 0, len(topics))
	for _, topic := range topics {
		resp = append(resp, s.toTopicResponse(topic))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	topic, err := store.GetTopicByID(s.db, chi.URLParam(r, "id"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "topic not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading topic failed")
		return
	}
	writeJSON(w, http.StatusOK, s.toTopicResponse(topic))
}

func (s *Server) handleGetTopicSummary(w http.ResponseWriter, r *http.Request) {
	topic, err := store.GetTopicByID(s.db, chi.URLParam(r, "id"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "topic not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading topic failed")
		return
	}
	if topic.Summary == "" {
		writeError(w, http.StatusNotFound, "summary not generated yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            topic.ID,
		"summary":       json.RawMessage(topic.Summary),
		"summarized_at": topic.SummarizedAt,
	})
}

func (s *Server) handleSummarizeTopic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := store.GetTopicByID(s.db, id); err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "topic not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "loading topic failed")
		return
	}
	s.queue.EnqueueSummarizeTopic(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
}

func (s *Server) handleArchiveTopic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := store.GetTopicByID(s.db, id); err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "topic not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "loading topic failed")
		return
	}
	if err := store.ArchiveTopic(s.db, id); err != nil {
		writeError(w, http.StatusInternalServerError, "archiving topic failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "archived"})
}

type createInquiryRequest struct {
	Question string `json:"question"`
}

type inquiryResponse struct {
	ID           string          `json:"id"`
	Question     string          `json:"question"`
	Status       string          `json:"status"`
	ItemCount    int             `json:"item_count"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	SummarizedAt *time.Time      `json:"summarized_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (s *Server) toInquiryResponse(inquiry domain.Inquiry) inquiryResponse {
	resp := inquiryResponse{
		ID:        inquiry.ID,
		Question:  inquiry.Question,
		Status:    inquiry.Status,
		CreatedAt: inquiry.CreatedAt,
	}
	if inquiry.Summary != "" {
		resp.Summary = json.RawMessage(inquiry.Summary)
	}
	if !inquiry.SummarizedAt.IsZero() {
		t := inquiry.SummarizedAt
		resp.SummarizedAt = &t
	}
	if stats, err := store.GetInquiryStats(s.db, inquiry.ID); err == nil {
		resp.ItemCount = stats.Count
	}
	return resp
}

func (s *Server) handleCreateInquiry(w http.ResponseWriter, r *http.Request) {
	var req createInquiryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	inquiry := domain.Inquiry{
		ID:        uuid.NewString(),
		Question:  req.Question,
		Status:    domain.InquiryOpen,
		CreatedAt: s.now().UTC(),
	}
	if err := store.InsertInquiry(s.db, inquiry); err != nil {
		writeError(w, http.StatusInternalServerError, "storing inquiry failed")
		return
	}
	writeJSON(w, http.StatusCreated, s.toInquiryResponse(inquiry))
}

func (s *Server) handleListInquiries(w http.ResponseWriter, r *http.Request) {
	inquiries, err := store.GetOpenInquiries(s.db)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading inquiries failed")
		return
	}
	resp := make([]inquiryResponse, 0, len(inquiries))
	for _, inquiry := range inquiries {
		resp = append(resp, s.toInquiryResponse(inquiry))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetInquiry(w http.ResponseWriter, r *http.Request) {
	inquiry, err := store.GetInquiryByID(s.db, chi.URLParam(r, "id"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "inquiry not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading inquiry failed")
		return
	}
	writeJSON(w, http.StatusOK, s.toInquiryResponse(inquiry))
}

func (s *Server) handleCloseInquiry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := store.GetInquiryByID(s.db, id); err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "inquiry not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "loading inquiry failed")
		return
	}
	closed, err := store.CloseInquiry(s.db, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "closing inquiry failed")
		return
	}
	if !closed {
		writeError(w, http.StatusConflict, "inquiry already closed")
		return
	}
	// Closing triggers a final summary over the complete response set.
	s.queue.EnqueueSummarizeInquiry(id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": domain.InquiryClosed})
}

func (s *Server) handleSummarizeInquiry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := store.GetInquiryByID(s.db, id); err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "inquiry not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "loading inquiry failed")
		return
	}
	s.queue.EnqueueSummarizeInquiry(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
}

type jobResponse struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	TargetID   string     `json:"target_id,omitempty"`
	State      string     `json:"state"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func toJobResponse(job store.Job) jobResponse {
	resp := jobResponse{
		ID:        job.ID,
		Kind:      job.Kind,
		TargetID:  job.TargetID,
		State:     job.State,
		Attempts:  job.Attempts,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
	}
	if !job.StartedAt.IsZero() {
		t := job.StartedAt
		resp.StartedAt = &t
	}
	if !job.FinishedAt.IsZero() {
		t := job.FinishedAt
		resp.FinishedAt = &t
	}
	return resp
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	jobs, err := store.ListRecentJobs(s.db, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading jobs failed")
		return
	}
	resp := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := store.GetJobByID(s.db, chi.URLParam(r, "id"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading job failed")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleCostsToday(w http.ResponseWriter, r *http.Request) {
	total, err := s.ledger.TodayCost(s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading costs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"cost": total})
}

func parseRange(r *http.Request) (time.Time, time.Time, bool) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil || !to.After(from) {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (s *Server) handleCostsRange(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "from and to must be RFC3339 timestamps with to after from")
		return
	}
	total, err := s.ledger.TotalCost(from.UTC(), to.UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading costs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"cost": total})
}

func (s *Server) handleCostsStats(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "from and to must be RFC3339 timestamps with to after from")
		return
	}
	stats, err := s.ledger.Stats(from.UTC(), to.UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCostsProjection(w http.ResponseWriter, r *http.Request) {
	projected, err := s.ledger.MonthlyProjection(s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading projection failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"projected_monthly_cost": projected})
}
