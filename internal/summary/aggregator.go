// Package summary turns a collection of analyzed feedback into a cached
// executive summary on the owning topic or inquiry.
package summary

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"feedbackd/internal/cache"
	"feedbackd/internal/domain"
	"feedbackd/internal/llm"
	"feedbackd/internal/store"
)

// Summarizer is the provider-adapter surface the aggregator needs.
type Summarizer interface {
	Summarize(ctx context.Context, bodies []string, cacheKey string) (llm.ExecutiveSummary, error)
}

type Aggregator struct {
	db         *sql.DB
	summarizer Summarizer
}

func NewAggregator(db *sql.DB, summarizer Summarizer) *Aggregator {
	return &Aggregator{db: db, summarizer: summarizer}
}

// SummarizeTopic regenerates the executive summary for one topic and stores
// it on the topic row. The cache key carries the collection identity (id,
// item count, latest update), so re-running without new data is a cache hit
// inside the provider adapter.
func (a *Aggregator) SummarizeTopic(ctx context.Context, topicID string) error {
	topic, err := store.GetTopicByID(a.db, topicID)
	if err != nil {
		return err
	}

	items, err := store.GetFeedbackByTopic(a.db, topic.ID)
	if err != nil {
		return fmt.Errorf("loading topic feedback: %w", err)
	}
	stats, err := store.GetTopicStats(a.db, topic.ID)
	if err != nil {
		return fmt.Errorf("loading topic stats: %w", err)
	}

	summary, err := a.summarize(ctx, "topic", topic.ID, items, stats)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if err := store.UpdateTopicSummary(a.db, topic.ID, string(payload)); err != nil {
		return fmt.Errorf("storing topic summary: %w", err)
	}
	log.Printf("summary topic id=%s items=%d actions=%d", topic.ID, len(items), len(summary.Actions))
	return nil
}

// SummarizeInquiry regenerates the executive summary for one inquiry.
func (a *Aggregator) SummarizeInquiry(ctx context.Context, inquiryID string) error {
	inquiry, err := store.GetInquiryByID(a.db, inquiryID)
	if err != nil {
		return err
	}

	items, err := store.GetFeedbackByInquiry(a.db, inquiry.ID)
	if err != nil {
		return fmt.Errorf("loading inquiry feedback: %w", err)
	}
	stats, err := store.GetInquiryStats(a.db, inquiry.ID)
	if err != nil {
		return fmt.Errorf("loading inquiry stats: %w", err)
	}

	summary, err := a.summarize(ctx, "inquiry", inquiry.ID, items, stats)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if err := store.UpdateInquirySummary(a.db, inquiry.ID, string(payload)); err != nil {
		return fmt.Errorf("storing inquiry summary: %w", err)
	}
	log.Printf("summary inquiry id=%s items=%d actions=%d", inquiry.ID, len(items), len(summary.Actions))
	return nil
}

func (a *Aggregator) summarize(ctx context.Context, kind, id string, items []domain.FeedbackItem, stats store.CollectionStats) (llm.ExecutiveSummary, error) {
	if len(items) == 0 {
		return llm.EmptySummary(), nil
	}

	bodies := make([]string, len(items))
	for i, item := range items {
		bodies[i] = item.Body
	}
	key := cache.Key(llm.OpSummarize, kind, id,
		fmt.Sprintf("%d", stats.Count), stats.LastUpdated.UTC().Format(time.RFC3339Nano))
	return a.summarizer.Summarize(ctx, bodies, key)
}
