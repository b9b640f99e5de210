package summary

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"feedbackd/internal/domain"
	"feedbackd/internal/llm"
	"feedbackd/internal/store"
)

type fakeSummarizer struct {
	result llm.ExecutiveSummary
	calls  int
	bodies []string
	keys   []string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, bodies []string, cacheKey string) (llm.ExecutiveSummary, error) {
	f.calls++
	f.bodies = bodies
	f.keys = append(f.keys, cacheKey)
	return f.result, nil
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAnalyzedFeedback(t *testing.T, db *sql.DB, id, body, topicID, inquiryID string) {
	t.Helper()
	item := domain.FeedbackItem{
		ID:        id,
		Body:      body,
		Kind:      domain.KindGeneral,
		InquiryID: inquiryID,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.InsertFeedback(db, item); err != nil {
		t.Fatalf("InsertFeedback: %v", err)
	}
	item.Sentiment = domain.SentimentNegative
	item.Theme = domain.ThemeInfrastructure
	item.TopicID = topicID
	item.Aggregate = 0.6
	item.Severity = domain.SeverityMedium
	applied, err := store.ApplyAnalysis(db, id, item)
	if err != nil || !applied {
		t.Fatalf("ApplyAnalysis: applied=%v err=%v", applied, err)
	}
}

func TestSummarizeTopicStoresResult(t *testing.T) {
	db := openTestDB(t)
	topic := domain.Topic{ID: "t1", Name: "dorm heating", CreatedAt: time.Now().UTC()}
	if err := store.InsertTopic(db, topic); err != nil {
		t.Fatalf("InsertTopic: %v", err)
	}
	seedAnalyzedFeedback(t, db, "f1", "heating broken in block A", "t1", "")
	seedAnalyzedFeedback(t, db, "f2", "no heat on third floor", "t1", "")

	fake := &fakeSummarizer{result: llm.ExecutiveSummary{
		Topics:   []string{"dorm heating"},
		Sections: map[string]string{"overview": "heating outages across dorms"},
		Actions:  []llm.Action{{Action: "dispatch maintenance"}},
	}}
	agg := NewAggregator(db, fake)

	if err := agg.SummarizeTopic(context.Background(), "t1"); err != nil {
		t.Fatalf("SummarizeTopic: %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 summarizer call, got %d", fake.calls)
	}
	if len(fake.bodies) != 2 {
		t.Fatalf("expected 2 bodies, got %d", len(fake.bodies))
	}

	got, err := store.GetTopicByID(db, "t1")
	if err != nil {
		t.Fatalf("GetTopicByID: %v", err)
	}
	if got.SummarizedAt.IsZero() {
		t.Fatal("expected summarized_at to be set")
	}
	var stored llm.ExecutiveSummary
	if err := json.Unmarshal([]byte(got.Summary), &stored); err != nil {
		t.Fatalf("stored summary is not valid JSON: %v", err)
	}
	if stored.Sections["overview"] != "heating outages across dorms" {
		t.Fatalf("unexpected stored summary: %q", got.Summary)
	}
}

func TestSummarizeTopicEmptyStoresPlaceholderWithoutCall(t *testing.T) {
	db := openTestDB(t)
	topic := domain.Topic{ID: "t1", Name: "parking", CreatedAt: time.Now().UTC()}
	if err := store.InsertTopic(db, topic); err != nil {
		t.Fatalf("InsertTopic: %v", err)
	}

	fake := &fakeSummarizer{}
	agg := NewAggregator(db, fake)

	if err := agg.SummarizeTopic(context.Background(), "t1"); err != nil {
		t.Fatalf("SummarizeTopic: %v", err)
	}
	if fake.calls != 0 {
		t.Fatalf("expected no summarizer calls, got %d", fake.calls)
	}

	got, err := store.GetTopicByID(db, "t1")
	if err != nil {
		t.Fatalf("GetTopicByID: %v", err)
	}
	if !strings.Contains(got.Summary, "No feedback has been collected yet.") {
		t.Fatalf("expected placeholder summary, got %q", got.Summary)
	}
}

func TestSummarizeTopicMissing(t *testing.T) {
	db := openTestDB(t)
	agg := NewAggregator(db, &fakeSummarizer{})
	err := agg.SummarizeTopic(context.Background(), "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSummarizeInquiryStoresResult(t *testing.T) {
	db := openTestDB(t)
	inquiry := domain.Inquiry{
		ID: "q1", Question: "how is the new cafeteria?",
		Status: domain.InquiryOpen, CreatedAt: time.Now().UTC(),
	}
	if err := store.InsertInquiry(db, inquiry); err != nil {
		t.Fatalf("InsertInquiry: %v", err)
	}
	seedAnalyzedFeedback(t, db, "f1", "lines are too long at lunch", "", "q1")

	fake := &fakeSummarizer{result: llm.ExecutiveSummary{
		Sections: map[string]string{"overview": "long lunch lines"},
	}}
	agg := NewAggregator(db, fake)

	if err := agg.SummarizeInquiry(context.Background(), "q1"); err != nil {
		t.Fatalf("SummarizeInquiry: %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 summarizer call, got %d", fake.calls)
	}

	got, err := store.GetInquiryByID(db, "q1")
	if err != nil {
		t.Fatalf("GetInquiryByID: %v", err)
	}
	if !strings.Contains(got.Summary, "long lunch lines") {
		t.Fatalf("unexpected stored summary: %q", got.Summary)
	}
}

func TestSummarizeCacheKeyTracksCollection(t *testing.T) {
	db := openTestDB(t)
	topic := domain.Topic{ID: "t1", Name: "wifi", CreatedAt: time.Now().UTC()}
	if err := store.InsertTopic(db, topic); err != nil {
		t.Fatalf("InsertTopic: %v", err)
	}
	seedAnalyzedFeedback(t, db, "f1", "wifi drops in the library", "t1", "")

	fake := &fakeSummarizer{}
	agg := NewAggregator(db, fake)

	if err := agg.SummarizeTopic(context.Background(), "t1"); err != nil {
		t.Fatalf("SummarizeTopic: %v", err)
	}
	if err := agg.SummarizeTopic(context.Background(), "t1"); err != nil {
		t.Fatalf("SummarizeTopic: %v", err)
	}
	if len(fake.keys) != 2 || fake.keys[0] != fake.keys[1] {
		t.Fatalf("expected stable cache key for unchanged collection, got %v", fake.keys)
	}

	seedAnalyzedFeedback(t, db, "f2", "wifi down in dorms too", "t1", "")
	if err := agg.SummarizeTopic(context.Background(), "t1"); err != nil {
		t.Fatalf("SummarizeTopic: %v", err)
	}
	if fake.keys[2] == fake.keys[1] {
		t.Fatal("expected cache key to change after new feedback")
	}
}
