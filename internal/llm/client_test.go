package llm

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"feedbackd/internal/cache"
	"feedbackd/internal/cost"
	"feedbackd/internal/store"
)

type fakeCaller struct {
	responses []string
	errs      []error
	calls     int
	lastUser  string
}

func (f *fakeCaller) complete(_ context.Context, _, user string) (string, Usage, error) {
	idx := f.calls
	f.calls++
	f.lastUser = user
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", Usage{}, f.errs[idx]
	}
	resp := f.responses[len(f.responses)-1]
	if idx < len(f.responses) {
		resp = f.responses[idx]
	}
	return resp, Usage{InputTokens: 100, OutputTokens: 50}, nil
}

func newTestClient(t *testing.T, f *fakeCaller) (*Client, *cost.Ledger, *[]time.Duration) {
	t.Helper()
	db, err := store.InitDB(filepath.Join(t.TempDir(), "llm-test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ledger := cost.NewLedger(db, cost.Pricing{InPer1K: 0.03, OutPer1K: 0.06})
	var slept []time.Duration
	c := &Client{
		caller: f,
		cache:  cache.NewMemory(),
		ledger: ledger,
		opts: Options{
			Model:           "test-model",
			MaxOutputTokens: 1024,
			MaxRetries:      3,
			CallTimeout:     time.Second,
			CacheTTL:        24 * time.Hour,
		},
		backoffBase: 2 * time.Second,
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	return c, ledger, &slept
}

const analysisJSON = `{"sentiment": "negative", "theme": "infrastructure", "urgency": 0.9, "importance": 0.85, "clarity": 0.8, "quality": 0.7, "helpfulness": 0.75}`

func requestCount(t *testing.T, ledger *cost.Ledger) int {
	t.Helper()
	stats, err := ledger.Stats(time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	return stats.RequestCount
}

func TestAnalyzeSuccessRecordsUsage(t *testing.T) {
	f := &fakeCaller{responses: []string{analysisJSON}}
	c, ledger, _ := newTestClient(t, f)

	result, err := c.Analyze(context.Background(), "The library WiFi keeps disconnecting.", "general")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.Sentiment != "negative" {
		t.Fatalf("unexpected sentiment: %s", result.Sentiment)
	}
	want := (0.9 + 0.85 + 0.8 + 0.7 + 0.75) / 5
	if diff := result.Aggregate - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("aggregate %f, want %f", result.Aggregate, want)
	}
	if result.Severity != "high" {
		t.Fatalf("expected high severity, got %s", result.Severity)
	}
	if n := requestCount(t, ledger); n != 1 {
		t.Fatalf("expected 1 usage record, got %d", n)
	}
}

func TestAnalyzeCacheHitSkipsProviderAndLedger(t *testing.T) {
	f := &fakeCaller{responses: []string{analysisJSON}}
	c, ledger, _ := newTestClient(t, f)

	first, err := c.Analyze(context.Background(), "The library WiFi keeps disconnecting.", "general")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	// Same body modulo whitespace and case: must be a cache hit.
	second, err := c.Analyze(context.Background(), "  the library  wifi keeps disconnecting. ", "general")
	if err != nil {
		t.Fatalf("cached Analyze failed: %v", err)
	}

	if f.calls != 1 {
		t.Fatalf("expected exactly 1 provider call, got %d", f.calls)
	}
	if n := requestCount(t, ledger); n != 1 {
		t.Fatalf("expected exactly 1 usage record, got %d", n)
	}
	if first != second {
		t.Fatalf("expected identical cached result:\n%+v\n%+v", first, second)
	}
}

func TestRetryTransientFailureSchedule(t *testing.T) {
	transient := errors.New("429 rate limit exceeded")
	f := &fakeCaller{errs: []error{transient, transient, transient, transient}, responses: []string{analysisJSON}}
	c, ledger, slept := newTestClient(t, f)

	_, err := c.Analyze(context.Background(), "anything", "general")
	if err == nil {
		t.Fatalf("expected exhausted retries to fail")
	}
	if f.calls != 4 {
		t.Fatalf("expected exactly 4 attempts, got %d", f.calls)
	}
	wantDelays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(*slept) != len(wantDelays) {
		t.Fatalf("expected %d backoff sleeps, got %v", len(wantDelays), *slept)
	}
	for i, d := range wantDelays {
		if (*slept)[i] != d {
			t.Fatalf("backoff %d = %v, want %v", i, (*slept)[i], d)
		}
	}
	if n := requestCount(t, ledger); n != 0 {
		t.Fatalf("failed call must not write usage records, got %d", n)
	}
}

func TestRetryRecoversAfterTransientFailures(t *testing.T) {
	transient := errors.New("connection reset by peer")
	f := &fakeCaller{errs: []error{transient, transient, nil}, responses: []string{"", "", analysisJSON}}
	c, _, slept := newTestClient(t, f)

	result, err := c.Analyze(context.Background(), "anything", "general")
	if err != nil {
		t.Fatalf("expected recovery on third attempt: %v", err)
	}
	if result.Theme != "infrastructure" {
		t.Fatalf("unexpected theme: %s", result.Theme)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if len(*slept) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %v", *slept)
	}
}

func TestNonTransientFailureDoesNotRetry(t *testing.T) {
	f := &fakeCaller{errs: []error{errors.New("400 invalid request")}, responses: []string{analysisJSON}}
	c, _, slept := newTestClient(t, f)

	_, err := c.Analyze(context.Background(), "anything", "general")
	if err == nil {
		t.Fatalf("expected immediate failure")
	}
	if f.calls != 1 {
		t.Fatalf("expected single attempt for non-transient error, got %d", f.calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("expected no backoff sleeps, got %v", *slept)
	}
}

func TestProposeTopicIncludesExistingNames(t *testing.T) {
	f := &fakeCaller{responses: []string{`{"name": "library wifi reliability"}`}}
	c, _, _ := newTestClient(t, f)

	name, err := c.ProposeTopic(context.Background(), "WiFi drops in the library", []string{"cafeteria food quality"})
	if err != nil {
		t.Fatalf("ProposeTopic failed: %v", err)
	}
	if name != "library wifi reliability" {
		t.Fatalf("unexpected name: %q", name)
	}
	if !strings.Contains(f.lastUser, "cafeteria food quality") {
		t.Fatalf("expected existing names in prompt, got: %s", f.lastUser)
	}
}

func TestSummarizeEmptyReturnsPlaceholderWithoutCall(t *testing.T) {
	f := &fakeCaller{responses: []string{"{}"}}
	c, ledger, _ := newTestClient(t, f)

	summary, err := c.Summarize(context.Background(), nil, "summary:key")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if f.calls != 0 {
		t.Fatalf("empty collection must not call the provider, got %d calls", f.calls)
	}
	if n := requestCount(t, ledger); n != 0 {
		t.Fatalf("empty collection must not record usage, got %d", n)
	}
	if summary.Sections["Key Findings"] == "" {
		t.Fatalf("expected placeholder section, got %+v", summary)
	}
}

func TestSummarizeCapsPromptItems(t *testing.T) {
	f := &fakeCaller{responses: []string{`{"topics": ["t"], "narrative_sections": {"Key Findings": "f"}, "prioritized_actions": []}`}}
	c, _, _ := newTestClient(t, f)

	bodies := make([]string, 120)
	for i := range bodies {
		bodies[i] = "feedback body"
	}
	if _, err := c.Summarize(context.Background(), bodies, "summary:key"); err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if got := strings.Count(f.lastUser, "feedback body"); got != maxSummaryItems {
		t.Fatalf("expected %d items in prompt, got %d", maxSummaryItems, got)
	}
}

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("429 rate limit"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("connection refused"), true},
		{context.DeadlineExceeded, true},
		{errors.New("401 unauthorized"), false},
		{errors.New("invalid model name"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := isTransient(c.err); got != c.want {
			t.Errorf("isTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
