package notify

import (
	"strings"
	"testing"

	"feedbackd/internal/domain"
)

func TestHighSeverityTextTruncatesBody(t *testing.T) {
	item := domain.FeedbackItem{
		ID:         "f1",
		Body:       strings.Repeat("x", 500),
		Sentiment:  domain.SentimentNegative,
		Theme:      domain.ThemeInfrastructure,
		Aggregate:  0.82,
		Department: "housing",
	}
	text := buildHighSeverityText(item)
	if !strings.Contains(text, strings.Repeat("x", maxBodyPreview)+"...") {
		t.Fatal("expected body truncated with ellipsis")
	}
	if strings.Contains(text, strings.Repeat("x", maxBodyPreview+1)) {
		t.Fatal("expected body capped at preview length")
	}
	if !strings.Contains(text, "aggregate: 0.82") {
		t.Fatalf("expected aggregate in message, got %q", text)
	}
	if !strings.Contains(text, "department: housing") {
		t.Fatalf("expected department in message, got %q", text)
	}
}

func TestHighSeverityTextOmitsEmptyDepartment(t *testing.T) {
	text := buildHighSeverityText(domain.FeedbackItem{ID: "f1", Body: "short"})
	if strings.Contains(text, "department:") {
		t.Fatalf("expected no department line, got %q", text)
	}
}

func TestDigestText(t *testing.T) {
	text := buildDigestText(Digest{Topics: 3, Inquiries: 2}, 0.1234)
	if !strings.Contains(text, "Topics summarized: 3") {
		t.Fatalf("missing topic count: %q", text)
	}
	if strings.Contains(text, "Failures") {
		t.Fatalf("expected no failure line when zero, got %q", text)
	}
	if !strings.Contains(text, "$0.1234") {
		t.Fatalf("missing spend: %q", text)
	}

	text = buildDigestText(Digest{Topics: 1, Inquiries: 1, Failures: 2}, 0)
	if !strings.Contains(text, "Failures: 2") {
		t.Fatalf("missing failure line: %q", text)
	}
}
