package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"feedbackd/internal/domain"
)

// ParseError marks a provider response that was structurally unusable. It
// carries the raw text for logging; the owning job fails and the item stays
// sweep-eligible.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > 512 {
		raw = raw[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(e.Raw))
	}
	return fmt.Sprintf("unparseable model response: %v (raw: %s)", e.Err, raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

type AnalysisResult struct {
	Sentiment string        `json:"sentiment"`
	Theme     string        `json:"theme"`
	Scores    domain.Scores `json:"scores"`
	Aggregate float64       `json:"aggregate"`
	Severity  string        `json:"severity"`
}

type Action struct {
	Action        string `json:"action"`
	Impact        string `json:"impact"`
	Challenges    string `json:"challenges"`
	AffectedCount int    `json:"affected_count"`
	Reasoning     string `json:"reasoning"`
}

type ExecutiveSummary struct {
	Topics   []string          `json:"topics"`
	Sections map[string]string `json:"narrative_sections"`
	Actions  []Action          `json:"prioritized_actions"`
}

// rawAnalysis is the wire shape; conversion to AnalysisResult centralizes all
// clamping and enum defaulting in one place.
type rawAnalysis struct {
	Sentiment   string  `json:"sentiment"`
	Theme       string  `json:"theme"`
	Urgency     float64 `json:"urgency"`
	Importance  float64 `json:"importance"`
	Clarity     float64 `json:"clarity"`
	Quality     float64 `json:"quality"`
	Helpfulness float64 `json:"helpfulness"`
}

// stripWrappers removes code fences and surrounding prose so a JSON payload
// embedded in a chatty response still parses.
func stripWrappers(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	// Models sometimes preface the object with prose. Cut to the outermost
	// JSON delimiters when present.
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	var end int
	if text[start] == '{' {
		end = strings.LastIndex(text, "}")
	} else {
		end = strings.LastIndex(text, "]")
	}
	if end > start {
		return text[start : end+1]
	}
	return text
}

func parseAnalysis(text string) (AnalysisResult, error) {
	cleaned := stripWrappers(text)

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return AnalysisResult{}, &ParseError{Raw: text, Err: err}
	}

	scores := domain.Scores{
		Urgency:     clamp01(raw.Urgency),
		Importance:  clamp01(raw.Importance),
		Clarity:     clamp01(raw.Clarity),
		Quality:     clamp01(raw.Quality),
		Helpfulness: clamp01(raw.Helpfulness),
	}
	aggregate := scores.Aggregate()
	return AnalysisResult{
		Sentiment: normalizeSentiment(raw.Sentiment),
		Theme:     normalizeTheme(raw.Theme),
		Scores:    scores,
		Aggregate: aggregate,
		Severity:  domain.SeverityFor(aggregate),
	}, nil
}

func parseTopicName(text string) (string, error) {
	cleaned := stripWrappers(text)

	// Expected shape: {"name": "..."} but accept a bare quoted or plain string.
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(cleaned), &obj); err == nil && strings.TrimSpace(obj.Name) != "" {
		return strings.TrimSpace(obj.Name), nil
	}
	var s string
	if err := json.Unmarshal([]byte(cleaned), &s); err == nil && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s), nil
	}

	name := strings.Trim(strings.TrimSpace(cleaned), `"`)
	if name == "" || strings.ContainsAny(name, "{}[]") {
		return "", &ParseError{Raw: text, Err: fmt.Errorf("no usable topic name")}
	}
	return name, nil
}

func parseSummary(text string) (ExecutiveSummary, error) {
	cleaned := stripWrappers(text)

	var summary ExecutiveSummary
	if err := json.Unmarshal([]byte(cleaned), &summary); err != nil {
		return ExecutiveSummary{}, &ParseError{Raw: text, Err: err}
	}
	if summary.Sections == nil {
		summary.Sections = make(map[string]string)
	}
	if len(summary.Actions) > maxSummaryActions {
		summary.Actions = summary.Actions[:maxSummaryActions]
	}
	return summary, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case domain.SentimentPositive:
		return domain.SentimentPositive
	case domain.SentimentNegative:
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

func normalizeTheme(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case domain.ThemeInfrastructure:
		return domain.ThemeInfrastructure
	case domain.ThemeAcademic:
		return domain.ThemeAcademic
	case domain.ThemeServices:
		return domain.ThemeServices
	case domain.ThemeCommunity:
		return domain.ThemeCommunity
	default:
		return domain.ThemeOther
	}
}
