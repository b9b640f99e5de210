package domain

import "time"

// Feedback kinds.
const (
	KindGeneral = "general" // free-standing feedback, clustered into topics
	KindInquiry = "inquiry" // targeted response to an admin-created inquiry
)

// Feedback lifecycle statuses. UnderAnalysis exists conceptually between the
// other two but is collapsed into the final atomic write: a processing run
// either moves the item straight to analyzed or leaves it awaiting analysis.
const (
	StatusAwaitingAnalysis = "awaiting_analysis"
	StatusAnalyzed         = "analyzed"
)

// Sentiment values produced by classification.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Themes form a closed set; anything the model invents outside it is
// defaulted to ThemeOther.
const (
	ThemeInfrastructure = "infrastructure"
	ThemeAcademic       = "academic"
	ThemeServices       = "services"
	ThemeCommunity      = "community"
	ThemeOther          = "other"
)

// Severity tiers derived from the aggregate score.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Severity boundaries: high at and above SeverityHighMin, medium at and
// above SeverityMediumMin, low below that.
const (
	SeverityHighMin   = 0.75
	SeverityMediumMin = 0.50
)

// Scores holds the five quality sub-scores, each in [0, 1].
type Scores struct {
	Urgency     float64 `json:"urgency"`
	Importance  float64 `json:"importance"`
	Clarity     float64 `json:"clarity"`
	Quality     float64 `json:"quality"`
	Helpfulness float64 `json:"helpfulness"`
}

// Aggregate returns the arithmetic mean of the five sub-scores.
func (s Scores) Aggregate() float64 {
	return (s.Urgency + s.Importance + s.Clarity + s.Quality + s.Helpfulness) / 5
}

// SeverityFor maps an aggregate score to its tier.
func SeverityFor(aggregate float64) string {
	switch {
	case aggregate >= SeverityHighMin:
		return SeverityHigh
	case aggregate >= SeverityMediumMin:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

type FeedbackItem struct {
	ID          string
	Body        string
	Kind        string // KindGeneral or KindInquiry
	Status      string
	Sentiment   string
	Scores      Scores
	Aggregate   float64
	Severity    string
	Theme       string
	TopicID     string // set for general feedback once resolved
	InquiryID   string // set for inquiry responses
	Department  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt time.Time // zero until analyzed
}

type Topic struct {
	ID          string
	Name        string
	Department  string
	Archived    bool
	Summary     string // cached executive summary JSON, empty until generated
	SummarizedAt time.Time
	CreatedAt   time.Time
}

// Inquiry statuses.
const (
	InquiryOpen   = "open" // accepting responses; included in the daily summary run
	InquiryClosed = "closed"
)

type Inquiry struct {
	ID           string
	Question     string
	Status       string
	Summary      string
	SummarizedAt time.Time
	CreatedAt    time.Time
}
