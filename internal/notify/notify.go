// Package notify posts operational messages to a Slack channel: alerts for
// high severity feedback and a digest after the daily summary run. All posts
// are best effort; a Slack outage never fails the pipeline.
package notify

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"feedbackd/internal/cost"
	"feedbackd/internal/domain"
)

const maxBodyPreview = 200

type Notifier struct {
	api     *slack.Client
	channel string
	ledger  *cost.Ledger
}

func New(token, channel string, ledger *cost.Ledger) *Notifier {
	return &Notifier{api: slack.New(token), channel: channel, ledger: ledger}
}

// HighSeverity posts an alert for one freshly analyzed item whose aggregate
// score crossed the high tier.
func (n *Notifier) HighSeverity(item domain.FeedbackItem) {
	msg := buildHighSeverityText(item)
	if _, _, err := n.api.PostMessage(n.channel, slack.MsgOptionText(msg, false)); err != nil {
		log.Printf("notify high-severity post error id=%s: %v", item.ID, err)
		return
	}
	log.Printf("notify high-severity posted id=%s", item.ID)
}

type Digest struct {
	Topics    int
	Inquiries int
	Failures  int
}

// DailyDigest posts the outcome of the daily summary run plus today's
// provider spend.
func (n *Notifier) DailyDigest(d Digest) {
	var costToday float64
	if n.ledger != nil {
		if total, err := n.ledger.TodayCost(time.Now()); err == nil {
			costToday = total
		} else {
			log.Printf("notify digest cost lookup error: %v", err)
		}
	}
	msg := buildDigestText(d, costToday)
	if _, _, err := n.api.PostMessage(n.channel, slack.MsgOptionText(msg, false)); err != nil {
		log.Printf("notify digest post error: %v", err)
		return
	}
	log.Printf("notify digest posted topics=%d inquiries=%d failures=%d", d.Topics, d.Inquiries, d.Failures)
}

func buildHighSeverityText(item domain.FeedbackItem) string {
	body := item.Body
	if runes := []rune(body); len(runes) > maxBodyPreview {
		body = string(runes[:maxBodyPreview]) + "..."
	}

	var sb strings.Builder
	sb.WriteString(":rotating_light: *High severity feedback*\n")
	sb.WriteString(fmt.Sprintf("> %s\n", body))
	sb.WriteString(fmt.Sprintf("sentiment: %s | theme: %s | aggregate: %.2f", item.Sentiment, item.Theme, item.Aggregate))
	if item.Department != "" {
		sb.WriteString(fmt.Sprintf(" | department: %s", item.Department))
	}
	sb.WriteString(fmt.Sprintf("\nitem: %s", item.ID))
	return sb.String()
}

func buildDigestText(d Digest, costToday float64) string {
	var sb strings.Builder
	sb.WriteString("*Daily summary run*\n")
	sb.WriteString(fmt.Sprintf("- Topics summarized: %d\n", d.Topics))
	sb.WriteString(fmt.Sprintf("- Inquiries summarized: %d\n", d.Inquiries))
	if d.Failures > 0 {
		sb.WriteString(fmt.Sprintf("- Failures: %d\n", d.Failures))
	}
	sb.WriteString(fmt.Sprintf("- Spend today: $%.4f", costToday))
	return sb.String()
}
