package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"feedbackd/internal/cache"
)

// maxSummaryItems caps how many feedback bodies go into one summary prompt.
const maxSummaryItems = 50

// maxSummaryActions caps the prioritized action list.
const maxSummaryActions = 5

// Analyze classifies one feedback body: sentiment, theme, and the five
// quality sub-scores, with aggregate and severity derived locally.
func (c *Client) Analyze(ctx context.Context, body, kind string) (AnalysisResult, error) {
	key := cache.Key(OpAnalyze, body, kind)
	if cached, ok := c.cache.Get(key); ok {
		var result AnalysisResult
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			return result, nil
		}
	}

	system := `You classify one piece of user-submitted feedback.
Score each dimension between 0 and 1:
- urgency: how time-sensitive the underlying issue is
- importance: how much it matters to the community
- clarity: how clearly the feedback is expressed
- quality: how substantive and constructive it is
- helpfulness: how actionable it is for the organization
Also choose:
- sentiment from: positive, neutral, negative
- theme from: infrastructure, academic, services, community, other

Respond with JSON only (no markdown):
{"sentiment": "negative", "theme": "infrastructure", "urgency": 0.9, "importance": 0.8, "clarity": 0.7, "quality": 0.6, "helpfulness": 0.8}`

	user := fmt.Sprintf("Feedback kind: %s\n\nFeedback:\n%s", kind, body)

	text, err := c.call(ctx, OpAnalyze, system, user)
	if err != nil {
		return AnalysisResult{}, err
	}
	result, err := parseAnalysis(text)
	if err != nil {
		return AnalysisResult{}, err
	}
	c.cache.Set(key, marshalForCache(result), c.opts.CacheTTL)
	return result, nil
}

// ProposeTopic asks the model for a short cluster name for the feedback,
// given the names already in use. The resolver decides afterwards whether to
// reuse an existing topic.
func (c *Client) ProposeTopic(ctx context.Context, body string, existingNames []string) (string, error) {
	key := cache.Key(OpProposeTopic, body, strings.Join(existingNames, "|"))
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	existingBlock := "none"
	if len(existingNames) > 0 {
		var b strings.Builder
		for _, name := range existingNames {
			b.WriteString("- " + name + "\n")
		}
		existingBlock = b.String()
	}

	system := `You name topical clusters for user feedback.
Given one piece of feedback and the existing topic names, produce a short topic name:
- 3 to 6 words, plain language, no punctuation
- specific to the underlying issue, not generic
- if the feedback clearly belongs to an existing topic, reuse that exact name

Respond with JSON only (no markdown):
{"name": "library wifi reliability"}`

	user := fmt.Sprintf("Existing topics:\n%s\nFeedback:\n%s", existingBlock, body)

	text, err := c.call(ctx, OpProposeTopic, system, user)
	if err != nil {
		return "", err
	}
	name, err := parseTopicName(text)
	if err != nil {
		return "", err
	}
	c.cache.Set(key, name, c.opts.CacheTTL)
	return name, nil
}

// Summarize produces an executive summary over a collection of feedback
// bodies. The cacheKey carries the collection identity (id, item count,
// latest update) so re-invocation without new data never reaches the
// provider. An empty collection returns a fixed placeholder with no call.
func (c *Client) Summarize(ctx context.Context, bodies []string, cacheKey string) (ExecutiveSummary, error) {
	if len(bodies) == 0 {
		return EmptySummary(), nil
	}

	if cached, ok := c.cache.Get(cacheKey); ok {
		var summary ExecutiveSummary
		if err := json.Unmarshal([]byte(cached), &summary); err == nil {
			return summary, nil
		}
	}

	if len(bodies) > maxSummaryItems {
		bodies = bodies[len(bodies)-maxSummaryItems:]
	}
	var itemLines strings.Builder
	for i, body := range bodies {
		itemLines.WriteString(fmt.Sprintf("%d. %s\n", i+1, strings.TrimSpace(body)))
	}

	system := fmt.Sprintf(`You write executive summaries of collected user feedback.
Synthesize the feedback below into:
- "topics": the main topics raised, as short strings
- "narrative_sections": a map of section title to a paragraph of findings
- "prioritized_actions": at most %d recommended actions, most impactful first

Each action must be specific and actionable, not generic advice, with:
- "action": what to do
- "impact": the expected benefit
- "challenges": what makes it hard
- "affected_count": how many of the feedback items it addresses
- "reasoning": why it ranks where it does

Respond with JSON only (no markdown):
{"topics": ["..."], "narrative_sections": {"Key Findings": "..."}, "prioritized_actions": [{"action": "...", "impact": "...", "challenges": "...", "affected_count": 3, "reasoning": "..."}]}`, maxSummaryActions)

	user := "Feedback items:\n" + itemLines.String()

	text, err := c.call(ctx, OpSummarize, system, user)
	if err != nil {
		return ExecutiveSummary{}, err
	}
	summary, err := parseSummary(text)
	if err != nil {
		return ExecutiveSummary{}, err
	}
	c.cache.Set(cacheKey, marshalForCache(summary), c.opts.CacheTTL)
	return summary, nil
}

// EmptySummary is the fixed placeholder for collections with no analyzed
// feedback yet.
func EmptySummary() ExecutiveSummary {
	return ExecutiveSummary{
		Topics: []string{},
		Sections: map[string]string{
			"Key Findings": "No feedback has been collected yet.",
		},
		Actions: []Action{},
	}
}
