// Package topics assigns general feedback to a named topic cluster, reusing
// an existing topic when the proposed name is close enough and minting a new
// one otherwise.
package topics

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"feedbackd/internal/domain"
	"feedbackd/internal/store"
)

// Namer proposes a topic name for a feedback body given the names already in
// use. Implemented by the llm client; tests substitute fakes.
type Namer interface {
	ProposeTopic(ctx context.Context, body string, existingNames []string) (string, error)
}

type Resolver struct {
	db        *sql.DB
	namer     Namer
	threshold float64
}

func NewResolver(db *sql.DB, namer Namer, threshold float64) *Resolver {
	return &Resolver{db: db, namer: namer, threshold: threshold}
}

// Resolve returns the topic for a piece of general feedback, creating one
// when no active topic name is similar enough to the proposed name. The
// threshold comparison is inclusive: a best match exactly at the threshold is
// reused. Identical input within the namer's cache TTL resolves to the same
// topic.
func (r *Resolver) Resolve(ctx context.Context, body, department string) (domain.Topic, error) {
	existing, err := store.GetActiveTopics(r.db, department)
	if err != nil {
		return domain.Topic{}, fmt.Errorf("loading active topics: %w", err)
	}

	names := make([]string, len(existing))
	for i, t := range existing {
		names[i] = t.Name
	}

	proposed, err := r.namer.ProposeTopic(ctx, body, names)
	if err != nil {
		return domain.Topic{}, fmt.Errorf("proposing topic name: %w", err)
	}

	var best domain.Topic
	bestScore := -1.0
	for _, t := range existing {
		score := Similarity(proposed, t.Name)
		if score > bestScore {
			best, bestScore = t, score
		}
	}
	if bestScore >= r.threshold {
		log.Printf("topic resolve reused id=%s name=%q proposed=%q similarity=%.2f", best.ID, best.Name, proposed, bestScore)
		return best, nil
	}

	topic := domain.Topic{
		ID:         uuid.NewString(),
		Name:       proposed,
		Department: department,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.InsertTopic(r.db, topic); err != nil {
		return domain.Topic{}, fmt.Errorf("creating topic: %w", err)
	}
	log.Printf("topic resolve created id=%s name=%q best_similarity=%.2f", topic.ID, topic.Name, bestScore)
	return topic, nil
}
