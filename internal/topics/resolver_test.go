package topics

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"feedbackd/internal/domain"
	"feedbackd/internal/store"
)

type fakeNamer struct {
	name  string
	calls int
}

func (f *fakeNamer) ProposeTopic(_ context.Context, _ string, _ []string) (string, error) {
	f.calls++
	return f.name, nil
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDB(filepath.Join(t.TempDir(), "topics-test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedTopic(t *testing.T, db *sql.DB, name, department string) domain.Topic {
	t.Helper()
	topic := domain.Topic{ID: uuid.NewString(), Name: name, Department: department, CreatedAt: time.Now().UTC()}
	if err := store.InsertTopic(db, topic); err != nil {
		t.Fatalf("InsertTopic failed: %v", err)
	}
	return topic
}

func TestResolveReusesSimilarTopic(t *testing.T) {
	db := newTestDB(t)
	existing := seedTopic(t, db, "library wifi reliability", "")

	r := NewResolver(db, &fakeNamer{name: "library wifi reliability issues"}, 0.70)
	got, err := r.Resolve(context.Background(), "The library WiFi keeps disconnecting.", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.ID != existing.ID {
		t.Fatalf("expected reuse of existing topic %s, got %s (%q)", existing.ID, got.ID, got.Name)
	}

	topics, err := store.GetActiveTopics(db, "")
	if err != nil {
		t.Fatalf("GetActiveTopics failed: %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("expected no new topic, got %d", len(topics))
	}
}

func TestResolveCreatesDistinctTopic(t *testing.T) {
	db := newTestDB(t)
	seedTopic(t, db, "cafeteria food quality", "")

	r := NewResolver(db, &fakeNamer{name: "library wifi reliability"}, 0.70)
	got, err := r.Resolve(context.Background(), "The library WiFi keeps disconnecting.", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Name != "library wifi reliability" {
		t.Fatalf("unexpected topic name: %q", got.Name)
	}

	topics, err := store.GetActiveTopics(db, "")
	if err != nil {
		t.Fatalf("GetActiveTopics failed: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected exactly one new topic, got %d total", len(topics))
	}
}

func TestResolveExactNameNeverDuplicates(t *testing.T) {
	db := newTestDB(t)
	existing := seedTopic(t, db, "library wifi reliability", "")

	r := NewResolver(db, &fakeNamer{name: "Library WiFi Reliability"}, 0.70)
	got, err := r.Resolve(context.Background(), "wifi is down again", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.ID != existing.ID {
		t.Fatalf("case-insensitive exact match must reuse, got %q", got.Name)
	}
}

func TestResolveIgnoresArchivedAndScopesByDepartment(t *testing.T) {
	db := newTestDB(t)
	archived := seedTopic(t, db, "library wifi reliability", "")
	if err := store.ArchiveTopic(db, archived.ID); err != nil {
		t.Fatalf("ArchiveTopic failed: %v", err)
	}
	seedTopic(t, db, "library wifi reliability", "athletics")

	// Archived topic is invisible; the athletics topic is out of scope for
	// an it-department resolve. A new topic must be created.
	r := NewResolver(db, &fakeNamer{name: "library wifi reliability"}, 0.70)
	got, err := r.Resolve(context.Background(), "wifi is down", "it")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.ID == archived.ID {
		t.Fatalf("archived topic must not be reused")
	}
	if got.Department != "it" {
		t.Fatalf("expected new topic scoped to it, got %q", got.Department)
	}
}

func TestResolveAtThresholdIsInclusive(t *testing.T) {
	db := newTestDB(t)
	existing := seedTopic(t, db, "ab", "")

	// Similarity("ab", "ab") is 1; use a threshold of exactly 1 to pin the
	// inclusive comparison.
	r := NewResolver(db, &fakeNamer{name: "ab"}, 1.0)
	got, err := r.Resolve(context.Background(), "body", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.ID != existing.ID {
		t.Fatalf("similarity equal to threshold must reuse")
	}
}
