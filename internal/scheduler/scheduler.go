// Package scheduler runs the asynchronous pipeline: a durable job queue in
// sqlite, a small worker pool draining it, and cron entries that enqueue the
// periodic sweep and the daily summary run.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"feedbackd/internal/domain"
	"feedbackd/internal/llm"
	"feedbackd/internal/notify"
	"feedbackd/internal/store"
)

// Job kinds understood by the dispatcher.
const (
	JobProcessItem      = "process_item"
	JobSweep            = "sweep"
	JobSummarizeTopic   = "summarize_topic"
	JobSummarizeInquiry = "summarize_inquiry"
	JobSummarizeAll     = "summarize_all"
)

type Analyzer interface {
	Analyze(ctx context.Context, body, kind string) (llm.AnalysisResult, error)
}

type TopicResolver interface {
	Resolve(ctx context.Context, body, department string) (domain.Topic, error)
}

type Summaries interface {
	SummarizeTopic(ctx context.Context, topicID string) error
	SummarizeInquiry(ctx context.Context, inquiryID string) error
}

// Notifier receives operational events. All methods are fire and forget; a
// nil notifier disables them.
type Notifier interface {
	HighSeverity(item domain.FeedbackItem)
	DailyDigest(d notify.Digest)
}

type Config struct {
	Workers              int
	SweepBatchSize       int
	SweepSchedule        string
	DailySummarySchedule string
	SummarizeTopicsDaily bool
	PollInterval         time.Duration
	SweepDelay           time.Duration
}

type Scheduler struct {
	db        *sql.DB
	analyzer  Analyzer
	resolver  TopicResolver
	summaries Summaries
	notifier  Notifier
	cfg       Config
	limiter   *rate.Limiter
}

func New(db *sql.DB, analyzer Analyzer, resolver TopicResolver, summaries Summaries, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.SweepDelay <= 0 {
		cfg.SweepDelay = time.Second
	}
	return &Scheduler{
		db:        db,
		analyzer:  analyzer,
		resolver:  resolver,
		summaries: summaries,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(cfg.SweepDelay), 1),
	}
}

// WithNotifier enables operational Slack messages.
func (s *Scheduler) WithNotifier(n Notifier) *Scheduler {
	s.notifier = n
	return s
}

// Run blocks until ctx is cancelled. Jobs interrupted by a previous crash are
// re-queued before the workers start.
func (s *Scheduler) Run(ctx context.Context) error {
	requeued, err := store.ResetStaleJobs(s.db)
	if err != nil {
		return fmt.Errorf("resetting stale jobs: %w", err)
	}
	if requeued > 0 {
		log.Printf("scheduler requeued stale jobs count=%d", requeued)
	}

	cr := cron.New()
	if s.cfg.SweepSchedule != "" {
		if _, err := cr.AddFunc(s.cfg.SweepSchedule, func() { s.EnqueueSweep() }); err != nil {
			return fmt.Errorf("invalid sweep schedule: %w", err)
		}
	}
	if s.cfg.DailySummarySchedule != "" {
		if _, err := cr.AddFunc(s.cfg.DailySummarySchedule, func() { s.EnqueueSummarizeAll() }); err != nil {
			return fmt.Errorf("invalid summary schedule: %w", err)
		}
	}
	cr.Start()
	defer cr.Stop()

	log.Printf("scheduler started workers=%d batch=%d", s.cfg.Workers, s.cfg.SweepBatchSize)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		worker := i
		g.Go(func() error { return s.runWorker(ctx, worker) })
	}
	return g.Wait()
}

func (s *Scheduler) runWorker(ctx context.Context, worker int) error {
	for {
		job, err := store.ClaimNextJob(s.db)
		if errors.Is(err, store.ErrNotFound) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("claiming job: %w", err)
		}

		if err := s.dispatch(ctx, job); err != nil {
			log.Printf("job failed worker=%d id=%s kind=%s attempts=%d err=%v",
				worker, job.ID, job.Kind, job.Attempts, err)
			if markErr := store.MarkJobFailed(s.db, job.ID, err); markErr != nil {
				log.Printf("marking job failed id=%s err=%v", job.ID, markErr)
			}
		} else if markErr := store.MarkJobDone(s.db, job.ID); markErr != nil {
			log.Printf("marking job done id=%s err=%v", job.ID, markErr)
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, job store.Job) error {
	switch job.Kind {
	case JobProcessItem:
		return s.processItem(ctx, job.TargetID)
	case JobSweep:
		return s.sweep(ctx)
	case JobSummarizeTopic:
		return skipMissing(s.summaries.SummarizeTopic(ctx, job.TargetID), "topic", job.TargetID)
	case JobSummarizeInquiry:
		return skipMissing(s.summaries.SummarizeInquiry(ctx, job.TargetID), "inquiry", job.TargetID)
	case JobSummarizeAll:
		return s.summarizeAll(ctx)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// skipMissing turns a deleted target into a clean no-op success; the queue is
// not a place to retry entities that no longer exist.
func skipMissing(err error, what, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("summarize skipped %s=%s reason=missing", what, id)
		return nil
	}
	return err
}

func (s *Scheduler) processItem(ctx context.Context, id string) error {
	item, err := store.GetFeedbackByID(s.db, id)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("process skipped id=%s reason=missing", id)
		return nil
	}
	if err != nil {
		return err
	}
	if item.Status != domain.StatusAwaitingAnalysis || !item.ProcessedAt.IsZero() {
		log.Printf("process skipped id=%s reason=already_analyzed", id)
		return nil
	}

	result, err := s.analyzer.Analyze(ctx, item.Body, item.Kind)
	if err != nil {
		return fmt.Errorf("analyzing feedback %s: %w", id, err)
	}
	item.Sentiment = result.Sentiment
	item.Theme = result.Theme
	item.Scores = result.Scores
	item.Aggregate = result.Aggregate
	item.Severity = result.Severity

	if item.Kind == domain.KindGeneral {
		topic, err := s.resolver.Resolve(ctx, item.Body, item.Department)
		if err != nil {
			return fmt.Errorf("resolving topic for %s: %w", id, err)
		}
		item.TopicID = topic.ID
	}

	applied, err := store.ApplyAnalysis(s.db, id, item)
	if err != nil {
		return fmt.Errorf("storing analysis for %s: %w", id, err)
	}
	if !applied {
		log.Printf("process skipped id=%s reason=concurrent_update", id)
		return nil
	}
	log.Printf("processed id=%s sentiment=%s severity=%s topic=%s",
		id, item.Sentiment, item.Severity, item.TopicID)
	if s.notifier != nil && item.Severity == domain.SeverityHigh {
		s.notifier.HighSeverity(item)
	}
	return nil
}

// sweep picks up items that never got a process job, or whose job failed,
// oldest first and capped per run. One item failing does not stop the rest.
func (s *Scheduler) sweep(ctx context.Context) error {
	items, err := store.GetPendingFeedback(s.db, s.cfg.SweepBatchSize)
	if err != nil {
		return fmt.Errorf("loading pending feedback: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	log.Printf("sweep started pending=%d", len(items))

	var failed int
	for _, item := range items {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.processItem(ctx, item.ID); err != nil {
			failed++
			log.Printf("sweep item failed id=%s err=%v", item.ID, err)
		}
	}
	log.Printf("sweep finished total=%d failed=%d", len(items), failed)
	return nil
}

func (s *Scheduler) summarizeAll(ctx context.Context) error {
	var topicsDone, inquiriesDone, failed int
	if s.cfg.SummarizeTopicsDaily {
		topics, err := store.GetActiveTopics(s.db, "")
		if err != nil {
			return fmt.Errorf("loading topics: %w", err)
		}
		for _, topic := range topics {
			if err := s.summaries.SummarizeTopic(ctx, topic.ID); err != nil {
				failed++
				log.Printf("summarize topic failed id=%s err=%v", topic.ID, err)
				continue
			}
			topicsDone++
		}
	}

	inquiries, err := store.GetOpenInquiries(s.db)
	if err != nil {
		return fmt.Errorf("loading inquiries: %w", err)
	}
	for _, inquiry := range inquiries {
		if err := s.summaries.SummarizeInquiry(ctx, inquiry.ID); err != nil {
			failed++
			log.Printf("summarize inquiry failed id=%s err=%v", inquiry.ID, err)
			continue
		}
		inquiriesDone++
	}

	if s.notifier != nil {
		s.notifier.DailyDigest(notify.Digest{
			Topics:    topicsDone,
			Inquiries: inquiriesDone,
			Failures:  failed,
		})
	}
	if failed > 0 {
		return fmt.Errorf("summarize_all finished with %d failures", failed)
	}
	return nil
}

// EnqueueProcess queues analysis of one feedback item. Fire and forget: the
// caller already persisted the item, and the periodic sweep covers any item
// whose enqueue was lost.
func (s *Scheduler) EnqueueProcess(itemID string) {
	if _, err := store.EnqueueJob(s.db, JobProcessItem, itemID); err != nil {
		log.Printf("enqueue process failed id=%s err=%v", itemID, err)
	}
}

func (s *Scheduler) EnqueueSweep() {
	if _, err := store.EnqueueJob(s.db, JobSweep, ""); err != nil {
		log.Printf("enqueue sweep failed err=%v", err)
	}
}

func (s *Scheduler) EnqueueSummarizeTopic(topicID string) {
	if _, err := store.EnqueueJob(s.db, JobSummarizeTopic, topicID); err != nil {
		log.Printf("enqueue summarize failed topic=%s err=%v", topicID, err)
	}
}

func (s *Scheduler) EnqueueSummarizeInquiry(inquiryID string) {
	if _, err := store.EnqueueJob(s.db, JobSummarizeInquiry, inquiryID); err != nil {
		log.Printf("enqueue summarize failed inquiry=%s err=%v", inquiryID, err)
	}
}

func (s *Scheduler) EnqueueSummarizeAll() {
	if _, err := store.EnqueueJob(s.db, JobSummarizeAll, ""); err != nil {
		log.Printf("enqueue summarize_all failed err=%v", err)
	}
}
