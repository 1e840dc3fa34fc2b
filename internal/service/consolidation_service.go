package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
	"github.com/noah-isme/tm-inbox-console/pkg/jobs"
)

const consolidateJobType = "consolidate"

type consolidationRepository interface {
	Consolidate(ctx context.Context) (*models.ConsolidateResult, error)
}

type consolidationMetrics interface {
	RecordConsolidation(tmUpserts, occInserted, embUpserts int)
}

// ConsolidationConfig tunes background consolidation.
type ConsolidationConfig struct {
	Retries    int
	RetryDelay time.Duration
}

// ConsolidationOutcome reports the end of a background run.
type ConsolidationOutcome struct {
	JobID    string
	Result   *models.ConsolidateResult
	Err      error
	Attempts int
}

// ConsolidationService promotes approved items into the translation memory,
// either inline or through a retrying background queue.
type ConsolidationService struct {
	repo     consolidationRepository
	notifier Notifier
	metrics  consolidationMetrics
	logger   *zap.Logger
	queue    *jobs.Queue
	onResult func(ConsolidationOutcome)
}

// ConsolidationOption customises a ConsolidationService.
type ConsolidationOption func(*ConsolidationService)

// WithConsolidationNotifier sets the sink for outcomes.
func WithConsolidationNotifier(n Notifier) ConsolidationOption {
	return func(s *ConsolidationService) { s.notifier = notifierOrNop(n) }
}

// WithConsolidationMetrics records consolidation effects.
func WithConsolidationMetrics(m consolidationMetrics) ConsolidationOption {
	return func(s *ConsolidationService) { s.metrics = m }
}

// WithConsolidationLogger sets the logger.
func WithConsolidationLogger(logger *zap.Logger) ConsolidationOption {
	return func(s *ConsolidationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithResultCallback receives every background outcome.
func WithResultCallback(fn func(ConsolidationOutcome)) ConsolidationOption {
	return func(s *ConsolidationService) { s.onResult = fn }
}

// NewConsolidationService constructs the service. Background runs need Start.
func NewConsolidationService(repo consolidationRepository, cfg ConsolidationConfig, opts ...ConsolidationOption) *ConsolidationService {
	s := &ConsolidationService{
		repo:     repo,
		notifier: notifierOrNop(nil),
		logger:   zap.NewNop(),
		onResult: func(ConsolidationOutcome) {},
	}
	for _, opt := range opts {
		opt(s)
	}

	retries := cfg.Retries
	if retries <= 0 {
		retries = -1
	}
	s.queue = jobs.NewQueue("consolidation", s.handle, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 4,
		MaxRetries: retries,
		RetryDelay: cfg.RetryDelay,
		Logger:     s.logger,
		Retryable:  retryableRemote,
		OnGiveUp: func(job jobs.Job, err error) {
			s.notifier.Notify(NoticeError, "Consolidation failed", appErrors.Message(err))
			s.onResult(ConsolidationOutcome{JobID: job.ID, Err: err, Attempts: job.Attempt})
		},
	})
	return s
}

// Consolidate runs one consolidation inline and reports the outcome.
func (s *ConsolidationService) Consolidate(ctx context.Context) (*models.ConsolidateResult, error) {
	res, err := s.repo.Consolidate(ctx)
	if err != nil {
		s.logger.Warn("consolidation failed", zap.Error(err))
		s.notifier.Notify(NoticeError, "Consolidation failed", appErrors.Message(err))
		return nil, err
	}
	s.report(res)
	return res, nil
}

// Start launches the background worker.
func (s *ConsolidationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop halts the background worker.
func (s *ConsolidationService) Stop() {
	s.queue.Stop()
}

// Enqueue schedules a background run and returns its job id.
func (s *ConsolidationService) Enqueue() (string, error) {
	id, err := s.queue.Enqueue(jobs.Job{Type: consolidateJobType})
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "consolidation queue unavailable")
	}
	s.logger.Info("consolidation queued", zap.String("job_id", id))
	return id, nil
}

func (s *ConsolidationService) handle(ctx context.Context, job jobs.Job) error {
	res, err := s.repo.Consolidate(ctx)
	if err != nil {
		return err
	}
	s.report(res)
	s.onResult(ConsolidationOutcome{JobID: job.ID, Result: res, Attempts: job.Attempt + 1})
	return nil
}

func (s *ConsolidationService) report(res *models.ConsolidateResult) {
	if s.metrics != nil {
		s.metrics.RecordConsolidation(res.TMUpserts, res.OccInserted, res.EmbUpserts)
	}
	s.logger.Info("consolidation completed",
		zap.Int("tm_upserts", res.TMUpserts),
		zap.Int("occ_inserted", res.OccInserted),
		zap.Int("emb_upserts", res.EmbUpserts))
	if res.Empty() {
		s.notifier.Notify(NoticeInfo, "Nothing to consolidate", "No approved items were waiting for consolidation.")
		return
	}
	s.notifier.Notify(NoticeSuccess, "Consolidation complete", FormatConsolidation(res))
}

// FormatConsolidation renders the effect counts for people.
func FormatConsolidation(res *models.ConsolidateResult) string {
	return fmt.Sprintf("TM upserts: %d, occurrences inserted: %d, embeddings upserted: %d.",
		res.TMUpserts, res.OccInserted, res.EmbUpserts)
}

// retryableRemote retries transport failures, 5xx answers and an open breaker.
func retryableRemote(err error) bool {
	var appErr *appErrors.Error
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case appErrors.ErrServiceUnavailable.Code:
		return true
	case appErrors.ErrRequest.Code:
		return appErr.Status == 0 || appErr.Status >= 500
	default:
		return false
	}
}
