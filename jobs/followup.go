package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/pos"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/gateway"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/sale"
)

// ErrDocumentsPending asks the queue to run the follow-up again later.
var ErrDocumentsPending = errors.New("jobs: documents still pending")

// FollowUpObserver receives "settled", "retry", "abandoned" or "missing".
type FollowUpObserver interface {
	ObserveFollowUp(result string)
}

// DocumentFollowUpConfig wires a DocumentFollowUpJob.
type DocumentFollowUpConfig struct {
	Fetcher  sale.InfoFetcher
	Outcomes OutcomeStore
	Observer FollowUpObserver
	Metrics  *jobmetrics.Metrics
	Logger   *slog.Logger
}

// DocumentFollowUpJob checks a sale once per run and records the outcome
// when its status is terminal or the retries run out.
type DocumentFollowUpJob struct {
	fetcher  sale.InfoFetcher
	outcomes OutcomeStore
	observer FollowUpObserver
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	clock    func() time.Time
	attempts func(ctx context.Context) (retried, maxRetry int, ok bool)
}

// NewDocumentFollowUpJob builds the job.
func NewDocumentFollowUpJob(cfg DocumentFollowUpConfig) *DocumentFollowUpJob {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentFollowUpJob{
		fetcher:  cfg.Fetcher,
		outcomes: cfg.Outcomes,
		observer: cfg.Observer,
		metrics:  cfg.Metrics,
		logger:   logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		attempts: retryAttempts,
	}
}

func retryAttempts(ctx context.Context) (int, int, bool) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 0, 0, false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return retried, maxRetry, ok
}

// Handle processes TaskDocumentFollowUp tasks.
func (j *DocumentFollowUpJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.fetcher == nil {
		return errors.New("document follow-up: handler not configured")
	}
	var payload DocumentFollowUpPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.SaleID == "" {
		return asynq.SkipRetry
	}

	tracker := j.metrics.Track(TaskDocumentFollowUp)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	retried, maxRetry, known := j.attempts(ctx)
	lastTry := known && retried >= maxRetry
	logger := j.logger.With(slog.String("sale_id", payload.SaleID), slog.Int("retried", retried))

	info, err := j.fetcher.GetSaleInfo(gateway.WithEnvelope(ctx, payload.CompanyID, payload.SiteID), payload.SaleID)
	switch {
	case errors.Is(err, pos.ErrNotFound):
		logger.Warn("sale vanished before documents settled")
		j.observe("missing")
		return fmt.Errorf("document follow-up %s: %v: %w", payload.SaleID, err, asynq.SkipRetry)
	case err != nil:
		if lastTry {
			return j.abandon(ctx, logger, payload.SaleID, retried, pos.SaleInfo{Message: err.Error()})
		}
		logger.Warn("fetch sale info", slog.Any("error", err))
		j.observe("retry")
		j.metrics.Retried(TaskDocumentFollowUp)
		return err
	}

	if info.Status.Terminal() {
		outcome := j.outcome(payload.SaleID, ResultSettled, retried, info)
		if err := j.record(ctx, outcome); err != nil {
			return err
		}
		logger.Info("sale documents settled", slog.String("status", string(info.Status)))
		j.observe(ResultSettled)
		return nil
	}
	if lastTry {
		return j.abandon(ctx, logger, payload.SaleID, retried, info)
	}
	j.observe("retry")
	j.metrics.Retried(TaskDocumentFollowUp)
	return fmt.Errorf("%w: %s is %s", ErrDocumentsPending, payload.SaleID, info.Status)
}

func (j *DocumentFollowUpJob) abandon(ctx context.Context, logger *slog.Logger, saleID string, retried int, info pos.SaleInfo) error {
	if err := j.record(ctx, j.outcome(saleID, ResultAbandoned, retried, info)); err != nil {
		return err
	}
	logger.Warn("giving up on sale documents", slog.String("status", string(info.Status)))
	j.observe(ResultAbandoned)
	return nil
}

func (j *DocumentFollowUpJob) outcome(saleID, result string, retried int, info pos.SaleInfo) DocumentOutcome {
	return DocumentOutcome{
		SaleID:         saleID,
		Result:         result,
		Status:         info.Status,
		DocumentNumber: info.DocumentNumber,
		Documents:      len(info.Documents),
		Message:        info.Message,
		Attempts:       retried + 1,
		RecordedAt:     j.clock(),
	}
}

func (j *DocumentFollowUpJob) record(ctx context.Context, outcome DocumentOutcome) error {
	if j.outcomes == nil {
		return nil
	}
	return j.outcomes.Record(ctx, outcome)
}

func (j *DocumentFollowUpJob) observe(result string) {
	if j.observer != nil {
		j.observer.ObserveFollowUp(result)
	}
}
