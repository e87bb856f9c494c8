package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/pos"
	_ "github.com/odyssey-erp/odyssey-pos/testing"
)

type stubFetcher struct {
	info pos.SaleInfo
	err  error
	ids  []string
}

func (s *stubFetcher) GetSaleInfo(_ context.Context, saleID string) (pos.SaleInfo, error) {
	s.ids = append(s.ids, saleID)
	return s.info, s.err
}

type resultLog struct {
	mu      sync.Mutex
	results []string
}

func (r *resultLog) ObserveFollowUp(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

type fixture struct {
	job      *DocumentFollowUpJob
	fetcher  *stubFetcher
	outcomes *RedisOutcomeStore
	results  *resultLog
}

func newFixture(t *testing.T, retried, maxRetry int) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		fetcher:  &stubFetcher{},
		outcomes: NewRedisOutcomeStore(client, "pos", time.Hour),
		results:  &resultLog{},
	}
	f.job = NewDocumentFollowUpJob(DocumentFollowUpConfig{
		Fetcher:  f.fetcher,
		Outcomes: f.outcomes,
		Observer: f.results,
		Metrics:  jobmetrics.NewMetrics(prometheus.NewRegistry()),
	})
	f.job.clock = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }
	f.job.attempts = func(context.Context) (int, int, bool) { return retried, maxRetry, true }
	return f
}

func followUpTask(t *testing.T, saleID string) *asynq.Task {
	t.Helper()
	task, err := NewDocumentFollowUpTask(DocumentFollowUpPayload{SaleID: saleID, CompanyID: "c1", SiteID: "s1"})
	require.NoError(t, err)
	return task
}

func TestFollowUpRecordsSettledSale(t *testing.T) {
	f := newFixture(t, 2, 30)
	f.fetcher.info = pos.SaleInfo{
		SaleID:         "sale-1",
		Status:         pos.SaleCompleted,
		DocumentNumber: "B001-00000042",
		Documents:      []pos.SaleDocument{{ID: "d1"}, {ID: "d2"}},
	}

	require.NoError(t, f.job.Handle(context.Background(), followUpTask(t, "sale-1")))

	outcome, err := f.outcomes.Lookup(context.Background(), "sale-1")
	require.NoError(t, err)
	assert.Equal(t, ResultSettled, outcome.Result)
	assert.Equal(t, pos.SaleCompleted, outcome.Status)
	assert.Equal(t, "B001-00000042", outcome.DocumentNumber)
	assert.Equal(t, 2, outcome.Documents)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, []string{ResultSettled}, f.results.results)
	assert.Equal(t, []string{"sale-1"}, f.fetcher.ids)
}

func TestFollowUpRejectedSaleIsSettled(t *testing.T) {
	f := newFixture(t, 0, 30)
	f.fetcher.info = pos.SaleInfo{SaleID: "sale-2", Status: pos.SaleRejected, Message: "RUC inválido"}

	require.NoError(t, f.job.Handle(context.Background(), followUpTask(t, "sale-2")))

	outcome, err := f.outcomes.Lookup(context.Background(), "sale-2")
	require.NoError(t, err)
	assert.Equal(t, pos.SaleRejected, outcome.Status)
	assert.Equal(t, "RUC inválido", outcome.Message)
}

func TestFollowUpPendingAsksForRetry(t *testing.T) {
	f := newFixture(t, 1, 30)
	f.fetcher.info = pos.SaleInfo{SaleID: "sale-3", Status: pos.SaleProcessing}

	err := f.job.Handle(context.Background(), followUpTask(t, "sale-3"))
	require.ErrorIs(t, err, ErrDocumentsPending)

	_, err = f.outcomes.Lookup(context.Background(), "sale-3")
	assert.ErrorIs(t, err, ErrOutcomeNotFound)
	assert.Equal(t, []string{"retry"}, f.results.results)
}

func TestFollowUpGivesUpOnLastRetry(t *testing.T) {
	f := newFixture(t, 30, 30)
	f.fetcher.info = pos.SaleInfo{SaleID: "sale-4", Status: pos.SalePending}

	require.NoError(t, f.job.Handle(context.Background(), followUpTask(t, "sale-4")))

	outcome, err := f.outcomes.Lookup(context.Background(), "sale-4")
	require.NoError(t, err)
	assert.Equal(t, ResultAbandoned, outcome.Result)
	assert.Equal(t, pos.SalePending, outcome.Status)
	assert.Equal(t, []string{ResultAbandoned}, f.results.results)
}

func TestFollowUpFetchErrorOnLastRetryIsAbandoned(t *testing.T) {
	f := newFixture(t, 5, 5)
	f.fetcher.err = pos.ErrNetwork

	require.NoError(t, f.job.Handle(context.Background(), followUpTask(t, "sale-5")))

	outcome, err := f.outcomes.Lookup(context.Background(), "sale-5")
	require.NoError(t, err)
	assert.Equal(t, ResultAbandoned, outcome.Result)
	assert.Equal(t, pos.ErrNetwork.Error(), outcome.Message)
}

func TestFollowUpFetchErrorRetries(t *testing.T) {
	f := newFixture(t, 0, 5)
	f.fetcher.err = pos.ErrNetwork

	err := f.job.Handle(context.Background(), followUpTask(t, "sale-6"))
	assert.ErrorIs(t, err, pos.ErrNetwork)
	assert.Equal(t, []string{"retry"}, f.results.results)
}

func TestFollowUpMissingSaleSkipsRetry(t *testing.T) {
	f := newFixture(t, 0, 5)
	f.fetcher.err = pos.ErrNotFound

	err := f.job.Handle(context.Background(), followUpTask(t, "sale-7"))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, []string{"missing"}, f.results.results)
}

func TestFollowUpMalformedPayloadSkipsRetry(t *testing.T) {
	f := newFixture(t, 0, 5)
	err := f.job.Handle(context.Background(), asynq.NewTask(TaskDocumentFollowUp, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, f.fetcher.ids)
}

func TestNewDocumentFollowUpTaskRequiresSale(t *testing.T) {
	_, err := NewDocumentFollowUpTask(DocumentFollowUpPayload{})
	assert.Error(t, err)
}
