package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// Worker wraps the Asynq server.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// WorkerConfig collects dependencies required to bootstrap the worker.
// RetryDelay spaces out retries of a task; zero keeps the Asynq backoff.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	RetryDelay  time.Duration
	Handlers    []TaskHandler
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if len(cfg.Handlers) == 0 {
		return nil, errors.New("worker: no handlers")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	asynqCfg := asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	}
	if cfg.RetryDelay > 0 {
		delay := cfg.RetryDelay
		asynqCfg.RetryDelayFunc = func(int, error, *asynq.Task) time.Duration {
			return delay
		}
	}
	if cfg.Logger != nil {
		logger := cfg.Logger
		asynqCfg.ErrorHandler = asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn("job failed", slog.String("type", task.Type()), slog.Any("error", err))
		})
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynqCfg)
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}
	return &Worker{server: srv, mux: mux, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Envelope supplies the tenant a scheduled follow-up belongs to.
type Envelope interface {
	CompanyID() string
	SiteID() string
}

// ClientConfig tunes follow-up scheduling.
type ClientConfig struct {
	Envelope Envelope
	Delay    time.Duration
	MaxRetry int
	Logger   *slog.Logger
}

// Client submits jobs to the queue.
type Client struct {
	client   *asynq.Client
	envelope Envelope
	delay    time.Duration
	maxRetry int
	logger   *slog.Logger
	clock    func() time.Time
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt, cfg ClientConfig) (*Client, error) {
	if cfg.Delay <= 0 {
		cfg.Delay = time.Minute
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 30
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		client:   asynq.NewClient(redisOpts),
		envelope: cfg.Envelope,
		delay:    cfg.Delay,
		maxRetry: cfg.MaxRetry,
		logger:   cfg.Logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// ScheduleDocumentFollowUp enqueues one follow-up per sale. Scheduling a sale
// that already has a pending follow-up is a no-op.
func (c *Client) ScheduleDocumentFollowUp(ctx context.Context, saleID string) error {
	payload := DocumentFollowUpPayload{SaleID: saleID, ScheduledAt: c.clock()}
	if c.envelope != nil {
		payload.CompanyID = c.envelope.CompanyID()
		payload.SiteID = c.envelope.SiteID()
	}
	task, err := NewDocumentFollowUpTask(payload)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.TaskID(followUpTaskID(saleID)),
		asynq.ProcessIn(c.delay),
		asynq.MaxRetry(c.maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		c.logger.Debug("follow-up already scheduled", slog.String("sale_id", saleID))
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Info("follow-up scheduled", slog.String("sale_id", saleID), slog.String("task_id", info.ID))
	return nil
}

func followUpTaskID(saleID string) string {
	return "followup:" + saleID
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector *asynq.Inspector
	outcomes  OutcomeStore
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints. Both inspector
// and outcomes may be nil.
func NewHandler(inspector *asynq.Inspector, outcomes OutcomeStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, outcomes: outcomes, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/followups/{saleID}", h.followUp)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueDefault})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "queue unavailable")
		return
	}
	body := queueHealth{Queue: QueueDefault}
	if info != nil {
		body = queueHealth{
			Queue:     info.Queue,
			Pending:   info.Pending,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
		}
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) followUp(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleID")
	if h.outcomes != nil {
		outcome, err := h.outcomes.Lookup(r.Context(), saleID)
		if err == nil {
			httpx.JSON(w, http.StatusOK, outcome)
			return
		}
		if !errors.Is(err, ErrOutcomeNotFound) {
			h.logger.Warn("lookup follow-up outcome", slog.String("sale_id", saleID), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "outcome store unavailable")
			return
		}
	}
	if h.inspector != nil {
		if task, err := h.inspector.GetTaskInfo(QueueDefault, followUpTaskID(saleID)); err == nil {
			httpx.JSON(w, http.StatusAccepted, map[string]any{
				"saleId":  saleID,
				"state":   task.State.String(),
				"retried": task.Retried,
				"nextRun": task.NextProcessAt,
			})
			return
		}
	}
	httpx.Problem(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "no follow-up for sale "+saleID)
}
