package sale

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
)

// DefaultPollInterval matches the cadence the register UI has always used.
const DefaultPollInterval = 5 * time.Second

// InfoFetcher reads the current status of a sale.
type InfoFetcher interface {
	GetSaleInfo(ctx context.Context, saleID string) (pos.SaleInfo, error)
}

// PollObserver receives one outcome per fetch: "pending", "processing",
// "completed", "rejected", "cancelled" or "error".
type PollObserver interface {
	ObservePoll(outcome string)
}

// PollerConfig tunes a Poller. MaxAttempts of zero polls until the status is
// terminal or the context ends.
type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int
	Observer    PollObserver
	Logger      *slog.Logger
}

// Poller follows document issuance for a sale.
type Poller struct {
	fetcher     InfoFetcher
	interval    time.Duration
	maxAttempts int
	observer    PollObserver
	logger      *slog.Logger
}

// NewPoller builds a Poller.
func NewPoller(fetcher InfoFetcher, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		fetcher:     fetcher,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
	}
}

// Poll fetches immediately and then on every tick until the sale reaches a
// terminal status. Fetch errors are logged and the loop continues. A
// rejected sale is a normal result, not an error.
//
// Poll returns ctx.Err() when cancelled and pos.ErrPollAbandoned when the
// attempt limit is reached. In both cases the last known info is returned.
func (p *Poller) Poll(ctx context.Context, saleID string) (pos.SaleInfo, error) {
	var last pos.SaleInfo
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		info, err := p.fetcher.GetSaleInfo(ctx, saleID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			p.observe("error")
			p.logger.Warn("sale status fetch failed",
				slog.String("sale_id", saleID),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		default:
			last = info
			p.observe(string(info.Status))
			if info.Status.Terminal() {
				p.logger.Info("sale documents settled",
					slog.String("sale_id", saleID),
					slog.String("status", string(info.Status)),
					slog.Int("attempts", attempt))
				return info, nil
			}
		}

		if p.maxAttempts > 0 && attempt >= p.maxAttempts {
			p.logger.Warn("sale status polling abandoned",
				slog.String("sale_id", saleID),
				slog.Int("attempts", attempt))
			return last, pos.ErrPollAbandoned
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) observe(outcome string) {
	if p.observer != nil {
		p.observer.ObservePoll(outcome)
	}
}

// Watch is a running Poll owned by whoever started it. Stop must be called
// when the owner goes away; it is safe to call more than once.
type Watch struct {
	SaleID string

	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	info pos.SaleInfo
	err  error
}

// Watch starts polling in the background.
func (p *Poller) Watch(ctx context.Context, saleID string) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{SaleID: saleID, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		defer cancel()
		info, err := p.Poll(ctx, saleID)
		w.mu.Lock()
		w.info, w.err = info, err
		w.mu.Unlock()
	}()
	return w
}

// Stop cancels the poll and waits for the loop to exit.
func (w *Watch) Stop() {
	w.cancel()
	<-w.done
}

// Done is closed once polling has ended.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Result returns the last info and the error Poll ended with. Before Done is
// closed it returns a zero info and a nil error.
func (w *Watch) Result() (pos.SaleInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info, w.err
}
