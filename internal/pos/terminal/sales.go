package terminal

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/sale"
)

// Submit sends the cart as a sale on the open session. It fails with
// pos.ErrSessionClosing while the session is being closed.
func (t *Terminal) Submit(ctx context.Context, req sale.Request) (sale.Result, error) {
	if err := t.beginSubmit(); err != nil {
		return sale.Result{}, err
	}
	defer t.endSubmit()
	session, err := t.openSession()
	if err != nil {
		return sale.Result{}, err
	}
	return t.submitter.Submit(ctx, session.ID, t.cart, req)
}

// SaleInfo fetches the current status of a sale once.
func (t *Terminal) SaleInfo(ctx context.Context, saleID string) (pos.SaleInfo, error) {
	return t.gateway.GetSaleInfo(ctx, saleID)
}

// DocumentPDF streams an issued document. The caller closes the reader.
func (t *Terminal) DocumentPDF(ctx context.Context, saleID, documentID string) (io.ReadCloser, error) {
	return t.gateway.DownloadDocumentPDF(ctx, saleID, documentID)
}

// WaitForDocuments polls until the sale settles. If the caller goes away or
// the attempt limit runs out first, the sale is handed to the follow-up
// worker.
func (t *Terminal) WaitForDocuments(ctx context.Context, saleID string) (pos.SaleInfo, error) {
	info, err := t.poller.Poll(ctx, saleID)
	if err != nil {
		t.handOff(context.WithoutCancel(ctx), saleID, err)
	}
	return info, err
}

// WatchSale polls in the background until the sale settles, Logout or Close
// is called, or the returned watch is stopped.
func (t *Terminal) WatchSale(saleID string) *sale.Watch {
	w := t.poller.Watch(context.Background(), saleID)
	t.mu.Lock()
	t.watches[w] = struct{}{}
	t.mu.Unlock()

	go func() {
		<-w.Done()
		t.mu.Lock()
		delete(t.watches, w)
		t.mu.Unlock()
		if _, err := w.Result(); err != nil {
			t.handOff(context.Background(), saleID, err)
		}
	}()
	return w
}

func (t *Terminal) stopWatches() {
	t.mu.Lock()
	watches := make([]*sale.Watch, 0, len(t.watches))
	for w := range t.watches {
		watches = append(watches, w)
	}
	t.mu.Unlock()
	for _, w := range watches {
		w.Stop()
	}
}

func (t *Terminal) handOff(ctx context.Context, saleID string, cause error) {
	if !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) && !errors.Is(cause, pos.ErrPollAbandoned) {
		return
	}
	if t.followUps == nil {
		return
	}
	if err := t.followUps.ScheduleDocumentFollowUp(ctx, saleID); err != nil {
		t.logger.Warn("schedule document follow-up failed", slog.String("sale_id", saleID), slog.Any("error", err))
		return
	}
	t.logger.Info("document follow-up scheduled", slog.String("sale_id", saleID), slog.String("reason", cause.Error()))
}
