// Package sale turns a balanced cart into a server-side sale and follows the
// asynchronous issuance of its tax documents.
package sale

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/cart"
)

// Gateway is the subset of the remote API used for sales.
type Gateway interface {
	CreateSale(ctx context.Context, sessionID string, req pos.CreateSaleRequest) (pos.CreateSaleResult, error)
	GetSaleInfo(ctx context.Context, saleID string) (pos.SaleInfo, error)
}

// SessionRefresher re-reads the session after a sale moves its balance.
type SessionRefresher interface {
	Refresh(ctx context.Context) (pos.Session, error)
}

// Request carries the sale-level fields that are not part of the cart.
type Request struct {
	CustomerID   string
	DocumentType pos.DocumentType
	Notes        string
}

// Result is returned once the server has accepted a sale.
type Result struct {
	SaleID         string         `json:"saleId"`
	SaleNumber     string         `json:"saleNumber,omitempty"`
	Status         pos.SaleStatus `json:"status"`
	DocumentStatus string         `json:"documentStatus,omitempty"`
	Message        string         `json:"message"`
	Total          string         `json:"total"`
}

// Submitter validates and submits carts.
type Submitter struct {
	gateway  Gateway
	session  SessionRefresher
	logger   *slog.Logger
	inflight atomic.Int32
}

// NewSubmitter builds a Submitter. session may be nil when no ledger needs
// refreshing.
func NewSubmitter(gateway Gateway, session SessionRefresher, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{gateway: gateway, session: session, logger: logger}
}

// InFlight reports whether a Submit call is waiting on the server.
func (s *Submitter) InFlight() bool {
	return s.inflight.Load() > 0
}

// Submit validates the cart and creates the sale. The cart is only reset
// after the server accepts the sale; any error leaves it untouched.
func (s *Submitter) Submit(ctx context.Context, sessionID string, c *cart.Cart, req Request) (Result, error) {
	snapshot := c.Snapshot()
	docType, err := validate(snapshot, req)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return Result{}, pos.ErrNoSession
	}

	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	created, err := s.gateway.CreateSale(ctx, sessionID, pos.CreateSaleRequest{
		CustomerID:   strings.TrimSpace(req.CustomerID),
		DocumentType: docType,
		Items:        snapshot.Items,
		Payments:     snapshot.Payments,
		Notes:        req.Notes,
	})
	if err != nil {
		return Result{}, err
	}

	// The whole cart is reset, including lines added while the sale was being
	// created; they belong to the accepted sale's screen and are not carried over.
	c.Reset()
	if s.session != nil {
		if _, err := s.session.Refresh(ctx); err != nil {
			s.logger.Warn("session refresh after sale failed",
				slog.String("sale_id", created.Sale.ID),
				slog.Any("error", err))
		}
	}

	s.logger.Info("sale submitted",
		slog.String("sale_id", created.Sale.ID),
		slog.String("status", string(created.Sale.Status)),
		slog.String("total", snapshot.Totals.Total.StringFixed(2)))

	return Result{
		SaleID:         created.Sale.ID,
		SaleNumber:     created.Sale.SaleNumber,
		Status:         created.Sale.Status,
		DocumentStatus: created.DocumentStatus,
		Message:        created.Message,
		Total:          snapshot.Totals.Total.StringFixed(2),
	}, nil
}

func validate(snapshot cart.Snapshot, req Request) (pos.DocumentType, error) {
	if len(snapshot.Items) == 0 {
		return "", pos.Invalid("items", "empty cart")
	}
	if !snapshot.Balanced {
		return "", pos.Invalid("payments", "payment mismatch")
	}
	docType := req.DocumentType
	if docType == "" {
		docType = pos.DocumentReceipt
	}
	if !docType.Valid() {
		return "", pos.Invalid("documentType", "unknown document type")
	}
	if docType == pos.DocumentInvoice && strings.TrimSpace(req.CustomerID) == "" {
		return "", pos.Invalid("customerId", "customer required for invoice")
	}
	return docType, nil
}
