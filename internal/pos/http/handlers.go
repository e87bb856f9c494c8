package poshttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/pos"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/cart"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/sale"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/scope"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/terminal"
)

// Service is the register state the handler drives. *terminal.Terminal
// implements it.
type Service interface {
	Selection() scope.Selection
	SelectCompany(ctx context.Context, company pos.Company) error
	SelectSite(ctx context.Context, site pos.Site) error
	SelectCashRegisterByID(ctx context.Context, id string) (pos.CashRegister, bool, error)
	CashRegisters(ctx context.Context) ([]pos.CashRegister, error)
	PaymentMethods(ctx context.Context) ([]pos.PaymentMethod, error)
	Logout(ctx context.Context) error

	Session() ledger.State
	OpenSession(ctx context.Context, userID string, openingBalance decimal.Decimal, notes string) (pos.Session, error)
	RefreshSession(ctx context.Context) (pos.Session, error)
	CloseOverview(ctx context.Context) (terminal.Overview, error)
	CloseSession(ctx context.Context, closingBalance decimal.Decimal, notes string) (ledger.Closed, error)
	CashIn(ctx context.Context, amount decimal.Decimal, reason, notes string) (pos.Transaction, error)
	CashOut(ctx context.Context, amount decimal.Decimal, reason, notes string) (pos.Transaction, error)
	Transactions(ctx context.Context) ([]pos.Transaction, int, error)

	Cart() cart.Snapshot
	AddProduct(ctx context.Context, productID string, quantity decimal.Decimal) (cart.Snapshot, error)
	UpdateItemQuantity(index int, quantity decimal.Decimal) (cart.Snapshot, error)
	RemoveItem(index int) (cart.Snapshot, error)
	ClearItems() cart.Snapshot
	AddPayment(ctx context.Context, methodID string, amount decimal.Decimal) (cart.Snapshot, error)
	UpdatePayment(index int, amount decimal.Decimal) (cart.Snapshot, error)
	RemovePayment(index int) (cart.Snapshot, error)
	ClearPayments() cart.Snapshot

	Submit(ctx context.Context, req sale.Request) (sale.Result, error)
	SaleInfo(ctx context.Context, saleID string) (pos.SaleInfo, error)
	WaitForDocuments(ctx context.Context, saleID string) (pos.SaleInfo, error)
	DocumentPDF(ctx context.Context, saleID, documentID string) (io.ReadCloser, error)
	SearchProducts(ctx context.Context, query string) ([]pos.Product, error)
	SearchCustomers(ctx context.Context, query string) ([]pos.Customer, error)
}

// Handler serves the local register API.
type Handler struct {
	logger    *slog.Logger
	service   Service
	validator *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: newValidator()}
}

// sessionView flattens the ledger state for JSON.
type sessionView struct {
	State   string       `json:"state"`
	Session *pos.Session `json:"session,omitempty"`
	Closing *pos.Closing `json:"closing,omitempty"`
}

func viewOf(state ledger.State) sessionView {
	switch s := state.(type) {
	case ledger.Open:
		return sessionView{State: "open", Session: &s.Session}
	case ledger.Closed:
		return sessionView{State: "closed", Session: &s.Session, Closing: &s.Closing}
	}
	return sessionView{State: "none"}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, pos.ErrValidation) {
		h.logger.Warn("register api request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) getScope(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.Selection())
}

func (h *Handler) selectCompany(w http.ResponseWriter, r *http.Request) {
	var req selectCompanyRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.SelectCompany(r.Context(), req.company()); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.Selection())
}

func (h *Handler) selectSite(w http.ResponseWriter, r *http.Request) {
	var req selectSiteRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.SelectSite(r.Context(), req.site()); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.Selection())
}

func (h *Handler) selectCashRegister(w http.ResponseWriter, r *http.Request) {
	var req selectRegisterRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, _, err := h.service.SelectCashRegisterByID(r.Context(), req.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"scope":   h.service.Selection(),
		"session": viewOf(h.service.Session()),
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCashRegisters(w http.ResponseWriter, r *http.Request) {
	registers, err := h.service.CashRegisters(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, registers)
}

func (h *Handler) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.PaymentMethods(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, methods)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, viewOf(h.service.Session()))
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.service.OpenSession(r.Context(), req.UserID, req.OpeningBalance, req.Notes); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, viewOf(h.service.Session()))
}

func (h *Handler) refreshSession(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.RefreshSession(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(h.service.Session()))
}

func (h *Handler) sessionSummary(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.CloseOverview(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	var req closeSessionRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	closed, err := h.service.CloseSession(r.Context(), req.ClosingBalance, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(closed))
}

func (h *Handler) cashIn(w http.ResponseWriter, r *http.Request) {
	h.cashMovement(w, r, h.service.CashIn)
}

func (h *Handler) cashOut(w http.ResponseWriter, r *http.Request) {
	h.cashMovement(w, r, h.service.CashOut)
}

func (h *Handler) cashMovement(w http.ResponseWriter, r *http.Request, op func(context.Context, decimal.Decimal, string, string) (pos.Transaction, error)) {
	var req cashMovementRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	tx, err := op(r.Context(), req.Amount, req.Reason, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"transaction": tx,
		"session":     viewOf(h.service.Session()),
	})
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	txs, total, err := h.service.Transactions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txs, "total": total})
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.Cart())
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.AddProduct(r.Context(), req.ProductID, req.Quantity)
	h.respondCart(w, r, snap, err)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateItemRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.UpdateItemQuantity(index, req.Quantity)
	h.respondCart(w, r, snap, err)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.RemoveItem(index)
	h.respondCart(w, r, snap, err)
}

func (h *Handler) clearItems(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, r, h.service.ClearItems(), nil)
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	var req addPaymentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.AddPayment(r.Context(), req.PaymentMethodID, req.Amount)
	h.respondCart(w, r, snap, err)
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updatePaymentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.UpdatePayment(index, req.Amount)
	h.respondCart(w, r, snap, err)
}

func (h *Handler) removePayment(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.RemovePayment(index)
	h.respondCart(w, r, snap, err)
}

func (h *Handler) clearPayments(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, r, h.service.ClearPayments(), nil)
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, snap cart.Snapshot, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) submitSale(w http.ResponseWriter, r *http.Request) {
	var req submitSaleRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.Submit(r.Context(), req.request())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.SaleInfo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, info)
}

// waitSale blocks until the sale settles. With ?timeout= the wait is capped
// and an unsettled sale is answered with 202 and its last known status.
func (h *Handler) waitSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil || timeout <= 0 {
			h.fail(w, r, pos.Invalid("timeout", "must be a positive duration"))
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	info, err := h.service.WaitForDocuments(ctx, chi.URLParam(r, "id"))
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, info)
	case r.Context().Err() != nil:
		// Client gone or the request timeout middleware already answered.
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, pos.ErrPollAbandoned):
		httpx.JSON(w, http.StatusAccepted, info)
	default:
		h.fail(w, r, err)
	}
}

func (h *Handler) documentPDF(w http.ResponseWriter, r *http.Request) {
	body, err := h.service.DocumentPDF(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "documentId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream document pdf", slog.Any("error", err))
	}
}

func (h *Handler) searchProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.SearchProducts(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) searchCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.SearchCustomers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, customers)
}

func indexParam(r *http.Request) (int, error) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		return 0, pos.Invalid("index", "must be a number")
	}
	return index, nil
}
