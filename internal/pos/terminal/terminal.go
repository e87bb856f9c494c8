// Package terminal binds the scope, session ledger, cart and sale submission
// of one register into the application state the UI shell drives.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/cart"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/sale"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/scope"
)

// Gateway is everything the terminal needs from the remote API.
type Gateway interface {
	ledger.Gateway
	sale.Gateway
	ListCashRegisters(ctx context.Context, siteID string) ([]pos.CashRegister, error)
	ListPaymentMethods(ctx context.Context) ([]pos.PaymentMethod, error)
	ListTransactions(ctx context.Context, sessionID string) ([]pos.Transaction, int, error)
	GetProduct(ctx context.Context, id string) (pos.Product, error)
	SearchProducts(ctx context.Context, query string) ([]pos.Product, error)
	SearchCustomers(ctx context.Context, query string) ([]pos.Customer, error)
	DownloadDocumentPDF(ctx context.Context, saleID, documentID string) (io.ReadCloser, error)
}

// FollowUpScheduler hands a sale whose documents were still pending to the
// background worker.
type FollowUpScheduler interface {
	ScheduleDocumentFollowUp(ctx context.Context, saleID string) error
}

// Config wires a Terminal.
type Config struct {
	Gateway   Gateway
	Scope     *scope.Context
	Poller    sale.PollerConfig
	FollowUps FollowUpScheduler
	Logger    *slog.Logger
}

// Terminal is safe for concurrent use.
type Terminal struct {
	gateway   Gateway
	scope     *scope.Context
	ledger    *ledger.Ledger
	cart      *cart.Cart
	submitter *sale.Submitter
	poller    *sale.Poller
	followUps FollowUpScheduler
	logger    *slog.Logger

	methodsGroup singleflight.Group
	mu           sync.Mutex
	methods      []pos.PaymentMethod
	watches      map[*sale.Watch]struct{}
	// closing and submitting are held across the gateway call so a sale
	// and a close never overlap.
	closing    bool
	submitting int
}

// New builds a Terminal. Call Restore before serving the UI.
func New(cfg Config) *Terminal {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Poller.Logger == nil {
		cfg.Poller.Logger = logger
	}
	l := ledger.New(cfg.Gateway, logger)
	return &Terminal{
		gateway:   cfg.Gateway,
		scope:     cfg.Scope,
		ledger:    l,
		cart:      cart.New(),
		submitter: sale.NewSubmitter(cfg.Gateway, l, logger),
		poller:    sale.NewPoller(cfg.Gateway, cfg.Poller),
		followUps: cfg.FollowUps,
		logger:    logger,
		watches:   make(map[*sale.Watch]struct{}),
	}
}

// Restore reloads the persisted selection and, when a register was
// selected, its active session.
func (t *Terminal) Restore(ctx context.Context) (scope.Selection, error) {
	sel, err := t.scope.Restore(ctx)
	if err != nil {
		return scope.Selection{}, fmt.Errorf("terminal: restore scope: %w", err)
	}
	if sel.CashRegister != nil {
		if _, err := t.ledger.Load(ctx, sel.CashRegister.ID); err != nil {
			return sel, fmt.Errorf("terminal: load active session: %w", err)
		}
	}
	return sel, nil
}

// Selection returns the current company, site and register.
func (t *Terminal) Selection() scope.Selection {
	return t.scope.Selection()
}

// SelectCompany switches tenant. Everything below it is dropped.
func (t *Terminal) SelectCompany(ctx context.Context, company pos.Company) error {
	if err := t.scope.SelectCompany(ctx, company); err != nil {
		return err
	}
	t.dropRegisterState()
	return nil
}

// SelectSite switches site within the selected company.
func (t *Terminal) SelectSite(ctx context.Context, site pos.Site) error {
	if err := t.scope.SelectSite(ctx, site); err != nil {
		return err
	}
	t.dropRegisterState()
	return nil
}

// SelectCashRegister selects a register of the current site and adopts its
// active session, if the server reports one.
func (t *Terminal) SelectCashRegister(ctx context.Context, register pos.CashRegister) (bool, error) {
	if register.Status == pos.RegisterInactive {
		return false, pos.Invalid("cashRegisterId", "cash register is inactive")
	}
	if err := t.scope.SelectCashRegister(ctx, register); err != nil {
		return false, err
	}
	t.dropRegisterState()
	found, err := t.ledger.Load(ctx, register.ID)
	if err != nil {
		return false, fmt.Errorf("terminal: load active session: %w", err)
	}
	return found, nil
}

// SelectCashRegisterByID resolves the register from the site directory.
func (t *Terminal) SelectCashRegisterByID(ctx context.Context, id string) (pos.CashRegister, bool, error) {
	registers, err := t.CashRegisters(ctx)
	if err != nil {
		return pos.CashRegister{}, false, err
	}
	for _, r := range registers {
		if r.ID == id {
			found, err := t.SelectCashRegister(ctx, r)
			return r, found, err
		}
	}
	return pos.CashRegister{}, false, pos.Invalid("cashRegisterId", "unknown cash register")
}

// CashRegisters lists the registers of the selected site.
func (t *Terminal) CashRegisters(ctx context.Context) ([]pos.CashRegister, error) {
	siteID := t.scope.SiteID()
	if siteID == "" {
		return nil, pos.Invalid("siteId", "select a site first")
	}
	return t.gateway.ListCashRegisters(ctx, siteID)
}

// PaymentMethods loads the tender types once. Concurrent first calls share
// one request.
func (t *Terminal) PaymentMethods(ctx context.Context) ([]pos.PaymentMethod, error) {
	t.mu.Lock()
	cached := t.methods
	t.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	ch := t.methodsGroup.DoChan("payment-methods", func() (interface{}, error) {
		methods, err := t.gateway.ListPaymentMethods(ctx)
		if err != nil {
			return nil, err
		}
		if methods == nil {
			methods = []pos.PaymentMethod{}
		}
		t.mu.Lock()
		t.methods = methods
		t.mu.Unlock()
		return methods, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]pos.PaymentMethod), nil
	}
}

// Session returns the ledger state.
func (t *Terminal) Session() ledger.State {
	return t.ledger.State()
}

// OpenSession opens a session on the selected register. When the server
// says the register is already open the directory entry is refreshed so the
// UI can show who holds it.
func (t *Terminal) OpenSession(ctx context.Context, userID string, openingBalance decimal.Decimal, notes string) (pos.Session, error) {
	register, ok := t.scope.CashRegister()
	if !ok {
		return pos.Session{}, pos.ErrNoCashRegister
	}
	session, err := t.ledger.Open(ctx, pos.OpenSessionRequest{
		CashRegisterID: register.ID,
		UserID:         userID,
		OpeningBalance: openingBalance,
		Notes:          notes,
	})
	if errors.Is(err, pos.ErrConflict) {
		t.logger.Info("register already has an open session",
			slog.String("cash_register_id", register.ID),
			slog.String("message", err.Error()))
		t.refreshRegister(ctx, register.ID)
	}
	return session, err
}

// RefreshSession re-reads the session from the server.
func (t *Terminal) RefreshSession(ctx context.Context) (pos.Session, error) {
	return t.ledger.Refresh(ctx)
}

// CashIn records cash added to the drawer and refreshes the balance.
func (t *Terminal) CashIn(ctx context.Context, amount decimal.Decimal, reason, notes string) (pos.Transaction, error) {
	tx, err := t.ledger.CashIn(ctx, amount, reason, notes)
	if err != nil {
		return pos.Transaction{}, err
	}
	t.refreshAfter(ctx, "cash_in")
	return tx, nil
}

// CashOut records cash removed from the drawer and refreshes the balance.
func (t *Terminal) CashOut(ctx context.Context, amount decimal.Decimal, reason, notes string) (pos.Transaction, error) {
	tx, err := t.ledger.CashOut(ctx, amount, reason, notes)
	if err != nil {
		return pos.Transaction{}, err
	}
	t.refreshAfter(ctx, "cash_out")
	return tx, nil
}

// Transactions lists the cash movements of the current session.
func (t *Terminal) Transactions(ctx context.Context) ([]pos.Transaction, int, error) {
	session, err := t.openSession()
	if err != nil {
		return nil, 0, err
	}
	return t.gateway.ListTransactions(ctx, session.ID)
}

// Overview is what the close screen shows.
type Overview struct {
	Session pos.Session        `json:"session"`
	Summary pos.SessionSummary `json:"summary"`
}

// CloseOverview refreshes the session and fetches its summary together.
func (t *Terminal) CloseOverview(ctx context.Context) (Overview, error) {
	if _, err := t.openSession(); err != nil {
		return Overview{}, err
	}
	var out Overview
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		session, err := t.ledger.Refresh(ctx)
		if err != nil {
			return err
		}
		out.Session = session
		return nil
	})
	g.Go(func() error {
		summary, err := t.ledger.Summary(ctx)
		if err != nil {
			return err
		}
		out.Summary = summary
		return nil
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return out, nil
}

// CloseSession reconciles and closes the session. It is refused while a sale
// submission is waiting on the server, and submissions are refused while it
// runs. The cart is discarded on success.
func (t *Terminal) CloseSession(ctx context.Context, closingBalance decimal.Decimal, notes string) (ledger.Closed, error) {
	if err := t.beginClose(); err != nil {
		return ledger.Closed{}, err
	}
	defer t.endClose()
	closed, err := t.ledger.Close(ctx, closingBalance, notes)
	if err != nil {
		return ledger.Closed{}, err
	}
	t.cart.Reset()
	if register, ok := t.scope.CashRegister(); ok {
		t.refreshRegister(ctx, register.ID)
	}
	return closed, nil
}

// Logout stops background polling and forgets every selection.
func (t *Terminal) Logout(ctx context.Context) error {
	t.stopWatches()
	t.dropRegisterState()
	t.mu.Lock()
	t.methods = nil
	t.mu.Unlock()
	return t.scope.Clear(ctx)
}

// Close stops background polling. Local state is kept.
func (t *Terminal) Close() {
	t.stopWatches()
}

// SearchProducts queries the catalogue.
func (t *Terminal) SearchProducts(ctx context.Context, query string) ([]pos.Product, error) {
	return t.gateway.SearchProducts(ctx, query)
}

// SearchCustomers queries the customer directory.
func (t *Terminal) SearchCustomers(ctx context.Context, query string) ([]pos.Customer, error) {
	return t.gateway.SearchCustomers(ctx, query)
}

func (t *Terminal) beginClose() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.submitting > 0 {
		return pos.ErrSubmissionInFlight
	}
	if t.closing {
		return pos.ErrSessionClosing
	}
	t.closing = true
	return nil
}

func (t *Terminal) endClose() {
	t.mu.Lock()
	t.closing = false
	t.mu.Unlock()
}

func (t *Terminal) beginSubmit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return pos.ErrSessionClosing
	}
	t.submitting++
	return nil
}

func (t *Terminal) endSubmit() {
	t.mu.Lock()
	t.submitting--
	t.mu.Unlock()
}

func (t *Terminal) dropRegisterState() {
	t.ledger.Reset()
	t.cart.Reset()
}

func (t *Terminal) openSession() (pos.Session, error) {
	if session, ok := t.ledger.Current(); ok {
		return session, nil
	}
	if _, closed := t.ledger.State().(ledger.Closed); closed {
		return pos.Session{}, pos.ErrSessionClosed
	}
	return pos.Session{}, pos.ErrNoSession
}

func (t *Terminal) refreshAfter(ctx context.Context, op string) {
	if _, err := t.ledger.Refresh(ctx); err != nil {
		t.logger.Warn("session refresh failed", slog.String("after", op), slog.Any("error", err))
	}
}

// refreshRegister re-reads the site directory and stores the fresh copy of
// the selected register.
func (t *Terminal) refreshRegister(ctx context.Context, registerID string) {
	registers, err := t.CashRegisters(ctx)
	if err != nil {
		t.logger.Warn("cash register directory refresh failed", slog.Any("error", err))
		return
	}
	for _, r := range registers {
		if r.ID != registerID {
			continue
		}
		if err := t.scope.SelectCashRegister(ctx, r); err != nil {
			t.logger.Warn("persist refreshed cash register failed", slog.Any("error", err))
		}
		return
	}
}
