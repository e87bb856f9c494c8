package terminal

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/sale"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/scope"
	_ "github.com/odyssey-erp/odyssey-pos/testing"
)

type fakeGateway struct {
	mu sync.Mutex

	registers   []pos.CashRegister
	registerHit int
	methods     []pos.PaymentMethod
	methodHits  atomic.Int32
	methodGate  chan struct{}
	products    map[string]pos.Product

	session   *pos.Session
	openErr   error
	gets      int
	summaries int

	createGate chan struct{}
	creates    int
	closeGate  chan struct{}
	closeHits  atomic.Int32
	saleStatus pos.SaleStatus
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		registers: []pos.CashRegister{{ID: "r1", Name: "Caja 1", SiteID: "s1", Status: pos.RegisterActive}},
		methods:   []pos.PaymentMethod{{ID: "pm-cash", Name: "Efectivo"}, {ID: "pm-card", Name: "Tarjeta"}},
		products: map[string]pos.Product{
			"p1": {ID: "p1", Name: "Agua", Price: d("10"), TaxRate: d("18")},
		},
		saleStatus: pos.SaleCompleted,
	}
}

func (f *fakeGateway) ListCashRegisters(context.Context, string) ([]pos.CashRegister, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerHit++
	return append([]pos.CashRegister{}, f.registers...), nil
}

func (f *fakeGateway) ListPaymentMethods(context.Context) ([]pos.PaymentMethod, error) {
	f.methodHits.Add(1)
	if f.methodGate != nil {
		<-f.methodGate
	}
	return f.methods, nil
}

func (f *fakeGateway) ListTransactions(_ context.Context, sessionID string) ([]pos.Transaction, int, error) {
	return []pos.Transaction{{ID: "tx-1", SessionID: sessionID}}, 1, nil
}

func (f *fakeGateway) GetProduct(_ context.Context, id string) (pos.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return pos.Product{}, &pos.ServerError{Status: 404, Message: "Producto no encontrado"}
	}
	return p, nil
}

func (f *fakeGateway) SearchProducts(context.Context, string) ([]pos.Product, error) {
	return []pos.Product{f.products["p1"]}, nil
}

func (f *fakeGateway) SearchCustomers(context.Context, string) ([]pos.Customer, error) {
	return nil, nil
}

func (f *fakeGateway) DownloadDocumentPDF(context.Context, string, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("%PDF")), nil
}

func (f *fakeGateway) OpenSession(_ context.Context, req pos.OpenSessionRequest) (pos.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return pos.Session{}, f.openErr
	}
	s := pos.Session{
		ID:             "sess-1",
		CashRegisterID: req.CashRegisterID,
		UserID:         req.UserID,
		Status:         pos.SessionOpen,
		OpeningBalance: req.OpeningBalance,
		CurrentBalance: req.OpeningBalance,
	}
	f.session = &s
	return s, nil
}

func (f *fakeGateway) CloseSession(_ context.Context, id string, closing decimal.Decimal, _ string) (pos.Session, error) {
	f.closeHits.Add(1)
	if f.closeGate != nil {
		<-f.closeGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := *f.session
	s.Status = pos.SessionClosed
	c := pos.NewClosing(time.Now(), closing, s.CurrentBalance)
	s.Closing = &c
	f.session = &s
	return s, nil
}

func (f *fakeGateway) GetSession(context.Context, string) (pos.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	return *f.session, nil
}

func (f *fakeGateway) GetActiveSession(context.Context, string) (pos.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil || f.session.Status != pos.SessionOpen {
		return pos.Session{}, &pos.ServerError{Status: 404, Message: "No active session"}
	}
	return *f.session, nil
}

func (f *fakeGateway) GetSessionSummary(context.Context, string) (pos.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries++
	return pos.SessionSummary{OpeningBalance: f.session.OpeningBalance, ExpectedBalance: f.session.CurrentBalance}, nil
}

func (f *fakeGateway) CashIn(_ context.Context, req pos.CashTransactionRequest) (pos.Transaction, error) {
	return f.move(req, pos.CashIn)
}

func (f *fakeGateway) CashOut(_ context.Context, req pos.CashTransactionRequest) (pos.Transaction, error) {
	return f.move(req, pos.CashOut)
}

func (f *fakeGateway) move(req pos.CashTransactionRequest, kind pos.TransactionType) (pos.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	amount := req.Amount
	if kind == pos.CashOut {
		amount = amount.Neg()
	}
	f.session.CurrentBalance = f.session.CurrentBalance.Add(amount)
	return pos.Transaction{ID: "tx", SessionID: req.SessionID, Type: kind, Amount: req.Amount}, nil
}

func (f *fakeGateway) CreateSale(_ context.Context, _ string, req pos.CreateSaleRequest) (pos.CreateSaleResult, error) {
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	total := decimal.Zero
	for _, p := range req.Payments {
		total = total.Add(p.Amount)
	}
	f.session.CurrentBalance = f.session.CurrentBalance.Add(total)
	return pos.CreateSaleResult{Sale: pos.Sale{ID: "sale-1", Status: pos.SaleProcessing, Total: total}, Message: "Venta registrada"}, nil
}

func (f *fakeGateway) GetSaleInfo(_ context.Context, saleID string) (pos.SaleInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pos.SaleInfo{SaleID: saleID, Status: f.saleStatus}, nil
}

type recordingFollowUps struct {
	mu    sync.Mutex
	sales []string
}

func (r *recordingFollowUps) ScheduleDocumentFollowUp(_ context.Context, saleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sales = append(r.sales, saleID)
	return nil
}

func (r *recordingFollowUps) scheduled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.sales...)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	gw        *fakeGateway
	store     *scope.RedisStore
	followUps *recordingFollowUps
	term      *Terminal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := &fixture{gw: newFakeGateway(), store: scope.NewRedisStore(client, "test"), followUps: &recordingFollowUps{}}
	f.term = f.build()
	t.Cleanup(f.term.Close)
	return f
}

func (f *fixture) build() *Terminal {
	return New(Config{
		Gateway:   f.gw,
		Scope:     scope.New(f.store, nil),
		Poller:    sale.PollerConfig{Interval: time.Millisecond},
		FollowUps: f.followUps,
	})
}

func (f *fixture) selectRegister(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.term.SelectCompany(ctx, pos.Company{ID: "c1"}))
	require.NoError(t, f.term.SelectSite(ctx, pos.Site{ID: "s1", CompanyID: "c1"}))
	_, _, err := f.term.SelectCashRegisterByID(ctx, "r1")
	require.NoError(t, err)
}

func (f *fixture) open(t *testing.T, balance string) {
	t.Helper()
	f.selectRegister(t)
	_, err := f.term.OpenSession(context.Background(), "u1", d(balance), "")
	require.NoError(t, err)
}

func TestOpenRequiresRegister(t *testing.T) {
	f := newFixture(t)
	_, err := f.term.OpenSession(context.Background(), "u1", d("100"), "")
	require.ErrorIs(t, err, pos.ErrNoCashRegister)
}

func TestSelectRegisterAdoptsActiveSession(t *testing.T) {
	f := newFixture(t)
	f.open(t, "100")

	// A relaunched process finds the persisted register and its session.
	relaunched := f.build()
	sel, err := relaunched.Restore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sel.CashRegister)
	assert.Equal(t, "r1", sel.CashRegister.ID)
	open, ok := relaunched.Session().(ledger.Open)
	require.True(t, ok)
	assert.Equal(t, "sess-1", open.Session.ID)
}

func TestSwitchingSiteDropsSessionAndCart(t *testing.T) {
	f := newFixture(t)
	f.open(t, "100")
	_, err := f.term.AddProduct(context.Background(), "p1", d("1"))
	require.NoError(t, err)

	require.NoError(t, f.term.SelectSite(context.Background(), pos.Site{ID: "s2", CompanyID: "c1"}))
	assert.Equal(t, ledger.NoSession{}, f.term.Session())
	assert.Empty(t, f.term.Cart().Items)
}

func TestOpenConflictRefreshesDirectory(t *testing.T) {
	f := newFixture(t)
	f.selectRegister(t)
	hits := f.gw.registerHit
	f.gw.registers[0].CurrentSessionID = "other"
	f.gw.openErr = &pos.ServerError{Status: 409, Message: "La caja ya tiene una sesión abierta"}

	_, err := f.term.OpenSession(context.Background(), "u1", d("0"), "")
	require.ErrorIs(t, err, pos.ErrConflict)
	assert.Equal(t, hits+1, f.gw.registerHit)
	register, ok := f.term.scope.CashRegister()
	require.True(t, ok)
	assert.True(t, register.IsOpen())
}

func TestCashMovementRefreshesBalance(t *testing.T) {
	f := newFixture(t)
	f.open(t, "100")

	_, err := f.term.CashOut(context.Background(), d("30"), "deposit", "")
	require.NoError(t, err)
	open := f.term.Session().(ledger.Open)
	assert.True(t, open.Session.CurrentBalance.Equal(d("70")))
}

func TestSaleFlowAndClose(t *testing.T) {
	f := newFixture(t)
	f.open(t, "100")
	ctx := context.Background()

	_, err := f.term.AddProduct(ctx, "p1", d("2"))
	require.NoError(t, err)
	snap, err := f.term.AddPayment(ctx, "pm-cash", d("23.6"))
	require.NoError(t, err)
	assert.True(t, snap.Balanced)
	assert.Equal(t, "Efectivo", snap.Payments[0].PaymentMethodName)

	res, err := f.term.Submit(ctx, sale.Request{})
	require.NoError(t, err)
	assert.Equal(t, "sale-1", res.SaleID)
	assert.Empty(t, f.term.Cart().Items)
	open := f.term.Session().(ledger.Open)
	assert.True(t, open.Session.CurrentBalance.Equal(d("123.6")))

	info, err := f.term.WaitForDocuments(ctx, res.SaleID)
	require.NoError(t, err)
	assert.Equal(t, pos.SaleCompleted, info.Status)
	assert.Empty(t, f.followUps.scheduled())

	overview, err := f.term.CloseOverview(ctx)
	require.NoError(t, err)
	assert.True(t, overview.Summary.ExpectedBalance.Equal(d("123.6")))

	closed, err := f.term.CloseSession(ctx, d("125"), "")
	require.NoError(t, err)
	assert.True(t, closed.Closing.Difference.Equal(d("1.4")))
	assert.IsType(t, ledger.Closed{}, f.term.Session())

	_, err = f.term.AddProduct(ctx, "p1", d("1"))
	require.ErrorIs(t, err, pos.ErrSessionClosed)
}

func TestCloseRefusedWhileSubmitting(t *testing.T) {
	f := newFixture(t)
	f.open(t, "100")
	ctx := context.Background()
	_, err := f.term.AddProduct(ctx, "p1", d("1"))
	require.NoError(t, err)
	_, err = f.term.AddPayment(ctx, "pm-card", d("11.8"))
	require.NoError(t, err)

	f.gw.createGate = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.term.Submit(ctx, sale.Request{})
		done <- err
	}()
	require.Eventually(t, f.term.submitter.InFlight, time.Second, time.Millisecond)

	_, err = f.term.CloseSession(ctx, d("100"), "")
	require.ErrorIs(t, err, pos.ErrSubmissionInFlight)
	assert.IsType(t, ledger.Open{}, f.term.Session())

	close(f.gw.createGate)
	require.NoError(t, <-done)
	_, err = f.term.CloseSession(ctx, d("111.8"), "")
	require.NoError(t, err)
}

func TestSubmitRefusedWhileClosing(t *testing.T) {
	f := newFixture(t)
	f.open(t, "100")
	ctx := context.Background()
	_, err := f.term.AddProduct(ctx, "p1", d("1"))
	require.NoError(t, err)
	_, err = f.term.AddPayment(ctx, "pm-cash", d("11.8"))
	require.NoError(t, err)

	f.gw.closeGate = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.term.CloseSession(ctx, d("100"), "")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.gw.closeHits.Load() == 1 }, time.Second, time.Millisecond)

	_, err = f.term.Submit(ctx, sale.Request{})
	require.ErrorIs(t, err, pos.ErrSessionClosing)
	_, err = f.term.CloseSession(ctx, d("100"), "")
	require.ErrorIs(t, err, pos.ErrSessionClosing)

	close(f.gw.closeGate)
	require.NoError(t, <-done)
	f.gw.mu.Lock()
	assert.Zero(t, f.gw.creates)
	f.gw.mu.Unlock()
	assert.IsType(t, ledger.Closed{}, f.term.Session())
	assert.False(t, f.term.submitter.InFlight())
}

func TestCartTakesInputAsGiven(t *testing.T) {
	f := newFixture(t)
	f.open(t, "100")
	ctx := context.Background()

	_, err := f.term.AddProduct(ctx, "p1", d("2"))
	require.NoError(t, err)
	snap, err := f.term.AddProduct(ctx, "p1", d("-1"))
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.True(t, snap.Items[0].Quantity.Equal(d("1")))

	snap, err = f.term.AddPayment(ctx, "pm-cash", decimal.Zero)
	require.NoError(t, err)
	require.Len(t, snap.Payments, 1)
	assert.True(t, snap.Payments[0].Amount.IsZero())
	assert.False(t, snap.Balanced)
}

func TestPaymentMethodsLoadedOnce(t *testing.T) {
	f := newFixture(t)
	f.gw.methodGate = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			methods, err := f.term.PaymentMethods(context.Background())
			assert.NoError(t, err)
			assert.Len(t, methods, 2)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(f.gw.methodGate)
	wg.Wait()

	_, err := f.term.PaymentMethods(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.gw.methodHits.Load())
}

func TestUnknownPaymentMethod(t *testing.T) {
	f := newFixture(t)
	f.open(t, "0")
	_, err := f.term.AddPayment(context.Background(), "pm-crypto", d("5"))
	require.ErrorIs(t, err, pos.ErrValidation)
}

func TestAbandonedWaitSchedulesFollowUp(t *testing.T) {
	f := newFixture(t)
	f.gw.saleStatus = pos.SaleProcessing

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	info, err := f.term.WaitForDocuments(ctx, "sale-9")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, pos.SaleProcessing, info.Status)
	assert.Equal(t, []string{"sale-9"}, f.followUps.scheduled())
}

func TestLogoutStopsWatchesAndClearsScope(t *testing.T) {
	f := newFixture(t)
	f.open(t, "0")
	f.gw.saleStatus = pos.SaleProcessing

	w := f.term.WatchSale("sale-7")
	require.NoError(t, f.term.Logout(context.Background()))

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("watch survived logout")
	}
	require.Eventually(t, func() bool { return len(f.followUps.scheduled()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, scope.Selection{}, f.term.Selection())
	assert.Equal(t, ledger.NoSession{}, f.term.Session())
}
