package gateway_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/gateway"
	_ "github.com/odyssey-erp/odyssey-pos/testing"
)

type staticEnvelope struct{ company, site string }

func (e staticEnvelope) CompanyID() string { return e.company }
func (e staticEnvelope) SiteID() string    { return e.site }

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveGatewayCall(op, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, op+":"+outcome)
}

func newClient(t *testing.T, handler http.HandlerFunc) (*gateway.Client, *recordingObserver) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	observer := &recordingObserver{}
	client := gateway.NewClient(gateway.Config{
		BaseURL:  srv.URL,
		AppID:    "pos-app",
		Envelope: staticEnvelope{company: "c1", site: "s1"},
		Tokens:   gateway.StaticToken("tok"),
		Observer: observer,
	})
	return client, observer
}

func TestEnvelopeHeaders(t *testing.T) {
	var got http.Header
	var path string
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		path = r.URL.Path
		_, _ = w.Write([]byte(`[{"id":"r1","name":"Caja 1","status":"ACTIVE","currentSessionId":null}]`))
	})

	registers, err := client.ListCashRegisters(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, registers, 1)
	assert.False(t, registers[0].IsOpen())
	assert.Equal(t, "/api/pos/cash-registers/site/s1", path)
	assert.Equal(t, "pos-app", got.Get("x-app-id"))
	assert.Equal(t, "c1", got.Get("x-company-id"))
	assert.Equal(t, "s1", got.Get("x-site-id"))
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.NotEmpty(t, got.Get("X-Request-Id"))
}

func TestWithEnvelopeOverridesTenant(t *testing.T) {
	var got http.Header
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{"saleId":"s-9","status":"pending","total":10}`))
	})

	ctx := gateway.WithEnvelope(context.Background(), "c2", "s7")
	info, err := client.GetSaleInfo(ctx, "s-9")
	require.NoError(t, err)
	assert.Equal(t, pos.SalePending, info.Status)
	assert.Equal(t, "c2", got.Get("x-company-id"))
	assert.Equal(t, "s7", got.Get("x-site-id"))
}

func TestServerErrorCarriesMessage(t *testing.T) {
	client, observer := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"La caja ya tiene una sesión abierta"}`))
	})

	_, err := client.OpenSession(context.Background(), pos.OpenSessionRequest{CashRegisterID: "r1", UserID: "u1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, pos.ErrServer)
	assert.ErrorIs(t, err, pos.ErrConflict)
	assert.NotErrorIs(t, err, pos.ErrNetwork)
	assert.Equal(t, "La caja ya tiene una sesión abierta", err.Error())
	assert.Equal(t, []string{"open_session:409"}, observer.calls)
}

func TestServerErrorFallbackMessage(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := client.GetSession(context.Background(), "x")
	require.ErrorIs(t, err, pos.ErrServer)
	assert.Equal(t, "HTTP error! status: 500", err.Error())
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client := gateway.NewClient(gateway.Config{BaseURL: srv.URL, AppID: "pos-app"})

	_, err := client.GetSession(context.Background(), "x")
	require.ErrorIs(t, err, pos.ErrNetwork)
	assert.NotErrorIs(t, err, pos.ErrServer)
}

func TestActiveSessionNotFound(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"No active session"}`))
	})
	_, err := client.GetActiveSession(context.Background(), "r1")
	require.ErrorIs(t, err, pos.ErrNotFound)
}

func TestCloseSessionMapsClosing(t *testing.T) {
	var body map[string]any
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pos/sessions/sess-1/close", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		_, _ = w.Write([]byte(`{"id":"sess-1","status":"closed","openingBalance":100,"currentBalance":100,
			"closingBalance":105,"expectedBalance":100,"closedAt":"2026-10-17T18:00:00Z"}`))
	})

	session, err := client.CloseSession(context.Background(), "sess-1", decimal.RequireFromString("105"), "fin de turno")
	require.NoError(t, err)
	assert.Equal(t, float64(105), body["closingBalance"])
	assert.Equal(t, "fin de turno", body["notes"])
	require.NotNil(t, session.Closing)
	assert.True(t, session.Closing.Difference.Equal(decimal.RequireFromString("5")))
}

func TestCloseSessionClosingFallbacks(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		expected   string
		difference string
	}{
		{
			name:       "difference without expected balance",
			body:       `{"id":"sess-1","status":"closed","currentBalance":100,"closingBalance":105,"difference":5}`,
			expected:   "100",
			difference: "5",
		},
		{
			name:       "server difference wins",
			body:       `{"id":"sess-1","status":"closed","closingBalance":105,"expectedBalance":100,"difference":4.99}`,
			expected:   "100",
			difference: "4.99",
		},
		{
			name:       "running balance when no figures",
			body:       `{"id":"sess-1","status":"closed","currentBalance":98,"closingBalance":105}`,
			expected:   "98",
			difference: "7",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			})
			session, err := client.CloseSession(context.Background(), "sess-1", decimal.RequireFromString("105"), "")
			require.NoError(t, err)
			require.NotNil(t, session.Closing)
			assert.True(t, session.Closing.ExpectedBalance.Equal(decimal.RequireFromString(tc.expected)), session.Closing.ExpectedBalance.String())
			assert.True(t, session.Closing.Difference.Equal(decimal.RequireFromString(tc.difference)), session.Closing.Difference.String())
		})
	}
}

func TestCreateSaleSendsNumbers(t *testing.T) {
	var body map[string]any
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pos/sales/sess-1", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		_, _ = w.Write([]byte(`{"sale":{"id":"sale-1","status":"processing","total":23.6},"message":"Venta registrada","documentStatus":"processing"}`))
	})

	res, err := client.CreateSale(context.Background(), "sess-1", pos.CreateSaleRequest{
		DocumentType: pos.DocumentReceipt,
		Items: []pos.SaleItem{{
			ProductID: "p1",
			Quantity:  decimal.NewFromInt(2),
			UnitPrice: decimal.NewFromInt(10),
			TaxRate:   decimal.NewFromInt(18),
		}},
		Payments: []pos.SalePayment{{PaymentMethodID: "pm1", Amount: decimal.RequireFromString("23.6")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "sale-1", res.Sale.ID)
	assert.Equal(t, pos.SaleProcessing, res.Sale.Status)
	assert.Equal(t, "Venta registrada", res.Message)
	assert.Equal(t, "03", body["documentType"])
	_, hasCustomer := body["customerId"]
	assert.False(t, hasCustomer)
	payments := body["payments"].([]any)
	assert.Equal(t, 23.6, payments[0].(map[string]any)["amount"])
}

func TestSessionSummaryUnwrapsEnvelope(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"summary":{"openingBalance":100,"sales":50,"cashIn":10,"cashOut":30,"expectedBalance":130}}`))
	})
	summary, err := client.GetSessionSummary(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.True(t, summary.ExpectedBalance.Equal(decimal.NewFromInt(130)))
}
