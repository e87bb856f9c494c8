// Package gateway is the HTTP client for the remote POS API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
)

// Envelope supplies the tenant headers attached to every request.
type Envelope interface {
	CompanyID() string
	SiteID() string
}

// TokenSource supplies the bearer credential. An empty token sends no
// Authorization header.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer credential.
type StaticToken string

// AccessToken returns the token.
func (t StaticToken) AccessToken(context.Context) (string, error) {
	return string(t), nil
}

type envelopeKey struct{}

type fixedEnvelope struct{ company, site string }

func (e fixedEnvelope) CompanyID() string { return e.company }
func (e fixedEnvelope) SiteID() string    { return e.site }

// WithEnvelope pins the tenant headers for requests made with the returned
// context, overriding the client's configured Envelope.
func WithEnvelope(ctx context.Context, companyID, siteID string) context.Context {
	return context.WithValue(ctx, envelopeKey{}, fixedEnvelope{company: companyID, site: siteID})
}

// Observer receives one callback per finished gateway request.
type Observer interface {
	ObserveGatewayCall(op, outcome string, elapsed time.Duration)
}

// Config groups client settings.
type Config struct {
	BaseURL    string
	AppID      string
	Timeout    time.Duration
	Envelope   Envelope
	Tokens     TokenSource
	Observer   Observer
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// Client calls the remote API. It does not retry.
type Client struct {
	baseURL    string
	appID      string
	envelope   Envelope
	tokens     TokenSource
	observer   Observer
	logger     *slog.Logger
	httpClient *http.Client
}

// NewClient constructs a Client. Requests go to {BaseURL}/api.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/api",
		appID:      cfg.AppID,
		envelope:   cfg.Envelope,
		tokens:     cfg.Tokens,
		observer:   cfg.Observer,
		logger:     logger,
		httpClient: httpClient,
	}
}

// ListCashRegisters returns the registers of a site.
func (c *Client) ListCashRegisters(ctx context.Context, siteID string) ([]pos.CashRegister, error) {
	var out []wireCashRegister
	if err := c.do(ctx, "list_registers", http.MethodGet, "/pos/cash-registers/site/"+url.PathEscape(siteID), nil, &out); err != nil {
		return nil, err
	}
	registers := make([]pos.CashRegister, 0, len(out))
	for _, r := range out {
		registers = append(registers, r.toDomain())
	}
	return registers, nil
}

// GetCashRegister fetches one register.
func (c *Client) GetCashRegister(ctx context.Context, id string) (pos.CashRegister, error) {
	var out wireCashRegister
	if err := c.do(ctx, "get_register", http.MethodGet, "/pos/cash-registers/"+url.PathEscape(id), nil, &out); err != nil {
		return pos.CashRegister{}, err
	}
	return out.toDomain(), nil
}

// ListPaymentMethods returns the tender types.
func (c *Client) ListPaymentMethods(ctx context.Context) ([]pos.PaymentMethod, error) {
	var out []pos.PaymentMethod
	if err := c.do(ctx, "list_payment_methods", http.MethodGet, "/pos/cash-registers/payment-methods", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenSession opens a session. A 409 means the register is already open.
func (c *Client) OpenSession(ctx context.Context, req pos.OpenSessionRequest) (pos.Session, error) {
	body := wireOpenSession{
		CashRegisterID: req.CashRegisterID,
		UserID:         req.UserID,
		OpeningBalance: wireAmount(req.OpeningBalance),
		Notes:          req.Notes,
	}
	var out wireSession
	if err := c.do(ctx, "open_session", http.MethodPost, "/pos/sessions/open", body, &out); err != nil {
		return pos.Session{}, err
	}
	return out.toDomain(), nil
}

// CloseSession closes a session with the counted balance.
func (c *Client) CloseSession(ctx context.Context, sessionID string, closingBalance decimal.Decimal, notes string) (pos.Session, error) {
	body := wireCloseSession{ClosingBalance: wireAmount(closingBalance), Notes: notes}
	var out wireSession
	if err := c.do(ctx, "close_session", http.MethodPost, "/pos/sessions/"+url.PathEscape(sessionID)+"/close", body, &out); err != nil {
		return pos.Session{}, err
	}
	return out.toDomain(), nil
}

// GetActiveSession returns the open session of a register. It fails with an
// error matching pos.ErrNotFound when there is none.
func (c *Client) GetActiveSession(ctx context.Context, cashRegisterID string) (pos.Session, error) {
	var out wireSession
	if err := c.do(ctx, "active_session", http.MethodGet, "/pos/sessions/active/"+url.PathEscape(cashRegisterID), nil, &out); err != nil {
		return pos.Session{}, err
	}
	if out.ID == "" {
		return pos.Session{}, &pos.ServerError{Status: http.StatusNotFound, Message: "no active session"}
	}
	return out.toDomain(), nil
}

// GetSession fetches a session by id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (pos.Session, error) {
	var out wireSession
	if err := c.do(ctx, "get_session", http.MethodGet, "/pos/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return pos.Session{}, err
	}
	return out.toDomain(), nil
}

// GetSessionSummary fetches the close-screen figures.
func (c *Client) GetSessionSummary(ctx context.Context, sessionID string) (pos.SessionSummary, error) {
	var out struct {
		Summary pos.SessionSummary `json:"summary"`
	}
	if err := c.do(ctx, "session_summary", http.MethodGet, "/pos/sessions/"+url.PathEscape(sessionID)+"/summary", nil, &out); err != nil {
		return pos.SessionSummary{}, err
	}
	return out.Summary, nil
}

// CashIn records cash added to the drawer.
func (c *Client) CashIn(ctx context.Context, req pos.CashTransactionRequest) (pos.Transaction, error) {
	return c.cashMovement(ctx, "cash_in", "/pos/transactions/cash-in", req)
}

// CashOut records cash removed from the drawer.
func (c *Client) CashOut(ctx context.Context, req pos.CashTransactionRequest) (pos.Transaction, error) {
	return c.cashMovement(ctx, "cash_out", "/pos/transactions/cash-out", req)
}

func (c *Client) cashMovement(ctx context.Context, op, path string, req pos.CashTransactionRequest) (pos.Transaction, error) {
	body := wireCashTransaction{
		SessionID: req.SessionID,
		Amount:    wireAmount(req.Amount),
		Reason:    req.Reason,
		Notes:     req.Notes,
	}
	var out pos.Transaction
	if err := c.do(ctx, op, http.MethodPost, path, body, &out); err != nil {
		return pos.Transaction{}, err
	}
	return out, nil
}

// ListTransactions returns the manual movements of a session.
func (c *Client) ListTransactions(ctx context.Context, sessionID string) ([]pos.Transaction, int, error) {
	var out struct {
		Data  []pos.Transaction `json:"data"`
		Total int               `json:"total"`
	}
	path := "/pos/transactions?" + url.Values{"sessionId": {sessionID}}.Encode()
	if err := c.do(ctx, "list_transactions", http.MethodGet, path, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Data, out.Total, nil
}

// CreateSale submits a cart snapshot against a session.
func (c *Client) CreateSale(ctx context.Context, sessionID string, req pos.CreateSaleRequest) (pos.CreateSaleResult, error) {
	body := newWireCreateSale(req)
	var out struct {
		Sale           pos.Sale `json:"sale"`
		Message        string   `json:"message"`
		DocumentStatus string   `json:"documentStatus"`
	}
	if err := c.do(ctx, "create_sale", http.MethodPost, "/pos/sales/"+url.PathEscape(sessionID), body, &out); err != nil {
		return pos.CreateSaleResult{}, err
	}
	return pos.CreateSaleResult{Sale: out.Sale, Message: out.Message, DocumentStatus: out.DocumentStatus}, nil
}

// GetSaleInfo fetches the document status of a sale.
func (c *Client) GetSaleInfo(ctx context.Context, saleID string) (pos.SaleInfo, error) {
	var out pos.SaleInfo
	if err := c.do(ctx, "sale_info", http.MethodGet, "/pos/sales/info/"+url.PathEscape(saleID), nil, &out); err != nil {
		return pos.SaleInfo{}, err
	}
	return out, nil
}

// DownloadDocumentPDF streams an issued document. The caller closes the reader.
func (c *Client) DownloadDocumentPDF(ctx context.Context, saleID, documentID string) (io.ReadCloser, error) {
	path := "/sales/" + url.PathEscape(saleID) + "/documents/" + url.PathEscape(documentID) + "/pdf"
	resp, err := c.send(ctx, "document_pdf", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// SearchProducts looks products up by free text.
func (c *Client) SearchProducts(ctx context.Context, query string) ([]pos.Product, error) {
	var out []pos.Product
	path := "/products/search?" + url.Values{"q": {query}}.Encode()
	if err := c.do(ctx, "search_products", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProduct fetches one product.
func (c *Client) GetProduct(ctx context.Context, id string) (pos.Product, error) {
	var out pos.Product
	if err := c.do(ctx, "get_product", http.MethodGet, "/products/"+url.PathEscape(id), nil, &out); err != nil {
		return pos.Product{}, err
	}
	return out, nil
}

// SearchCustomers looks customers up by free text.
func (c *Client) SearchCustomers(ctx context.Context, query string) ([]pos.Customer, error) {
	var out []pos.Customer
	path := "/customers/search?" + url.Values{"q": {query}}.Encode()
	if err := c.do(ctx, "search_customers", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, dest any) error {
	resp, err := c.send(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("gateway: %s: decode response: %w", op, err)
	}
	return nil
}

// send performs the request and classifies failures. On success the caller
// owns resp.Body.
func (c *Client) send(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	start := time.Now()
	resp, err := c.roundTrip(ctx, op, method, path, body)
	outcome := "ok"
	switch {
	case errors.Is(err, pos.ErrNetwork):
		outcome = "network_error"
	case err != nil && resp != nil:
		outcome = strconv.Itoa(resp.StatusCode)
	case err != nil:
		outcome = "error"
	}
	if c.observer != nil {
		c.observer.ObserveGatewayCall(op, outcome, time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gateway: %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway: %s: %w", op, err)
	}
	if err := c.applyEnvelope(ctx, req); err != nil {
		return nil, fmt.Errorf("gateway: %s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &pos.NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode >= 400 {
		defer func() {
			_ = resp.Body.Close()
		}()
		serverErr := readServerError(resp)
		c.logger.Debug("gateway request failed",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("request_id", req.Header.Get("X-Request-Id")))
		return resp, serverErr
	}
	return resp, nil
}

func (c *Client) applyEnvelope(ctx context.Context, req *http.Request) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-app-id", c.appID)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	envelope := c.envelope
	if pinned, ok := ctx.Value(envelopeKey{}).(fixedEnvelope); ok {
		envelope = pinned
	}
	if envelope != nil {
		if id := envelope.CompanyID(); id != "" {
			req.Header.Set("x-company-id", id)
		}
		if id := envelope.SiteID(); id != "" {
			req.Header.Set("x-site-id", id)
		}
	}
	return nil
}

func readServerError(resp *http.Response) *pos.ServerError {
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	msg := payload.Message
	if msg == "" {
		msg = fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)
	}
	return &pos.ServerError{Status: resp.StatusCode, Message: msg}
}
