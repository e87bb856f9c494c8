// Package pos holds the domain types shared by the point-of-sale core.
package pos

import (
	"time"

	"github.com/shopspring/decimal"
)

// Company is a tenant the user can operate under.
type Company struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Alias    string `json:"alias,omitempty"`
	RUC      string `json:"ruc,omitempty"`
	IsActive bool   `json:"isActive"`
}

// Site is a physical location belonging to a company.
type Site struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	CompanyID string `json:"companyId"`
	IsActive  bool   `json:"isActive"`
}

// RegisterStatus reports whether a cash register can be used.
type RegisterStatus string

const (
	RegisterActive   RegisterStatus = "ACTIVE"
	RegisterInactive RegisterStatus = "INACTIVE"
)

// EmissionPoint identifies the tax-document series a register issues under.
type EmissionPoint struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// CashRegister is a till tied to one site. CurrentSessionID is set while a
// session is open on it.
type CashRegister struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Code                 string         `json:"code"`
	SiteID               string         `json:"siteId"`
	CompanyID            string         `json:"companyId"`
	Status               RegisterStatus `json:"status"`
	CurrentSessionID     string         `json:"currentSessionId,omitempty"`
	CurrentUserID        string         `json:"currentUserId,omitempty"`
	AllowNegativeBalance bool           `json:"allowNegativeBalance"`
	EmissionPoint        *EmissionPoint `json:"emissionPoint,omitempty"`
}

// IsOpen reports whether the directory considers the register in use.
func (r CashRegister) IsOpen() bool {
	return r.CurrentSessionID != ""
}

// PaymentMethod is a tender type (cash, card, transfer...).
type PaymentMethod struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	IsActive bool   `json:"isActive"`
}

// SessionStatus is the server status of a register session.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Session is the server view of a register session. Closing is only set for
// closed sessions.
type Session struct {
	ID                string          `json:"id"`
	CashRegisterID    string          `json:"cashRegisterId"`
	UserID            string          `json:"userId"`
	Status            SessionStatus   `json:"status"`
	OpenedAt          time.Time       `json:"openedAt"`
	OpeningBalance    decimal.Decimal `json:"openingBalance"`
	CurrentBalance    decimal.Decimal `json:"currentBalance"`
	TotalSales        decimal.Decimal `json:"totalSales"`
	TotalCashIn       decimal.Decimal `json:"totalCashIn"`
	TotalCashOut      decimal.Decimal `json:"totalCashOut"`
	TotalTransactions int             `json:"totalTransactions"`
	Notes             string          `json:"notes,omitempty"`
	Closing           *Closing        `json:"closing,omitempty"`
}

// Closing holds the reconciliation figures recorded when a session closes.
type Closing struct {
	ClosedAt        time.Time       `json:"closedAt"`
	ClosingBalance  decimal.Decimal `json:"closingBalance"`
	ExpectedBalance decimal.Decimal `json:"expectedBalance"`
	Difference      decimal.Decimal `json:"difference"`
}

// NewClosing builds a Closing whose difference is counted minus expected.
func NewClosing(closedAt time.Time, closingBalance, expectedBalance decimal.Decimal) Closing {
	return Closing{
		ClosedAt:        closedAt,
		ClosingBalance:  closingBalance,
		ExpectedBalance: expectedBalance,
		Difference:      closingBalance.Sub(expectedBalance),
	}
}

// SessionSummary pre-populates the close screen.
type SessionSummary struct {
	OpeningBalance  decimal.Decimal `json:"openingBalance"`
	Sales           decimal.Decimal `json:"sales"`
	CashIn          decimal.Decimal `json:"cashIn"`
	CashOut         decimal.Decimal `json:"cashOut"`
	ExpectedBalance decimal.Decimal `json:"expectedBalance"`
}

// TransactionType distinguishes manual cash movements.
type TransactionType string

const (
	CashIn  TransactionType = "cash_in"
	CashOut TransactionType = "cash_out"
)

// Transaction is a manual cash movement recorded against a session.
type Transaction struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"sessionId"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	Notes         string          `json:"notes,omitempty"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Product is the catalogue entry a cart line is built from.
type Product struct {
	ID       string          `json:"id"`
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    decimal.Decimal `json:"stock"`
	TaxRate  decimal.Decimal `json:"taxRate"`
	IsActive bool            `json:"isActive"`
}

// Customer is a buyer that can be attached to a sale.
type Customer struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	DocumentType   string `json:"documentType"`
	DocumentNumber string `json:"documentNumber"`
	Email          string `json:"email,omitempty"`
}

// DocumentType is the tax document requested for a sale.
type DocumentType string

const (
	// DocumentInvoice requires an identified customer.
	DocumentInvoice DocumentType = "01"
	DocumentReceipt DocumentType = "03"
)

// Valid reports whether d is a known document type.
func (d DocumentType) Valid() bool {
	return d == DocumentInvoice || d == DocumentReceipt
}

// SaleItem is one cart line.
type SaleItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Discount    decimal.Decimal `json:"discount"`
	TaxRate     decimal.Decimal `json:"taxRate"`
}

// LineTotal is quantity * unit price minus the line discount.
func (i SaleItem) LineTotal() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice).Sub(i.Discount)
}

// Tax is the line total taxed at the line's percentage rate.
func (i SaleItem) Tax() decimal.Decimal {
	return i.LineTotal().Mul(i.TaxRate).Div(hundred)
}

// SalePayment is one payment allocation.
type SalePayment struct {
	PaymentMethodID   string          `json:"paymentMethodId"`
	PaymentMethodName string          `json:"paymentMethodName,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
}

// SaleStatus tracks document issuance for a sale.
type SaleStatus string

const (
	SalePending    SaleStatus = "pending"
	SaleProcessing SaleStatus = "processing"
	SaleCompleted  SaleStatus = "completed"
	SaleRejected   SaleStatus = "rejected"
	SaleCancelled  SaleStatus = "cancelled"
)

// Terminal reports whether no further transition is expected.
func (s SaleStatus) Terminal() bool {
	switch s {
	case SaleCompleted, SaleRejected, SaleCancelled:
		return true
	}
	return false
}

// Sale is the server record returned when a sale is created.
type Sale struct {
	ID             string          `json:"id"`
	SaleNumber     string          `json:"saleNumber"`
	DocumentType   DocumentType    `json:"documentType"`
	DocumentNumber string          `json:"documentNumber,omitempty"`
	CustomerID     string          `json:"customerId,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	Status         SaleStatus      `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	Items          []SaleItem      `json:"items"`
	Payments       []SalePayment   `json:"payments"`
}

// SaleDocument is an issued tax document.
type SaleDocument struct {
	ID             string    `json:"id"`
	DocumentType   string    `json:"documentType"`
	DocumentNumber string    `json:"documentNumber"`
	Status         string    `json:"status"`
	Hash           string    `json:"hash,omitempty"`
	PDFURL         string    `json:"pdfUrl"`
	XMLURL         string    `json:"xmlUrl"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SaleInfo is the status projection polled while documents are issued.
type SaleInfo struct {
	SaleID         string          `json:"saleId"`
	SaleNumber     string          `json:"saleNumber"`
	DocumentType   DocumentType    `json:"documentType"`
	DocumentNumber string          `json:"documentNumber,omitempty"`
	Status         SaleStatus      `json:"status"`
	Total          decimal.Decimal `json:"total"`
	CreatedAt      time.Time       `json:"createdAt"`
	Documents      []SaleDocument  `json:"documents"`
	Message        string          `json:"message"`
}

// CreateSaleRequest is the snapshot sent when submitting a cart.
type CreateSaleRequest struct {
	CustomerID   string
	DocumentType DocumentType
	Items        []SaleItem
	Payments     []SalePayment
	Notes        string
}

// CreateSaleResult is the immediate answer to a sale creation.
type CreateSaleResult struct {
	Sale           Sale
	Message        string
	DocumentStatus string
}

// OpenSessionRequest opens a register session.
type OpenSessionRequest struct {
	CashRegisterID string
	UserID         string
	OpeningBalance decimal.Decimal
	Notes          string
}

// CashTransactionRequest is a manual cash movement.
type CashTransactionRequest struct {
	SessionID string
	Amount    decimal.Decimal
	Reason    string
	Notes     string
}
