package gateway

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
)

// wireAmount renders a decimal as a bare JSON number, which is what the API
// expects in request bodies.
func wireAmount(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

type wireOpenSession struct {
	CashRegisterID string      `json:"cashRegisterId"`
	UserID         string      `json:"userId"`
	OpeningBalance json.Number `json:"openingBalance"`
	Notes          string      `json:"notes,omitempty"`
}

type wireCloseSession struct {
	ClosingBalance json.Number `json:"closingBalance"`
	Notes          string      `json:"notes,omitempty"`
}

type wireCashTransaction struct {
	SessionID string      `json:"sessionId"`
	Amount    json.Number `json:"amount"`
	Reason    string      `json:"reason"`
	Notes     string      `json:"notes,omitempty"`
}

type wireSaleItem struct {
	ProductID   string      `json:"productId"`
	ProductName string      `json:"productName,omitempty"`
	Quantity    json.Number `json:"quantity"`
	UnitPrice   json.Number `json:"unitPrice"`
	Discount    json.Number `json:"discount"`
	TaxRate     json.Number `json:"taxRate"`
}

type wireSalePayment struct {
	PaymentMethodID   string      `json:"paymentMethodId"`
	PaymentMethodName string      `json:"paymentMethodName,omitempty"`
	Amount            json.Number `json:"amount"`
}

type wireCreateSale struct {
	CustomerID   string            `json:"customerId,omitempty"`
	DocumentType pos.DocumentType  `json:"documentType"`
	Items        []wireSaleItem    `json:"items"`
	Payments     []wireSalePayment `json:"payments"`
	Notes        string            `json:"notes,omitempty"`
}

func newWireCreateSale(req pos.CreateSaleRequest) wireCreateSale {
	out := wireCreateSale{
		CustomerID:   req.CustomerID,
		DocumentType: req.DocumentType,
		Items:        make([]wireSaleItem, 0, len(req.Items)),
		Payments:     make([]wireSalePayment, 0, len(req.Payments)),
		Notes:        req.Notes,
	}
	for _, item := range req.Items {
		out.Items = append(out.Items, wireSaleItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    wireAmount(item.Quantity),
			UnitPrice:   wireAmount(item.UnitPrice),
			Discount:    wireAmount(item.Discount),
			TaxRate:     wireAmount(item.TaxRate),
		})
	}
	for _, p := range req.Payments {
		out.Payments = append(out.Payments, wireSalePayment{
			PaymentMethodID:   p.PaymentMethodID,
			PaymentMethodName: p.PaymentMethodName,
			Amount:            wireAmount(p.Amount),
		})
	}
	return out
}

type wireCashRegister struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name"`
	Code                 string             `json:"code"`
	SiteID               string             `json:"siteId"`
	CompanyID            string             `json:"companyId"`
	Status               pos.RegisterStatus `json:"status"`
	IsActive             *bool              `json:"isActive"`
	CurrentSessionID     *string            `json:"currentSessionId"`
	CurrentUserID        *string            `json:"currentUserId"`
	AllowNegativeBalance bool               `json:"allowNegativeBalance"`
	EmissionPoint        *pos.EmissionPoint `json:"emissionPoint"`
}

func (w wireCashRegister) toDomain() pos.CashRegister {
	out := pos.CashRegister{
		ID:                   w.ID,
		Name:                 w.Name,
		Code:                 w.Code,
		SiteID:               w.SiteID,
		CompanyID:            w.CompanyID,
		Status:               w.Status,
		AllowNegativeBalance: w.AllowNegativeBalance,
		EmissionPoint:        w.EmissionPoint,
	}
	// Older payloads only carry the deprecated isActive flag.
	if out.Status == "" && w.IsActive != nil {
		out.Status = pos.RegisterInactive
		if *w.IsActive {
			out.Status = pos.RegisterActive
		}
	}
	if w.CurrentSessionID != nil {
		out.CurrentSessionID = *w.CurrentSessionID
	}
	if w.CurrentUserID != nil {
		out.CurrentUserID = *w.CurrentUserID
	}
	return out
}

type wireSession struct {
	ID                string            `json:"id"`
	CashRegisterID    string            `json:"cashRegisterId"`
	UserID            string            `json:"userId"`
	Status            pos.SessionStatus `json:"status"`
	OpenedAt          time.Time         `json:"openedAt"`
	ClosedAt          *time.Time        `json:"closedAt"`
	OpeningBalance    decimal.Decimal   `json:"openingBalance"`
	CurrentBalance    decimal.Decimal   `json:"currentBalance"`
	ClosingBalance    *decimal.Decimal  `json:"closingBalance"`
	ExpectedBalance   *decimal.Decimal  `json:"expectedBalance"`
	Difference        *decimal.Decimal  `json:"difference"`
	TotalSales        decimal.Decimal   `json:"totalSales"`
	TotalCashIn       decimal.Decimal   `json:"totalCashIn"`
	TotalCashOut      decimal.Decimal   `json:"totalCashOut"`
	TotalTransactions int               `json:"totalTransactions"`
	Notes             string            `json:"notes"`
}

func (w wireSession) toDomain() pos.Session {
	out := pos.Session{
		ID:                w.ID,
		CashRegisterID:    w.CashRegisterID,
		UserID:            w.UserID,
		Status:            w.Status,
		OpenedAt:          w.OpenedAt,
		OpeningBalance:    w.OpeningBalance,
		CurrentBalance:    w.CurrentBalance,
		TotalSales:        w.TotalSales,
		TotalCashIn:       w.TotalCashIn,
		TotalCashOut:      w.TotalCashOut,
		TotalTransactions: w.TotalTransactions,
		Notes:             w.Notes,
	}
	if w.Status == pos.SessionClosed && w.ClosingBalance != nil {
		closing := w.closing()
		out.Closing = &closing
	}
	return out
}

// closing prefers the server's reconciliation figures. A missing expected
// balance is derived from the difference, else taken from the running balance.
func (w wireSession) closing() pos.Closing {
	var closedAt time.Time
	if w.ClosedAt != nil {
		closedAt = *w.ClosedAt
	}
	counted := *w.ClosingBalance
	switch {
	case w.ExpectedBalance != nil && w.Difference != nil:
		return pos.Closing{ClosedAt: closedAt, ClosingBalance: counted, ExpectedBalance: *w.ExpectedBalance, Difference: *w.Difference}
	case w.ExpectedBalance != nil:
		return pos.NewClosing(closedAt, counted, *w.ExpectedBalance)
	case w.Difference != nil:
		return pos.Closing{ClosedAt: closedAt, ClosingBalance: counted, ExpectedBalance: counted.Sub(*w.Difference), Difference: *w.Difference}
	}
	return pos.NewClosing(closedAt, counted, w.CurrentBalance)
}
