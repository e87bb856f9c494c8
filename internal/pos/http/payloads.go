package poshttp

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/pos"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/sale"
)

type selectCompanyRequest struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Alias string `json:"alias"`
	RUC   string `json:"ruc"`
}

func (r selectCompanyRequest) company() pos.Company {
	return pos.Company{ID: r.ID, Name: r.Name, Alias: r.Alias, RUC: r.RUC, IsActive: true}
}

type selectSiteRequest struct {
	ID        string `json:"id" validate:"required"`
	Code      string `json:"code"`
	Name      string `json:"name" validate:"required"`
	CompanyID string `json:"companyId"`
}

func (r selectSiteRequest) site() pos.Site {
	return pos.Site{ID: r.ID, Code: r.Code, Name: r.Name, CompanyID: r.CompanyID, IsActive: true}
}

type selectRegisterRequest struct {
	ID string `json:"id" validate:"required"`
}

type openSessionRequest struct {
	UserID         string          `json:"userId" validate:"required"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	Notes          string          `json:"notes" validate:"max=500"`
}

type closeSessionRequest struct {
	ClosingBalance decimal.Decimal `json:"closingBalance"`
	Notes          string          `json:"notes" validate:"max=500"`
}

type cashMovementRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,max=200"`
	Notes  string          `json:"notes" validate:"max=500"`
}

type addItemRequest struct {
	ProductID string          `json:"productId" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type updateItemRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type addPaymentRequest struct {
	PaymentMethodID string          `json:"paymentMethodId" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
}

type updatePaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type submitSaleRequest struct {
	CustomerID   string `json:"customerId"`
	DocumentType string `json:"documentType" validate:"omitempty,oneof=01 03"`
	Notes        string `json:"notes" validate:"max=500"`
}

func (r submitSaleRequest) request() sale.Request {
	return sale.Request{CustomerID: r.CustomerID, DocumentType: pos.DocumentType(r.DocumentType), Notes: r.Notes}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads and validates a JSON body. Problems come back as
// pos.ValidationError so they render like any other validation failure.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return pos.Invalid("", "malformed request body: "+err.Error())
	}
	if err := h.validator.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return pos.Invalid(fe.Field(), validationMessage(fe))
		}
		return pos.Invalid("", err.Error())
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "is invalid"
}
