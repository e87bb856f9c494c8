// Package cart accumulates line items and payment allocations for the sale
// in progress on a register.
package cart

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
)

// Totals are derived from the cart contents on demand.
type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	DiscountTotal decimal.Decimal `json:"discountTotal"`
	Total         decimal.Decimal `json:"total"`
	PaymentsTotal decimal.Decimal `json:"paymentsTotal"`
}

// Remaining is what is still owed: total minus payments.
func (t Totals) Remaining() decimal.Decimal {
	return t.Total.Sub(t.PaymentsTotal)
}

// Balanced reports whether payments match the total within tolerance.
func (t Totals) Balanced() bool {
	return pos.WithinTolerance(t.Total, t.PaymentsTotal)
}

// Snapshot is an immutable copy of the cart.
type Snapshot struct {
	Items    []pos.SaleItem    `json:"items"`
	Payments []pos.SalePayment `json:"payments"`
	Totals   Totals            `json:"totals"`
	Balanced bool              `json:"balanced"`
}

// Cart is safe for concurrent use.
type Cart struct {
	mu       sync.Mutex
	items    []pos.SaleItem
	payments []pos.SalePayment
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{}
}

// AddItem appends a line for the product, or adds quantity to the existing
// line for the same product.
func (c *Cart) AddItem(product pos.Product, quantity decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ProductID == product.ID {
			c.items[i].Quantity = c.items[i].Quantity.Add(quantity)
			return
		}
	}
	c.items = append(c.items, pos.SaleItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    quantity,
		UnitPrice:   product.Price,
		Discount:    decimal.Zero,
		TaxRate:     product.TaxRate,
	})
}

// UpdateItemQuantity replaces the quantity of line index. A quantity of zero or
// less removes the line.
func (c *Cart) UpdateItemQuantity(index int, quantity decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := checkIndex("item", index, len(c.items)); err != nil {
		return err
	}
	if !quantity.IsPositive() {
		c.items = removeAt(c.items, index)
		return nil
	}
	c.items[index].Quantity = quantity
	return nil
}

// RemoveItem drops line index.
func (c *Cart) RemoveItem(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := checkIndex("item", index, len(c.items)); err != nil {
		return err
	}
	c.items = removeAt(c.items, index)
	return nil
}

// AddPayment appends a payment allocation. No ceiling is enforced; the
// balance check happens at submission.
func (c *Cart) AddPayment(method pos.PaymentMethod, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payments = append(c.payments, pos.SalePayment{
		PaymentMethodID:   method.ID,
		PaymentMethodName: method.Name,
		Amount:            amount,
	})
}

// UpdatePayment replaces the amount of payment index. An amount of zero or
// less removes the payment.
func (c *Cart) UpdatePayment(index int, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := checkIndex("payment", index, len(c.payments)); err != nil {
		return err
	}
	if !amount.IsPositive() {
		c.payments = removeAt(c.payments, index)
		return nil
	}
	c.payments[index].Amount = amount
	return nil
}

// RemovePayment drops payment index.
func (c *Cart) RemovePayment(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := checkIndex("payment", index, len(c.payments)); err != nil {
		return err
	}
	c.payments = removeAt(c.payments, index)
	return nil
}

// Clear empties the item lines. Payments are kept.
func (c *Cart) Clear() {
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()
}

// ClearPayments empties the payment allocations. Items are kept.
func (c *Cart) ClearPayments() {
	c.mu.Lock()
	c.payments = nil
	c.mu.Unlock()
}

// Reset empties both items and payments.
func (c *Cart) Reset() {
	c.mu.Lock()
	c.items = nil
	c.payments = nil
	c.mu.Unlock()
}

// IsEmpty reports whether the cart has no item lines.
func (c *Cart) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items) == 0
}

// Totals computes subtotal, tax, discounts, total and payments.
func (c *Cart) Totals() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return computeTotals(c.items, c.payments)
}

// IsBalanced reports whether |total - paymentsTotal| <= 0.01.
func (c *Cart) IsBalanced() bool {
	return c.Totals().Balanced()
}

// Snapshot copies the cart contents with their totals.
func (c *Cart) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	totals := computeTotals(c.items, c.payments)
	return Snapshot{
		Items:    append([]pos.SaleItem{}, c.items...),
		Payments: append([]pos.SalePayment{}, c.payments...),
		Totals:   totals,
		Balanced: totals.Balanced(),
	}
}

func computeTotals(items []pos.SaleItem, payments []pos.SalePayment) Totals {
	t := Totals{
		Subtotal:      decimal.Zero,
		Tax:           decimal.Zero,
		DiscountTotal: decimal.Zero,
		PaymentsTotal: decimal.Zero,
	}
	for _, item := range items {
		t.Subtotal = t.Subtotal.Add(item.LineTotal())
		t.Tax = t.Tax.Add(item.Tax())
		t.DiscountTotal = t.DiscountTotal.Add(item.Discount)
	}
	for _, p := range payments {
		t.PaymentsTotal = t.PaymentsTotal.Add(p.Amount)
	}
	t.Total = t.Subtotal.Add(t.Tax)
	return t
}

func checkIndex(kind string, index, length int) error {
	if index < 0 || index >= length {
		return pos.Invalid(kind, fmt.Sprintf("index %d out of range", index))
	}
	return nil
}

func removeAt[T any](s []T, index int) []T {
	out := make([]T, 0, len(s)-1)
	out = append(out, s[:index]...)
	return append(out, s[index+1:]...)
}
