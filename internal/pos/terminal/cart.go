package terminal

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/cart"
)

// Cart returns a copy of the cart with its totals.
func (t *Terminal) Cart() cart.Snapshot {
	return t.cart.Snapshot()
}

// AddProduct looks the product up and adds it to the cart. A session must
// be open. The quantity is passed to the cart as given; checkout totals are
// the only check on it.
func (t *Terminal) AddProduct(ctx context.Context, productID string, quantity decimal.Decimal) (cart.Snapshot, error) {
	if _, err := t.openSession(); err != nil {
		return cart.Snapshot{}, err
	}
	product, err := t.gateway.GetProduct(ctx, productID)
	if err != nil {
		return cart.Snapshot{}, err
	}
	t.cart.AddItem(product, quantity)
	return t.cart.Snapshot(), nil
}

// UpdateItemQuantity sets a line quantity; zero or less removes the line.
func (t *Terminal) UpdateItemQuantity(index int, quantity decimal.Decimal) (cart.Snapshot, error) {
	if err := t.cart.UpdateItemQuantity(index, quantity); err != nil {
		return cart.Snapshot{}, err
	}
	return t.cart.Snapshot(), nil
}

// RemoveItem drops a line.
func (t *Terminal) RemoveItem(index int) (cart.Snapshot, error) {
	if err := t.cart.RemoveItem(index); err != nil {
		return cart.Snapshot{}, err
	}
	return t.cart.Snapshot(), nil
}

// ClearItems empties the item lines.
func (t *Terminal) ClearItems() cart.Snapshot {
	t.cart.Clear()
	return t.cart.Snapshot()
}

// AddPayment appends an allocation to a payment method. The amount is not
// capped at the remaining balance.
func (t *Terminal) AddPayment(ctx context.Context, methodID string, amount decimal.Decimal) (cart.Snapshot, error) {
	if _, err := t.openSession(); err != nil {
		return cart.Snapshot{}, err
	}
	methods, err := t.PaymentMethods(ctx)
	if err != nil {
		return cart.Snapshot{}, err
	}
	method, ok := findMethod(methods, methodID)
	if !ok {
		return cart.Snapshot{}, pos.Invalid("paymentMethodId", "unknown payment method")
	}
	t.cart.AddPayment(method, amount)
	return t.cart.Snapshot(), nil
}

// UpdatePayment changes an allocation; zero or less removes it.
func (t *Terminal) UpdatePayment(index int, amount decimal.Decimal) (cart.Snapshot, error) {
	if err := t.cart.UpdatePayment(index, amount); err != nil {
		return cart.Snapshot{}, err
	}
	return t.cart.Snapshot(), nil
}

// RemovePayment drops an allocation.
func (t *Terminal) RemovePayment(index int) (cart.Snapshot, error) {
	if err := t.cart.RemovePayment(index); err != nil {
		return cart.Snapshot{}, err
	}
	return t.cart.Snapshot(), nil
}

// ClearPayments empties the allocations.
func (t *Terminal) ClearPayments() cart.Snapshot {
	t.cart.ClearPayments()
	return t.cart.Snapshot()
}

func findMethod(methods []pos.PaymentMethod, id string) (pos.PaymentMethod, bool) {
	for _, m := range methods {
		if m.ID == id {
			return m, true
		}
	}
	return pos.PaymentMethod{}, false
}
