// Package scope tracks the company, site and cash register the terminal is
// operating under and persists the selection across relaunches.
package scope

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
)

const (
	keyCompany      = "tenant:selected_company"
	keySite         = "tenant:selected_site"
	keyCashRegister = "caja:selected_cash_register"
)

// Selection is a copy of the current scope. Nil fields are unselected.
type Selection struct {
	Company      *pos.Company      `json:"company"`
	Site         *pos.Site         `json:"site"`
	CashRegister *pos.CashRegister `json:"cashRegister"`
}

// Context is the process-wide scope holder. Selecting an outer scope clears
// everything nested inside it.
type Context struct {
	mu     sync.RWMutex
	store  Store
	logger *slog.Logger
	sel    Selection
}

// New constructs an empty Context backed by store.
func New(store Store, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{store: store, logger: logger}
}

// Restore loads the persisted selection. Entries that fail to decode are
// deleted and treated as unselected; nesting is re-applied so a stored
// register without its site is dropped.
func (c *Context) Restore(ctx context.Context) (Selection, error) {
	var sel Selection
	company := new(pos.Company)
	ok, err := c.load(ctx, keyCompany, company)
	if err != nil {
		return Selection{}, err
	}
	if ok {
		sel.Company = company
		site := new(pos.Site)
		if ok, err = c.load(ctx, keySite, site); err != nil {
			return Selection{}, err
		}
		if ok {
			sel.Site = site
			register := new(pos.CashRegister)
			if ok, err = c.load(ctx, keyCashRegister, register); err != nil {
				return Selection{}, err
			}
			if ok {
				sel.CashRegister = register
			}
		}
	}

	c.mu.Lock()
	c.sel = sel
	c.mu.Unlock()
	c.logger.Info("scope restored",
		slog.Bool("company", sel.Company != nil),
		slog.Bool("site", sel.Site != nil),
		slog.Bool("cash_register", sel.CashRegister != nil))
	return sel.clone(), nil
}

// SelectCompany replaces the company and clears site and register.
func (c *Context) SelectCompany(ctx context.Context, company pos.Company) error {
	if company.ID == "" {
		return pos.Invalid("company", "id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// Nested keys go first so a failed write never pairs the new company
	// with the old site.
	if err := c.store.Delete(ctx, keySite, keyCashRegister); err != nil {
		return err
	}
	c.sel.Site, c.sel.CashRegister = nil, nil
	if err := c.save(ctx, keyCompany, company); err != nil {
		return err
	}
	c.sel = Selection{Company: &company}
	return nil
}

// SelectSite replaces the site and clears the register. A company must be
// selected.
func (c *Context) SelectSite(ctx context.Context, site pos.Site) error {
	if site.ID == "" {
		return pos.Invalid("site", "id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sel.Company == nil {
		return pos.Invalid("site", "select a company first")
	}
	if err := c.store.Delete(ctx, keyCashRegister); err != nil {
		return err
	}
	c.sel.CashRegister = nil
	if err := c.save(ctx, keySite, site); err != nil {
		return err
	}
	c.sel.Site = &site
	return nil
}

// SelectCashRegister replaces the register. A site must be selected.
func (c *Context) SelectCashRegister(ctx context.Context, register pos.CashRegister) error {
	if register.ID == "" {
		return pos.Invalid("cashRegister", "id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sel.Site == nil {
		return pos.Invalid("cashRegister", "select a site first")
	}
	if err := c.save(ctx, keyCashRegister, register); err != nil {
		return err
	}
	c.sel.CashRegister = &register
	return nil
}

// ClearCashRegister drops only the register selection.
func (c *Context) ClearCashRegister(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Delete(ctx, keyCashRegister); err != nil {
		return err
	}
	c.sel.CashRegister = nil
	return nil
}

// Clear wipes the whole selection, used on logout.
func (c *Context) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Delete(ctx, keyCompany, keySite, keyCashRegister); err != nil {
		return err
	}
	c.sel = Selection{}
	return nil
}

// Selection returns a copy of the current scope.
func (c *Context) Selection() Selection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sel.clone()
}

// CashRegister returns the selected register, if any.
func (c *Context) CashRegister() (pos.CashRegister, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sel.CashRegister == nil {
		return pos.CashRegister{}, false
	}
	return *c.sel.CashRegister, true
}

// CompanyID returns the selected company id or "".
func (c *Context) CompanyID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sel.Company == nil {
		return ""
	}
	return c.sel.Company.ID
}

// SiteID returns the selected site id or "".
func (c *Context) SiteID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sel.Site == nil {
		return ""
	}
	return c.sel.Site.ID
}

func (c *Context) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, data)
}

func (c *Context) load(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("discarding unreadable scope entry", slog.String("key", key), slog.Any("error", err))
		if delErr := c.store.Delete(ctx, key); delErr != nil {
			return false, delErr
		}
		return false, nil
	}
	return true, nil
}

func (s Selection) clone() Selection {
	out := Selection{}
	if s.Company != nil {
		company := *s.Company
		out.Company = &company
	}
	if s.Site != nil {
		site := *s.Site
		out.Site = &site
	}
	if s.CashRegister != nil {
		register := *s.CashRegister
		out.CashRegister = &register
	}
	return out
}
