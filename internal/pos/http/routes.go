package poshttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers the register API under the router it is given.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/scope", func(r chi.Router) {
		r.Get("/", h.getScope)
		r.Delete("/", h.logout)
		r.Put("/company", h.selectCompany)
		r.Put("/site", h.selectSite)
		r.Put("/cash-register", h.selectCashRegister)
	})
	r.Get("/cash-registers", h.listCashRegisters)
	r.Get("/payment-methods", h.listPaymentMethods)
	r.Get("/products", h.searchProducts)
	r.Get("/customers", h.searchCustomers)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.getSession)
		r.Get("/summary", h.sessionSummary)
		r.Get("/transactions", h.listTransactions)
		r.Post("/open", h.openSession)
		r.Post("/close", h.closeSession)
		r.Post("/refresh", h.refreshSession)
		r.Post("/cash-in", h.cashIn)
		r.Post("/cash-out", h.cashOut)
	})

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Post("/items", h.addItem)
		r.Delete("/items", h.clearItems)
		r.Patch("/items/{index}", h.updateItem)
		r.Delete("/items/{index}", h.removeItem)
		r.Post("/payments", h.addPayment)
		r.Delete("/payments", h.clearPayments)
		r.Patch("/payments/{index}", h.updatePayment)
		r.Delete("/payments/{index}", h.removePayment)
	})

	r.Route("/sales", func(r chi.Router) {
		r.Post("/", h.submitSale)
		r.Get("/{id}", h.getSale)
		r.Get("/{id}/wait", h.waitSale)
		r.Get("/{id}/documents/{documentId}/pdf", h.documentPDF)
	})
}
