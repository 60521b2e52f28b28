package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rifqisaleh/revoubank/internal/handlers"
	appmw "github.com/rifqisaleh/revoubank/internal/middleware"
)

func NewRoutes(h *handlers.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(appmw.Authenticated(h.Tokens))

		r.Get("/auth/me", h.Me)
		r.Put("/users/me", h.UpdateProfile)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.OpenAccount)
			r.Get("/{id}", h.GetAccount)
			r.Patch("/{id}", h.UpdateAccount)
			r.Delete("/{id}", h.CloseAccount)
			r.Get("/{id}/transactions", h.AccountTransactions)
		})

		r.Get("/transactions", h.ListTransactions)
		r.Post("/transactions/deposit", h.Deposit)
		r.Post("/transactions/withdraw", h.Withdraw)
		r.Post("/transactions/transfer", h.Transfer)

		r.Post("/external/deposit", h.ExternalDeposit)
		r.Post("/external/withdraw", h.ExternalWithdraw)

		r.Get("/bills", h.ListBills)
		r.Post("/bills", h.CreateBill)
		r.Post("/bills/pay", h.PayBill)
		r.Put("/bills/{id}", h.UpdateBill)
		r.Delete("/bills/{id}", h.DeleteBill)
	})

	return r
}
