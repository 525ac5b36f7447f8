package api

import (
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/circulation"
	"github.com/erazemk/izposoja/internal/model"
)

// NewRouter creates the API router with all endpoints registered.
func NewRouter(database *sqlx.DB, svc *circulation.Service, jwtSecret string) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: database, JWTSecret: jwtSecret}
	loansHandler := &LoansHandler{Svc: svc}
	holdsHandler := &HoldsHandler{Svc: svc}
	itemsHandler := &ItemsHandler{Svc: svc}
	sweepsHandler := &SweepsHandler{Svc: svc}

	authMW := AuthMiddleware(jwtSecret, database)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireStaff := RequireRole(model.RoleLibrarian)

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Loans: desk operations (staff), renew and read (all roles).
	mux.Handle("POST /api/loans/checkout", authMW(requireStaff(http.HandlerFunc(loansHandler.Checkout))))
	mux.Handle("POST /api/loans/checkin", authMW(requireStaff(http.HandlerFunc(loansHandler.Checkin))))
	mux.Handle("POST /api/loans/{id}/renew", authMW(http.HandlerFunc(loansHandler.Renew)))
	mux.Handle("GET /api/loans", authMW(http.HandlerFunc(loansHandler.List)))
	mux.Handle("GET /api/loans/{id}", authMW(http.HandlerFunc(loansHandler.Get)))

	// Holds: place, cancel and read (all roles), pickup (staff).
	mux.Handle("POST /api/holds", authMW(http.HandlerFunc(holdsHandler.Place)))
	mux.Handle("GET /api/holds", authMW(http.HandlerFunc(holdsHandler.List)))
	mux.Handle("GET /api/holds/{id}", authMW(http.HandlerFunc(holdsHandler.Get)))
	mux.Handle("DELETE /api/holds/{id}", authMW(http.HandlerFunc(holdsHandler.Cancel)))
	mux.Handle("POST /api/holds/{id}/fulfill", authMW(requireStaff(http.HandlerFunc(holdsHandler.Fulfill))))
	mux.Handle("POST /api/holds/fulfill", authMW(requireStaff(http.HandlerFunc(holdsHandler.FulfillByBarcode))))
	mux.Handle("GET /api/bibs/{id}/queue", authMW(http.HandlerFunc(holdsHandler.Queue)))

	// Items: read (all roles), status (staff).
	mux.Handle("GET /api/bibs/{id}/items", authMW(http.HandlerFunc(itemsHandler.ListByBib)))
	mux.Handle("GET /api/items/{barcode}", authMW(http.HandlerFunc(itemsHandler.Get)))
	mux.Handle("PUT /api/items/{barcode}/status", authMW(requireStaff(http.HandlerFunc(itemsHandler.SetStatus))))
	mux.Handle("GET /api/policies/{role}", authMW(http.HandlerFunc(itemsHandler.Policy)))

	// Sweeps (staff) and audit (admin).
	mux.Handle("POST /api/sweeps", authMW(requireStaff(http.HandlerFunc(sweepsHandler.Sweep))))
	mux.Handle("GET /api/audit", authMW(requireAdmin(http.HandlerFunc(sweepsHandler.Audit))))

	return mux
}
