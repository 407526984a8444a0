package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/infra/api"
	"billing-gateway/internal/infra/logging"
	"billing-gateway/internal/infra/metrics"
	"billing-gateway/internal/usecase"
)

type adminCtxKey struct{}

// Server is the admin API mounted under /admin/api.
type Server struct {
	payUC usecase.PaymentUseCase
	auth  *AuthManager
	log   *zerolog.Logger
}

func NewServer(payUC usecase.PaymentUseCase, auth *AuthManager, logger *zerolog.Logger) *Server {
	return &Server{payUC: payUC, auth: auth, log: logger}
}

// Register sets up the routing for the admin API.
func (s *Server) Register(r chi.Router) {
	r.Route("/admin/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/gateways", s.handleListGateways)
			r.Get("/invoices/{invoiceID}/pay/{gatewayID}", s.handlePreview)
			r.Post("/transactions/{transactionID}/refund", s.handleRefund)
			r.Post("/transactions/{transactionID}/reprocess", s.handleReprocess)
		})
	})
}

// authMiddleware requires a valid admin session and stores the AdminContext.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		admin := usecase.AdminContext{AdminID: claims.Subject, IP: api.ClientIP(r)}
		ctx := context.WithValue(r.Context(), adminCtxKey{}, admin)
		ctx = logging.WithAdmin(ctx, admin.AdminID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminFrom(ctx context.Context) usecase.AdminContext {
	a, _ := ctx.Value(adminCtxKey{}).(usecase.AdminContext)
	return a
}

type loginRequest struct {
	APIKey string `json:"api_key"`
	Name   string `json:"name"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !s.auth.CheckAPIKey(req.APIKey) {
		metrics.IncAdminAction("login", "denied")
		logging.With(r.Context(), s.log).Warn().Str("remote_ip", api.ClientIP(r)).Msg("admin login rejected")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	subject := req.Name
	if subject == "" {
		subject = "admin"
	}
	token, err := s.auth.Mint(w, subject)
	if err != nil {
		http.Error(w, "Failed to issue session", http.StatusInternalServerError)
		return
	}
	metrics.IncAdminAction("login", "ok")
	api.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

type gatewayResponse struct {
	ID              int64    `json:"id"`
	Gateway         string   `json:"gateway"`
	Title           string   `json:"title"`
	Enabled         bool     `json:"enabled"`
	TestMode        bool     `json:"test_mode"`
	AllowSingle     bool     `json:"allow_single"`
	AllowRecurrent  bool     `json:"allow_recurrent"`
	SupportsRefunds bool     `json:"supports_refunds"`
	Currencies      []string `json:"currencies,omitempty"`
}

func (s *Server) handleListGateways(w http.ResponseWriter, r *http.Request) {
	list, err := s.payUC.ListGateways(r.Context(), adminFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]gatewayResponse, 0, len(list))
	for _, g := range list {
		out = append(out, gatewayResponse{
			ID: g.ID, Gateway: g.Gateway, Title: g.Title, Enabled: g.Enabled, TestMode: g.TestMode,
			AllowSingle: g.AllowSingle, AllowRecurrent: g.AllowRecurrent, SupportsRefunds: g.SupportsRefunds,
			Currencies: g.Currencies,
		})
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// handlePreview renders the payment page as an admin, so adapter errors are
// returned instead of the payer-facing notice.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	invoiceID, err1 := strconv.ParseInt(chi.URLParam(r, "invoiceID"), 10, 64)
	gatewayID, err2 := strconv.ParseInt(chi.URLParam(r, "gatewayID"), 10, 64)
	if err1 != nil || err2 != nil {
		http.NotFound(w, r)
		return
	}
	html, err := s.payUC.GetHTML(r.Context(), adminFrom(r.Context()), gatewayID, invoiceID, r.URL.Query().Get("subscription") == "1")
	if err != nil {
		api.WriteJSON(w, api.StatusFor(err), map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, html)
}

type refundRequest struct {
	Amount int64  `json:"amount"` // minor units; 0 refunds the full amount
	Reason string `json:"reason"`
}

type transactionResponse struct {
	ID        string `json:"id"`
	Gateway   string `json:"gateway"`
	TxnID     string `json:"txn_id"`
	Status    string `json:"status"`
	Type      string `json:"type"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	InvoiceID *int64 `json:"invoice_id,omitempty"`
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Amount < 0 {
		s.fail(w, r, domain.ErrInvalidArgument)
		return
	}
	t, err := s.payUC.Refund(r.Context(), adminFrom(r.Context()), chi.URLParam(r, "transactionID"), req.Amount, req.Reason)
	if err != nil {
		metrics.IncAdminAction("refund", "error")
		s.fail(w, r, err)
		return
	}
	metrics.IncAdminAction("refund", "ok")
	api.WriteJSON(w, http.StatusOK, transactionResponse{
		ID: t.ID, Gateway: t.Gateway, TxnID: t.TxnID, Status: string(t.Status), Type: string(t.Type),
		Amount: t.Amount, Currency: t.Currency, InvoiceID: t.InvoiceID,
	})
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transactionID")
	if err := s.payUC.Reprocess(r.Context(), adminFrom(r.Context()), id); err != nil {
		metrics.IncAdminAction("reprocess", "error")
		s.fail(w, r, err)
		return
	}
	metrics.IncAdminAction("reprocess", "ok")
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "transaction_id": id})
}

// fail shows admins the real error text; they are trusted with gateway details.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := api.StatusFor(err)
	if code >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("admin request failed")
	}
	api.WriteJSON(w, code, map[string]string{"error": err.Error(), "trace_id": logging.TraceIDFrom(r.Context())})
}
