package api

import (
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/infra/logging"
	"billing-gateway/internal/infra/metrics"
	red "billing-gateway/internal/infra/redis"
	"billing-gateway/internal/usecase"
)

const maxCallbackBody = 1 << 20

// Server exposes the public payment routes: the pay page and gateway callbacks.
type Server struct {
	payUC   usecase.PaymentUseCase
	limiter Limiter
	ipnRate int
	log     *zerolog.Logger
}

// NewServer builds the public routes. limiter may be nil to disable
// per-source throttling of callbacks.
func NewServer(payUC usecase.PaymentUseCase, limiter Limiter, ipnPerMinute int, logger *zerolog.Logger) *Server {
	if ipnPerMinute <= 0 {
		ipnPerMinute = 120
	}
	return &Server{payUC: payUC, limiter: limiter, ipnRate: ipnPerMinute, log: logger}
}

// Register attaches handlers to r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/invoice/{hash}/pay/{gatewayID}", s.handlePay)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(RateLimit(s.limiter, s.ipnRate, time.Minute, func(r *http.Request) string {
				return red.CallbackKey(chi.URLParam(r, "gatewayID"), ClientIP(r))
			}, s.log))
		}
		r.Get("/ipn/{gatewayID}", s.handleIPN)
		r.Post("/ipn/{gatewayID}", s.handleIPN)
	})
}

func pathInt(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return v, err == nil && v > 0
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	gatewayID, ok := pathInt(r, "gatewayID")
	hash := chi.URLParam(r, "hash")
	if !ok || hash == "" {
		http.NotFound(w, r)
		return
	}
	subscription := r.URL.Query().Get("subscription") == "1"
	html, err := s.payUC.GetPayPage(r.Context(), gatewayID, hash, subscription)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, html)
}

// envelope captures the callback exactly as received; signature checks run
// over RawBody.
func envelope(r *http.Request) (model.CallbackEnvelope, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		return model.CallbackEnvelope{}, err
	}
	env := model.CallbackEnvelope{
		RawBody: body,
		Headers: r.Header.Clone(),
		Query:   r.URL.Query(),
	}
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/x-www-form-urlencoded" {
		if form, err := url.ParseQuery(string(body)); err == nil {
			env.Form = form
		}
	}
	return env, nil
}

// fail logs the full error under the request's trace id and answers with
// the public text only.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	l := logging.With(r.Context(), s.log)
	if StatusFor(err) >= http.StatusInternalServerError {
		l.Error().Err(err).Str("path", r.URL.Path).Msg("payment request failed")
	} else {
		l.Warn().Err(err).Str("path", r.URL.Path).Msg("payment request rejected")
	}
	WriteError(w, err, logging.TraceIDFrom(r.Context()))
}

func (s *Server) handleIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gatewayID, ok := pathInt(r, "gatewayID")
	if !ok {
		http.NotFound(w, r)
		return
	}
	env, err := envelope(r)
	if err != nil {
		s.fail(w, r, domain.ErrInvalidArgument)
		return
	}
	var invoiceID *int64
	if v, err := strconv.ParseInt(env.Query.Get("invoice_id"), 10, 64); err == nil && v > 0 {
		invoiceID = &v
	}

	tx, err := s.payUC.RecordCallback(ctx, gatewayID, invoiceID, env)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	r = r.WithContext(logging.WithTransactionID(ctx, tx.ID))
	err = s.payUC.ProcessTransaction(r.Context(), usecase.AdminContext{IP: ClientIP(r)}, tx.ID, env, gatewayID)
	if env.Query.Get(model.BrowserReturnParam) == "1" && invoiceID != nil && s.returnToInvoice(w, r, *invoiceID, err) {
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "transaction_id": tx.ID})
}

// returnToInvoice sends a payer's browser back to the invoice page once the
// gateway hands it over. It reports false when the invoice cannot be found.
func (s *Server) returnToInvoice(w http.ResponseWriter, r *http.Request, invoiceID int64, processErr error) bool {
	target, err := s.payUC.ReturnURL(r.Context(), invoiceID)
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Int64("invoice_id", invoiceID).Msg("no return page for payer")
		return false
	}
	if processErr != nil {
		logging.With(r.Context(), s.log).Warn().Err(processErr).Msg("payer returned but callback not applied")
		target += "?status=failed"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
	return true
}
