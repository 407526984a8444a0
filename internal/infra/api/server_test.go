//go:build !integration

package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/infra/api"
	"billing-gateway/internal/usecase"
)

// mockPaymentUC records calls and delegates to optional hooks.
type mockPaymentUC struct {
	usecase.PaymentUseCase

	GetPayPageFunc         func(ctx context.Context, gatewayID int64, invoiceHash string, subscription bool) (string, error)
	ReturnURLFunc          func(ctx context.Context, invoiceID int64) (string, error)
	RecordCallbackFunc     func(ctx context.Context, gatewayID int64, invoiceID *int64, env model.CallbackEnvelope) (*model.Transaction, error)
	ProcessTransactionFunc func(ctx context.Context, admin usecase.AdminContext, transactionID string, env model.CallbackEnvelope, gatewayID int64) error
}

func (m *mockPaymentUC) GetPayPage(ctx context.Context, gatewayID int64, invoiceHash string, subscription bool) (string, error) {
	return m.GetPayPageFunc(ctx, gatewayID, invoiceHash, subscription)
}

func (m *mockPaymentUC) ReturnURL(ctx context.Context, invoiceID int64) (string, error) {
	if m.ReturnURLFunc != nil {
		return m.ReturnURLFunc(ctx, invoiceID)
	}
	return "", domain.ErrNotFound
}

func (m *mockPaymentUC) RecordCallback(ctx context.Context, gatewayID int64, invoiceID *int64, env model.CallbackEnvelope) (*model.Transaction, error) {
	if m.RecordCallbackFunc != nil {
		return m.RecordCallbackFunc(ctx, gatewayID, invoiceID, env)
	}
	return &model.Transaction{ID: "01HTX", GatewayID: gatewayID, InvoiceID: invoiceID}, nil
}

func (m *mockPaymentUC) ProcessTransaction(ctx context.Context, admin usecase.AdminContext, transactionID string, env model.CallbackEnvelope, gatewayID int64) error {
	if m.ProcessTransactionFunc != nil {
		return m.ProcessTransactionFunc(ctx, admin, transactionID, env, gatewayID)
	}
	return nil
}

type mockLimiter struct {
	allowed int
	keys    []string
	err     error
}

func (m *mockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.keys = append(m.keys, key)
	if m.err != nil {
		return false, m.err
	}
	m.allowed++
	return m.allowed <= limit, nil
}

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func newRouter(uc usecase.PaymentUseCase, limiter api.Limiter, rate int) http.Handler {
	r := chi.NewRouter()
	log := newTestLogger()
	api.NewServer(uc, limiter, rate, log).Register(r)
	// httptest requests come from 192.0.2.1.
	proxies, _ := api.ParseTrustedProxies([]string{"192.0.2.0/24", "10.0.0.0/8"})
	return api.Chain(r, api.RealIP(proxies), api.TraceID(log), api.Recover(log))
}

func TestServer_IPN(t *testing.T) {
	t.Run("should record the raw callback and process it", func(t *testing.T) {
		// --- Arrange ---
		var recorded model.CallbackEnvelope
		var gotInvoice *int64
		var processedID string
		uc := &mockPaymentUC{
			RecordCallbackFunc: func(ctx context.Context, gatewayID int64, invoiceID *int64, env model.CallbackEnvelope) (*model.Transaction, error) {
				recorded, gotInvoice = env, invoiceID
				return &model.Transaction{ID: "01HTX", GatewayID: gatewayID}, nil
			},
			ProcessTransactionFunc: func(ctx context.Context, admin usecase.AdminContext, id string, env model.CallbackEnvelope, gatewayID int64) error {
				processedID = id
				if admin.IsAdmin() || admin.IP != "203.0.113.7" {
					t.Errorf("callbacks run as guests from the caller IP, got %+v", admin)
				}
				return nil
			},
		}
		body := `{"id":"evt_1","type":"charge:confirmed"}`
		req := httptest.NewRequest(http.MethodPost, "/ipn/3?invoice_id=42", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-CC-Webhook-Signature", "abc")
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()

		// --- Act ---
		newRouter(uc, nil, 0).ServeHTTP(rec, req)

		// --- Assert ---
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if string(recorded.RawBody) != body || recorded.Headers.Get("X-CC-Webhook-Signature") != "abc" {
			t.Errorf("raw callback not preserved: %+v", recorded)
		}
		if gotInvoice == nil || *gotInvoice != 42 {
			t.Errorf("expected invoice 42, got %v", gotInvoice)
		}
		if processedID != "01HTX" {
			t.Errorf("expected the recorded transaction to be processed, got %q", processedID)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("expected a trace id header")
		}
	})

	t.Run("should parse form callbacks", func(t *testing.T) {
		var form string
		uc := &mockPaymentUC{ProcessTransactionFunc: func(ctx context.Context, _ usecase.AdminContext, _ string, env model.CallbackEnvelope, _ int64) error {
			form = env.Form.Get("razorpay_payment_id")
			return nil
		}}
		req := httptest.NewRequest(http.MethodPost, "/ipn/5", strings.NewReader("razorpay_payment_id=pay_1&razorpay_order_id=order_1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
		rec := httptest.NewRecorder()
		newRouter(uc, nil, 0).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || form != "pay_1" {
			t.Fatalf("expected form to be parsed, got %d %q", rec.Code, form)
		}
	})

	t.Run("should map domain errors to status codes", func(t *testing.T) {
		cases := []struct {
			name string
			err  error
			code int
		}{
			{"bad signature", &domain.VerificationError{Gateway: "Coinbase", Reason: "signature mismatch"}, http.StatusBadRequest},
			{"needs review", &domain.ReconciliationError{TransactionID: "01HTX", Reason: "invoice not found"}, http.StatusUnprocessableEntity},
			{"being processed", domain.ErrLockNotAcquired, http.StatusConflict},
			{"gateway down", &domain.GatewayUnavailableError{Gateway: "Stripe", Op: "retrieve", StatusCode: 502, Body: "sk_live"}, http.StatusServiceUnavailable},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				uc := &mockPaymentUC{ProcessTransactionFunc: func(context.Context, usecase.AdminContext, string, model.CallbackEnvelope, int64) error {
					return tc.err
				}}
				rec := httptest.NewRecorder()
				newRouter(uc, nil, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ipn/3", strings.NewReader("{}")))
				if rec.Code != tc.code {
					t.Fatalf("expected %d, got %d", tc.code, rec.Code)
				}
				if strings.Contains(rec.Body.String(), "sk_live") {
					t.Error("gateway response bodies must not leak")
				}
			})
		}
	})

	t.Run("should not reveal why a callback was rejected", func(t *testing.T) {
		// --- Arrange ---
		uc := &mockPaymentUC{ProcessTransactionFunc: func(context.Context, usecase.AdminContext, string, model.CallbackEnvelope, int64) error {
			return &domain.VerificationError{Gateway: "Alipay", Reason: "invalid signature", Err: errors.New("crypto/rsa: verification error")}
		}}
		req := httptest.NewRequest(http.MethodPost, "/ipn/4?invoice_id=42", strings.NewReader("sign=forged&out_trade_no=42"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()

		// --- Act ---
		newRouter(uc, nil, 0).ServeHTTP(rec, req)

		// --- Assert ---
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		body := rec.Body.String()
		for _, secret := range []string{"signature", "crypto/rsa", "verification", "Alipay"} {
			if strings.Contains(body, secret) {
				t.Errorf("response must not mention %q: %s", secret, body)
			}
		}
		var decoded map[string]string
		_ = json.Unmarshal([]byte(body), &decoded)
		if decoded["error"] != domain.PublicPaymentError || decoded["trace_id"] == "" {
			t.Errorf("expected the generic message with a trace id, got %v", decoded)
		}
	})

	t.Run("should send a returning payer back to the invoice", func(t *testing.T) {
		// --- Arrange ---
		failing := false
		uc := &mockPaymentUC{
			ProcessTransactionFunc: func(context.Context, usecase.AdminContext, string, model.CallbackEnvelope, int64) error {
				if failing {
					return &domain.VerificationError{Gateway: "Stripe", Reason: "session not paid"}
				}
				return nil
			},
			ReturnURLFunc: func(ctx context.Context, invoiceID int64) (string, error) {
				if invoiceID != 42 {
					t.Errorf("unexpected invoice %d", invoiceID)
				}
				return "https://billing.example.com/invoice/c0ffee", nil
			},
		}
		h := newRouter(uc, nil, 0)
		target := "/ipn/3?invoice_id=42&" + model.BrowserReturnParam + "=1&session_id=cs_1"

		// --- Act ---
		ok := httptest.NewRecorder()
		h.ServeHTTP(ok, httptest.NewRequest(http.MethodGet, target, nil))
		failing = true
		failed := httptest.NewRecorder()
		h.ServeHTTP(failed, httptest.NewRequest(http.MethodGet, target, nil))

		// --- Assert ---
		if ok.Code != http.StatusSeeOther || ok.Header().Get("Location") != "https://billing.example.com/invoice/c0ffee" {
			t.Errorf("unexpected return %d %q", ok.Code, ok.Header().Get("Location"))
		}
		if failed.Code != http.StatusSeeOther || failed.Header().Get("Location") != "https://billing.example.com/invoice/c0ffee?status=failed" {
			t.Errorf("unexpected failed return %d %q", failed.Code, failed.Header().Get("Location"))
		}
		if strings.Contains(failed.Body.String(), "session not paid") {
			t.Error("redirect body must not carry the reason")
		}
	})

	t.Run("should return 404 for an unknown gateway", func(t *testing.T) {
		uc := &mockPaymentUC{RecordCallbackFunc: func(context.Context, int64, *int64, model.CallbackEnvelope) (*model.Transaction, error) {
			return nil, domain.ErrNotFound
		}}
		rec := httptest.NewRecorder()
		newRouter(uc, nil, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ipn/99", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		rec = httptest.NewRecorder()
		newRouter(uc, nil, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ipn/stripe", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for a non numeric id, got %d", rec.Code)
		}
	})

	t.Run("should not let forged forwarding headers dodge the limit", func(t *testing.T) {
		limiter := &mockLimiter{}
		h := newRouter(&mockPaymentUC{}, limiter, 1)
		codes := make([]int, 2)
		for i, spoofed := range []string{"198.18.0.1", "198.18.0.2"} {
			req := httptest.NewRequest(http.MethodPost, "/ipn/3", strings.NewReader("{}"))
			req.RemoteAddr = "198.51.100.9:4242"
			req.Header.Set("X-Forwarded-For", spoofed)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}
		if codes[1] != http.StatusTooManyRequests || limiter.keys[1] != "rate_limit:ipn:3:198.51.100.9" {
			t.Errorf("expected the peer to be limited, got %v %v", codes, limiter.keys)
		}
	})

	t.Run("should throttle callbacks per gateway and source", func(t *testing.T) {
		limiter := &mockLimiter{}
		h := newRouter(&mockPaymentUC{}, limiter, 2)
		codes := make([]int, 3)
		for i := range codes {
			req := httptest.NewRequest(http.MethodPost, "/ipn/3", strings.NewReader("{}"))
			req.RemoteAddr = "198.51.100.9:4242"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}
		if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
			t.Errorf("unexpected codes %v", codes)
		}
		if limiter.keys[0] != "rate_limit:ipn:3:198.51.100.9" {
			t.Errorf("unexpected limiter key %q", limiter.keys[0])
		}
	})

	t.Run("should fail open when the limiter is down", func(t *testing.T) {
		h := newRouter(&mockPaymentUC{}, &mockLimiter{err: errors.New("redis down")}, 1)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ipn/3", strings.NewReader("{}")))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}

func TestServer_Pay(t *testing.T) {
	byHash := func(gotGateway *int64, gotHash *string, sub *bool) *mockPaymentUC {
		return &mockPaymentUC{GetPayPageFunc: func(ctx context.Context, gatewayID int64, invoiceHash string, subscription bool) (string, error) {
			*gotGateway, *gotHash, *sub = gatewayID, invoiceHash, subscription
			if invoiceHash != "c0ffee" {
				return "", domain.ErrNotFound
			}
			return "<html>pay</html>", nil
		}}
	}

	t.Run("should render the payment page for the payer", func(t *testing.T) {
		var gotGateway int64
		var gotHash string
		var sub bool
		rec := httptest.NewRecorder()
		newRouter(byHash(&gotGateway, &gotHash, &sub), nil, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoice/c0ffee/pay/3?subscription=1", nil))

		if rec.Code != http.StatusOK || rec.Body.String() != "<html>pay</html>" {
			t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
		}
		if gotGateway != 3 || gotHash != "c0ffee" || !sub {
			t.Errorf("unexpected arguments %d %s %v", gotGateway, gotHash, sub)
		}
		if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
			t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
		}
	})

	t.Run("should not serve invoices by sequential id", func(t *testing.T) {
		var gotGateway int64
		var gotHash string
		var sub bool
		rec := httptest.NewRecorder()
		newRouter(byHash(&gotGateway, &gotHash, &sub), nil, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoice/42/pay/3", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		if gotHash != "42" {
			t.Errorf("the path segment must be looked up as a hash, got %q", gotHash)
		}
	})

	t.Run("should report a disabled gateway as a conflict", func(t *testing.T) {
		uc := &mockPaymentUC{GetPayPageFunc: func(context.Context, int64, string, bool) (string, error) {
			return "", domain.ErrGatewayDisabled
		}}
		rec := httptest.NewRecorder()
		newRouter(uc, nil, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoice/c0ffee/pay/3", nil))
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		var body map[string]string
		_ = json.NewDecoder(rec.Body).Decode(&body)
		if body["trace_id"] == "" {
			t.Error("error body must carry the trace id")
		}
	})
}

func TestServer_Health(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&mockPaymentUC{}, nil, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}
