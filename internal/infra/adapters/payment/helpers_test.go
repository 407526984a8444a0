//go:build !integration

package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// gatewayServer fakes a remote gateway API and counts every request it sees.
type gatewayServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newGatewayServer(t *testing.T, h http.HandlerFunc) *gatewayServer {
	t.Helper()
	gs := &gatewayServer{}
	gs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gs.hits.Add(1)
		if h == nil {
			t.Errorf("unexpected gateway call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		h(w, r)
	}))
	t.Cleanup(gs.Close)
	return gs
}

func (gs *gatewayServer) config(creds map[string]string) adapter.AdapterConfig {
	return adapter.AdapterConfig{
		Credentials: creds,
		BaseURL:     gs.URL,
		HTTPClient:  gs.Client(),
		Logger:      newTestLogger(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// testInvoice is invoice FOSS00042 for 49.99 in the given currency.
func testInvoice(currency string) *model.Invoice {
	return &model.Invoice{
		ID:       42,
		ClientID: 7,
		Serie:    "FOSS",
		Nr:       42,
		Currency: currency,
		Status:   model.InvoiceStatusUnpaid,
		Buyer:    model.Buyer{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Country: "PL"},
		Items:    []model.InvoiceItem{{Title: "Hosting", Price: 4999, Quantity: 1}},
	}
}

func testPaymentContext() model.PaymentContext {
	return model.PaymentContext{
		ReturnURL: "https://billing.example.com/invoice/abc",
		CancelURL: "https://billing.example.com/invoice/abc?cancel=1",
		NotifyURL: "https://billing.example.com/ipn/3?invoice_id=42",
		ClientIP:  "203.0.113.9",
	}
}

func signedHeaders(name, value string) http.Header {
	h := http.Header{}
	h.Set(name, value)
	return h
}

func assertUnavailable(t *testing.T, err error) {
	t.Helper()
	var ue *domain.GatewayUnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected GatewayUnavailableError, got %v", err)
	}
}
