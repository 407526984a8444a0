//go:build !integration

package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
)

// validCredentials satisfies every required field of each schema.
var validCredentials = map[string]map[string]string{
	"Stripe":         {"api_key": "sk_live_x", "pub_key": "pk_live_x"},
	"PayPalCheckout": {"client_id": "cid", "client_secret": "csecret"},
	"Coinbase":       {"api_key": "cb_key", "webhook_secret": "cb_whsec"},
	"Rapyd":          {"access_key": "rak", "secret_key": "rsk"},
	"Razorpay":       {"key_id": "rzp_test_1", "key_secret": "rzp_secret", "webhook_secret": "rzp_whsec"},
	"PayU":           {"pos_id": "300746", "second_key": "b6ca15b0d1020e8094d9b5f8d163db54", "oauth_client_id": "300746", "oauth_client_secret": "2ee86a66e5d97e3fadc400c9f19b065d"},
	"TrustPay":       {"project_id": "4107111111", "secret": "tp_secret"},
	"CoinGate":       {"api_key": "cg_key", "api_secret": "cg_secret", "app_id": "1234"},
	"CryptoPay":      {"api_key": "cp_key", "api_secret": "cp_secret"},
}

func findFactory(t *testing.T, name string) adapter.AdapterFactory {
	t.Helper()
	for _, f := range Factories() {
		if f.Name() == name {
			return f
		}
	}
	t.Fatalf("factory %s not registered", name)
	return nil
}

func TestFactories(t *testing.T) {
	t.Run("should register ten uniquely named gateways", func(t *testing.T) {
		seen := map[string]bool{}
		for _, f := range Factories() {
			if seen[strings.ToLower(f.Name())] {
				t.Errorf("duplicate gateway %s", f.Name())
			}
			seen[strings.ToLower(f.Name())] = true
			if f.Schema().Name != f.Name() {
				t.Errorf("%s: schema name %q differs", f.Name(), f.Schema().Name)
			}
			if !f.Schema().Capabilities.SupportsOneTime {
				t.Errorf("%s: one-time payments must be supported", f.Name())
			}
		}
		if len(seen) != 10 {
			t.Fatalf("expected 10 gateways, got %d", len(seen))
		}
	})

	t.Run("should report the first missing required field in declaration order", func(t *testing.T) {
		for _, f := range Factories() {
			a, err := f.New(adapter.AdapterConfig{Credentials: map[string]string{}})
			if a != nil {
				t.Errorf("%s: expected no adapter without credentials", f.Name())
			}
			var ce *domain.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("%s: expected ConfigurationError, got %v", f.Name(), err)
			}
			var first string
			for _, field := range f.Schema().Fields {
				if field.Required {
					first = field.Name
					break
				}
			}
			if ce.Field != first || ce.Gateway != f.Name() {
				t.Errorf("%s: expected missing %q, got %+v", f.Name(), first, ce)
			}
		}
	})

	t.Run("should name a later missing field once earlier ones are present", func(t *testing.T) {
		_, err := NewCoinGate(adapter.AdapterConfig{Credentials: map[string]string{"api_key": "k", "api_secret": "s"}})
		var ce *domain.ConfigurationError
		if !errors.As(err, &ce) || ce.Field != "app_id" {
			t.Fatalf("expected app_id to be reported, got %v", err)
		}
		if !strings.Contains(err.Error(), "app_id") {
			t.Errorf("message should name the field: %s", err)
		}
	})

	t.Run("should accept absent optional fields", func(t *testing.T) {
		for name, creds := range validCredentials {
			if _, err := findFactory(t, name).New(adapter.AdapterConfig{Credentials: creds}); err != nil {
				t.Errorf("%s: unexpected error %v", name, err)
			}
		}
	})

	t.Run("should reject a select value outside its options", func(t *testing.T) {
		creds := map[string]string{"client_id": "c", "client_secret": "s", "intent": "sale"}
		_, err := NewPayPal(adapter.AdapterConfig{Credentials: creds})
		var ce *domain.ConfigurationError
		if !errors.As(err, &ce) || ce.Field != "intent" {
			t.Fatalf("expected invalid intent, got %v", err)
		}
	})

	t.Run("should require test keys for Stripe in test mode", func(t *testing.T) {
		_, err := NewStripe(adapter.AdapterConfig{Credentials: validCredentials["Stripe"], TestMode: true})
		var ce *domain.ConfigurationError
		if !errors.As(err, &ce) || ce.Field != "test_api_key" {
			t.Fatalf("expected test_api_key to be reported, got %v", err)
		}
	})
}

func TestMapStatus(t *testing.T) {
	cases := map[string][]struct {
		status string
		want   model.TransactionStatus
	}{
		"Stripe": {
			{"succeeded", model.TransactionStatusProcessed},
			{"paid", model.TransactionStatusProcessed},
			{"requires_action", model.TransactionStatusReceived},
			{"processing", model.TransactionStatusReceived},
			{"canceled", model.TransactionStatusError},
		},
		"PayPalCheckout": {
			{"COMPLETED", model.TransactionStatusProcessed},
			{"APPROVED", model.TransactionStatusReceived},
			{"DECLINED", model.TransactionStatusError},
		},
		"Coinbase": {
			{"COMPLETED", model.TransactionStatusProcessed},
			{"RESOLVED", model.TransactionStatusProcessed},
			{"PENDING", model.TransactionStatusReceived},
			{"EXPIRED", model.TransactionStatusError},
		},
		"Rapyd": {
			{"CLO", model.TransactionStatusProcessed},
			{"ACT", model.TransactionStatusReceived},
			{"ERR", model.TransactionStatusError},
		},
		"Razorpay": {
			{"captured", model.TransactionStatusProcessed},
			{"authorized", model.TransactionStatusReceived},
			{"failed", model.TransactionStatusReceived},
		},
		"PayU": {
			{"COMPLETED", model.TransactionStatusProcessed},
			{"WAITING_FOR_CONFIRMATION", model.TransactionStatusReceived},
			{"CANCELED", model.TransactionStatusError},
		},
		"TrustPay": {
			{"paid", model.TransactionStatusProcessed},
			{"pending", model.TransactionStatusReceived},
			{"cancelled", model.TransactionStatusError},
		},
		"CoinGate": {
			{"paid", model.TransactionStatusProcessed},
			{"confirming", model.TransactionStatusReceived},
			{"invalid", model.TransactionStatusError},
		},
		"CryptoPay": {
			{"confirmed", model.TransactionStatusProcessed},
			{"pending", model.TransactionStatusReceived},
			{"expired", model.TransactionStatusError},
		},
	}

	for name, table := range cases {
		a, err := findFactory(t, name).New(adapter.AdapterConfig{Credentials: validCredentials[name]})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		t.Run("should map "+name+" statuses deterministically", func(t *testing.T) {
			for _, c := range table {
				for i := 0; i < 3; i++ {
					if got := a.MapStatus(c.status); got != c.want {
						t.Fatalf("%s: MapStatus(%q) = %s, want %s", name, c.status, got, c.want)
					}
				}
			}
		})
		t.Run("should map an unknown "+name+" status to received", func(t *testing.T) {
			for _, s := range []string{"", "totally_made_up", "SUCCEEDED_MAYBE"} {
				if got := a.MapStatus(s); got != model.TransactionStatusReceived {
					t.Errorf("%s: MapStatus(%q) = %s, want received", name, s, got)
				}
			}
		})
	}
}

func TestCapabilityGating(t *testing.T) {
	ctx := context.Background()
	tx := &model.Transaction{ID: "01HX", TxnID: "ref_1", Amount: 4999, Currency: "USD"}

	for _, name := range []string{"Coinbase", "CoinGate", "CryptoPay"} {
		t.Run("should refuse refunds on "+name+" without any HTTP call", func(t *testing.T) {
			srv := newGatewayServer(t, nil)
			a, err := findFactory(t, name).New(srv.config(validCredentials[name]))
			if err != nil {
				t.Fatal(err)
			}
			if a.Config().Capabilities.SupportsRefunds {
				t.Fatalf("%s should not advertise refunds", name)
			}
			_, err = a.Refund(ctx, tx, 100, "customer request")
			var uoe *domain.UnsupportedOperationError
			if !errors.As(err, &uoe) {
				t.Fatalf("expected UnsupportedOperationError, got %v", err)
			}
			if srv.hits.Load() != 0 {
				t.Errorf("expected zero gateway calls, got %d", srv.hits.Load())
			}
		})
	}

	t.Run("should refuse recurring operations on non-recurring gateways without any HTTP call", func(t *testing.T) {
		for name := range validCredentials {
			srv := newGatewayServer(t, nil)
			a, err := findFactory(t, name).New(srv.config(validCredentials[name]))
			if err != nil {
				t.Fatal(err)
			}
			if a.Config().Capabilities.SupportsRecurring {
				continue
			}
			var uoe *domain.UnsupportedOperationError
			if _, err := a.CreateRecurringProfile(ctx, testInvoice("USD"), testPaymentContext()); !errors.As(err, &uoe) {
				t.Errorf("%s create: expected UnsupportedOperationError, got %v", name, err)
			}
			if err := a.CancelRecurringProfile(ctx, "sub_1"); !errors.As(err, &uoe) {
				t.Errorf("%s cancel: expected UnsupportedOperationError, got %v", name, err)
			}
			if err := a.UpdateRecurringProfile(ctx, "sub_1", 100); !errors.As(err, &uoe) {
				t.Errorf("%s update: expected UnsupportedOperationError, got %v", name, err)
			}
			if srv.hits.Load() != 0 {
				t.Errorf("%s: expected zero gateway calls, got %d", name, srv.hits.Load())
			}
		}
	})

	t.Run("should reject an unsupported invoice currency before calling the gateway", func(t *testing.T) {
		srv := newGatewayServer(t, nil)
		a, err := NewRazorpay(srv.config(validCredentials["Razorpay"]))
		if err != nil {
			t.Fatal(err)
		}
		_, err = a.BuildPaymentRequest(ctx, testInvoice("XAF"), testPaymentContext())
		var ce *domain.ConfigurationError
		if !errors.As(err, &ce) || ce.Field != "currency" {
			t.Fatalf("expected currency ConfigurationError, got %v", err)
		}
		if srv.hits.Load() != 0 {
			t.Errorf("expected zero gateway calls, got %d", srv.hits.Load())
		}
	})
}

func TestBaseHelpers(t *testing.T) {
	t.Run("should fall back to the callback invoice_id", func(t *testing.T) {
		env := &model.CallbackEnvelope{Query: map[string][]string{"invoice_id": {"17"}}}
		if id := firstInvoiceID(env, "", "abc", "-3"); id == nil || *id != 17 {
			t.Fatalf("expected 17, got %v", id)
		}
		if id := firstInvoiceID(env, "9"); id == nil || *id != 9 {
			t.Fatalf("expected payload reference to win, got %v", id)
		}
		if id := firstInvoiceID(nil, ""); id != nil {
			t.Fatalf("expected nil, got %d", *id)
		}
	})

	t.Run("should append raw query values", func(t *testing.T) {
		got := withQuery("https://x.test/ipn/1?invoice_id=2", "session_id", "{CHECKOUT_SESSION_ID}")
		if got != "https://x.test/ipn/1?invoice_id=2&session_id={CHECKOUT_SESSION_ID}" {
			t.Fatalf("unexpected url %s", got)
		}
	})

	t.Run("should surface a non-2xx response as GatewayUnavailableError", func(t *testing.T) {
		srv := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream"})
		})
		a, err := NewCoinbase(srv.config(validCredentials["Coinbase"]))
		if err != nil {
			t.Fatal(err)
		}
		_, err = a.BuildPaymentRequest(context.Background(), testInvoice("USD"), testPaymentContext())
		var gue *domain.GatewayUnavailableError
		if !errors.As(err, &gue) {
			t.Fatalf("expected GatewayUnavailableError, got %v", err)
		}
		if gue.StatusCode != http.StatusBadGateway || !strings.Contains(gue.Body, "upstream") {
			t.Errorf("expected status and body to be kept, got %+v", gue)
		}
		if domain.PublicMessage(err) != domain.PublicPaymentError {
			t.Errorf("public message leaked details: %s", domain.PublicMessage(err))
		}
	})
}
