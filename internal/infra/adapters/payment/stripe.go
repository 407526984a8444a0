package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
)

var (
	_ adapter.PaymentAdapter = (*Stripe)(nil)
	_ adapter.StatusFetcher  = (*Stripe)(nil)
)

var stripeSchema = model.GatewayConfig{
	Name:        "Stripe",
	Title:       "Stripe",
	Description: "Card payments through Stripe Checkout with server-side PaymentIntent confirmation.",
	Fields: []model.CredentialField{
		{Name: "api_key", Type: model.FieldPassword, Label: "Live secret key", Required: true, Secret: true},
		{Name: "pub_key", Type: model.FieldText, Label: "Live publishable key", Required: true},
		{Name: "test_api_key", Type: model.FieldPassword, Label: "Test secret key", Secret: true},
		{Name: "test_pub_key", Type: model.FieldText, Label: "Test publishable key"},
	},
	Capabilities: model.Capabilities{
		SupportsOneTime:   true,
		SupportsRecurring: true,
		SupportsRefunds:   true,
		SupportedCurrencies: []string{
			"USD", "EUR", "GBP", "AUD", "CAD", "CHF", "CZK", "DKK", "HKD", "HUF", "JPY", "KRW",
			"MXN", "NOK", "NZD", "PLN", "RON", "SEK", "SGD", "BRL", "INR", "MYR", "THB", "ZAR",
		},
	},
	Logo: model.Logo{File: "stripe.png", Height: "30px", Width: "65px"},
}

var stripeStatuses = map[string]model.TransactionStatus{
	"succeeded":               model.TransactionStatusProcessed,
	"paid":                    model.TransactionStatusProcessed,
	"chargeable":              model.TransactionStatusProcessed,
	"consumed":                model.TransactionStatusProcessed,
	"pending":                 model.TransactionStatusReceived,
	"processing":              model.TransactionStatusReceived,
	"unpaid":                  model.TransactionStatusReceived,
	"requires_payment_method": model.TransactionStatusReceived,
	"requires_confirmation":   model.TransactionStatusReceived,
	"requires_action":         model.TransactionStatusReceived,
	"requires_capture":        model.TransactionStatusReceived,
	"failed":                  model.TransactionStatusError,
	"canceled":                model.TransactionStatusError,
}

// Stripe talks to the Stripe REST API with a bearer secret key.
// Callbacks carry only object ids; every status is re-read from Stripe.
type Stripe struct {
	base
	apiKey string
	pubKey string
}

func NewStripe(cfg adapter.AdapterConfig) (*Stripe, error) {
	b, err := newBase(stripeSchema, cfg, "https://api.stripe.com", "")
	if err != nil {
		return nil, err
	}
	s := &Stripe{base: b, apiKey: b.cred("api_key"), pubKey: b.cred("pub_key")}
	if cfg.TestMode {
		for _, f := range []string{"test_api_key", "test_pub_key"} {
			if b.cred(f) == "" {
				return nil, &domain.ConfigurationError{Gateway: stripeSchema.Name, Field: f}
			}
		}
		s.apiKey, s.pubKey = b.cred("test_api_key"), b.cred("test_pub_key")
	}
	return s, nil
}

func (s *Stripe) MapStatus(status string) model.TransactionStatus {
	return lookupStatus(stripeStatuses, status)
}

type stripeSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     string            `json:"payment_intent"`
	Subscription      string            `json:"subscription"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type stripePaymentIntent struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

func (s *Stripe) form(ctx context.Context, op, method, path string, values url.Values, out any) error {
	h := bearer(s.apiKey)
	var body []byte
	if values != nil {
		h.Set("Content-Type", "application/x-www-form-urlencoded")
		body = []byte(values.Encode())
	}
	raw, _, err := s.do(ctx, apiRequest{op: op, method: method, url: s.endpoint(path), header: h, body: body})
	if err != nil {
		return err
	}
	return s.decode(op, raw, out)
}

func (s *Stripe) checkoutValues(intent *model.PaymentIntentRequest, inv *model.Invoice, mode string) url.Values {
	id := strconv.FormatInt(inv.ID, 10)
	v := url.Values{}
	v.Set("mode", mode)
	v.Set("success_url", withQuery(intent.NotifyURL, model.BrowserReturnParam, "1", "session_id", "{CHECKOUT_SESSION_ID}"))
	v.Set("cancel_url", intent.CancelURL)
	v.Set("client_reference_id", id)
	v.Set("metadata[invoice_id]", id)
	if inv.Buyer.Email != "" {
		v.Set("customer_email", inv.Buyer.Email)
	}
	v.Set("line_items[0][quantity]", "1")
	v.Set("line_items[0][price_data][currency]", strings.ToLower(intent.Currency))
	v.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(intent.Amount, 10))
	v.Set("line_items[0][price_data][product_data][name]", intent.Description)
	if mode == "payment" {
		v.Set("payment_intent_data[description]", intent.Description)
		v.Set("payment_intent_data[metadata][invoice_id]", id)
	}
	return v
}

func (s *Stripe) BuildPaymentRequest(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	if err := s.checkInvoice(inv); err != nil {
		return nil, err
	}
	intent := s.newIntent(inv, pc)

	var sess stripeSession
	if err := s.form(ctx, "create_session", http.MethodPost, "/v1/checkout/sessions", s.checkoutValues(intent, inv, "payment"), &sess); err != nil {
		return nil, err
	}
	if sess.URL == "" {
		return nil, &domain.GatewayUnavailableError{Gateway: s.schema.Name, Op: "create_session", Body: "missing session url"}
	}
	intent.RedirectURL = sess.URL
	intent.GatewayReference = sess.ID
	intent.Metadata["publishable_key"] = s.pubKey
	return intent, nil
}

// VerifyCallback accepts a Checkout return (session_id), a 3-D Secure return
// (payment_intent) or an event webhook, and confirms each against the API.
func (s *Stripe) VerifyCallback(ctx context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error) {
	if id := env.Param("session_id"); id != "" {
		return s.fromSession(ctx, env, id)
	}
	if id := env.Param("payment_intent"); id != "" {
		return s.fromPaymentIntent(ctx, env, id)
	}
	if len(env.RawBody) > 0 {
		var ev struct {
			Type string `json:"type"`
			Data struct {
				Object struct {
					ID     string `json:"id"`
					Object string `json:"object"`
				} `json:"object"`
			} `json:"data"`
		}
		if err := json.Unmarshal(env.RawBody, &ev); err != nil {
			return nil, s.verificationFailed("malformed event body", err)
		}
		switch ev.Data.Object.Object {
		case "checkout.session":
			return s.fromSession(ctx, env, ev.Data.Object.ID)
		case "payment_intent":
			return s.fromPaymentIntent(ctx, env, ev.Data.Object.ID)
		}
		return nil, s.verificationFailed("unsupported event "+ev.Type, nil)
	}
	return nil, s.verificationFailed("no session or payment intent reference", nil)
}

func (s *Stripe) fromSession(ctx context.Context, env *model.CallbackEnvelope, id string) (*model.VerifiedPayment, error) {
	if !strings.HasPrefix(id, "cs_") {
		return nil, s.verificationFailed("invalid checkout session id", nil)
	}
	var sess stripeSession
	if err := s.form(ctx, "fetch_session", http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(id), nil, &sess); err != nil {
		return nil, err
	}
	invoiceID := firstInvoiceID(env, sess.ClientReferenceID, sess.Metadata["invoice_id"])
	if sess.PaymentIntent != "" {
		vp, err := s.fromPaymentIntent(ctx, env, sess.PaymentIntent)
		if err != nil {
			return nil, err
		}
		if invoiceID != nil {
			vp.InvoiceID = invoiceID
		}
		return vp, nil
	}
	vp := &model.VerifiedPayment{
		TxnID:         sess.ID,
		GatewayStatus: sess.PaymentStatus,
		Amount:        sess.AmountTotal,
		Currency:      strings.ToUpper(sess.Currency),
		InvoiceID:     invoiceID,
		Type:          model.TransactionTypePayment,
	}
	if sess.Mode == "subscription" {
		vp.Type = model.TransactionTypeSubscription
		if sess.Subscription != "" {
			vp.TxnID = sess.Subscription
		}
	}
	return vp, nil
}

func (s *Stripe) fromPaymentIntent(ctx context.Context, env *model.CallbackEnvelope, id string) (*model.VerifiedPayment, error) {
	if !strings.HasPrefix(id, "pi_") {
		return nil, s.verificationFailed("invalid payment intent id", nil)
	}
	var pi stripePaymentIntent
	if err := s.form(ctx, "fetch_payment_intent", http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), nil, &pi); err != nil {
		return nil, err
	}
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}
	return &model.VerifiedPayment{
		TxnID:         pi.ID,
		GatewayStatus: pi.Status,
		Amount:        amount,
		Currency:      strings.ToUpper(pi.Currency),
		InvoiceID:     firstInvoiceID(env, pi.Metadata["invoice_id"]),
		Type:          model.TransactionTypePayment,
	}, nil
}

func (s *Stripe) FetchStatus(ctx context.Context, tx *model.Transaction) (*model.VerifiedPayment, error) {
	env := &model.CallbackEnvelope{}
	var (
		vp  *model.VerifiedPayment
		err error
	)
	switch {
	case strings.HasPrefix(tx.TxnID, "pi_"):
		vp, err = s.fromPaymentIntent(ctx, env, tx.TxnID)
	case strings.HasPrefix(tx.TxnID, "cs_"):
		vp, err = s.fromSession(ctx, env, tx.TxnID)
	default:
		return nil, s.unsupported("status lookup for " + tx.TxnID)
	}
	if err != nil {
		return nil, err
	}
	if vp.InvoiceID == nil {
		vp.InvoiceID = tx.InvoiceID
	}
	return vp, nil
}

func (s *Stripe) Refund(ctx context.Context, tx *model.Transaction, amount int64, reason string) (*model.RefundResult, error) {
	if !strings.HasPrefix(tx.TxnID, "pi_") {
		return nil, &domain.UnsupportedOperationError{Gateway: s.schema.Name, Operation: "refund of " + tx.TxnID}
	}
	v := url.Values{}
	v.Set("payment_intent", tx.TxnID)
	if amount > 0 {
		v.Set("amount", strconv.FormatInt(amount, 10))
	}
	v.Set("reason", "requested_by_customer")
	if reason != "" {
		v.Set("metadata[reason]", reason)
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := s.form(ctx, "refund", http.MethodPost, "/v1/refunds", v, &out); err != nil {
		return nil, err
	}
	s.log.Info().Str("txn_id", tx.TxnID).Str("refund_id", out.ID).Int64("amount", amount).Msg("refund issued")
	return &model.RefundResult{RefundID: out.ID, Status: out.Status}, nil
}

// CreateRecurringProfile opens a Checkout session in subscription mode.
func (s *Stripe) CreateRecurringProfile(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	if err := s.checkInvoice(inv); err != nil {
		return nil, err
	}
	intent := s.newIntent(inv, pc)
	interval := pc.Interval
	if interval == "" {
		interval = "month"
	}
	v := s.checkoutValues(intent, inv, "subscription")
	v.Set("line_items[0][price_data][recurring][interval]", interval)
	v.Set("subscription_data[metadata][invoice_id]", strconv.FormatInt(inv.ID, 10))

	var sess stripeSession
	if err := s.form(ctx, "create_subscription", http.MethodPost, "/v1/checkout/sessions", v, &sess); err != nil {
		return nil, err
	}
	intent.RedirectURL = sess.URL
	intent.GatewayReference = sess.ID
	return intent, nil
}

func (s *Stripe) CancelRecurringProfile(ctx context.Context, profileID string) error {
	if !strings.HasPrefix(profileID, "sub_") {
		return domain.ErrInvalidArgument
	}
	return s.form(ctx, "cancel_subscription", http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(profileID), nil, nil)
}

// UpdateRecurringProfile replaces the price of the subscription's first item.
func (s *Stripe) UpdateRecurringProfile(ctx context.Context, profileID string, amount int64) error {
	if !strings.HasPrefix(profileID, "sub_") || amount <= 0 {
		return domain.ErrInvalidArgument
	}
	var sub struct {
		Items struct {
			Data []struct {
				ID    string `json:"id"`
				Price struct {
					Currency  string `json:"currency"`
					Product   string `json:"product"`
					Recurring struct {
						Interval string `json:"interval"`
					} `json:"recurring"`
				} `json:"price"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := s.form(ctx, "fetch_subscription", http.MethodGet, "/v1/subscriptions/"+url.PathEscape(profileID), nil, &sub); err != nil {
		return err
	}
	if len(sub.Items.Data) == 0 {
		return &domain.GatewayUnavailableError{Gateway: s.schema.Name, Op: "fetch_subscription", Body: "subscription has no items"}
	}
	item := sub.Items.Data[0]
	v := url.Values{}
	v.Set("items[0][id]", item.ID)
	v.Set("items[0][price_data][currency]", item.Price.Currency)
	v.Set("items[0][price_data][product]", item.Price.Product)
	v.Set("items[0][price_data][unit_amount]", strconv.FormatInt(amount, 10))
	v.Set("items[0][price_data][recurring][interval]", item.Price.Recurring.Interval)
	v.Set("proration_behavior", "none")
	return s.form(ctx, "update_subscription", http.MethodPost, "/v1/subscriptions/"+url.PathEscape(profileID), v, nil)
}
