package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
	"billing-gateway/internal/infra/payment/signature"
)

var (
	_ adapter.PaymentAdapter = (*PayPal)(nil)
	_ adapter.StatusFetcher  = (*PayPal)(nil)
)

var paypalSchema = model.GatewayConfig{
	Name:        "PayPalCheckout",
	Title:       "PayPal",
	Description: "PayPal Checkout orders with server-side capture.",
	Fields: []model.CredentialField{
		{Name: "client_id", Type: model.FieldText, Label: "Client ID", Required: true},
		{Name: "client_secret", Type: model.FieldPassword, Label: "Client secret", Required: true, Secret: true},
		{Name: "environment", Type: model.FieldSelect, Label: "Environment", Options: []string{"sandbox", "live"}},
		{Name: "intent", Type: model.FieldSelect, Label: "Intent", Options: []string{"capture", "authorize"}},
	},
	Capabilities: model.Capabilities{
		SupportsOneTime: true,
		SupportsRefunds: true,
		SupportedCurrencies: []string{
			"AUD", "BRL", "CAD", "CNY", "CZK", "DKK", "EUR", "HKD", "HUF", "ILS", "JPY", "MYR",
			"MXN", "TWD", "NZD", "NOK", "PHP", "PLN", "GBP", "SGD", "SEK", "CHF", "THB", "USD",
		},
	},
	Logo: model.Logo{File: "paypal.png", Height: "30px", Width: "65px"},
}

var paypalStatuses = map[string]model.TransactionStatus{
	"completed": model.TransactionStatusProcessed,
	"captured":  model.TransactionStatusProcessed,
	"pending":   model.TransactionStatusReceived,
	"approved":  model.TransactionStatusReceived,
	"created":   model.TransactionStatusReceived,
	"declined":  model.TransactionStatusError,
	"denied":    model.TransactionStatusError,
	"failed":    model.TransactionStatusError,
	"voided":    model.TransactionStatusError,
}

// PayPal creates Checkout orders and captures them when the payer returns.
// The capture id is the transaction reference so the return and the
// PAYMENT.CAPTURE.* webhook land on the same txn id.
type PayPal struct {
	base
	intent string
}

func NewPayPal(cfg adapter.AdapterConfig) (*PayPal, error) {
	if cfg.Credentials["environment"] == "sandbox" {
		cfg.TestMode = true
	}
	b, err := newBase(paypalSchema, cfg, "https://api-m.paypal.com", "https://api-m.sandbox.paypal.com")
	if err != nil {
		return nil, err
	}
	intent := b.cred("intent")
	if intent == "" {
		intent = "capture"
	}
	return &PayPal{base: b, intent: intent}, nil
}

func (p *PayPal) MapStatus(status string) model.TransactionStatus {
	return lookupStatus(paypalStatuses, status)
}

func (p *PayPal) auth(ctx context.Context) (http.Header, error) {
	cc := signature.ClientCredentials{
		TokenURL:     p.endpoint("/v1/oauth2/token"),
		ClientID:     p.cred("client_id"),
		ClientSecret: p.cred("client_secret"),
	}
	tok, err := cc.Token(ctx, p.client)
	if err != nil {
		return nil, p.tokenError(err)
	}
	return bearer(tok.AccessToken), nil
}

type paypalAmount struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

type paypalPayment struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	Amount   paypalAmount `json:"amount"`
	CustomID string       `json:"custom_id"`
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string       `json:"reference_id"`
		CustomID    string       `json:"custom_id"`
		Amount      paypalAmount `json:"amount"`
		Payments    struct {
			Captures       []paypalPayment `json:"captures"`
			Authorizations []paypalPayment `json:"authorizations"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

func (p *PayPal) BuildPaymentRequest(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	if err := p.checkInvoice(inv); err != nil {
		return nil, err
	}
	intent := p.newIntent(inv, pc)
	h, err := p.auth(ctx)
	if err != nil {
		return nil, err
	}
	id := strconv.FormatInt(inv.ID, 10)
	body := map[string]any{
		"intent": strings.ToUpper(p.intent),
		"purchase_units": []map[string]any{{
			"reference_id": "invoice_" + id,
			"custom_id":    id,
			"description":  intent.Description,
			"amount": paypalAmount{
				Value:        amountString(intent.Amount, intent.Currency),
				CurrencyCode: intent.Currency,
			},
		}},
		"application_context": map[string]string{
			"landing_page": "BILLING",
			"user_action":  "PAY_NOW",
			"return_url":   withQuery(intent.NotifyURL, model.BrowserReturnParam, "1"),
			"cancel_url":   intent.CancelURL,
		},
	}
	var order paypalOrder
	if err := p.doJSON(ctx, apiRequest{op: "create_order", method: http.MethodPost, url: p.endpoint("/v2/checkout/orders"), header: h}, body, &order); err != nil {
		return nil, err
	}
	for _, l := range order.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			intent.RedirectURL = l.Href
		}
	}
	if intent.RedirectURL == "" {
		return nil, &domain.GatewayUnavailableError{Gateway: p.schema.Name, Op: "create_order", Body: "missing approve link"}
	}
	intent.GatewayReference = order.ID
	return intent, nil
}

// VerifyCallback handles the payer's return (token / orderID) by capturing the
// order, and webhooks by re-reading the referenced resource from PayPal.
func (p *PayPal) VerifyCallback(ctx context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error) {
	orderID := env.Query.Get("token")
	if orderID == "" {
		orderID = env.Param("orderID")
	}
	if orderID != "" {
		order, err := p.settleOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return p.fromOrder(env, order)
	}

	if len(env.RawBody) == 0 {
		return nil, p.verificationFailed("no order reference", nil)
	}
	var ev struct {
		EventType string `json:"event_type"`
		Resource  struct {
			ID string `json:"id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(env.RawBody, &ev); err != nil {
		return nil, p.verificationFailed("malformed webhook body", err)
	}
	if ev.Resource.ID == "" {
		return nil, p.verificationFailed("webhook without resource id", nil)
	}
	switch {
	case strings.HasPrefix(ev.EventType, "PAYMENT.CAPTURE."):
		cp, err := p.fetchCapture(ctx, ev.Resource.ID)
		if err != nil {
			return nil, err
		}
		return p.fromPayment(env, cp)
	case strings.HasPrefix(ev.EventType, "CHECKOUT.ORDER."):
		order, err := p.fetchOrder(ctx, ev.Resource.ID)
		if err != nil {
			return nil, err
		}
		return p.fromOrder(env, order)
	}
	return nil, p.verificationFailed("unsupported event "+ev.EventType, nil)
}

// settleOrder captures (or authorizes) the order; an order that was already
// captured is read back instead.
func (p *PayPal) settleOrder(ctx context.Context, orderID string) (*paypalOrder, error) {
	h, err := p.auth(ctx)
	if err != nil {
		return nil, err
	}
	h.Set("Content-Type", "application/json")
	h.Set("PayPal-Request-Id", "settle-"+orderID)
	raw, _, err := p.do(ctx, apiRequest{
		op:     p.intent,
		method: http.MethodPost,
		url:    p.endpoint("/v2/checkout/orders/" + url.PathEscape(orderID) + "/" + p.intent),
		header: h,
		body:   []byte("{}"),
	})
	if err != nil {
		var gue *domain.GatewayUnavailableError
		if errors.As(err, &gue) && gue.StatusCode == http.StatusUnprocessableEntity && strings.Contains(gue.Body, "ORDER_ALREADY_") {
			return p.fetchOrder(ctx, orderID)
		}
		return nil, err
	}
	var order paypalOrder
	if err := p.decode(p.intent, raw, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (p *PayPal) fetchOrder(ctx context.Context, orderID string) (*paypalOrder, error) {
	h, err := p.auth(ctx)
	if err != nil {
		return nil, err
	}
	var order paypalOrder
	if err := p.doJSON(ctx, apiRequest{op: "fetch_order", method: http.MethodGet, url: p.endpoint("/v2/checkout/orders/" + url.PathEscape(orderID)), header: h}, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (p *PayPal) fetchCapture(ctx context.Context, captureID string) (*paypalPayment, error) {
	h, err := p.auth(ctx)
	if err != nil {
		return nil, err
	}
	var cp paypalPayment
	if err := p.doJSON(ctx, apiRequest{op: "fetch_capture", method: http.MethodGet, url: p.endpoint("/v2/payments/captures/" + url.PathEscape(captureID)), header: h}, nil, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (p *PayPal) fromOrder(env *model.CallbackEnvelope, order *paypalOrder) (*model.VerifiedPayment, error) {
	if len(order.PurchaseUnits) == 0 {
		return nil, p.verificationFailed("order has no purchase units", nil)
	}
	pu := order.PurchaseUnits[0]
	invoiceID := firstInvoiceID(env, pu.CustomID, strings.TrimPrefix(pu.ReferenceID, "invoice_"))

	var pay *paypalPayment
	switch {
	case len(pu.Payments.Captures) > 0:
		pay = &pu.Payments.Captures[0]
	case len(pu.Payments.Authorizations) > 0:
		pay = &pu.Payments.Authorizations[0]
	default:
		pay = &paypalPayment{ID: order.ID, Status: order.Status, Amount: pu.Amount}
	}
	if pay.Amount.CurrencyCode == "" {
		pay.Amount = pu.Amount
	}
	vp, err := p.fromPayment(env, pay)
	if err != nil {
		return nil, err
	}
	if invoiceID != nil {
		vp.InvoiceID = invoiceID
	}
	return vp, nil
}

func (p *PayPal) fromPayment(env *model.CallbackEnvelope, pay *paypalPayment) (*model.VerifiedPayment, error) {
	amount, err := model.ToMinorUnits(pay.Amount.Value, pay.Amount.CurrencyCode)
	if err != nil {
		return nil, p.verificationFailed("invalid amount", err)
	}
	return &model.VerifiedPayment{
		TxnID:         pay.ID,
		GatewayStatus: pay.Status,
		Amount:        amount,
		Currency:      strings.ToUpper(pay.Amount.CurrencyCode),
		InvoiceID:     firstInvoiceID(env, pay.CustomID),
		Type:          model.TransactionTypePayment,
	}, nil
}

func (p *PayPal) FetchStatus(ctx context.Context, tx *model.Transaction) (*model.VerifiedPayment, error) {
	cp, err := p.fetchCapture(ctx, tx.TxnID)
	if err != nil {
		return nil, err
	}
	vp, err := p.fromPayment(nil, cp)
	if err != nil {
		return nil, err
	}
	if vp.InvoiceID == nil {
		vp.InvoiceID = tx.InvoiceID
	}
	return vp, nil
}

// Refund refunds a capture; amount 0 refunds it in full.
func (p *PayPal) Refund(ctx context.Context, tx *model.Transaction, amount int64, reason string) (*model.RefundResult, error) {
	if tx.TxnID == "" {
		return nil, domain.ErrInvalidArgument
	}
	h, err := p.auth(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]any{}
	if amount > 0 {
		body["amount"] = paypalAmount{Value: amountString(amount, tx.Currency), CurrencyCode: tx.Currency}
	}
	if reason != "" {
		body["note_to_payer"] = reason
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	req := apiRequest{op: "refund", method: http.MethodPost, url: p.endpoint("/v2/payments/captures/" + url.PathEscape(tx.TxnID) + "/refund"), header: h}
	if err := p.doJSON(ctx, req, body, &out); err != nil {
		return nil, err
	}
	return &model.RefundResult{RefundID: out.ID, Status: out.Status}, nil
}
