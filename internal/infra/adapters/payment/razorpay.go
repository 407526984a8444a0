package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
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
	_ adapter.PaymentAdapter = (*Razorpay)(nil)
	_ adapter.StatusFetcher  = (*Razorpay)(nil)
)

var razorpaySchema = model.GatewayConfig{
	Name:        "Razorpay",
	Title:       "Razorpay",
	Description: "Razorpay orders paid through the hosted checkout.",
	Fields: []model.CredentialField{
		{Name: "key_id", Type: model.FieldText, Label: "Key ID", Required: true},
		{Name: "key_secret", Type: model.FieldPassword, Label: "Key secret", Required: true, Secret: true},
		{Name: "webhook_secret", Type: model.FieldPassword, Label: "Webhook secret", Secret: true},
	},
	Capabilities: model.Capabilities{
		SupportsOneTime:     true,
		SupportsRefunds:     true,
		SupportedCurrencies: []string{"INR", "USD", "EUR", "GBP", "SGD", "AED", "AUD", "CAD", "CHF", "HKD", "MYR", "SAR"},
	},
	Logo: model.Logo{File: "razorpay.png", Height: "30px", Width: "65px"},
}

var razorpayStatuses = map[string]model.TransactionStatus{
	"captured": model.TransactionStatusProcessed,
}

type Razorpay struct {
	base
}

func NewRazorpay(cfg adapter.AdapterConfig) (*Razorpay, error) {
	b, err := newBase(razorpaySchema, cfg, "https://api.razorpay.com", "")
	if err != nil {
		return nil, err
	}
	return &Razorpay{base: b}, nil
}

// MapStatus only trusts captured; authorized, failed and the rest stay received.
func (r *Razorpay) MapStatus(status string) model.TransactionStatus {
	return lookupStatus(razorpayStatuses, status)
}

func (r *Razorpay) auth() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(r.cred("key_id")+":"+r.cred("key_secret"))))
	return h
}

type razorpayPayment struct {
	ID       string        `json:"id"`
	Status   string        `json:"status"`
	Amount   int64         `json:"amount"`
	Currency string        `json:"currency"`
	OrderID  string        `json:"order_id"`
	Notes    razorpayNotes `json:"notes"`
}

// razorpayNotes tolerates Razorpay sending an empty array instead of an object.
type razorpayNotes map[string]string

func (n *razorpayNotes) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		*n = razorpayNotes{}
		return nil
	}
	out := make(razorpayNotes, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	*n = out
	return nil
}

func (r *Razorpay) BuildPaymentRequest(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	if err := r.checkInvoice(inv); err != nil {
		return nil, err
	}
	intent := r.newIntent(inv, pc)
	id := strconv.FormatInt(inv.ID, 10)
	body := map[string]any{
		"amount":   intent.Amount,
		"currency": intent.Currency,
		"receipt":  "inv_" + id,
		"notes": map[string]string{
			"invoice_id": id,
			"client_id":  strconv.FormatInt(inv.ClientID, 10),
		},
	}
	var order struct {
		ID string `json:"id"`
	}
	if err := r.doJSON(ctx, apiRequest{op: "create_order", method: http.MethodPost, url: r.endpoint("/v1/orders"), header: r.auth()}, body, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, &domain.GatewayUnavailableError{Gateway: r.schema.Name, Op: "create_order", Body: "missing order id"}
	}

	intent.GatewayReference = order.ID
	intent.RedirectURL = r.endpoint("/v1/checkout/embedded")
	intent.RedirectMethod = http.MethodPost
	intent.FormFields = map[string]string{
		"key_id":             r.cred("key_id"),
		"order_id":           order.ID,
		"amount":             strconv.FormatInt(intent.Amount, 10),
		"currency":           intent.Currency,
		"name":               inv.Number(),
		"description":        intent.Description,
		"callback_url":       intent.NotifyURL,
		"cancel_url":         intent.CancelURL,
		"prefill[name]":      inv.Buyer.FullName(),
		"prefill[email]":     inv.Buyer.Email,
		"notes[invoice_id]":  id,
		"notes[invoice_num]": inv.Number(),
	}
	return intent, nil
}

// VerifyCallback handles the checkout POST-back (signed order_id|payment_id)
// and signed webhooks (X-Razorpay-Signature over the raw body).
func (r *Razorpay) VerifyCallback(ctx context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error) {
	paymentID := env.Form.Get("razorpay_payment_id")
	orderID := env.Form.Get("razorpay_order_id")
	sig := env.Form.Get("razorpay_signature")
	if paymentID != "" || orderID != "" || sig != "" {
		if paymentID == "" || orderID == "" || sig == "" {
			return nil, r.verificationFailed("incomplete checkout response", nil)
		}
		if !signature.VerifyHMACSHA256Hex([]byte(r.cred("key_secret")), []byte(orderID+"|"+paymentID), sig) {
			return nil, r.verificationFailed("invalid razorpay_signature", nil)
		}
		p, err := r.fetchPayment(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if p.OrderID != orderID {
			return nil, r.verificationFailed("payment does not belong to order", nil)
		}
		return r.verified(ctx, env, p)
	}
	return r.verifyWebhook(ctx, env)
}

func (r *Razorpay) verifyWebhook(ctx context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error) {
	secret := r.cred("webhook_secret")
	if secret == "" {
		return nil, r.verificationFailed("webhook secret not configured", nil)
	}
	sig := env.Headers.Get("X-Razorpay-Signature")
	if sig == "" {
		return nil, r.verificationFailed("missing X-Razorpay-Signature", nil)
	}
	if !signature.VerifyHMACSHA256Hex([]byte(secret), env.RawBody, sig) {
		return nil, r.verificationFailed("invalid signature", nil)
	}
	var ev struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity razorpayPayment `json:"entity"`
			} `json:"payment"`
			Order struct {
				Entity struct {
					Notes razorpayNotes `json:"notes"`
				} `json:"entity"`
			} `json:"order"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(env.RawBody, &ev); err != nil {
		return nil, r.verificationFailed("malformed webhook body", err)
	}
	p := ev.Payload.Payment.Entity
	if p.ID == "" {
		return nil, r.verificationFailed("unsupported event "+ev.Event, nil)
	}
	if p.Notes["invoice_id"] == "" && ev.Payload.Order.Entity.Notes["invoice_id"] != "" {
		if p.Notes == nil {
			p.Notes = razorpayNotes{}
		}
		p.Notes["invoice_id"] = ev.Payload.Order.Entity.Notes["invoice_id"]
	}
	return r.verified(ctx, env, &p)
}

func (r *Razorpay) fetchPayment(ctx context.Context, id string) (*razorpayPayment, error) {
	var p razorpayPayment
	req := apiRequest{op: "fetch_payment", method: http.MethodGet, url: r.endpoint("/v1/payments/" + url.PathEscape(id)), header: r.auth()}
	if err := r.doJSON(ctx, req, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// verified resolves the invoice from payment notes, then from the order's notes.
func (r *Razorpay) verified(ctx context.Context, env *model.CallbackEnvelope, p *razorpayPayment) (*model.VerifiedPayment, error) {
	invoiceRef := p.Notes["invoice_id"]
	if invoiceRef == "" && p.OrderID != "" {
		var order struct {
			Notes razorpayNotes `json:"notes"`
		}
		req := apiRequest{op: "fetch_order", method: http.MethodGet, url: r.endpoint("/v1/orders/" + url.PathEscape(p.OrderID)), header: r.auth()}
		if err := r.doJSON(ctx, req, nil, &order); err != nil {
			return nil, err
		}
		invoiceRef = order.Notes["invoice_id"]
	}
	return &model.VerifiedPayment{
		TxnID:         p.ID,
		GatewayStatus: p.Status,
		Amount:        p.Amount,
		Currency:      strings.ToUpper(p.Currency),
		InvoiceID:     firstInvoiceID(env, invoiceRef),
		Type:          model.TransactionTypePayment,
	}, nil
}

func (r *Razorpay) FetchStatus(ctx context.Context, tx *model.Transaction) (*model.VerifiedPayment, error) {
	p, err := r.fetchPayment(ctx, tx.TxnID)
	if err != nil {
		return nil, err
	}
	vp, err := r.verified(ctx, nil, p)
	if err != nil {
		return nil, err
	}
	if vp.InvoiceID == nil {
		vp.InvoiceID = tx.InvoiceID
	}
	return vp, nil
}

func (r *Razorpay) Refund(ctx context.Context, tx *model.Transaction, amount int64, reason string) (*model.RefundResult, error) {
	if tx.TxnID == "" {
		return nil, domain.ErrInvalidArgument
	}
	body := map[string]any{}
	if amount > 0 {
		body["amount"] = amount
	}
	if reason != "" {
		body["notes"] = map[string]string{"reason": reason}
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	req := apiRequest{op: "refund", method: http.MethodPost, url: r.endpoint("/v1/payments/" + url.PathEscape(tx.TxnID) + "/refund"), header: r.auth()}
	if err := r.doJSON(ctx, req, body, &out); err != nil {
		return nil, err
	}
	return &model.RefundResult{RefundID: out.ID, Status: out.Status}, nil
}
