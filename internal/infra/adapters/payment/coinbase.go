package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
	"billing-gateway/internal/infra/payment/signature"
)

var _ adapter.PaymentAdapter = (*Coinbase)(nil)

var coinbaseSchema = model.GatewayConfig{
	Name:        "Coinbase",
	Title:       "Coinbase Commerce",
	Description: "Cryptocurrency payments through Coinbase Commerce hosted charges.",
	Fields: []model.CredentialField{
		{Name: "api_key", Type: model.FieldPassword, Label: "API key", Required: true, Secret: true},
		{Name: "webhook_secret", Type: model.FieldPassword, Label: "Webhook shared secret", Required: true, Secret: true},
	},
	Capabilities: model.Capabilities{
		SupportsOneTime:     true,
		SupportedCurrencies: []string{"USD", "EUR", "GBP", "CAD", "AUD", "CHF", "JPY", "SGD"},
	},
	Logo: model.Logo{File: "coinbase.png", Height: "30px", Width: "65px"},
}

var coinbaseStatuses = map[string]model.TransactionStatus{
	"completed": model.TransactionStatusProcessed,
	"resolved":  model.TransactionStatusProcessed,
	"new":       model.TransactionStatusReceived,
	"pending":   model.TransactionStatusReceived,
	"expired":   model.TransactionStatusError,
	"canceled":  model.TransactionStatusError,
}

var (
	coinbaseSettledEvents   = []string{"charge:confirmed", "charge:resolved"}
	coinbaseSettledStatuses = []string{"COMPLETED", "RESOLVED"}
)

const coinbaseAPIVersion = "2018-03-22"

type Coinbase struct {
	base
}

func NewCoinbase(cfg adapter.AdapterConfig) (*Coinbase, error) {
	b, err := newBase(coinbaseSchema, cfg, "https://api.commerce.coinbase.com", "")
	if err != nil {
		return nil, err
	}
	return &Coinbase{base: b}, nil
}

func (c *Coinbase) MapStatus(status string) model.TransactionStatus {
	return lookupStatus(coinbaseStatuses, status)
}

type coinbaseCharge struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	HostedURL string `json:"hosted_url"`
	Timeline  []struct {
		Status string `json:"status"`
	} `json:"timeline"`
	Pricing struct {
		Local struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"local"`
	} `json:"pricing"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

func (ch *coinbaseCharge) lastStatus() string {
	if len(ch.Timeline) == 0 {
		return ""
	}
	return ch.Timeline[len(ch.Timeline)-1].Status
}

func (ch *coinbaseCharge) metadataInvoiceID() string {
	return scalarString(ch.Metadata["invoice_id"])
}

func (c *Coinbase) BuildPaymentRequest(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	if err := c.checkInvoice(inv); err != nil {
		return nil, err
	}
	intent := c.newIntent(inv, pc)
	h := http.Header{}
	h.Set("X-CC-Api-Key", c.cred("api_key"))
	h.Set("X-CC-Version", coinbaseAPIVersion)
	body := map[string]any{
		"name":         intent.Description,
		"description":  intent.Description,
		"pricing_type": "fixed_price",
		"local_price": map[string]string{
			"amount":   amountString(intent.Amount, intent.Currency),
			"currency": intent.Currency,
		},
		"metadata": map[string]string{
			"invoice_id":     strconv.FormatInt(inv.ID, 10),
			"invoice_number": inv.Number(),
		},
		"redirect_url": intent.ReturnURL,
		"cancel_url":   intent.CancelURL,
	}
	var out struct {
		Data coinbaseCharge `json:"data"`
	}
	if err := c.doJSON(ctx, apiRequest{op: "create_charge", method: http.MethodPost, url: c.endpoint("/charges"), header: h}, body, &out); err != nil {
		return nil, err
	}
	if out.Data.HostedURL == "" {
		return nil, &domain.GatewayUnavailableError{Gateway: c.schema.Name, Op: "create_charge", Body: "missing hosted_url"}
	}
	intent.RedirectURL = out.Data.HostedURL
	intent.GatewayReference = out.Data.ID
	return intent, nil
}

// VerifyCallback authenticates a Commerce webhook by HMAC over the raw body.
// Only settled charge events whose last timeline entry is COMPLETED or
// RESOLVED are accepted.
func (c *Coinbase) VerifyCallback(_ context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error) {
	sig := env.Headers.Get("X-CC-Webhook-Signature")
	if sig == "" {
		return nil, c.verificationFailed("missing X-CC-Webhook-Signature", nil)
	}
	if !signature.VerifyHMACSHA256Hex([]byte(c.cred("webhook_secret")), env.RawBody, sig) {
		return nil, c.verificationFailed("invalid signature", nil)
	}

	var payload struct {
		Event *struct {
			Type string         `json:"type"`
			Data coinbaseCharge `json:"data"`
		} `json:"event"`
		Type string         `json:"type"`
		Data coinbaseCharge `json:"data"`
	}
	if err := json.Unmarshal(env.RawBody, &payload); err != nil {
		return nil, c.verificationFailed("malformed webhook body", err)
	}
	evType, charge := payload.Type, payload.Data
	if payload.Event != nil {
		evType, charge = payload.Event.Type, payload.Event.Data
	}
	if !contains(coinbaseSettledEvents, evType) {
		return nil, c.verificationFailed("unsupported event "+evType, nil)
	}
	if charge.ID == "" {
		return nil, c.verificationFailed("charge without id", nil)
	}
	if status := charge.lastStatus(); !contains(coinbaseSettledStatuses, status) {
		return nil, c.verificationFailed("charge not settled: "+status, nil)
	}

	currency := strings.ToUpper(charge.Pricing.Local.Currency)
	amount, err := model.ToMinorUnits(charge.Pricing.Local.Amount, currency)
	if err != nil {
		return nil, c.verificationFailed("invalid local amount", err)
	}
	return &model.VerifiedPayment{
		TxnID:         charge.ID,
		GatewayStatus: charge.lastStatus(),
		Amount:        amount,
		Currency:      currency,
		InvoiceID:     firstInvoiceID(env, charge.metadataInvoiceID()),
		Type:          model.TransactionTypePayment,
	}, nil
}
