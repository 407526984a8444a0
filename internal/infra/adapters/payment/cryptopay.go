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

var _ adapter.PaymentAdapter = (*CryptoPay)(nil)

var cryptopaySchema = model.GatewayConfig{
	Name:        "CryptoPay",
	Title:       "CryptoPay",
	Description: "Cryptocurrency invoices through CryptoPay.",
	Fields: []model.CredentialField{
		{Name: "api_key", Type: model.FieldText, Label: "API key", Required: true},
		{Name: "api_secret", Type: model.FieldPassword, Label: "API secret", Required: true, Secret: true},
		{Name: "pay_currency", Type: model.FieldSelect, Label: "Preferred cryptocurrency", Options: []string{"BTC", "ETH", "LTC", "USDT", "USDC"}},
	},
	Capabilities: model.Capabilities{
		SupportsOneTime:     true,
		SupportedCurrencies: []string{"EUR", "USD", "GBP", "UAH", "PLN", "CHF"},
	},
	Logo: model.Logo{File: "cryptopay.png", Height: "30px", Width: "85px"},
}

var cryptopayStatuses = map[string]model.TransactionStatus{
	"paid":      model.TransactionStatusProcessed,
	"confirmed": model.TransactionStatusProcessed,
	"pending":   model.TransactionStatusReceived,
	"expired":   model.TransactionStatusError,
	"failed":    model.TransactionStatusError,
	"cancelled": model.TransactionStatusError,
}

type CryptoPay struct {
	base
	payCurrency string
}

func NewCryptoPay(cfg adapter.AdapterConfig) (*CryptoPay, error) {
	b, err := newBase(cryptopaySchema, cfg, "https://cryptopay.me/api", "https://business-sandbox.cryptopay.me/api")
	if err != nil {
		return nil, err
	}
	pay := b.cred("pay_currency")
	if pay == "" {
		pay = "BTC"
	}
	return &CryptoPay{base: b, payCurrency: pay}, nil
}

func (c *CryptoPay) MapStatus(status string) model.TransactionStatus {
	return lookupStatus(cryptopayStatuses, status)
}

// authorization is "HMAC <api_key>:hex(HMAC-SHA256(endpoint+body, api_secret))".
func (c *CryptoPay) authorization(endpoint string, body []byte) string {
	sig := signature.HMACSHA256Hex([]byte(c.cred("api_secret")), append([]byte(endpoint), body...))
	return "HMAC " + c.cred("api_key") + ":" + sig
}

func (c *CryptoPay) BuildPaymentRequest(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	if err := c.checkInvoice(inv); err != nil {
		return nil, err
	}
	intent := c.newIntent(inv, pc)
	body, err := json.Marshal(map[string]string{
		"price_amount":         amountString(intent.Amount, intent.Currency),
		"price_currency":       intent.Currency,
		"pay_currency":         c.payCurrency,
		"order_id":             strconv.FormatInt(inv.ID, 10),
		"order_description":    intent.Description,
		"ipn_callback_url":     intent.NotifyURL,
		"success_callback_url": intent.ReturnURL,
		"cancel_callback_url":  intent.CancelURL,
	})
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", c.authorization("createinvoice", body))

	raw, _, err := c.do(ctx, apiRequest{op: "create_invoice", method: http.MethodPost, url: c.endpoint("/createinvoice"), header: h, body: body})
	if err != nil {
		return nil, err
	}
	var out struct {
		InvoiceID  json.RawMessage `json:"invoice_id"`
		InvoiceURL string          `json:"invoice_url"`
	}
	if err := c.decode("create_invoice", raw, &out); err != nil {
		return nil, err
	}
	if out.InvoiceURL == "" {
		return nil, &domain.GatewayUnavailableError{Gateway: c.schema.Name, Op: "create_invoice", Body: "missing invoice_url"}
	}
	intent.RedirectURL = out.InvoiceURL
	intent.GatewayReference = scalarString(out.InvoiceID)
	return intent, nil
}

// VerifyCallback checks X-Crypto-Pay-Signature, an HMAC-SHA256 hex digest of the raw body.
func (c *CryptoPay) VerifyCallback(_ context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error) {
	sig := env.Headers.Get("X-Crypto-Pay-Signature")
	if sig == "" {
		return nil, c.verificationFailed("missing X-Crypto-Pay-Signature", nil)
	}
	if !signature.VerifyHMACSHA256Hex([]byte(c.cred("api_secret")), env.RawBody, sig) {
		return nil, c.verificationFailed("invalid signature", nil)
	}
	var payload struct {
		InvoiceID     json.RawMessage `json:"invoice_id"`
		OrderID       json.RawMessage `json:"order_id"`
		Status        string          `json:"status"`
		PriceAmount   json.RawMessage `json:"price_amount"`
		PriceCurrency string          `json:"price_currency"`
	}
	if err := json.Unmarshal(env.RawBody, &payload); err != nil {
		return nil, c.verificationFailed("malformed webhook body", err)
	}
	txnID := scalarString(payload.InvoiceID)
	if txnID == "" {
		return nil, c.verificationFailed("missing invoice_id", nil)
	}
	currency := strings.ToUpper(payload.PriceCurrency)
	amount, err := model.ToMinorUnits(scalarString(payload.PriceAmount), currency)
	if err != nil {
		return nil, c.verificationFailed("invalid price_amount", err)
	}
	return &model.VerifiedPayment{
		TxnID:         txnID,
		GatewayStatus: payload.Status,
		Amount:        amount,
		Currency:      currency,
		InvoiceID:     firstInvoiceID(env, scalarString(payload.OrderID)),
		Type:          model.TransactionTypePayment,
	}, nil
}
