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
	"billing-gateway/internal/infra/payment/signature"
)

var (
	_ adapter.PaymentAdapter = (*CoinGate)(nil)
	_ adapter.StatusFetcher  = (*CoinGate)(nil)
)

var coingateSchema = model.GatewayConfig{
	Name:        "CoinGate",
	Title:       "CoinGate",
	Description: "Cryptocurrency checkout through CoinGate orders.",
	Fields: []model.CredentialField{
		{Name: "api_key", Type: model.FieldPassword, Label: "API auth token", Required: true, Secret: true},
		{Name: "api_secret", Type: model.FieldPassword, Label: "Callback secret", Required: true, Secret: true},
		{Name: "app_id", Type: model.FieldText, Label: "App ID", Required: true},
	},
	Capabilities: model.Capabilities{
		SupportsOneTime:     true,
		SupportedCurrencies: []string{"EUR", "USD", "GBP", "CAD", "AUD", "CHF", "PLN", "CZK", "SEK", "NOK", "DKK", "JPY"},
	},
	Logo: model.Logo{File: "coingate.png", Height: "30px", Width: "85px"},
}

var coingateStatuses = map[string]model.TransactionStatus{
	"paid":       model.TransactionStatusProcessed,
	"confirmed":  model.TransactionStatusProcessed,
	"new":        model.TransactionStatusReceived,
	"pending":    model.TransactionStatusReceived,
	"confirming": model.TransactionStatusReceived,
	"invalid":    model.TransactionStatusError,
	"expired":    model.TransactionStatusError,
	"canceled":   model.TransactionStatusError,
}

type CoinGate struct {
	base
}

func NewCoinGate(cfg adapter.AdapterConfig) (*CoinGate, error) {
	b, err := newBase(coingateSchema, cfg, "https://api.coingate.com", "https://api-sandbox.coingate.com")
	if err != nil {
		return nil, err
	}
	return &CoinGate{base: b}, nil
}

func (c *CoinGate) MapStatus(status string) model.TransactionStatus {
	return lookupStatus(coingateStatuses, status)
}

func (c *CoinGate) auth() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token "+c.cred("api_key"))
	return h
}

type coingateOrder struct {
	ID            json.RawMessage `json:"id"`
	OrderID       json.RawMessage `json:"order_id"`
	Status        string          `json:"status"`
	PriceAmount   json.RawMessage `json:"price_amount"`
	PriceCurrency string          `json:"price_currency"`
	PaymentURL    string          `json:"payment_url"`
}

func (c *CoinGate) BuildPaymentRequest(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	if err := c.checkInvoice(inv); err != nil {
		return nil, err
	}
	intent := c.newIntent(inv, pc)
	body := map[string]string{
		"order_id":         strconv.FormatInt(inv.ID, 10),
		"price_amount":     amountString(intent.Amount, intent.Currency),
		"price_currency":   intent.Currency,
		"receive_currency": intent.Currency,
		"callback_url":     intent.NotifyURL,
		"cancel_url":       intent.CancelURL,
		"success_url":      intent.ReturnURL,
		"title":            intent.Description,
		"description":      intent.Description,
	}
	var order coingateOrder
	req := apiRequest{op: "create_order", method: http.MethodPost, url: c.endpoint("/v2/orders"), header: c.auth()}
	if err := c.doJSON(ctx, req, body, &order); err != nil {
		return nil, err
	}
	if order.PaymentURL == "" {
		return nil, &domain.GatewayUnavailableError{Gateway: c.schema.Name, Op: "create_order", Body: "missing payment_url"}
	}
	intent.RedirectURL = order.PaymentURL
	intent.GatewayReference = scalarString(order.ID)
	return intent, nil
}

// VerifyCallback checks CG-Signature over the raw body. CoinGate posts either
// JSON or a urlencoded form; both carry the same fields.
func (c *CoinGate) VerifyCallback(_ context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error) {
	sig := env.Headers.Get("CG-Signature")
	if sig == "" {
		return nil, c.verificationFailed("missing CG-Signature", nil)
	}
	if !signature.VerifyHMACSHA256Hex([]byte(c.cred("api_secret")), env.RawBody, sig) {
		return nil, c.verificationFailed("invalid signature", nil)
	}

	var id, orderRef, status, amount, currency string
	var order coingateOrder
	if err := json.Unmarshal(env.RawBody, &order); err == nil {
		id, orderRef, status = scalarString(order.ID), scalarString(order.OrderID), order.Status
		amount, currency = scalarString(order.PriceAmount), order.PriceCurrency
	} else {
		form, perr := url.ParseQuery(string(env.RawBody))
		if perr != nil {
			return nil, c.verificationFailed("malformed callback body", perr)
		}
		id, orderRef, status = form.Get("id"), form.Get("order_id"), form.Get("status")
		amount, currency = form.Get("price_amount"), form.Get("price_currency")
	}
	if id == "" {
		return nil, c.verificationFailed("callback without order id", nil)
	}
	return c.verified(env, id, orderRef, status, amount, currency)
}

func (c *CoinGate) verified(env *model.CallbackEnvelope, id, orderRef, status, amount, currency string) (*model.VerifiedPayment, error) {
	currency = strings.ToUpper(currency)
	minor, err := model.ToMinorUnits(amount, currency)
	if err != nil {
		return nil, c.verificationFailed("invalid price_amount", err)
	}
	return &model.VerifiedPayment{
		TxnID:         id,
		GatewayStatus: status,
		Amount:        minor,
		Currency:      currency,
		InvoiceID:     firstInvoiceID(env, orderRef),
		Type:          model.TransactionTypePayment,
	}, nil
}

func (c *CoinGate) FetchStatus(ctx context.Context, tx *model.Transaction) (*model.VerifiedPayment, error) {
	var order coingateOrder
	req := apiRequest{op: "fetch_order", method: http.MethodGet, url: c.endpoint("/v2/orders/" + url.PathEscape(tx.TxnID)), header: c.auth()}
	if err := c.doJSON(ctx, req, nil, &order); err != nil {
		return nil, err
	}
	vp, err := c.verified(nil, scalarString(order.ID), scalarString(order.OrderID), order.Status, scalarString(order.PriceAmount), order.PriceCurrency)
	if err != nil {
		return nil, err
	}
	if vp.InvoiceID == nil {
		vp.InvoiceID = tx.InvoiceID
	}
	return vp, nil
}
