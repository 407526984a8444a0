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

	"github.com/shopspring/decimal"
)

var _ adapter.PaymentAdapter = (*TrustPay)(nil)

var trustpaySchema = model.GatewayConfig{
	Name:        "TrustPay",
	Title:       "TrustPay",
	Description: "TrustPay card and bank transfer payments for European merchants.",
	Fields: []model.CredentialField{
		{Name: "project_id", Type: model.FieldText, Label: "Project ID", Required: true},
		{Name: "secret", Type: model.FieldPassword, Label: "Secret key", Required: true, Secret: true},
	},
	Capabilities: model.Capabilities{
		SupportsOneTime: true,
		SupportsRefunds: true,
		SupportedCurrencies: []string{
			"EUR", "USD", "GBP", "CZK", "HUF", "PLN", "RON", "BGN", "DKK", "SEK",
			"NOK", "CHF", "TRY", "UAH", "ILS", "ZAR", "BRL", "MXN", "INR", "SGD", "HKD",
		},
	},
	Logo: model.Logo{File: "trustpay.png", Height: "30px", Width: "85px"},
}

var trustpayStatuses = map[string]model.TransactionStatus{
	"paid":      model.TransactionStatusProcessed,
	"completed": model.TransactionStatusProcessed,
	"pending":   model.TransactionStatusReceived,
	"failed":    model.TransactionStatusError,
	"cancelled": model.TransactionStatusError,
}

type TrustPay struct {
	base
}

func NewTrustPay(cfg adapter.AdapterConfig) (*TrustPay, error) {
	b, err := newBase(trustpaySchema, cfg, "https://trustpay.eu", "https://test.trustpay.eu")
	if err != nil {
		return nil, err
	}
	return &TrustPay{base: b}, nil
}

func (t *TrustPay) MapStatus(status string) model.TransactionStatus {
	return lookupStatus(trustpayStatuses, status)
}

// trustpayAmount renders the shortest decimal form: 4999 -> "49.99", 5000 -> "50".
func trustpayAmount(minor int64, currency string) string {
	return decimal.New(minor, -model.CurrencyExponent(currency)).String()
}

// requestSignature is HMAC-SHA256(amount+currency+order_id+project_id).
func (t *TrustPay) requestSignature(amount, currency, orderID string) string {
	return signature.HMACSHA256Hex([]byte(t.cred("secret")), []byte(amount+currency+orderID+t.cred("project_id")))
}

func (t *TrustPay) BuildPaymentRequest(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	if err := t.checkInvoice(inv); err != nil {
		return nil, err
	}
	intent := t.newIntent(inv, pc)
	orderID := strconv.FormatInt(inv.ID, 10)
	body := map[string]string{
		"amount":      amountString(intent.Amount, intent.Currency),
		"currency":    intent.Currency,
		"description": intent.Description,
		"merchant_id": t.cred("project_id"),
		"order_id":    orderID,
		"return_url":  intent.ReturnURL,
		"cancel_url":  intent.CancelURL,
		"notify_url":  intent.NotifyURL,
		"signature":   t.requestSignature(trustpayAmount(intent.Amount, intent.Currency), intent.Currency, orderID),
	}
	var out struct {
		RedirectURL string `json:"redirect_url"`
		PaymentID   string `json:"payment_id"`
	}
	req := apiRequest{op: "create_payment", method: http.MethodPost, url: t.endpoint("/api/payment"), header: bearer(t.cred("secret"))}
	if err := t.doJSON(ctx, req, body, &out); err != nil {
		return nil, err
	}
	if out.RedirectURL == "" {
		return nil, &domain.GatewayUnavailableError{Gateway: t.schema.Name, Op: "create_payment", Body: "missing redirect_url"}
	}
	intent.RedirectURL = out.RedirectURL
	intent.GatewayReference = out.PaymentID
	return intent, nil
}

// VerifyCallback recomputes the HMAC over the key-sorted JSON payload without
// its signature member and compares it with the embedded signature.
func (t *TrustPay) VerifyCallback(_ context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error) {
	var payload struct {
		Signature     string          `json:"signature"`
		PaymentID     string          `json:"payment_id"`
		TransactionID string          `json:"transaction_id"`
		OrderID       json.RawMessage `json:"order_id"`
		Amount        json.Number     `json:"amount"`
		Currency      string          `json:"currency"`
		Status        string          `json:"status"`
	}
	if err := json.Unmarshal(env.RawBody, &payload); err != nil {
		return nil, t.verificationFailed("malformed webhook body", err)
	}
	if payload.Signature == "" {
		return nil, t.verificationFailed("missing signature", nil)
	}
	canonical, err := signature.SortedJSON(env.RawBody, "signature")
	if err != nil {
		return nil, t.verificationFailed("malformed webhook body", err)
	}
	if !signature.VerifyHMACSHA256Hex([]byte(t.cred("secret")), canonical, payload.Signature) {
		return nil, t.verificationFailed("invalid signature", nil)
	}

	txnID := payload.PaymentID
	if txnID == "" {
		txnID = payload.TransactionID
	}
	if txnID == "" {
		return nil, t.verificationFailed("missing payment_id", nil)
	}
	currency := strings.ToUpper(payload.Currency)
	amount, err := model.ToMinorUnits(payload.Amount.String(), currency)
	if err != nil {
		return nil, t.verificationFailed("invalid amount", err)
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

func (t *TrustPay) Refund(ctx context.Context, tx *model.Transaction, amount int64, reason string) (*model.RefundResult, error) {
	if tx.TxnID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if amount <= 0 {
		amount = tx.Amount
	}
	body := map[string]string{
		"transaction_id": tx.TxnID,
		"amount":         amountString(amount, tx.Currency),
		"currency":       tx.Currency,
		"reason":         reason,
	}
	var out struct {
		Status   string `json:"status"`
		RefundID string `json:"refund_id"`
	}
	req := apiRequest{op: "refund", method: http.MethodPost, url: t.endpoint("/api/refund"), header: bearer(t.cred("secret"))}
	if err := t.doJSON(ctx, req, body, &out); err != nil {
		return nil, err
	}
	if out.Status != "success" {
		return nil, &domain.GatewayUnavailableError{Gateway: t.schema.Name, Op: "refund", Body: "refund status " + out.Status}
	}
	return &model.RefundResult{RefundID: out.RefundID, Status: out.Status}, nil
}
