package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
	"billing-gateway/internal/infra/payment/signature"

	"github.com/google/uuid"
)

var _ adapter.PaymentAdapter = (*Rapyd)(nil)

var rapydSchema = model.GatewayConfig{
	Name:        "Rapyd",
	Title:       "Rapyd",
	Description: "Rapyd hosted checkout pages with local payment methods worldwide.",
	Fields: []model.CredentialField{
		{Name: "access_key", Type: model.FieldText, Label: "Access key", Required: true},
		{Name: "secret_key", Type: model.FieldPassword, Label: "Secret key", Required: true, Secret: true},
	},
	Capabilities: model.Capabilities{
		SupportsOneTime: true,
		SupportsRefunds: true,
		SupportedCurrencies: []string{
			"USD", "EUR", "GBP", "CAD", "AUD", "NZD", "SGD", "HKD", "CHF", "JPY",
			"SEK", "NOK", "DKK", "PLN", "CZK", "HUF", "RON", "BGN", "TRY", "ZAR",
			"BRL", "MXN", "INR", "MYR", "PHP", "THB", "IDR", "KRW", "VND", "ILS",
			"AED", "SAR", "EGP", "KWD", "QAR", "OMR", "BHD", "JOD", "UAH", "GEL",
			"AMD", "AZN", "KZT", "UZS", "MDL",
		},
	},
	Logo: model.Logo{File: "rapyd.png", Height: "25px", Width: "85px"},
}

var rapydStatuses = map[string]model.TransactionStatus{
	"paid":      model.TransactionStatusProcessed,
	"completed": model.TransactionStatusProcessed,
	"clo":       model.TransactionStatusProcessed,
	"act":       model.TransactionStatusReceived,
	"new":       model.TransactionStatusReceived,
	"can":       model.TransactionStatusError,
	"err":       model.TransactionStatusError,
	"exp":       model.TransactionStatusError,
}

type Rapyd struct {
	base
	now func() time.Time
}

func NewRapyd(cfg adapter.AdapterConfig) (*Rapyd, error) {
	b, err := newBase(rapydSchema, cfg, "https://api.rapyd.net", "https://sandboxapi.rapyd.net")
	if err != nil {
		return nil, err
	}
	return &Rapyd{base: b, now: time.Now}, nil
}

func (r *Rapyd) MapStatus(status string) model.TransactionStatus {
	return lookupStatus(rapydStatuses, status)
}

// requestSignature signs method+path+salt+timestamp+access_key+secret_key+body.
// Rapyd expects the lowercase method and the base64 of the hex digest.
func (r *Rapyd) requestSignature(method, path, salt, timestamp string, body []byte) string {
	data := strings.ToLower(method) + path + salt + timestamp + r.cred("access_key") + r.cred("secret_key") + string(body)
	hexSig := signature.HMACSHA256Hex([]byte(r.cred("secret_key")), []byte(data))
	return base64.StdEncoding.EncodeToString([]byte(hexSig))
}

func (r *Rapyd) call(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = raw
	}
	salt := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	ts := strconv.FormatInt(r.now().Unix(), 10)

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("access_key", r.cred("access_key"))
	h.Set("salt", salt)
	h.Set("timestamp", ts)
	h.Set("signature", r.requestSignature(method, path, salt, ts, body))
	h.Set("idempotency", salt+ts)

	raw, _, err := r.do(ctx, apiRequest{op: op, method: method, url: r.endpoint(path), header: h, body: body})
	if err != nil {
		return err
	}
	var env struct {
		Status struct {
			Status    string `json:"status"`
			ErrorCode string `json:"error_code"`
		} `json:"status"`
		Data json.RawMessage `json:"data"`
	}
	if err := r.decode(op, raw, &env); err != nil {
		return err
	}
	if env.Status.Status != "" && env.Status.Status != "SUCCESS" {
		return &domain.GatewayUnavailableError{Gateway: r.schema.Name, Op: op, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	return r.decode(op, env.Data, out)
}

func (r *Rapyd) BuildPaymentRequest(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	if err := r.checkInvoice(inv); err != nil {
		return nil, err
	}
	intent := r.newIntent(inv, pc)
	id := strconv.FormatInt(inv.ID, 10)
	body := map[string]any{
		"amount":                json.Number(amountString(intent.Amount, intent.Currency)),
		"currency":              intent.Currency,
		"description":           intent.Description,
		"merchant_reference_id": id,
		"metadata": map[string]string{
			"invoice_id":     id,
			"client_id":      strconv.FormatInt(inv.ClientID, 10),
			"customer_name":  inv.Buyer.FullName(),
			"customer_email": inv.Buyer.Email,
		},
		"complete_checkout_url": intent.ReturnURL,
		"cancel_checkout_url":   intent.CancelURL,
	}
	if inv.Buyer.Country != "" {
		body["country"] = strings.ToUpper(inv.Buyer.Country)
	}
	var checkout struct {
		ID          string `json:"id"`
		RedirectURL string `json:"redirect_url"`
	}
	if err := r.call(ctx, "create_checkout", http.MethodPost, "/v1/checkout", body, &checkout); err != nil {
		return nil, err
	}
	if checkout.RedirectURL == "" {
		return nil, &domain.GatewayUnavailableError{Gateway: r.schema.Name, Op: "create_checkout", Body: "missing redirect_url"}
	}
	intent.RedirectURL = checkout.RedirectURL
	intent.GatewayReference = checkout.ID
	return intent, nil
}

type rapydPayment struct {
	ID                  string            `json:"id"`
	Status              string            `json:"status"`
	Amount              json.Number       `json:"amount"`
	CurrencyCode        string            `json:"currency_code"`
	Currency            string            `json:"currency"`
	MerchantReferenceID string            `json:"merchant_reference_id"`
	Metadata            map[string]string `json:"metadata"`
}

// VerifyCallback checks X-Rapyd-Signature, an HMAC-SHA256 hex digest of the raw body.
func (r *Rapyd) VerifyCallback(_ context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error) {
	sig := env.Headers.Get("X-Rapyd-Signature")
	if sig == "" {
		return nil, r.verificationFailed("missing X-Rapyd-Signature", nil)
	}
	if !signature.VerifyHMACSHA256Hex([]byte(r.cred("secret_key")), env.RawBody, sig) {
		return nil, r.verificationFailed("invalid signature", nil)
	}

	var payload struct {
		rapydPayment
		Type string        `json:"type"`
		Data *rapydPayment `json:"data"`
	}
	if err := json.Unmarshal(env.RawBody, &payload); err != nil {
		return nil, r.verificationFailed("malformed webhook body", err)
	}
	p := payload.rapydPayment
	if payload.Data != nil {
		p = *payload.Data
	}
	if p.ID == "" {
		return nil, r.verificationFailed("payment without id", nil)
	}
	currency := p.CurrencyCode
	if currency == "" {
		currency = p.Currency
	}
	currency = strings.ToUpper(currency)
	amount, err := model.ToMinorUnits(p.Amount.String(), currency)
	if err != nil {
		return nil, r.verificationFailed("invalid amount", err)
	}
	return &model.VerifiedPayment{
		TxnID:         p.ID,
		GatewayStatus: p.Status,
		Amount:        amount,
		Currency:      currency,
		InvoiceID:     firstInvoiceID(env, p.MerchantReferenceID, p.Metadata["invoice_id"]),
		Type:          model.TransactionTypePayment,
	}, nil
}

func (r *Rapyd) Refund(ctx context.Context, tx *model.Transaction, amount int64, reason string) (*model.RefundResult, error) {
	if tx.TxnID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if amount <= 0 {
		amount = tx.Amount
	}
	body := map[string]any{
		"payment":  tx.TxnID,
		"amount":   json.Number(amountString(amount, tx.Currency)),
		"currency": tx.Currency,
	}
	if reason != "" {
		body["reason"] = reason
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := r.call(ctx, "refund", http.MethodPost, "/v1/refunds", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &domain.GatewayUnavailableError{Gateway: r.schema.Name, Op: "refund", Body: "missing refund id"}
	}
	return &model.RefundResult{RefundID: out.ID, Status: out.Status}, nil
}
