package payment

import (
	"context"
	"crypto/rsa"
	"net/url"
	"strconv"
	"strings"
	"time"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
	"billing-gateway/internal/infra/payment/signature"
)

var _ adapter.PaymentAdapter = (*Alipay)(nil)

var alipaySchema = model.GatewayConfig{
	Name:        "Alipay",
	Title:       "Alipay",
	Description: "Alipay desktop website payment (alipay.trade.page.pay) with RSA2 signed notifications.",
	Fields: []model.CredentialField{
		{Name: "app_id", Type: model.FieldText, Label: "App ID", Required: true},
		{Name: "private_key", Type: model.FieldTextarea, Label: "Application private key", Required: true, Secret: true},
		{Name: "alipay_public_key", Type: model.FieldTextarea, Label: "Alipay public key", Required: true},
		{Name: "environment", Type: model.FieldSelect, Label: "Environment", Options: []string{"sandbox", "live"}},
	},
	Capabilities: model.Capabilities{
		SupportsOneTime:     true,
		SupportedCurrencies: []string{"CNY"},
	},
	Logo: model.Logo{File: "alipay.png", Height: "30px", Width: "65px"},
}

var alipayStatuses = map[string]model.TransactionStatus{
	"trade_success":  model.TransactionStatusProcessed,
	"trade_finished": model.TransactionStatusProcessed,
	"wait_buyer_pay": model.TransactionStatusReceived,
	"trade_closed":   model.TransactionStatusError,
}

// Parameters that are never part of the signed Alipay payload: the signature
// itself and the keys this service adds to its own callback URLs.
var alipayUnsigned = []string{"sign", "sign_type", "invoice_id", "CSRFToken"}

var chinaTime = time.FixedZone("CST", 8*60*60)

type Alipay struct {
	base
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	now        func() time.Time
}

func NewAlipay(cfg adapter.AdapterConfig) (*Alipay, error) {
	if cfg.Credentials["environment"] == "sandbox" {
		cfg.TestMode = true
	}
	b, err := newBase(alipaySchema, cfg, "https://openapi.alipay.com/gateway.do", "https://openapi-sandbox.dl.alipaydev.com/gateway.do")
	if err != nil {
		return nil, err
	}
	priv, err := signature.ParseRSAPrivateKey(b.cred("private_key"))
	if err != nil {
		return nil, &domain.ConfigurationError{Gateway: alipaySchema.Name, Field: "private_key", Reason: err.Error()}
	}
	pub, err := signature.ParseRSAPublicKey(b.cred("alipay_public_key"))
	if err != nil {
		return nil, &domain.ConfigurationError{Gateway: alipaySchema.Name, Field: "alipay_public_key", Reason: err.Error()}
	}
	return &Alipay{base: b, privateKey: priv, publicKey: pub, now: time.Now}, nil
}

func (a *Alipay) MapStatus(status string) model.TransactionStatus {
	return lookupStatus(alipayStatuses, status)
}

// BuildPaymentRequest signs the page-pay parameters locally; no call is made.
func (a *Alipay) BuildPaymentRequest(_ context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	if err := a.checkInvoice(inv); err != nil {
		return nil, err
	}
	intent := a.newIntent(inv, pc)
	now := a.now()
	outTradeNo := "INV" + strconv.FormatInt(inv.ID, 10) + "_" + strconv.FormatInt(now.Unix(), 10)

	biz, err := signature.MarshalSorted(map[string]string{
		"out_trade_no": outTradeNo,
		"total_amount": amountString(intent.Amount, intent.Currency),
		"subject":      intent.Description,
		"product_code": "FAST_INSTANT_TRADE_PAY",
	})
	if err != nil {
		return nil, err
	}
	params := map[string]string{
		"app_id":      a.cred("app_id"),
		"method":      "alipay.trade.page.pay",
		"format":      "JSON",
		"charset":     "utf-8",
		"sign_type":   "RSA2",
		"timestamp":   now.In(chinaTime).Format("2006-01-02 15:04:05"),
		"version":     "1.0",
		"notify_url":  intent.NotifyURL,
		"return_url":  intent.ReturnURL,
		"biz_content": string(biz),
	}
	sig, err := signature.SignRSASHA256(a.privateKey, []byte(signature.SortedParams(params, "sign")))
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("sign", sig)

	intent.RedirectURL = a.baseURL + "?" + q.Encode()
	intent.GatewayReference = outTradeNo
	return intent, nil
}

// VerifyCallback checks the RSA2 signature of an asynchronous notification
// (form POST) or of the synchronous browser return (query string).
func (a *Alipay) VerifyCallback(_ context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error) {
	src := env.Form
	if src.Get("sign") == "" {
		src = env.Query
	}
	sig := src.Get("sign")
	if sig == "" {
		return nil, a.verificationFailed("missing sign", nil)
	}
	params := make(map[string]string, len(src))
	for k := range src {
		params[k] = src.Get(k)
	}
	payload := signature.SortedParams(params, alipayUnsigned...)
	if err := signature.VerifyRSASHA256(a.publicKey, []byte(payload), sig); err != nil {
		return nil, a.verificationFailed("invalid signature", err)
	}
	if params["app_id"] != "" && params["app_id"] != a.cred("app_id") {
		return nil, a.verificationFailed("app_id mismatch", nil)
	}
	if params["trade_no"] == "" {
		return nil, a.verificationFailed("missing trade_no", nil)
	}

	currency := params["currency"]
	if currency == "" {
		currency = params["trans_currency"]
	}
	if currency == "" {
		currency = "CNY"
	}
	amount, err := model.ToMinorUnits(params["total_amount"], currency)
	if err != nil {
		return nil, a.verificationFailed("invalid total_amount", err)
	}
	return &model.VerifiedPayment{
		TxnID:         params["trade_no"],
		GatewayStatus: params["trade_status"],
		Amount:        amount,
		Currency:      strings.ToUpper(currency),
		InvoiceID:     firstInvoiceID(env, alipayInvoiceRef(params["out_trade_no"])),
		Type:          model.TransactionTypePayment,
	}, nil
}

// alipayInvoiceRef extracts 42 from "INV42_1700000000".
func alipayInvoiceRef(outTradeNo string) string {
	head, _, _ := strings.Cut(outTradeNo, "_")
	return strings.TrimPrefix(head, "INV")
}
