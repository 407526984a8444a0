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

	"github.com/google/uuid"
)

var (
	_ adapter.PaymentAdapter = (*PayU)(nil)
	_ adapter.StatusFetcher  = (*PayU)(nil)
)

var payuSchema = model.GatewayConfig{
	Name:        "PayU",
	Title:       "PayU",
	Description: "PayU REST orders (Central and Eastern Europe) with OpenPayU signed notifications.",
	Fields: []model.CredentialField{
		{Name: "pos_id", Type: model.FieldText, Label: "POS ID", Required: true},
		{Name: "second_key", Type: model.FieldPassword, Label: "Second key (MD5)", Required: true, Secret: true},
		{Name: "oauth_client_id", Type: model.FieldText, Label: "OAuth client ID", Required: true},
		{Name: "oauth_client_secret", Type: model.FieldPassword, Label: "OAuth client secret", Required: true, Secret: true},
		{Name: "environment", Type: model.FieldSelect, Label: "Environment", Options: []string{"sandbox", "secure"}},
	},
	Capabilities: model.Capabilities{
		SupportsOneTime:     true,
		SupportsRefunds:     true,
		SupportedCurrencies: []string{"PLN", "EUR", "USD", "GBP", "CZK", "HUF", "RON", "BGN", "DKK", "NOK", "SEK", "CHF", "UAH"},
	},
	Logo: model.Logo{File: "payu.png", Height: "30px", Width: "65px"},
}

var payuStatuses = map[string]model.TransactionStatus{
	"completed":                model.TransactionStatusProcessed,
	"pending":                  model.TransactionStatusReceived,
	"waiting_for_confirmation": model.TransactionStatusReceived,
	"new":                      model.TransactionStatusReceived,
	"canceled":                 model.TransactionStatusError,
	"rejected":                 model.TransactionStatusError,
}

var payuLanguages = map[string]string{
	"PL": "pl", "CZ": "cs", "SK": "sk", "HU": "hu", "RO": "ro", "BG": "bg", "DE": "de",
	"AT": "de", "FR": "fr", "IT": "it", "ES": "es", "PT": "pt", "UA": "uk", "LT": "lt", "LV": "lv",
}

type PayU struct {
	base
}

func NewPayU(cfg adapter.AdapterConfig) (*PayU, error) {
	if cfg.Credentials["environment"] == "sandbox" {
		cfg.TestMode = true
	}
	b, err := newBase(payuSchema, cfg, "https://secure.payu.com", "https://secure.snd.payu.com")
	if err != nil {
		return nil, err
	}
	return &PayU{base: b}, nil
}

func (p *PayU) MapStatus(status string) model.TransactionStatus {
	return lookupStatus(payuStatuses, status)
}

func (p *PayU) auth(ctx context.Context) (http.Header, error) {
	cc := signature.ClientCredentials{
		TokenURL:     p.endpoint("/pl/standard/user/oauth/authorize"),
		ClientID:     p.cred("oauth_client_id"),
		ClientSecret: p.cred("oauth_client_secret"),
		InParams:     true,
	}
	tok, err := cc.Token(ctx, p.client)
	if err != nil {
		return nil, p.tokenError(err)
	}
	return bearer(tok.AccessToken), nil
}

type payuOrder struct {
	OrderID      string `json:"orderId"`
	ExtOrderID   string `json:"extOrderId"`
	Status       string `json:"status"`
	TotalAmount  string `json:"totalAmount"`
	CurrencyCode string `json:"currencyCode"`
}

type payuStatus struct {
	StatusCode string `json:"statusCode"`
	StatusDesc string `json:"statusDesc"`
}

func (p *PayU) BuildPaymentRequest(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	if err := p.checkInvoice(inv); err != nil {
		return nil, err
	}
	intent := p.newIntent(inv, pc)
	h, err := p.auth(ctx)
	if err != nil {
		return nil, err
	}
	extOrderID := strconv.FormatInt(inv.ID, 10) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	total := strconv.FormatInt(intent.Amount, 10)
	customerIP := pc.ClientIP
	if customerIP == "" {
		customerIP = "127.0.0.1"
	}
	buyer := map[string]string{
		"email":     inv.Buyer.Email,
		"firstName": inv.Buyer.FirstName,
		"lastName":  inv.Buyer.LastName,
		"language":  "en",
	}
	if lang, ok := payuLanguages[strings.ToUpper(inv.Buyer.Country)]; ok {
		buyer["language"] = lang
	}
	body := map[string]any{
		"notifyUrl":     intent.NotifyURL,
		"continueUrl":   intent.ReturnURL,
		"customerIp":    customerIP,
		"merchantPosId": p.cred("pos_id"),
		"description":   intent.Description,
		"currencyCode":  intent.Currency,
		"totalAmount":   total,
		"extOrderId":    extOrderID,
		"products": []map[string]string{{
			"name":      intent.Description,
			"unitPrice": total,
			"quantity":  "1",
		}},
		"buyer": buyer,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	h.Set("Content-Type", "application/json")
	resp, _, err := p.do(ctx, apiRequest{
		op:      "create_order",
		method:  http.MethodPost,
		url:     p.endpoint("/api/v2_1/orders"),
		header:  h,
		body:    raw,
		accept:  []int{http.StatusOK, http.StatusCreated, http.StatusFound},
		noRedir: true,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Status      payuStatus `json:"status"`
		RedirectURI string     `json:"redirectUri"`
		OrderID     string     `json:"orderId"`
	}
	if err := p.decode("create_order", resp, &out); err != nil {
		return nil, err
	}
	if out.Status.StatusCode != "SUCCESS" || out.RedirectURI == "" {
		return nil, &domain.GatewayUnavailableError{Gateway: p.schema.Name, Op: "create_order", Body: string(resp)}
	}
	intent.RedirectURL = out.RedirectURI
	intent.GatewayReference = out.OrderID
	intent.Metadata["ext_order_id"] = extOrderID
	return intent, nil
}

// VerifyCallback checks OpenPayU-Signature when PayU sends it and always
// re-reads the order from PayU before trusting its status.
func (p *PayU) VerifyCallback(ctx context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error) {
	if hdr := env.Headers.Get("OpenPayU-Signature"); hdr != "" {
		if err := p.checkSignatureHeader(hdr, env.RawBody); err != nil {
			return nil, err
		}
	}
	var payload struct {
		Order payuOrder `json:"order"`
	}
	if err := json.Unmarshal(env.RawBody, &payload); err != nil {
		return nil, p.verificationFailed("malformed notification body", err)
	}
	if payload.Order.OrderID == "" {
		return nil, p.verificationFailed("notification without orderId", nil)
	}
	order, err := p.fetchOrder(ctx, payload.Order.OrderID)
	if err != nil {
		return nil, err
	}
	return p.verified(env, order)
}

// checkSignatureHeader validates "sender=..;signature=<hex>;algorithm=MD5|SHA-256"
// as digest(body + second_key).
func (p *PayU) checkSignatureHeader(hdr string, body []byte) error {
	parts := map[string]string{}
	for _, kv := range strings.Split(hdr, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if ok {
			parts[strings.ToLower(k)] = v
		}
	}
	sig := parts["signature"]
	if sig == "" {
		return p.verificationFailed("OpenPayU-Signature without signature", nil)
	}
	algo := parts["algorithm"]
	if algo == "" {
		algo = "MD5"
	}
	data := append(append([]byte{}, body...), p.cred("second_key")...)
	if !signature.VerifyDigestHex(algo, data, sig) {
		return p.verificationFailed("invalid OpenPayU-Signature", nil)
	}
	return nil
}

func (p *PayU) fetchOrder(ctx context.Context, orderID string) (*payuOrder, error) {
	h, err := p.auth(ctx)
	if err != nil {
		return nil, err
	}
	var out struct {
		Orders []payuOrder `json:"orders"`
		Status payuStatus  `json:"status"`
	}
	req := apiRequest{op: "fetch_order", method: http.MethodGet, url: p.endpoint("/api/v2_1/orders/" + url.PathEscape(orderID)), header: h}
	if err := p.doJSON(ctx, req, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Orders) == 0 {
		return nil, &domain.GatewayUnavailableError{Gateway: p.schema.Name, Op: "fetch_order", Body: "order not found"}
	}
	return &out.Orders[0], nil
}

func (p *PayU) verified(env *model.CallbackEnvelope, o *payuOrder) (*model.VerifiedPayment, error) {
	amount, err := strconv.ParseInt(o.TotalAmount, 10, 64)
	if err != nil {
		return nil, p.verificationFailed("invalid totalAmount", err)
	}
	ref, _, _ := strings.Cut(o.ExtOrderID, "_")
	return &model.VerifiedPayment{
		TxnID:         o.OrderID,
		GatewayStatus: o.Status,
		Amount:        amount,
		Currency:      strings.ToUpper(o.CurrencyCode),
		InvoiceID:     firstInvoiceID(env, ref),
		Type:          model.TransactionTypePayment,
	}, nil
}

func (p *PayU) FetchStatus(ctx context.Context, tx *model.Transaction) (*model.VerifiedPayment, error) {
	o, err := p.fetchOrder(ctx, tx.TxnID)
	if err != nil {
		return nil, err
	}
	vp, err := p.verified(nil, o)
	if err != nil {
		return nil, err
	}
	if vp.InvoiceID == nil {
		vp.InvoiceID = tx.InvoiceID
	}
	return vp, nil
}

func (p *PayU) Refund(ctx context.Context, tx *model.Transaction, amount int64, reason string) (*model.RefundResult, error) {
	if tx.TxnID == "" {
		return nil, domain.ErrInvalidArgument
	}
	h, err := p.auth(ctx)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "Refund"
	}
	refund := map[string]string{"description": reason}
	if amount > 0 {
		refund["amount"] = strconv.FormatInt(amount, 10)
	}
	var out struct {
		Refund struct {
			RefundID string `json:"refundId"`
			Status   string `json:"status"`
		} `json:"refund"`
		Status payuStatus `json:"status"`
	}
	req := apiRequest{op: "refund", method: http.MethodPost, url: p.endpoint("/api/v2_1/orders/" + url.PathEscape(tx.TxnID) + "/refunds"), header: h}
	if err := p.doJSON(ctx, req, map[string]any{"refund": refund}, &out); err != nil {
		return nil, err
	}
	return &model.RefundResult{RefundID: out.Refund.RefundID, Status: out.Refund.Status}, nil
}
