// File: internal/infra/adapters/payment/base.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
	"billing-gateway/internal/infra/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout bounds every outbound gateway call when no client is injected.
const DefaultHTTPTimeout = 15 * time.Second

const maxResponseBody = 1 << 20

// base carries what every adapter shares: validated credentials, the HTTP client,
// the logger and the default "not supported" answers for optional capabilities.
type base struct {
	schema   model.GatewayConfig
	creds    map[string]string
	testMode bool
	baseURL  string
	client   *http.Client
	log      zerolog.Logger
}

// newBase validates credentials against the schema, in declaration order.
func newBase(schema model.GatewayConfig, cfg adapter.AdapterConfig, liveURL, sandboxURL string) (base, error) {
	for _, f := range schema.Fields {
		if f.Required && strings.TrimSpace(cfg.Credentials[f.Name]) == "" {
			return base{}, &domain.ConfigurationError{Gateway: schema.Name, Field: f.Name}
		}
		if f.Type == model.FieldSelect && len(f.Options) > 0 {
			if v := cfg.Credentials[f.Name]; v != "" && !contains(f.Options, v) {
				return base{}, &domain.ConfigurationError{Gateway: schema.Name, Field: f.Name, Reason: fmt.Sprintf("must be one of %s", strings.Join(f.Options, ", "))}
			}
		}
	}

	b := base{
		schema:   schema,
		creds:    make(map[string]string, len(cfg.Credentials)),
		testMode: cfg.TestMode,
		client:   cfg.HTTPClient,
	}
	for k, v := range cfg.Credentials {
		b.creds[k] = strings.TrimSpace(v)
	}
	b.baseURL = liveURL
	if cfg.TestMode && sandboxURL != "" {
		b.baseURL = sandboxURL
	}
	if cfg.BaseURL != "" {
		b.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if b.client == nil {
		b.client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	b.log = logger.With().Str("gateway", schema.Name).Logger()
	return b, nil
}

func (b *base) Config() model.GatewayConfig { return b.schema }

func (b *base) cred(name string) string { return b.creds[name] }

func (b *base) credBool(name string) bool {
	v, _ := strconv.ParseBool(b.creds[name])
	return v
}

func (b *base) endpoint(path string) string { return b.baseURL + path }

func (b *base) unsupported(op string) error {
	return &domain.UnsupportedOperationError{Gateway: b.schema.Name, Operation: op}
}

func (b *base) verificationFailed(reason string, err error) error {
	ev := b.log.Warn().Str("reason", reason)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("callback rejected")
	return &domain.VerificationError{Gateway: b.schema.Name, Reason: reason, Err: err}
}

// checkInvoice rejects invoices this gateway cannot collect.
func (b *base) checkInvoice(inv *model.Invoice) error {
	if inv == nil || inv.ID <= 0 {
		return domain.ErrInvalidArgument
	}
	if !b.schema.Capabilities.SupportsCurrency(inv.Currency) {
		return &domain.ConfigurationError{Gateway: b.schema.Name, Field: "currency", Reason: fmt.Sprintf("%s is not supported", inv.Currency)}
	}
	if inv.TotalWithTax() <= 0 {
		return fmt.Errorf("%w: invoice %d has no amount due", domain.ErrInvalidArgument, inv.ID)
	}
	return nil
}

// newIntent fills the gateway-neutral part of a payment request.
func (b *base) newIntent(inv *model.Invoice, pc model.PaymentContext) *model.PaymentIntentRequest {
	return &model.PaymentIntentRequest{
		Amount:         inv.TotalWithTax(),
		Currency:       strings.ToUpper(inv.Currency),
		Description:    inv.Title(),
		InvoiceID:      inv.ID,
		ReturnURL:      pc.ReturnURL,
		CancelURL:      pc.CancelURL,
		NotifyURL:      pc.NotifyURL,
		Metadata:       map[string]string{"invoice_id": strconv.FormatInt(inv.ID, 10)},
		RedirectMethod: http.MethodGet,
	}
}

// Refund, recurring: not supported unless an adapter overrides them.

func (b *base) Refund(context.Context, *model.Transaction, int64, string) (*model.RefundResult, error) {
	return nil, b.unsupported("refunds")
}

func (b *base) CreateRecurringProfile(context.Context, *model.Invoice, model.PaymentContext) (*model.PaymentIntentRequest, error) {
	return nil, b.unsupported("recurring payments")
}

func (b *base) CancelRecurringProfile(context.Context, string) error {
	return b.unsupported("recurring payments")
}

func (b *base) UpdateRecurringProfile(context.Context, string, int64) error {
	return b.unsupported("recurring payments")
}

// apiRequest describes one outbound call.
type apiRequest struct {
	op      string // metrics/log label
	method  string
	url     string
	header  http.Header
	body    []byte
	accept  []int // accepted status codes; defaults to 200 and 201
	noRedir bool
}

// do performs the call and returns the raw body of an accepted response.
// Anything else becomes a GatewayUnavailableError with the body kept for logs.
func (b *base) do(ctx context.Context, r apiRequest) ([]byte, int, error) {
	var rdr io.Reader
	if r.body != nil {
		rdr = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, rdr)
	if err != nil {
		return nil, 0, err
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "billing-gateway/"+b.schema.Name)
	}

	client := b.client
	if r.noRedir {
		c := *b.client
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		client = &c
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		metrics.ObserveGatewayCall(b.schema.Name, r.op, "transport_error", time.Since(start))
		b.log.Error().Err(err).Str("op", r.op).Msg("gateway call failed")
		return nil, 0, &domain.GatewayUnavailableError{Gateway: b.schema.Name, Op: r.op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		metrics.ObserveGatewayCall(b.schema.Name, r.op, "transport_error", time.Since(start))
		return nil, resp.StatusCode, &domain.GatewayUnavailableError{Gateway: b.schema.Name, Op: r.op, StatusCode: resp.StatusCode, Err: err}
	}

	accept := r.accept
	if len(accept) == 0 {
		accept = []int{http.StatusOK, http.StatusCreated}
	}
	if !containsInt(accept, resp.StatusCode) {
		metrics.ObserveGatewayCall(b.schema.Name, r.op, "http_error", time.Since(start))
		b.log.Error().
			Str("op", r.op).
			Int("status", resp.StatusCode).
			Str("response", string(body)).
			Msg("gateway returned unexpected status")
		return body, resp.StatusCode, &domain.GatewayUnavailableError{Gateway: b.schema.Name, Op: r.op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	metrics.ObserveGatewayCall(b.schema.Name, r.op, "ok", time.Since(start))
	return body, resp.StatusCode, nil
}

// doJSON marshals in (when non-nil) and decodes the accepted response into out.
func (b *base) doJSON(ctx context.Context, r apiRequest, in, out any) error {
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", r.op, err)
		}
		r.body = raw
		if r.header == nil {
			r.header = http.Header{}
		}
		r.header.Set("Content-Type", "application/json")
	}
	body, _, err := b.do(ctx, r)
	if err != nil {
		return err
	}
	return b.decode(r.op, body, out)
}

func (b *base) decode(op string, body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		metrics.ObserveGatewayCall(b.schema.Name, op, "bad_response", 0)
		b.log.Error().Err(err).Str("op", op).Str("response", string(body)).Msg("malformed gateway response")
		return &domain.GatewayUnavailableError{Gateway: b.schema.Name, Op: op, Body: string(body), Err: err}
	}
	return nil
}

// tokenError converts an OAuth2 token failure into the gateway taxonomy.
func (b *base) tokenError(err error) error {
	gue := &domain.GatewayUnavailableError{Gateway: b.schema.Name, Op: "token", Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			gue.StatusCode = re.Response.StatusCode
		}
		gue.Body = string(re.Body)
	}
	b.log.Error().Err(err).Str("op", "token").Str("response", gue.Body).Msg("access token request failed")
	return gue
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

// lookupStatus maps a gateway status through table; unknown values are received.
func lookupStatus(table map[string]model.TransactionStatus, s string) model.TransactionStatus {
	if st, ok := table[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st
	}
	return model.TransactionStatusReceived
}

// parseInvoiceID accepts positive decimal ids only.
func parseInvoiceID(s string) *int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

// firstInvoiceID returns the first candidate that parses, then the callback's invoice_id.
func firstInvoiceID(env *model.CallbackEnvelope, candidates ...string) *int64 {
	for _, c := range candidates {
		if id := parseInvoiceID(c); id != nil {
			return id
		}
	}
	if env != nil {
		return parseInvoiceID(env.Param("invoice_id"))
	}
	return nil
}

// withQuery appends raw key=value pairs to u, keeping existing parameters.
// Values are inserted verbatim so gateway placeholders like {CHECKOUT_SESSION_ID} survive.
func withQuery(u string, kv ...string) string {
	var b strings.Builder
	b.WriteString(u)
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteString(sep)
		b.WriteString(url.QueryEscape(kv[i]))
		b.WriteByte('=')
		b.WriteString(kv[i+1])
		sep = "&"
	}
	return b.String()
}

// scalarString renders a JSON string or number as plain text.
func scalarString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func amountString(minor int64, currency string) string {
	return model.FormatMinorUnits(minor, currency)
}
