package model

import (
	"net/http"
	"net/url"
)

// BrowserReturnParam marks a notify URL the payer's browser is sent back to,
// as opposed to a server-to-server notification.
const BrowserReturnParam = "redirect"

// PaymentContext carries the URLs and payer details needed to start a payment.
type PaymentContext struct {
	ReturnURL    string
	CancelURL    string
	NotifyURL    string
	ClientIP     string
	Subscription bool
	Interval     string // recurring period: "day", "week", "month", "year"
}

// PaymentIntentRequest is what an adapter produced to collect payment for one invoice.
type PaymentIntentRequest struct {
	Amount      int64 // minor units
	Currency    string
	Description string
	InvoiceID   int64
	ReturnURL   string
	CancelURL   string
	NotifyURL   string
	Metadata    map[string]string

	RedirectURL      string            // where the payer is sent
	RedirectMethod   string            // GET unless the gateway expects a form POST
	FormFields       map[string]string // posted to RedirectURL when RedirectMethod is POST
	GatewayReference string            // order/session/charge id on the gateway side
}

// CallbackEnvelope is the untouched inbound request.
type CallbackEnvelope struct {
	RawBody []byte      `json:"raw_body"`
	Headers http.Header `json:"headers"`
	Query   url.Values  `json:"query"`
	Form    url.Values  `json:"form"`
}

// Param looks a key up in the form first, then in the query string.
func (e *CallbackEnvelope) Param(key string) string {
	if v := e.Form.Get(key); v != "" {
		return v
	}
	return e.Query.Get(key)
}

// VerifiedPayment is the authenticated, gateway-neutral view of a callback.
type VerifiedPayment struct {
	TxnID         string
	GatewayStatus string
	Amount        int64 // minor units
	Currency      string
	InvoiceID     *int64
	Type          TransactionType
}

// RefundResult is returned by adapters that can refund.
type RefundResult struct {
	RefundID string
	Status   string
}
