package usecase

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
)

var paymentPage = template.Must(template.New("pay").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
{{- if .Notice}}
<p class="payment-notice">{{.Notice}}</p>
{{- else if .Post}}
<form id="payment-form" method="post" action="{{.URL}}">
{{- range $name, $value := .Fields}}
<input type="hidden" name="{{$name}}" value="{{$value}}">
{{- end}}
<button type="submit">{{.Button}}</button>
</form>
{{- if .AutoRedirect}}
<script>document.getElementById("payment-form").submit();</script>
{{- end}}
{{- else}}
<a class="payment-link" href="{{.URL}}">{{.Button}}</a>
{{- if .AutoRedirect}}
<script>window.location.href = {{.URL}};</script>
{{- end}}
{{- end}}
</body>
</html>
`))

type paymentPageData struct {
	Title        string
	Notice       string
	URL          string
	Post         bool
	Fields       map[string]string
	Button       string
	AutoRedirect bool
}

// Messages translates the payer-facing text of the payment page.
type Messages interface {
	T(key string, args ...interface{}) string
}

const (
	msgPayButton     = "pay_button"
	msgInvoicePaid   = "invoice_paid"
	msgPaymentError  = "payment_error"
	msgPaymentReview = "payment_review"
)

type englishMessages struct{}

var englishText = map[string]string{
	msgPayButton:     "Pay %s %s",
	msgInvoicePaid:   "Invoice %s is already paid.",
	msgPaymentError:  domain.PublicPaymentError,
	msgPaymentReview: "payment received and awaiting review",
}

func (englishMessages) T(key string, args ...interface{}) string {
	format, ok := englishText[key]
	if !ok {
		return key
	}
	return fmt.Sprintf(format, args...)
}

// publicMessageKey picks the payer-safe message for err.
func publicMessageKey(err error) string {
	var rec *domain.ReconciliationError
	if errors.As(err, &rec) {
		return msgPaymentReview
	}
	return msgPaymentError
}

func renderIntent(msg Messages, title string, intent *model.PaymentIntentRequest, autoRedirect bool) (string, error) {
	return renderPage(paymentPageData{
		Title:        title,
		URL:          intent.RedirectURL,
		Post:         intent.RedirectMethod == http.MethodPost,
		Fields:       intent.FormFields,
		Button:       msg.T(msgPayButton, model.FormatMinorUnits(intent.Amount, intent.Currency), intent.Currency),
		AutoRedirect: autoRedirect,
	})
}

func renderNotice(title, notice string) (string, error) {
	return renderPage(paymentPageData{Title: title, Notice: notice})
}

func renderPage(d paymentPageData) (string, error) {
	var buf bytes.Buffer
	if err := paymentPage.Execute(&buf, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}
