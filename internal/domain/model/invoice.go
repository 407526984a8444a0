package model

import (
	"fmt"
	"strings"
	"time"
)

type InvoiceStatus string

const (
	InvoiceStatusUnpaid InvoiceStatus = "unpaid"
	InvoiceStatusPaid   InvoiceStatus = "paid"
)

type InvoiceItem struct {
	Title    string
	Price    int64 // minor units per unit
	Quantity int64
	Tax      int64 // minor units for the whole line
}

type Buyer struct {
	FirstName string
	LastName  string
	Email     string
	Country   string
}

func (b Buyer) FullName() string {
	return strings.TrimSpace(b.FirstName + " " + b.LastName)
}

// Invoice is owned by the billing module; the payment core only reads it
// and pays it through InvoiceRepository.PayInvoiceWithCredits.
type Invoice struct {
	ID        int64
	ClientID  int64
	Serie     string
	Nr        int64
	Hash      string
	Currency  string
	Status    InvoiceStatus
	Buyer     Buyer
	Items     []InvoiceItem
	CreatedAt time.Time
	PaidAt    *time.Time
}

// TotalWithTax sums all lines including tax, in minor units.
func (i *Invoice) TotalWithTax() int64 {
	var total int64
	for _, it := range i.Items {
		q := it.Quantity
		if q <= 0 {
			q = 1
		}
		total += it.Price*q + it.Tax
	}
	return total
}

// Number renders the printable invoice number, e.g. "FOSS00042".
func (i *Invoice) Number() string {
	return fmt.Sprintf("%s%05d", i.Serie, i.Nr)
}

// Title is the payment description shown on the gateway's checkout page.
func (i *Invoice) Title() string {
	if len(i.Items) == 1 {
		return fmt.Sprintf("Payment for invoice %s [%s]", i.Number(), i.Items[0].Title)
	}
	return fmt.Sprintf("Payment for invoice %s", i.Number())
}

func (i *Invoice) IsPaid() bool { return i.Status == InvoiceStatusPaid }
