package model

import (
	"fmt"
	"strings"

	"billing-gateway/internal/domain"

	"github.com/shopspring/decimal"
)

var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {}, "KRW": {}, "VND": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// CurrencyExponent returns the number of minor-unit digits for an ISO 4217 code.
func CurrencyExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return 0
	}
	return 2
}

// ToMinorUnits parses a gateway decimal amount ("49.99", 49.99, "4999") into minor units.
// Amounts with more precision than the currency allows are rejected, never rounded.
func ToMinorUnits(amount string, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", domain.ErrInvalidArgument, amount, err)
	}
	minor := d.Shift(CurrencyExponent(currency))
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %q has sub-minor precision", domain.ErrInvalidArgument, amount)
	}
	return minor.IntPart(), nil
}

// FormatMinorUnits renders minor units as a fixed-point string, e.g. 4999 USD -> "49.99".
func FormatMinorUnits(minor int64, currency string) string {
	exp := CurrencyExponent(currency)
	return decimal.New(minor, -exp).StringFixed(exp)
}

// MinorUnitsFromFloat accepts JSON numbers already decoded as float64.
// The value is rounded to the currency precision through its shortest decimal form.
func MinorUnitsFromFloat(amount float64, currency string) int64 {
	exp := CurrencyExponent(currency)
	return decimal.NewFromFloat(amount).Shift(exp).Round(0).IntPart()
}
