package subscription

import (
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatMoney renders minor units for display, e.g. 2940 USD as "$ 29.40".
func FormatMoney(amount int64, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		unit = currency.USD
	}
	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(unit.Amount(float64(amount) / 100)))
}

// Dollars converts minor units into a float for JSON responses that follow
// the decimal pricing contract of the public API.
func Dollars(amount int64) float64 {
	return float64(amount) / 100
}
