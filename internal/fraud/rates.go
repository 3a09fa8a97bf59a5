package fraud

import "strings"

const microUnit = 1_000_000

// baseRates converts one unit of a currency into base-currency units, scaled
// by one million. Only used to compare amounts against limits.
var baseRates = map[string]int64{
	"USD": 1_000_000,
	"EUR": 1_080_000,
	"GBP": 1_270_000,
	"CHF": 1_120_000,
	"CAD": 730_000,
	"AUD": 650_000,
	"NZD": 600_000,
	"SGD": 740_000,
	"JPY": 6_700,
	"CNY": 138_000,
	"INR": 12_000,
	"MXN": 58_000,
	"BRL": 200_000,
	"SEK": 95_000,
	"TRY": 31_000,
}

// ToBase converts minor units of currency to base-currency minor units.
// Unknown currencies convert one to one.
func ToBase(amount int64, currency string) int64 {
	rate, ok := baseRates[strings.ToUpper(strings.TrimSpace(currency))]
	if !ok {
		return amount
	}
	return amount * rate / microUnit
}
