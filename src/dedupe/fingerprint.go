package dedupe

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies are rounded to whole units.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true, "KRW": true, "HUF": true, "VND": true,
	"CLP": true, "ISK": true, "XAF": true, "XOF": true,
}

// Fingerprint is the exact-match identity of a transaction within a date bucket.
type Fingerprint struct {
	Description string
	AmountMinor int64
	Bucket      int64
}

func (f Fingerprint) Key() string {
	return fmt.Sprintf("%d|%d|%s", f.Bucket, f.AmountMinor, f.Description)
}

// ComputeFingerprint is deterministic: equal inputs give equal keys.
func ComputeFingerprint(description string, amount decimal.Decimal, currency string, date time.Time, windowDays int) Fingerprint {
	return Fingerprint{
		Description: NormalizeDescription(description),
		AmountMinor: AmountMinor(amount, currency),
		Bucket:      Bucket(date, windowDays),
	}
}

// NormalizeDescription lower-cases, replaces punctuation with spaces and
// collapses whitespace.
func NormalizeDescription(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// AmountMinor rounds amount to the currency's minor unit and returns it as an
// integer count of minor units.
func AmountMinor(amount decimal.Decimal, currency string) int64 {
	places := int32(2)
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		places = 0
	}
	return amount.Round(places).Shift(places).IntPart()
}

// Bucket is the day number since the Unix epoch divided by the window.
func Bucket(date time.Time, windowDays int) int64 {
	if windowDays < 1 {
		windowDays = 1
	}
	return floorDiv(dayNumber(date), int64(windowDays))
}

func dayNumber(date time.Time) int64 {
	y, m, d := date.Date()
	return floorDiv(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix(), 86400)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func daysBetween(a, b time.Time) int64 {
	d := dayNumber(a) - dayNumber(b)
	if d < 0 {
		return -d
	}
	return d
}
