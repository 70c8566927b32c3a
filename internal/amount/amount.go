// Package amount parses the free-text numeric and date fields produced by
// offer extraction. Extraction output is noisy, so every parser here is
// lenient: anything it cannot read becomes zero or "absent", never an error.
package amount

import (
	"math"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

var (
	numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	digitsPattern = regexp.MustCompile(`\d+`)

	cleaner = strings.NewReplacer(
		"$", "",
		",", "",
		" ", "",
		"\u00a0", "",
		"USD", "",
		"usd", "",
	)
)

// noTierSentinels are extraction answers meaning "this offer has no tiers".
var noTierSentinels = map[string]bool{
	"":              true,
	"n/a":           true,
	"single tier":   true,
	"processing...": true,
}

// Decimal parses s as a money amount. "$1,250.50" and "1250.5 USD" both read
// as 1250.5; text with a number inside ("up to $300") yields that number;
// anything else is zero.
func Decimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(cleaner.Replace(s)); err == nil {
		return d
	}
	token := numberPattern.FindString(strings.ReplaceAll(s, ",", ""))
	if token == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Parse is Decimal as a float64.
func Parse(s string) float64 {
	return Decimal(s).InexactFloat64()
}

// LeadingInt returns the first run of digits in s ("90 days" -> 90). ok is
// false when s holds no digits at all (e.g. "N/A").
func LeadingInt(s string) (n int, ok bool) {
	token := digitsPattern.FindString(s)
	if token == "" {
		return 0, false
	}
	for _, r := range token {
		n = n*10 + int(r-'0')
		if n > math.MaxInt32 {
			return math.MaxInt32, true
		}
	}
	return n, true
}

// ParseDate reads a YYYY-MM-DD date. "N/A", blanks and anything malformed
// report ok=false.
func ParseDate(s string) (civil.Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "n/a") {
		return civil.Date{}, false
	}
	d, err := civil.ParseDate(s)
	if err != nil || !d.IsValid() {
		return civil.Date{}, false
	}
	return d, true
}

// IsNoTierSentinel reports whether a tier field says there is nothing to parse.
func IsNoTierSentinel(s string) bool {
	return noTierSentinels[strings.ToLower(strings.TrimSpace(s))]
}

// IsYes reports whether an extracted Yes/No answer is affirmative.
func IsYes(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "yes")
}

// Format renders v rounded to whole units with thousands separators.
func Format(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

// String renders v without a trailing ".0" ("250", "250.5").
func String(v float64) string {
	return decimal.NewFromFloat(v).String()
}
