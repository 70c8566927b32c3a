package amount

import (
	"testing"

	"cloud.google.com/go/civil"
)

func TestParse(t *testing.T) {
	cases := map[string]float64{
		"":              0,
		"300":           300,
		"$1,000":        1000,
		"1,250.50":      1250.5,
		" $2,000 ":      2000,
		"Processing...": 0,
		"N/A":           0,
		"up to $300":    300,
		"15 USD":        15,
		"$5/month":      5,
	}

	for input, want := range cases {
		if got := Parse(input); got != want {
			t.Errorf("Parse(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestLeadingInt(t *testing.T) {
	n, ok := LeadingInt("90 days")
	if !ok || n != 90 {
		t.Errorf("Expected 90/true, got %d/%v", n, ok)
	}

	n, ok = LeadingInt("within 60 days of opening")
	if !ok || n != 60 {
		t.Errorf("Expected 60/true, got %d/%v", n, ok)
	}

	if _, ok := LeadingInt("N/A"); ok {
		t.Error("Expected N/A to be unparsable")
	}

	if _, ok := LeadingInt(""); ok {
		t.Error("Expected blank to be unparsable")
	}
}

func TestParseDate(t *testing.T) {
	d, ok := ParseDate("2026-12-31")
	if !ok {
		t.Fatal("Expected date to parse")
	}
	if d != (civil.Date{Year: 2026, Month: 12, Day: 31}) {
		t.Errorf("Unexpected date %v", d)
	}

	for _, input := range []string{"N/A", "n/a", "", "12/31/2026", "2026-02-30"} {
		if _, ok := ParseDate(input); ok {
			t.Errorf("Expected %q to be rejected", input)
		}
	}
}

func TestIsNoTierSentinel(t *testing.T) {
	for _, s := range []string{"", "N/A", "Single tier", "SINGLE TIER", "Processing...", "  n/a "} {
		if !IsNoTierSentinel(s) {
			t.Errorf("Expected %q to be a sentinel", s)
		}
	}
	if IsNoTierSentinel(`[{"tier":1}]`) {
		t.Error("Expected JSON to not be a sentinel")
	}
}

func TestFormatAndString(t *testing.T) {
	if got := Format(2000); got != "2,000" {
		t.Errorf("Format(2000) = %q", got)
	}
	if got := Format(1234567.6); got != "1,234,568" {
		t.Errorf("Format(1234567.6) = %q", got)
	}
	if got := String(250); got != "250" {
		t.Errorf("String(250) = %q", got)
	}
	if got := String(250.5); got != "250.5" {
		t.Errorf("String(250.5) = %q", got)
	}
}
