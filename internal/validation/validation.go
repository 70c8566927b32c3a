package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"bonus-planner-api/internal/models"
)

var (
	offerURLRegex = regexp.MustCompile(`^(https?://)([a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}(/.*)?$`)
)

// Planning parameter bounds.
const (
	MinPayCycleDays        = 7
	MaxPayCycleDays        = 31
	MinAveragePaycheck     = 100
	MinAccountsPerPayCycle = 1
	MaxAccountsPerPayCycle = 10

	// MaxContentLength bounds pasted offer text.
	MaxContentLength = 200_000
)

// MsgInvalidURL is the message of a malformed URL error.
const MsgInvalidURL = "must be a valid http or https URL"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidatePlanParams checks the planning inputs the planner relies on.
func ValidatePlanParams(p models.PlanParams) error {
	if p.PayCycleDays < MinPayCycleDays || p.PayCycleDays > MaxPayCycleDays {
		return &ValidationError{
			Field:   "pay_cycle_days",
			Message: fmt.Sprintf("must be between %d and %d days", MinPayCycleDays, MaxPayCycleDays),
		}
	}

	if p.AveragePaycheck < MinAveragePaycheck {
		return &ValidationError{
			Field:   "average_paycheck",
			Message: fmt.Sprintf("must be at least $%d", MinAveragePaycheck),
		}
	}

	if p.AccountsPerPayCycle < MinAccountsPerPayCycle || p.AccountsPerPayCycle > MaxAccountsPerPayCycle {
		return &ValidationError{
			Field:   "accounts_per_paycycle",
			Message: fmt.Sprintf("must be between %d and %d", MinAccountsPerPayCycle, MaxAccountsPerPayCycle),
		}
	}

	return nil
}

// ValidateURL checks that s is an http(s) URL with a dotted host.
func ValidateURL(s, fieldName string) error {
	s = SanitizeString(s)
	if s == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if !offerURLRegex.MatchString(s) {
		return &ValidationError{
			Field:   fieldName,
			Message: MsgInvalidURL,
		}
	}

	return nil
}

// ValidateCreateOffer requires exactly one of url or content.
func ValidateCreateOffer(req models.CreateOfferRequest) error {
	hasURL := SanitizeString(req.URL) != ""
	hasContent := SanitizeString(req.Content) != ""

	if !hasURL && !hasContent {
		return &ValidationError{
			Field:   "url",
			Message: "either url or content is required",
		}
	}

	if hasURL && hasContent {
		return &ValidationError{
			Field:   "content",
			Message: "provide either url or content, not both",
		}
	}

	if hasURL {
		return ValidateURL(req.URL, "url")
	}

	if len(req.Content) > MaxContentLength {
		return &ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("cannot exceed %d characters", MaxContentLength),
		}
	}

	if req.OriginalURL != "" {
		return ValidateURL(req.OriginalURL, "original_url")
	}

	return nil
}

// ValidateUserField checks a PUT /api/offers/{id} update.
func ValidateUserField(req models.UpdateOfferRequest) error {
	switch req.Field {
	case "url":
		s, ok := req.Value.(string)
		if !ok {
			return &ValidationError{
				Field:   "value",
				Message: "url must be a string",
			}
		}
		return ValidateURL(s, "value")
	case "opened", "deposited", "received":
		if _, ok := req.Value.(bool); !ok {
			return &ValidationError{
				Field:   "value",
				Message: fmt.Sprintf("%s must be a boolean", req.Field),
			}
		}
		return nil
	case "":
		return &ValidationError{
			Field:   "field",
			Message: "is required",
		}
	default:
		return &ValidationError{
			Field:   "field",
			Message: fmt.Sprintf("cannot update field %q", req.Field),
		}
	}
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// NormalizeURL reduces a URL to the form used for duplicate detection:
// lower-case host without "www.", no query or fragment, no trailing slash.
func NormalizeURL(raw string) string {
	raw = SanitizeString(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	return host + path
}
