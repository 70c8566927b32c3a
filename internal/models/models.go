package models

import "time"

// OfferStatus is the extraction lifecycle state of an offer.
type OfferStatus string

const (
	StatusProcessing OfferStatus = "processing"
	StatusCompleted  OfferStatus = "completed"
	StatusFailed     OfferStatus = "failed"
)

// Detail field names written by the extraction collaborator and read by the planner.
const (
	FieldBankName                 = "bank_name"
	FieldAccountTitle             = "account_title"
	FieldBonusToBeReceived        = "bonus_to_be_received"
	FieldInitialDepositAmount     = "initial_deposit_amount"
	FieldMinimumDepositAmount     = "minimum_deposit_amount"
	FieldNumRequiredDeposits      = "num_required_deposits"
	FieldDealExpirationDate       = "deal_expiration_date"
	FieldMinimumMonthlyFee        = "minimum_monthly_fee"
	FieldFeeIsConditional         = "fee_is_conditional"
	FieldMinimumDailyBalance      = "minimum_daily_balance_required"
	FieldDaysForDeposit           = "days_for_deposit"
	FieldDaysForBonus             = "days_for_bonus"
	FieldMustBeOpenFor            = "must_be_open_for"
	FieldClawbackClausePresent    = "clawback_clause_present"
	FieldClawbackDetails          = "clawback_details"
	FieldTotalDepositRequired     = "total_deposit_required"
	FieldBonusTiers               = "bonus_tiers"
	FieldBonusTiersDetailed       = "bonus_tiers_detailed"
	FieldTotalDepositByTier       = "total_deposit_by_tier"
	FieldAdditionalConsiderations = "additional_considerations"
)

// ExtractionFields lists every detail field requested from the extraction collaborator.
var ExtractionFields = []string{
	FieldBankName,
	FieldAccountTitle,
	FieldBonusToBeReceived,
	FieldInitialDepositAmount,
	FieldMinimumDepositAmount,
	FieldNumRequiredDeposits,
	FieldDealExpirationDate,
	FieldMinimumMonthlyFee,
	FieldFeeIsConditional,
	FieldMinimumDailyBalance,
	FieldDaysForDeposit,
	FieldDaysForBonus,
	FieldMustBeOpenFor,
	FieldClawbackClausePresent,
	FieldClawbackDetails,
	FieldTotalDepositRequired,
	FieldBonusTiers,
	FieldBonusTiersDetailed,
	FieldTotalDepositByTier,
	FieldAdditionalConsiderations,
}

// ProcessingPlaceholder fills every detail while extraction is in flight.
const ProcessingPlaceholder = "Processing..."

// Details maps an extracted field name to its free-text value.
type Details map[string]string

// Get returns the value for key, or "" when absent.
func (d Details) Get(key string) string {
	if d == nil {
		return ""
	}
	return d[key]
}

// Clone returns an independent copy.
func (d Details) Clone() Details {
	out := make(Details, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// PlaceholderDetails returns details with every extraction field set to Processing...
func PlaceholderDetails() Details {
	d := make(Details, len(ExtractionFields))
	for _, f := range ExtractionFields {
		d[f] = ProcessingPlaceholder
	}
	return d
}

// UserControlled holds the progress flags only the end user may set.
type UserControlled struct {
	Opened    bool `json:"opened"`
	Deposited bool `json:"deposited"`
	Received  bool `json:"received"`
}

// Offer represents one tracked bank account bonus opportunity.
type Offer struct {
	ID              int            `json:"id"`
	URL             string         `json:"url"` // source URL or manual-content-<id>
	Status          OfferStatus    `json:"status"`
	ProcessingStep  string         `json:"processing_step"` // human readable phase label
	UserControlled  UserControlled `json:"user_controlled"`
	Details         Details        `json:"details"`
	OriginalContent string         `json:"original_content,omitempty"` // manual mode only
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// IsManual reports whether the offer was created from pasted content.
func (o Offer) IsManual() bool {
	return o.OriginalContent != ""
}

// Eligible reports whether the offer may be planned: untouched by the user and
// successfully extracted (or at least not in flight / failed).
func (o Offer) Eligible() bool {
	if o.UserControlled.Opened || o.UserControlled.Deposited || o.UserControlled.Received {
		return false
	}
	return o.Status != StatusProcessing && o.Status != StatusFailed
}

// CreateOfferRequest is the body of POST /api/offers. Exactly one of URL or
// Content must be set.
type CreateOfferRequest struct {
	URL         string `json:"url,omitempty"`
	Content     string `json:"content,omitempty"`
	OriginalURL string `json:"original_url,omitempty"`
}

// UpdateOfferRequest is the body of PUT /api/offers/{id}.
type UpdateOfferRequest struct {
	Field string `json:"field"` // url | opened | deposited | received
	Value any    `json:"value"`
}

// RefreshOfferRequest is the body of POST /api/offers/{id}/refresh. With
// Field set only that detail is re-extracted; otherwise the whole offer is
// reset to processing, optionally from a new URL.
type RefreshOfferRequest struct {
	URL   string `json:"url,omitempty"`
	Field string `json:"field,omitempty"`
}

// RefreshFieldResponse acknowledges a single-field refresh.
type RefreshFieldResponse struct {
	Status string `json:"status"`
	Field  string `json:"field"`
}

// DuplicateOfferResponse is returned with 409 when a URL is already tracked.
type DuplicateOfferResponse struct {
	Error            string `json:"error"`
	DuplicateOfferID int    `json:"duplicate_offer_id"`
	DuplicateOffer   Offer  `json:"duplicate_offer"`
}

// StorageStats summarises the offer store.
type StorageStats struct {
	TotalOffers      int   `json:"total_offers"`
	CompletedOffers  int   `json:"completed_offers"`
	FailedOffers     int   `json:"failed_offers"`
	ProcessingOffers int   `json:"processing_offers"`
	StorageFileSize  int64 `json:"storage_file_size"`
	NextOfferID      int   `json:"next_offer_id"`
}

// BackupResponse is returned by POST /api/storage/backup.
type BackupResponse struct {
	Message    string `json:"message"`
	BackupFile string `json:"backup_file"`
}

// MessageResponse carries a plain confirmation message.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
