package models

import (
	"time"

	"cloud.google.com/go/civil"
)

// RiskLevel is the categorical risk of an offer.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// HoldingStrategy selects how long accounts are kept open.
type HoldingStrategy string

const (
	HoldingMinimal  HoldingStrategy = "minimal"
	HoldingExtended HoldingStrategy = "extended"
)

// TimingStrategy is one point in the timing search grid.
type TimingStrategy struct {
	DelayDays         int             `json:"delay_days"`
	DepositTimingDays int             `json:"deposit_timing_days"`
	HoldingStrategy   HoldingStrategy `json:"holding_strategy"`
}

// TierInfo describes one bonus tier of an offer.
type TierInfo struct {
	TierNumber    int     `json:"tier_number"`
	BonusAmount   float64 `json:"bonus_amount"`
	DepositAmount float64 `json:"deposit_amount"`
	TotalDeposit  float64 `json:"total_deposit"`
	Description   string  `json:"description"`
}

// DepositRequirements are the normalized deposit figures of an offer.
type DepositRequirements struct {
	MinDeposit           float64 `json:"min_deposit"`
	DepositsRequired     int     `json:"deposits_required"`
	InitialDeposit       float64 `json:"initial_deposit"`
	TotalDepositRequired float64 `json:"total_deposit_required"`
}

// TotalNeeded is the initial deposit plus all qualifying deposits.
func (d DepositRequirements) TotalNeeded() float64 {
	return d.InitialDeposit + d.TotalDepositRequired
}

// PlannedOffer is the planning-time view of an offer: either the offer itself
// or one of its tier variants, annotated with score and risk.
type PlannedOffer struct {
	Offer
	TierInfo           *TierInfo           `json:"tier_info,omitempty"`
	IsTierVariant      bool                `json:"is_tier_variant"`
	OriginalOfferID    int                 `json:"original_offer_id,omitempty"`
	PriorityScore      int                 `json:"priority_score"`
	RiskLevel          RiskLevel           `json:"risk_level"`
	Deposits           DepositRequirements `json:"deposit_requirements"`
	TotalDepositNeeded float64             `json:"total_deposit_needed"`
}

// GroupID identifies the physical offer a variant belongs to.
func (p PlannedOffer) GroupID() int {
	if p.IsTierVariant {
		return p.OriginalOfferID
	}
	return p.ID
}

// DepositEvent is one scheduled qualifying deposit.
type DepositEvent struct {
	Date           civil.Date `json:"date"`
	Amount         float64    `json:"amount"`
	SequenceNumber int        `json:"sequence_number"`
}

// Timing is the computed date timeline for one offer in a plan.
type Timing struct {
	AccountOpenDate  civil.Date     `json:"account_open_date"`
	DepositDates     []DepositEvent `json:"deposit_dates"`
	DepositDeadline  civil.Date     `json:"deposit_deadline"`
	AccountCloseDate *civil.Date    `json:"account_close_date"`
	BonusPayoutDate  civil.Date     `json:"bonus_payout_date"`
	DaysForDeposit   int            `json:"days_for_deposit"`
	HoldingPeriod    int            `json:"holding_period"`
	DepositsRequired int            `json:"deposits_required"`
}

// TimelineItem places one offer in the plan.
type TimelineItem struct {
	OfferID             int                 `json:"offer_id"`
	AccountTitle        string              `json:"account_title"`
	Position            int                 `json:"position"`
	PayCycle            int                 `json:"pay_cycle"`
	StartDate           civil.Date          `json:"start_date"`
	EstimatedCompletion civil.Date          `json:"estimated_completion"`
	BonusAmount         float64             `json:"bonus_amount"`
	MonthlyFee          float64             `json:"monthly_fee"`
	Deposits            DepositRequirements `json:"deposit_requirements"`
	Timing              Timing              `json:"timing"`
}

// TierSelection summarises a chosen tier variant.
type TierSelection struct {
	BankName        string  `json:"bank_name"`
	OriginalOfferID int     `json:"original_offer_id"`
	SelectedTier    string  `json:"selected_tier"`
	BonusAmount     float64 `json:"bonus_amount"`
	DepositAmount   float64 `json:"deposit_amount"`
}

// PlanParams are the user inputs of a planning request.
type PlanParams struct {
	PayCycleDays        int     `json:"pay_cycle_days"`
	AveragePaycheck     float64 `json:"average_paycheck"`
	AccountsPerPayCycle int     `json:"accounts_per_paycycle"`
}

// DefaultPlanParams mirrors the defaults of the planning form.
func DefaultPlanParams() PlanParams {
	return PlanParams{
		PayCycleDays:        14,
		AveragePaycheck:     2000,
		AccountsPerPayCycle: 2,
	}
}

// Plan is the best schedule found for a set of offers.
type Plan struct {
	ID                  string          `json:"id"`
	GeneratedAt         time.Time       `json:"generated_at"`
	Offers              []PlannedOffer  `json:"offers"`
	Timeline            []TimelineItem  `json:"timeline"`
	TotalBonus          float64         `json:"total_bonus"`
	TotalMonthlyFees    float64         `json:"total_monthly_fees"`
	TotalDepositNeeded  float64         `json:"total_deposit_needed"`
	EstimatedDuration   int             `json:"estimated_duration"` // days
	TotalPayCycles      int             `json:"total_pay_cycles"`
	AccountsPerPayCycle int             `json:"accounts_per_paycycle"`
	TierSelections      []TierSelection `json:"tier_selections"`
	Strategy            TimingStrategy  `json:"strategy"`
	Evaluations         int64           `json:"evaluations"`
	Exhaustive          bool            `json:"exhaustive"` // false when the search budget ran out
}

// GeneratePlanRequest is the body of POST /api/planning/generate. Missing
// fields fall back to DefaultPlanParams.
type GeneratePlanRequest struct {
	PayCycleDays        *int     `json:"pay_cycle_days"`
	AveragePaycheck     *float64 `json:"average_paycheck"`
	AccountsPerPayCycle *int     `json:"accounts_per_paycycle"`
}

// Params resolves the request against the defaults.
func (r GeneratePlanRequest) Params() PlanParams {
	p := DefaultPlanParams()
	if r.PayCycleDays != nil {
		p.PayCycleDays = *r.PayCycleDays
	}
	if r.AveragePaycheck != nil {
		p.AveragePaycheck = *r.AveragePaycheck
	}
	if r.AccountsPerPayCycle != nil {
		p.AccountsPerPayCycle = *r.AccountsPerPayCycle
	}
	return p
}
