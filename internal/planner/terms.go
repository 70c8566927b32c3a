package planner

import (
	"bonus-planner-api/internal/amount"
	"bonus-planner-api/internal/models"

	"cloud.google.com/go/civil"
)

// terms are the numeric offer fields the planner needs, parsed once per
// candidate instead of once per evaluation.
type terms struct {
	bonus            float64
	minDeposit       float64
	depositsRequired int
	monthlyFee       float64

	// depositWindow is days_for_deposit, or the default when unknown.
	depositWindow      int
	depositWindowKnown bool
	holdingPeriod      int

	expiration    civil.Date
	hasExpiration bool
}

func parseTerms(d models.Details, opts Options) terms {
	t := terms{
		bonus:            amount.Parse(d.Get(models.FieldBonusToBeReceived)),
		minDeposit:       amount.Parse(d.Get(models.FieldMinimumDepositAmount)),
		depositsRequired: requiredDeposits(d),
		monthlyFee:       amount.Parse(d.Get(models.FieldMinimumMonthlyFee)),
		holdingPeriod:    holdingPeriod(d),
	}

	t.depositWindow, t.depositWindowKnown = amount.LeadingInt(d.Get(models.FieldDaysForDeposit))
	if !t.depositWindowKnown {
		t.depositWindow = opts.DefaultDepositWindowDays
	}

	t.expiration, t.hasExpiration = amount.ParseDate(d.Get(models.FieldDealExpirationDate))
	return t
}

// expiredBy reports whether the deal is closed on day.
func (t terms) expiredBy(day civil.Date) bool {
	return t.hasExpiration && day.After(t.expiration)
}

func requiredDeposits(d models.Details) int {
	n, ok := amount.LeadingInt(d.Get(models.FieldNumRequiredDeposits))
	if !ok || n < 1 {
		return 1
	}
	return n
}

func holdingPeriod(d models.Details) int {
	n, _ := amount.LeadingInt(d.Get(models.FieldMustBeOpenFor))
	return n
}
