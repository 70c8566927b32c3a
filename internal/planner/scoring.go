package planner

import (
	"math"

	"bonus-planner-api/internal/amount"
	"bonus-planner-api/internal/models"

	"cloud.google.com/go/civil"
)

// DepositRequirements normalizes the deposit fields of an offer. When the
// total is missing it is derived as minimum deposit times deposit count.
func DepositRequirements(offer models.Offer) models.DepositRequirements {
	d := offer.Details
	req := models.DepositRequirements{
		MinDeposit:           amount.Parse(d.Get(models.FieldMinimumDepositAmount)),
		DepositsRequired:     requiredDeposits(d),
		InitialDeposit:       amount.Parse(d.Get(models.FieldInitialDepositAmount)),
		TotalDepositRequired: amount.Parse(d.Get(models.FieldTotalDepositRequired)),
	}
	if req.TotalDepositRequired == 0 {
		req.TotalDepositRequired = req.MinDeposit * float64(req.DepositsRequired)
	}
	return req
}

// PriorityScore ranks an offer; higher is better. The score is the sum of
// independent terms for return on deposit, expiration urgency, holding
// period, affordability against the paycheck and yearly fees.
func PriorityScore(offer models.Offer, today civil.Date, avgPaycheck float64) int {
	d := offer.Details
	bonus := amount.Parse(d.Get(models.FieldBonusToBeReceived))
	needed := DepositRequirements(offer).TotalNeeded()

	score := roiScore(bonus, needed) +
		urgencyScore(d.Get(models.FieldDealExpirationDate), today) +
		holdingScore(holdingPeriod(d)) +
		affordabilityScore(needed, avgPaycheck) -
		amount.Parse(d.Get(models.FieldMinimumMonthlyFee))*12

	return int(math.RoundToEven(score))
}

func roiScore(bonus, needed float64) float64 {
	if needed > 0 {
		return bonus / needed * 1000
	}
	return bonus * 0.3
}

func urgencyScore(expiration string, today civil.Date) float64 {
	exp, ok := amount.ParseDate(expiration)
	if !ok {
		return 0
	}
	days := exp.DaysSince(today)
	switch {
	case days < 0:
		return 0
	case days <= 7:
		return 1000
	case days <= 30:
		return 500
	case days <= 90:
		return 200
	}
	return 0
}

func holdingScore(days int) float64 {
	switch {
	case days >= 180:
		return 300
	case days >= 120:
		return 200
	case days >= 90:
		return 150
	case days >= 60:
		return 100
	case days >= 30:
		return 50
	}
	return 0
}

func affordabilityScore(needed, avgPaycheck float64) float64 {
	switch {
	case needed <= avgPaycheck:
		return 100
	case needed <= 2*avgPaycheck:
		return 50
	}
	return -50
}

// RiskLevel grades an offer from clawback terms, deposit size, holding
// period and fees.
func RiskLevel(offer models.Offer) models.RiskLevel {
	d := offer.Details
	risk := 0
	if amount.IsYes(d.Get(models.FieldClawbackClausePresent)) {
		risk += 3
	}
	if amount.Parse(d.Get(models.FieldMinimumDepositAmount)) > 5000 {
		risk += 2
	}
	if holdingPeriod(d) > 180 {
		risk += 2
	}
	if amount.Parse(d.Get(models.FieldMinimumMonthlyFee)) > 10 {
		risk++
	}

	switch {
	case risk <= 2:
		return models.RiskLow
	case risk <= 4:
		return models.RiskMedium
	}
	return models.RiskHigh
}

// annotate fills the informational score, risk and deposit figures.
func annotate(p models.PlannedOffer, today civil.Date, params models.PlanParams) models.PlannedOffer {
	p.Deposits = DepositRequirements(p.Offer)
	p.TotalDepositNeeded = p.Deposits.TotalNeeded()
	p.PriorityScore = PriorityScore(p.Offer, today, params.AveragePaycheck)
	p.RiskLevel = RiskLevel(p.Offer)
	return p
}
