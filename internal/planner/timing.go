package planner

import (
	"bonus-planner-api/internal/models"

	"cloud.google.com/go/civil"
)

const (
	extendedHoldingDays = 180
	closeBufferDays     = 7
	// smartDelayThreshold is the deposit window above which non-first
	// accounts are opened up to one pay cycle later.
	smartDelayThreshold = 90
)

// CalculateTiming derives the open, deposit, payout and close dates of an
// offer started on start under strategy s.
func CalculateTiming(offer models.Offer, start civil.Date, payCycleDays int, isFirst bool, s models.TimingStrategy) models.Timing {
	return parseTerms(offer.Details, DefaultOptions()).timing(start, payCycleDays, isFirst, s)
}

// ValidateDepositTiming reports whether every deposit of t lands inside the
// offer's deposit window. Offers without a readable window always pass.
func ValidateDepositTiming(offer models.Offer, t models.Timing) bool {
	return parseTerms(offer.Details, DefaultOptions()).validDeposits(t)
}

func (tr terms) timing(start civil.Date, payCycleDays int, isFirst bool, s models.TimingStrategy) models.Timing {
	holding := tr.holdingPeriod
	if s.HoldingStrategy == models.HoldingExtended && holding > 0 && holding < extendedHoldingDays {
		holding = extendedHoldingDays
	}

	open := start
	if !isFirst && tr.depositWindow > smartDelayThreshold {
		if delay := min(payCycleDays, tr.depositWindow-smartDelayThreshold); delay > 0 {
			open = start.AddDays(delay)
		}
	}

	var deposits []models.DepositEvent
	if tr.depositsRequired > 1 {
		interval := tr.depositWindow / tr.depositsRequired
		deposits = make([]models.DepositEvent, tr.depositsRequired)
		for i := range deposits {
			deposits[i] = models.DepositEvent{
				Date:           open.AddDays((i + 1) * interval),
				Amount:         tr.minDeposit,
				SequenceNumber: i + 1,
			}
		}
	} else {
		deposits = []models.DepositEvent{{
			Date:           open.AddDays(min(s.DepositTimingDays, tr.depositWindow)),
			Amount:         tr.minDeposit,
			SequenceNumber: 1,
		}}
	}

	t := models.Timing{
		AccountOpenDate:  open,
		DepositDates:     deposits,
		DepositDeadline:  open.AddDays(tr.depositWindow),
		BonusPayoutDate:  deposits[len(deposits)-1].Date.AddDays(2 * payCycleDays),
		DaysForDeposit:   tr.depositWindow,
		HoldingPeriod:    holding,
		DepositsRequired: tr.depositsRequired,
	}
	if holding > 0 {
		closeDate := open.AddDays(holding)
		if closeDate.Before(t.BonusPayoutDate) {
			closeDate = t.BonusPayoutDate.AddDays(closeBufferDays)
		}
		t.AccountCloseDate = &closeDate
	}
	return t
}

func (tr terms) validDeposits(t models.Timing) bool {
	if !tr.depositWindowKnown {
		return true
	}
	for _, d := range t.DepositDates {
		if d.Date.DaysSince(t.AccountOpenDate) > tr.depositWindow {
			return false
		}
	}
	return true
}

// feasible is the allocation-free form of timing+validDeposits used in the
// search hot loop. It reports whether the offer can be opened on start
// under s without missing its expiration or deposit window.
func (tr terms) feasible(start civil.Date, payCycleDays int, isFirst bool, s models.TimingStrategy) bool {
	if tr.expiredBy(start) {
		return false
	}
	open := start
	if !isFirst && tr.depositWindow > smartDelayThreshold {
		if delay := min(payCycleDays, tr.depositWindow-smartDelayThreshold); delay > 0 {
			open = start.AddDays(delay)
		}
	}
	if tr.expiredBy(open) {
		return false
	}
	if !tr.depositWindowKnown {
		return true
	}
	var last int
	if tr.depositsRequired > 1 {
		last = tr.depositsRequired * (tr.depositWindow / tr.depositsRequired)
	} else {
		last = min(s.DepositTimingDays, tr.depositWindow)
	}
	return last <= tr.depositWindow
}
