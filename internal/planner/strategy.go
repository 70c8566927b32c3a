package planner

import (
	"sort"

	"bonus-planner-api/internal/amount"
	"bonus-planner-api/internal/models"

	"cloud.google.com/go/civil"
)

var holdingStrategies = []models.HoldingStrategy{models.HoldingMinimal, models.HoldingExtended}

// strategyGrid is the timing grid for one set of offers. Strategies are
// computed from their index, so walking the grid allocates nothing beyond
// the two axes.
type strategyGrid struct {
	delays  []int
	offsets []int
}

// newStrategyGrid builds the grid axes: start delays up to the furthest
// expiration, and every single-deposit offset inside any offer's deposit
// window, clamped to opts.MaxDepositTimingDays.
func newStrategyGrid(offers []models.Offer, today civil.Date, opts Options) strategyGrid {
	opts = opts.normalized()

	maxDelay := 0
	for _, o := range offers {
		exp, ok := amount.ParseDate(o.Details.Get(models.FieldDealExpirationDate))
		if !ok {
			continue
		}
		if days := exp.DaysSince(today); days > maxDelay {
			maxDelay = days
		}
	}
	if maxDelay == 0 {
		maxDelay = opts.DefaultMaxDelayDays
	}
	if maxDelay > opts.MaxDelayDays {
		maxDelay = opts.MaxDelayDays
	}

	seen := make(map[int]bool)
	for _, o := range offers {
		window, ok := amount.LeadingInt(o.Details.Get(models.FieldDaysForDeposit))
		if !ok {
			seen[min(opts.DefaultDepositTimingDays, opts.MaxDepositTimingDays)] = true
			continue
		}
		window = min(window, opts.MaxDepositTimingDays)
		for _, v := range steppedRange(1, window, opts.DepositTimingStep) {
			seen[v] = true
		}
	}
	if len(seen) == 0 {
		seen[min(opts.DefaultDepositTimingDays, opts.MaxDepositTimingDays)] = true
	}
	offsets := make([]int, 0, len(seen))
	for v := range seen {
		offsets = append(offsets, v)
	}
	sort.Ints(offsets)

	return strategyGrid{
		delays:  steppedRange(0, maxDelay, opts.DelayStep),
		offsets: offsets,
	}
}

// Len is the number of strategies in the grid.
func (g strategyGrid) Len() int {
	return len(g.delays) * len(g.offsets) * len(holdingStrategies)
}

// At returns strategy i. Order is delay, then deposit offset, then holding mode.
func (g strategyGrid) At(i int) models.TimingStrategy {
	h := i % len(holdingStrategies)
	i /= len(holdingStrategies)
	o := i % len(g.offsets)
	d := i / len(g.offsets)
	return models.TimingStrategy{
		DelayDays:         g.delays[d],
		DepositTimingDays: g.offsets[o],
		HoldingStrategy:   holdingStrategies[h],
	}
}

// GenerateStrategies enumerates the timing grid worth trying for a set of
// offers, in the order the search walks it.
func GenerateStrategies(offers []models.Offer, today civil.Date, opts Options) []models.TimingStrategy {
	g := newStrategyGrid(offers, today, opts)
	out := make([]models.TimingStrategy, g.Len())
	for i := range out {
		out[i] = g.At(i)
	}
	return out
}
