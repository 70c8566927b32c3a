package planner

import "time"

// Options bounds the plan search. The zero value of MaxEvaluations,
// MaxCombinations and Timeout means "unbounded".
type Options struct {
	// MaxPermutedOffers caps how many offers of a tier combination are
	// permuted (6 offers = 720 orderings).
	MaxPermutedOffers int
	// MaxDelayDays caps the start-delay axis of the strategy grid.
	MaxDelayDays int
	// DefaultMaxDelayDays is used when no candidate has a future expiration.
	DefaultMaxDelayDays int
	// DefaultDepositTimingDays is the deposit offset tried for offers whose
	// deposit window is unknown.
	DefaultDepositTimingDays int
	// DefaultDepositWindowDays is assumed when days_for_deposit is unparsable.
	DefaultDepositWindowDays int
	// MaxDepositTimingDays caps the deposit-offset axis of the strategy grid.
	MaxDepositTimingDays int
	// DelayStep and DepositTimingStep set the grid resolution in days.
	DelayStep         int
	DepositTimingStep int

	MaxCombinations int
	MaxEvaluations  int64
	Timeout         time.Duration
}

// DefaultOptions returns the exhaustive search settings.
func DefaultOptions() Options {
	return Options{
		MaxPermutedOffers:        6,
		MaxDelayDays:             90,
		DefaultMaxDelayDays:      90,
		DefaultDepositTimingDays: 90,
		DefaultDepositWindowDays: 60,
		MaxDepositTimingDays:     365,
		DelayStep:                1,
		DepositTimingStep:        1,
		MaxCombinations:          100000,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.MaxPermutedOffers <= 0 {
		o.MaxPermutedOffers = d.MaxPermutedOffers
	}
	if o.MaxDelayDays < 0 {
		o.MaxDelayDays = 0
	}
	if o.DefaultMaxDelayDays <= 0 {
		o.DefaultMaxDelayDays = d.DefaultMaxDelayDays
	}
	if o.DefaultDepositTimingDays <= 0 {
		o.DefaultDepositTimingDays = d.DefaultDepositTimingDays
	}
	if o.DefaultDepositWindowDays <= 0 {
		o.DefaultDepositWindowDays = d.DefaultDepositWindowDays
	}
	if o.MaxDepositTimingDays <= 0 {
		o.MaxDepositTimingDays = d.MaxDepositTimingDays
	}
	if o.DelayStep <= 0 {
		o.DelayStep = 1
	}
	if o.DepositTimingStep <= 0 {
		o.DepositTimingStep = 1
	}
	return o
}

// steppedRange returns lo..hi inclusive in increments of step, always ending on hi.
func steppedRange(lo, hi, step int) []int {
	if hi < lo {
		return nil
	}
	out := make([]int, 0, (hi-lo)/step+2)
	for v := lo; v <= hi; v += step {
		out = append(out, v)
	}
	if out[len(out)-1] != hi {
		out = append(out, hi)
	}
	return out
}
