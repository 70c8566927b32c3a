// Package planner schedules bank bonus offers. It expands tiered offers into
// alternatives, then searches tier combinations, account orderings and a grid
// of timing strategies for the feasible schedule with the highest total bonus.
package planner

import (
	"context"
	"errors"
	"sort"
	"time"

	"bonus-planner-api/internal/amount"
	"bonus-planner-api/internal/models"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Planner generates plans. It holds no per-call state and is safe for
// concurrent use.
type Planner struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock overrides the wall clock used to decide "today".
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// WithLogger sets the logger used for search progress.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Planner) { p.logger = logger }
}

// New creates a planner with the given search options.
func New(opts Options, options ...Option) *Planner {
	p := &Planner{
		opts:   opts.normalized(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Options returns the effective search options.
func (p *Planner) Options() Options {
	return p.opts
}

// Today is the calendar day plans are computed for.
func (p *Planner) Today() civil.Date {
	return civil.DateOf(p.now())
}

// GeneratePlan returns the feasible schedule with the highest total bonus, or
// nil when no offer can be scheduled. The offers map is only read. When ctx is
// cancelled or the search budget runs out, the best plan found so far is
// returned with Exhaustive set to false.
func (p *Planner) GeneratePlan(ctx context.Context, offers map[int]models.Offer, params models.PlanParams) *models.Plan {
	today := p.Today()
	if params.AccountsPerPayCycle < 1 {
		params.AccountsPerPayCycle = 1
	}

	ids := make([]int, 0, len(offers))
	for id := range offers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var cands []*candidate
	for _, id := range ids {
		offer := offers[id]
		if !offer.Eligible() {
			continue
		}
		for _, v := range ExpandTiers(offer) {
			v = annotate(v, today, params)
			t := parseTerms(v.Details, p.opts)
			if t.hasExpiration && t.expiration.Before(today) {
				continue
			}
			cands = append(cands, &candidate{offer: v, terms: t})
		}
	}
	if len(cands) == 0 {
		p.logger.Debug("no schedulable offers", zap.Int("offers", len(offers)))
		return nil
	}

	combos, truncated := combinations(group(cands), p.opts.MaxCombinations)
	if truncated {
		p.logger.Warn("tier combinations truncated", zap.Int("limit", p.opts.MaxCombinations))
	}

	s := &search{
		ctx:    ctx,
		opts:   p.opts,
		params: params,
		today:  today,
		logger: p.logger,
	}
	if p.opts.Timeout > 0 {
		s.deadline = time.Now().Add(p.opts.Timeout)
	}

	started := time.Now()
	err := s.run(combos)
	exhaustive := err == nil && !truncated
	if err != nil && !errors.Is(err, errBudgetExhausted) {
		p.logger.Info("plan search cancelled", zap.Error(err))
	}

	p.logger.Debug("plan search finished",
		zap.Int("candidates", len(cands)),
		zap.Int("combinations", len(combos)),
		zap.Int64("evaluations", s.evaluations),
		zap.Bool("exhaustive", exhaustive),
		zap.Duration("elapsed", time.Since(started)),
	)

	if s.best == nil {
		return nil
	}

	plan := p.buildPlan(s.best, today, params)
	plan.Evaluations = s.evaluations
	plan.Exhaustive = exhaustive
	return plan
}

func (p *Planner) buildPlan(best *schedule, today civil.Date, params models.PlanParams) *models.Plan {
	n := len(best.order)
	plan := &models.Plan{
		ID:                  uuid.New().String(),
		GeneratedAt:         p.now(),
		Offers:              make([]models.PlannedOffer, n),
		Timeline:            make([]models.TimelineItem, n),
		TierSelections:      []models.TierSelection{},
		AccountsPerPayCycle: params.AccountsPerPayCycle,
		Strategy:            best.strategy,
	}

	var bonus, fees, deposits decimal.Decimal
	for i, c := range best.order {
		cycle := i / params.AccountsPerPayCycle
		start := today.AddDays(cycle*params.PayCycleDays + best.strategy.DelayDays)
		timing := c.terms.timing(start, params.PayCycleDays, i == 0, best.strategy)

		plan.Offers[i] = c.offer
		plan.Timeline[i] = models.TimelineItem{
			OfferID:             c.offer.ID,
			AccountTitle:        c.offer.Details.Get(models.FieldAccountTitle),
			Position:            i + 1,
			PayCycle:            cycle + 1,
			StartDate:           timing.AccountOpenDate,
			EstimatedCompletion: timing.BonusPayoutDate,
			BonusAmount:         c.terms.bonus,
			MonthlyFee:          c.terms.monthlyFee,
			Deposits:            c.offer.Deposits,
			Timing:              timing,
		}

		bonus = bonus.Add(amount.Decimal(c.offer.Details.Get(models.FieldBonusToBeReceived)))
		fees = fees.Add(amount.Decimal(c.offer.Details.Get(models.FieldMinimumMonthlyFee)))
		deposits = deposits.Add(decimal.NewFromFloat(c.offer.TotalDepositNeeded))

		if c.offer.IsTierVariant && c.offer.TierInfo != nil {
			bank := c.offer.Details.Get(models.FieldBankName)
			if bank == "" {
				bank = defaultBankName
			}
			plan.TierSelections = append(plan.TierSelections, models.TierSelection{
				BankName:        bank,
				OriginalOfferID: c.offer.OriginalOfferID,
				SelectedTier:    c.offer.TierInfo.Description,
				BonusAmount:     c.offer.TierInfo.BonusAmount,
				DepositAmount:   c.offer.TierInfo.DepositAmount,
			})
		}
	}

	plan.TotalBonus = bonus.InexactFloat64()
	plan.TotalMonthlyFees = fees.InexactFloat64()
	plan.TotalDepositNeeded = deposits.InexactFloat64()
	plan.TotalPayCycles = (n-1)/params.AccountsPerPayCycle + 1
	plan.EstimatedDuration = plan.TotalPayCycles*params.PayCycleDays + 2*params.PayCycleDays

	p.logger.Debug("plan selected",
		zap.String("plan_id", plan.ID),
		zap.Float64("total_bonus", plan.TotalBonus),
		zap.Int("offers", n),
		zap.Int("delay_days", best.strategy.DelayDays),
		zap.Int("deposit_timing_days", best.strategy.DepositTimingDays),
		zap.String("holding_strategy", string(best.strategy.HoldingStrategy)),
	)
	return plan
}
