package planner

import (
	"context"
	"errors"
	"sort"
	"time"

	"bonus-planner-api/internal/models"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"
)

// checkInterval is how many evaluations run between context/deadline checks.
const checkInterval = 1024

// progressInterval is how many combinations run between progress logs.
const progressInterval = 1000

var errBudgetExhausted = errors.New("search budget exhausted")

// candidate is a planned offer with its terms pre-parsed.
type candidate struct {
	offer models.PlannedOffer
	terms terms
}

// combination is one pick of tier variant per physical offer.
type combination struct {
	members []*candidate
	bonus   float64
}

// group collects the mutually exclusive tier variants of one offer, keeping
// first-seen order of both groups and members.
func group(cands []*candidate) [][]*candidate {
	index := make(map[int]int)
	var groups [][]*candidate
	for _, c := range cands {
		id := c.offer.GroupID()
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], c)
	}
	return groups
}

// combinations returns the cartesian product of the groups, last group
// varying fastest, stably sorted by descending total bonus. truncated is
// true when limit cut the product short.
func combinations(groups [][]*candidate, limit int) (combos []combination, truncated bool) {
	if len(groups) == 0 {
		return nil, false
	}
	pick := make([]int, len(groups))
	for {
		if limit > 0 && len(combos) >= limit {
			truncated = true
			break
		}
		c := combination{members: make([]*candidate, len(groups))}
		for g, i := range pick {
			c.members[g] = groups[g][i]
			c.bonus += groups[g][i].terms.bonus
		}
		combos = append(combos, c)

		g := len(groups) - 1
		for ; g >= 0; g-- {
			pick[g]++
			if pick[g] < len(groups[g]) {
				break
			}
			pick[g] = 0
		}
		if g < 0 {
			break
		}
	}

	sort.SliceStable(combos, func(i, j int) bool { return combos[i].bonus > combos[j].bonus })
	return combos, truncated
}

// nextPermutation advances p to the next lexicographic ordering and reports
// false once p was the last one.
func nextPermutation(p []int) bool {
	i := len(p) - 2
	for i >= 0 && p[i] >= p[i+1] {
		i--
	}
	if i < 0 {
		return false
	}
	j := len(p) - 1
	for p[j] <= p[i] {
		j--
	}
	p[i], p[j] = p[j], p[i]
	for l, r := i+1, len(p)-1; l < r; l, r = l+1, r-1 {
		p[l], p[r] = p[r], p[l]
	}
	return true
}

// search walks combinations × permutations × strategies.
type search struct {
	ctx      context.Context
	opts     Options
	params   models.PlanParams
	today    civil.Date
	deadline time.Time
	logger   *zap.Logger

	evaluations int64

	best      *schedule
	bestBonus float64
}

// schedule is a feasible ordering found by the search.
type schedule struct {
	order    []*candidate
	strategy models.TimingStrategy
	bonus    float64
}

// tick counts one evaluation and enforces the budget.
func (s *search) tick() error {
	s.evaluations++
	if s.opts.MaxEvaluations > 0 && s.evaluations > s.opts.MaxEvaluations {
		return errBudgetExhausted
	}
	if s.evaluations%checkInterval != 0 {
		return nil
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	if !s.deadline.IsZero() && time.Now().After(s.deadline) {
		return errBudgetExhausted
	}
	return nil
}

// run evaluates combinations in order and keeps the strictly best schedule.
// Every feasible schedule of one combination contains the same offers, so
// the first feasible one is the only one that can win, and a combination
// whose bonus cannot beat the current best is skipped outright.
func (s *search) run(combos []combination) error {
	for n, combo := range combos {
		if n > 0 && n%progressInterval == 0 {
			s.logger.Debug("plan search progress",
				zap.Int("combinations_done", n),
				zap.Int("combinations", len(combos)),
				zap.Int64("evaluations", s.evaluations),
				zap.Float64("best_bonus", s.bestBonus),
			)
		}
		members := combo.members
		if len(members) > s.opts.MaxPermutedOffers {
			members = members[:s.opts.MaxPermutedOffers]
		}
		var bonus float64
		for _, c := range members {
			bonus += c.terms.bonus
		}
		if bonus <= s.bestBonus {
			continue
		}

		found, err := s.firstFeasible(members)
		if found != nil {
			found.bonus = bonus
			s.best = found
			s.bestBonus = bonus
			s.logger.Debug("new best plan",
				zap.Float64("total_bonus", bonus),
				zap.Int("offers", len(found.order)),
				zap.Int64("evaluations", s.evaluations),
			)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *search) firstFeasible(members []*candidate) (*schedule, error) {
	offers := make([]models.Offer, len(members))
	for i, c := range members {
		offers[i] = c.offer.Offer
	}
	grid := newStrategyGrid(offers, s.today, s.opts)
	n := grid.Len()

	perm := make([]int, len(members))
	for i := range perm {
		perm[i] = i
	}
	order := make([]*candidate, len(members))
	for {
		for i, p := range perm {
			order[i] = members[p]
		}
		for i := 0; i < n; i++ {
			if err := s.tick(); err != nil {
				return nil, err
			}
			if st := grid.At(i); s.feasible(order, st) {
				return &schedule{order: append([]*candidate(nil), order...), strategy: st}, nil
			}
		}
		if !nextPermutation(perm) {
			return nil, nil
		}
	}
}

func (s *search) feasible(order []*candidate, st models.TimingStrategy) bool {
	for i, c := range order {
		if !c.terms.feasible(s.startDate(i, st), s.params.PayCycleDays, i == 0, st) {
			return false
		}
	}
	return true
}

// startDate is the earliest day the i-th account of an ordering may open.
func (s *search) startDate(i int, st models.TimingStrategy) civil.Date {
	cycle := i / s.params.AccountsPerPayCycle
	return s.today.AddDays(cycle*s.params.PayCycleDays + st.DelayDays)
}
