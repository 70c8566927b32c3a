package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"bonus-planner-api/internal/models"
)

// PlanCache memoizes plans for an exact offer snapshot, parameter set and day.
type PlanCache struct {
	backend Cache
	ttl     time.Duration
}

// NewPlanCache wraps backend.
func NewPlanCache(backend Cache, ttl time.Duration) *PlanCache {
	return &PlanCache{backend: backend, ttl: ttl}
}

// planKeyInput fixes the field order hashed by PlanKey.
type planKeyInput struct {
	Today  string            `json:"today"`
	Params models.PlanParams `json:"params"`
	Offers []planKeyOffer    `json:"offers"`
}

type planKeyOffer struct {
	ID             int                   `json:"id"`
	Status         models.OfferStatus    `json:"status"`
	UserControlled models.UserControlled `json:"user_controlled"`
	Details        models.Details        `json:"details"`
}

// PlanKey derives the cache key. Any change to an offer that the planner
// reads, to the parameters, or to the calendar day changes the key.
func PlanKey(offers map[int]models.Offer, params models.PlanParams, today civil.Date) string {
	in := planKeyInput{
		Today:  today.String(),
		Params: params,
		Offers: make([]planKeyOffer, 0, len(offers)),
	}
	for _, o := range offers {
		in.Offers = append(in.Offers, planKeyOffer{
			ID:             o.ID,
			Status:         o.Status,
			UserControlled: o.UserControlled,
			Details:        o.Details,
		})
	}
	sort.Slice(in.Offers, func(i, j int) bool { return in.Offers[i].ID < in.Offers[j].ID })

	// encoding/json sorts map keys, so Details hash deterministically.
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return "plan:" + hex.EncodeToString(sum[:])
}

// Get returns a cached plan. found is false on a miss; backend errors are
// reported so callers can log them and fall through to planning.
func (c *PlanCache) Get(ctx context.Context, key string) (plan *models.Plan, found bool, err error) {
	var p models.Plan
	err = GetJSON(ctx, c.backend, key, &p)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// Put stores plan under key.
func (c *PlanCache) Put(ctx context.Context, key string, plan *models.Plan) error {
	return SetJSON(ctx, c.backend, key, plan, c.ttl)
}

// Invalidate drops every cached plan.
func (c *PlanCache) Invalidate(ctx context.Context) error {
	return c.backend.Clear(ctx)
}
