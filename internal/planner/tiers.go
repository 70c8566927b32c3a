package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"bonus-planner-api/internal/amount"
	"bonus-planner-api/internal/models"
)

const (
	defaultAccountTitle = "Unknown Account"
	defaultBankName     = "Unknown Bank"
)

// tierLine matches "Tier2: Up to $1,500 bonus for $25,000 deposit" and the
// "monthly growth" variant some banks use instead of a flat deposit.
var tierLine = regexp.MustCompile(`(?i)Tier(\d+):\s*(?:Up to\s+)?\$?([\d,]+)\s*bonus\s*(?:for\s+)?\$?([\d,]+)\s*(?:deposit|monthly growth)`)

// ExpandTiers turns an offer into one planning candidate per bonus tier. An
// offer without readable tiers yields a single candidate wrapping the offer
// unchanged.
func ExpandTiers(offer models.Offer) []models.PlannedOffer {
	tiers := ParseTiers(offer.Details)
	if len(tiers) == 0 {
		return []models.PlannedOffer{{Offer: offer}}
	}

	title := offer.Details.Get(models.FieldAccountTitle)
	if title == "" {
		title = defaultAccountTitle
	}

	variants := make([]models.PlannedOffer, 0, len(tiers))
	for _, tier := range tiers {
		tier := tier
		v := models.PlannedOffer{
			Offer:           offer,
			TierInfo:        &tier,
			IsTierVariant:   true,
			OriginalOfferID: offer.ID,
		}
		v.Details = offer.Details.Clone()
		v.Details[models.FieldBonusToBeReceived] = amount.String(tier.BonusAmount)
		v.Details[models.FieldMinimumDepositAmount] = amount.String(tier.DepositAmount)
		v.Details[models.FieldTotalDepositRequired] = "$" + amount.Format(tier.TotalDeposit)
		v.Details[models.FieldAccountTitle] = title + " - " + tier.Description
		variants = append(variants, v)
	}
	return variants
}

// ParseTiers reads the tier table of an offer. The structured JSON field wins;
// the free-text bonus_tiers field is the fallback. Nothing here fails: bad
// input simply means no tiers.
func ParseTiers(d models.Details) []models.TierInfo {
	if tiers := parseDetailedTiers(d.Get(models.FieldBonusTiersDetailed), d.Get(models.FieldTotalDepositByTier)); len(tiers) > 0 {
		return tiers
	}
	return parseTierText(d.Get(models.FieldBonusTiers))
}

type detailedTier struct {
	Tier    any `json:"tier"`
	Bonus   any `json:"bonus"`
	Deposit any `json:"deposit"`
}

type tierTotal struct {
	Tier         any `json:"tier"`
	TotalDeposit any `json:"total_deposit"`
}

func parseDetailedTiers(detailed, totals string) []models.TierInfo {
	if amount.IsNoTierSentinel(detailed) {
		return nil
	}

	var raw []detailedTier
	if err := json.Unmarshal([]byte(detailed), &raw); err != nil {
		return parseTierText(detailed)
	}

	var totalByTier map[int]float64
	if !amount.IsNoTierSentinel(totals) {
		var rows []tierTotal
		if err := json.Unmarshal([]byte(totals), &rows); err == nil {
			totalByTier = make(map[int]float64, len(rows))
			for _, row := range rows {
				n := tierNumber(row.Tier)
				if _, seen := totalByTier[n]; seen || row.TotalDeposit == nil {
					continue
				}
				totalByTier[n] = jsonNumber(row.TotalDeposit)
			}
		}
	}

	tiers := make([]models.TierInfo, 0, len(raw))
	for _, r := range raw {
		t := newTier(tierNumber(r.Tier), jsonNumber(r.Bonus), jsonNumber(r.Deposit))
		if total, ok := totalByTier[t.TierNumber]; ok {
			t.TotalDeposit = total
		}
		tiers = append(tiers, t)
	}
	return tiers
}

func parseTierText(s string) []models.TierInfo {
	if amount.IsNoTierSentinel(s) {
		return nil
	}

	var tiers []models.TierInfo
	for _, m := range tierLine.FindAllStringSubmatch(s, -1) {
		n, _ := amount.LeadingInt(m[1])
		tiers = append(tiers, newTier(n, amount.Parse(m[2]), amount.Parse(m[3])))
	}
	return tiers
}

func newTier(n int, bonus, deposit float64) models.TierInfo {
	return models.TierInfo{
		TierNumber:    n,
		BonusAmount:   bonus,
		DepositAmount: deposit,
		TotalDeposit:  deposit,
		Description:   fmt.Sprintf("Tier %d: $%s bonus for $%s deposit", n, amount.Format(bonus), amount.Format(deposit)),
	}
}

// jsonNumber reads a JSON value that may be a number or a money string.
func jsonNumber(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		return amount.Parse(x)
	default:
		return 0
	}
}

func tierNumber(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case string:
		if n, ok := amount.LeadingInt(strings.TrimSpace(x)); ok {
			return n
		}
	}
	return 1
}
