package service

import (
	"math"
	"sort"
	"time"

	"golang-options-engine/internal/engine/config"
	"golang-options-engine/internal/engine/dto"
	"golang-options-engine/internal/entity"
	"golang-options-engine/pkg/logger"
)

// OptionSelector filters a chain against an automation's criteria and picks
// the best surviving candidate. Selection is fully deterministic: composite
// score first, then open interest (desc), spread (asc) and strike (asc) as
// tie-breaks.
type OptionSelector struct {
	log             *logger.Logger
	deltaTolerance  float64
	liquidityWeight float64
	spreadWeight    float64
}

func NewOptionSelector(cfg *config.Config, log *logger.Logger) *OptionSelector {
	deltaTolerance := cfg.Engine.DeltaTolerance
	if deltaTolerance <= 0 {
		deltaTolerance = 0.05
	}
	liquidityWeight := cfg.Engine.LiquidityWeight
	if liquidityWeight <= 0 {
		liquidityWeight = 1
	}
	spreadWeight := cfg.Engine.SpreadWeight
	if spreadWeight <= 0 {
		spreadWeight = 100
	}
	return &OptionSelector{
		log:             log,
		deltaTolerance:  deltaTolerance,
		liquidityWeight: liquidityWeight,
		spreadWeight:    spreadWeight,
	}
}

// OptionTypeForDirection maps a signal direction onto the contract type to
// trade. Neutral has no tradable side.
func OptionTypeForDirection(direction string) (entity.OptionType, bool) {
	switch direction {
	case dto.DirectionBullish:
		return entity.OptionTypeCall, true
	case dto.DirectionBearish:
		return entity.OptionTypePut, true
	default:
		return "", false
	}
}

// NearestExpiration picks the expiration whose days-to-expiration is closest
// to preferredDTE. Exact distance ties resolve to the earlier date.
func (s *OptionSelector) NearestExpiration(expirations []time.Time, preferredDTE int, now time.Time) (time.Time, bool) {
	var best time.Time
	bestDistance := math.MaxFloat64
	found := false

	for _, exp := range expirations {
		if exp.Before(now) {
			continue
		}
		dte := exp.Sub(now).Hours() / 24
		distance := math.Abs(dte - float64(preferredDTE))
		if !found || distance < bestDistance || (distance == bestDistance && exp.Before(best)) {
			best = exp
			bestDistance = distance
			found = true
		}
	}

	return best, found
}

// Filter keeps candidates of the wanted type that satisfy the automation's
// volume, open interest, spread and delta thresholds. Quotes without a live
// two-sided market are dropped.
func (s *OptionSelector) Filter(chain []dto.OptionCandidate, automation *entity.Automation, optionType entity.OptionType) []dto.OptionCandidate {
	var filtered []dto.OptionCandidate
	for _, c := range chain {
		if c.OptionType != optionType {
			continue
		}
		if c.Bid <= 0 || c.Ask <= 0 || c.Ask < c.Bid {
			continue
		}
		if c.Volume < automation.MinVolume {
			continue
		}
		if c.OpenInterest < automation.MinOpenInterest {
			continue
		}
		if automation.MaxSpreadPct > 0 && c.SpreadPct() > automation.MaxSpreadPct {
			continue
		}
		if automation.TargetDelta != nil && math.Abs(math.Abs(c.Delta)-math.Abs(*automation.TargetDelta)) > s.deltaTolerance {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// Score combines liquidity (higher better) and spread tightness (lower
// better) into one comparable value.
func (s *OptionSelector) Score(c *dto.OptionCandidate) float64 {
	return s.liquidityWeight*float64(c.Liquidity()) - s.spreadWeight*c.SpreadPct()
}

// scoreEqual treats scores within a relative epsilon as tied. The spread term
// carries float64 rounding noise, so algebraically equal scores compare
// unequal under exact != and the tie-break chain would never engage.
func scoreEqual(a, b float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Max(math.Abs(a), math.Abs(b)), 1)
	return diff <= scale*1e-9
}

// Select filters the chain and returns the highest-scoring candidate.
func (s *OptionSelector) Select(chain []dto.OptionCandidate, automation *entity.Automation, optionType entity.OptionType) (*dto.OptionCandidate, bool) {
	candidates := s.Filter(chain, automation, optionType)
	if len(candidates) == 0 {
		return nil, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := s.Score(&candidates[i]), s.Score(&candidates[j])
		if !scoreEqual(si, sj) {
			return si > sj
		}
		if candidates[i].OpenInterest != candidates[j].OpenInterest {
			return candidates[i].OpenInterest > candidates[j].OpenInterest
		}
		if candidates[i].SpreadPct() != candidates[j].SpreadPct() {
			return candidates[i].SpreadPct() < candidates[j].SpreadPct()
		}
		return candidates[i].Strike < candidates[j].Strike
	})

	return &candidates[0], true
}
