// Package scoring ranks a batch of raw parcel records relative to each
// other. All statistics (min/max, medians) are computed from the batch
// being scored, so scores are relative to the pull, not absolute.
package scoring

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-radar/internal/config"
	"github.com/sells-group/lead-radar/internal/model"
)

// neutralFactor is assigned when a sub-score cannot discriminate between
// records (zero variance, single record, or no observed values at all).
const neutralFactor = 0.5

// Scorer computes per-batch composite scores from weighted sub-factors.
type Scorer struct {
	equityWeight   float64
	valueGapWeight float64
	recencyWeight  float64
	fullDays       float64
	horizonDays    float64

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewScorer builds a Scorer from config. Negative weights are floored at
// zero and the set is normalized to sum to 1.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	we := math.Max(cfg.EquityWeight, 0)
	wg := math.Max(cfg.ValueGapWeight, 0)
	wr := math.Max(cfg.RecencyWeight, 0)
	total := we + wg + wr
	if total == 0 {
		total = 1
	}

	full := float64(cfg.RecencyFullDays)
	if full <= 0 {
		full = 730
	}
	horizon := float64(cfg.RecencyHorizonDays)
	if horizon <= full {
		horizon = full + 1
	}

	s := &Scorer{
		equityWeight:   we / total,
		valueGapWeight: wg / total,
		recencyWeight:  wr / total,
		fullDays:       full,
		horizonDays:    horizon,
		now:            time.Now,
	}
	zap.L().Debug("scoring: weights normalized",
		zap.Float64("equity", s.equityWeight),
		zap.Float64("value_gap", s.valueGapWeight),
		zap.Float64("recency", s.recencyWeight),
	)
	return s
}

// Score produces a scored, ordered copy of the batch. An empty batch
// yields an empty result, never an error; missing per-record fields are
// absorbed by median substitution.
func (s *Scorer) Score(batch []model.RawParcel) []model.ScoredProperty {
	if len(batch) == 0 {
		return []model.ScoredProperty{}
	}

	equityStats := collect(batch, func(p *model.RawParcel) *float64 { return p.EquityAvailable })
	gapStats := collect(batch, func(p *model.RawParcel) *float64 { return p.ValueGap() })
	ages := s.collectAges(batch)

	scored := make([]model.ScoredProperty, 0, len(batch))
	for i := range batch {
		p := batch[i]

		equityFactor := equityStats.normalize(p.EquityAvailable)
		gapFactor := gapStats.normalize(p.ValueGap())
		recencyFactor := s.recencyFactor(p.TransferDate, ages)

		composite := 100 * (s.equityWeight*equityFactor +
			s.valueGapWeight*gapFactor +
			s.recencyWeight*recencyFactor)
		composite = clamp(composite, 0, 100)

		scored = append(scored, model.ScoredProperty{
			RawParcel:    p,
			ListingScore: round(composite, 2),
			ScoreBreakdown: model.ScoreBreakdown{
				Equity:   round(equityFactor, 4),
				ValueGap: round(gapFactor, 4),
				Recency:  round(recencyFactor, 4),
			},
		})
	}

	SortProperties(scored)
	return scored
}

// SortProperties orders scored properties by composite score descending,
// breaking ties by equity factor descending, then property ID ascending
// for determinism.
func SortProperties(props []model.ScoredProperty) {
	sort.SliceStable(props, func(i, j int) bool {
		if props[i].ListingScore != props[j].ListingScore {
			return props[i].ListingScore > props[j].ListingScore
		}
		if props[i].ScoreBreakdown.Equity != props[j].ScoreBreakdown.Equity {
			return props[i].ScoreBreakdown.Equity > props[j].ScoreBreakdown.Equity
		}
		return props[i].ID < props[j].ID
	})
}

// batchStats holds the cross-record statistics for one min-max factor.
type batchStats struct {
	min, max, median float64
	observed         bool
}

func collect(batch []model.RawParcel, get func(*model.RawParcel) *float64) batchStats {
	var values []float64
	for i := range batch {
		if v := get(&batch[i]); v != nil {
			values = append(values, *v)
		}
	}
	if len(values) == 0 {
		return batchStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return batchStats{
		min:      sorted[0],
		max:      sorted[len(sorted)-1],
		median:   median(sorted),
		observed: true,
	}
}

// normalize min-max scales a value into [0,1]. A missing value is
// substituted with the batch median before scaling; zero variance yields
// the neutral factor for every record.
func (st batchStats) normalize(v *float64) float64 {
	if !st.observed {
		return neutralFactor
	}
	if st.max-st.min < 1e-9 {
		return neutralFactor
	}
	value := st.median
	if v != nil {
		value = *v
	}
	return clamp((value-st.min)/(st.max-st.min), 0, 1)
}

// collectAges returns the sorted ages in days of all records with a
// transfer date.
func (s *Scorer) collectAges(batch []model.RawParcel) []float64 {
	now := s.now().UTC()
	var ages []float64
	for i := range batch {
		if td := batch[i].TransferDate; td != nil {
			ages = append(ages, now.Sub(*td).Hours()/24)
		}
	}
	sort.Float64s(ages)
	return ages
}

// recencyFactor maps a transfer age to [0,1]: 1.0 up to fullDays, then a
// linear decay reaching 0 at horizonDays. A missing date takes the batch
// median age; with no dates in the batch at all the factor is neutral.
func (s *Scorer) recencyFactor(transferDate *time.Time, sortedAges []float64) float64 {
	var age float64
	switch {
	case transferDate != nil:
		age = s.now().UTC().Sub(*transferDate).Hours() / 24
	case len(sortedAges) > 0:
		age = median(sortedAges)
	default:
		return neutralFactor
	}

	if age <= s.fullDays {
		return 1
	}
	if age >= s.horizonDays {
		return 0
	}
	return (s.horizonDays - age) / (s.horizonDays - s.fullDays)
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
