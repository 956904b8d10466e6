package climate

import (
	"time"

	"github.com/kjstillabower/climate-analytics-service/internal/models"
)

const (
	// DrySpellWindowDays is the length of the sliding dry-spell window.
	DrySpellWindowDays = 5
	// DrySpellMaxPrecipMM is the exclusive precipitation ceiling for a dry-spell window.
	DrySpellMaxPrecipMM = 5.0
	// ShortDrySpellMinDays and ShortDrySpellMaxDays bound a short dry run (inclusive).
	ShortDrySpellMinDays = 1
	ShortDrySpellMaxDays = 3

	// DrySpellLTN and ShortDrySpellLTN are fixed baselines, not derived from history.
	DrySpellLTN      = 1.5
	ShortDrySpellLTN = 4.0
)

// monthAccumulator collects one calendar month of the current series.
type monthAccumulator struct {
	key            models.MonthKey
	year           int
	month          time.Month
	precipTotal    float64
	wetDays        int
	dryDays        int
	drySpells      int
	shortDrySpells int
}

// monthIndex keeps accumulators in order of first appearance, keyed "YYYY-MM".
type monthIndex struct {
	order []*monthAccumulator
	byKey map[models.MonthKey]*monthAccumulator
}

func newMonthIndex() *monthIndex {
	return &monthIndex{byKey: make(map[models.MonthKey]*monthAccumulator)}
}

func (m *monthIndex) get(t time.Time) *monthAccumulator {
	key := models.MonthKeyOf(t)
	if acc, ok := m.byKey[key]; ok {
		return acc
	}
	acc := &monthAccumulator{key: key, year: t.Year(), month: t.Month()}
	m.byKey[key] = acc
	m.order = append(m.order, acc)
	return acc
}

// AggregateMonthly derives one MonthlyMetrics per calendar month present in current,
// in chronological order of first appearance.
func AggregateMonthly(current []models.DailyObservation, normals models.Normals) []models.MonthlyMetrics {
	months := newMonthIndex()
	for _, d := range current {
		acc := months.get(d.Date)
		acc.precipTotal += d.Precipitation
		if d.IsWetDay() {
			acc.wetDays++
		} else {
			acc.dryDays++
		}
	}

	countDrySpells(current, months)
	countShortDrySpells(current, months)

	out := make([]models.MonthlyMetrics, 0, len(months.order))
	for _, acc := range months.order {
		avgPrecip, avgWetProb := monthlyNormalAverages(normals, acc.month)
		days := float64(daysIn(acc.year, acc.month))
		out = append(out, models.MonthlyMetrics{
			Month:              acc.key,
			PrecipitationTotal: acc.precipTotal,
			PrecipitationLTN:   avgPrecip * days,
			WetDaysCount:       acc.wetDays,
			WetDaysLTN:         avgWetProb * days,
			DryDaysCount:       acc.dryDays,
			DryDaysLTN:         (1 - avgWetProb) * days,
			DrySpellCount:      acc.drySpells,
			DrySpellLTN:        DrySpellLTN,
			ShortDrySpellCount: acc.shortDrySpells,
			ShortDrySpellLTN:   ShortDrySpellLTN,
		})
	}
	return out
}

// countDrySpells slides a 5-day window over the whole series, across month boundaries.
// Each qualifying window is one event in the month of its first day; overlapping
// windows are counted independently.
func countDrySpells(series []models.DailyObservation, months *monthIndex) {
	for i := 0; i+DrySpellWindowDays <= len(series); i++ {
		var sum float64
		for _, d := range series[i : i+DrySpellWindowDays] {
			sum += d.Precipitation
		}
		if sum < DrySpellMaxPrecipMM {
			months.get(series[i].Date).drySpells++
		}
	}
}

// countShortDrySpells counts dry runs of 1-3 days. The event belongs to the month of
// the wet day that ends the run; a run still open at the end of the series is dropped.
func countShortDrySpells(series []models.DailyObservation, months *monthIndex) {
	run := 0
	for _, d := range series {
		if !d.IsWetDay() {
			run++
			continue
		}
		if run >= ShortDrySpellMinDays && run <= ShortDrySpellMaxDays {
			months.get(d.Date).shortDrySpells++
		}
		run = 0
	}
}

// monthlyNormalAverages averages PrecipitationAvg and WetDayProbability over every
// normal in month. Both are 0 when the month has no normals.
func monthlyNormalAverages(normals models.Normals, month time.Month) (precip, wetProb float64) {
	n := 0
	for key, normal := range normals {
		if key.Month != month {
			continue
		}
		precip += normal.PrecipitationAvg
		wetProb += normal.WetDayProbability
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return precip / float64(n), wetProb / float64(n)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
