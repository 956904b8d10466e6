// Package climate derives agronomic metrics from daily weather observations.
//
// BuildNormals turns a multi-year historical record into day-of-year long-term
// normals (LTN). AggregateMonthly and BuildTemperatureSeries compare a current
// record against those normals. All functions are pure: they read their inputs,
// allocate their outputs and keep no state between calls.
package climate

import (
	"github.com/kjstillabower/climate-analytics-service/internal/models"
)

// normalAccumulator collects one MonthDay's samples across years.
type normalAccumulator struct {
	sumMin, sumMean, sumMax float64
	sumPrecip               float64
	wetDays                 int
	total                   int
}

func (a *normalAccumulator) add(d models.DailyObservation) {
	a.sumMin += d.TempMin
	a.sumMean += d.TempMean
	a.sumMax += d.TempMax
	a.sumPrecip += d.Precipitation
	if d.IsWetDay() {
		a.wetDays++
	}
	a.total++
}

// BuildNormals groups history by calendar month-day (ignoring year) and averages each group.
// Every group produces a normal, even with a single contributing year (e.g. Feb 29).
// No smoothing is applied across neighboring days.
func BuildNormals(history []models.DailyObservation) models.Normals {
	groups := make(map[models.MonthDay]*normalAccumulator)
	for _, d := range history {
		key := models.MonthDayOf(d.Date)
		acc, ok := groups[key]
		if !ok {
			acc = &normalAccumulator{}
			groups[key] = acc
		}
		acc.add(d)
	}

	normals := make(models.Normals, len(groups))
	for key, acc := range groups {
		n := float64(acc.total)
		normals[key] = models.ClimateNormal{
			Month:             int(key.Month),
			Day:               key.Day,
			TempMinAvg:        acc.sumMin / n,
			TempMeanAvg:       acc.sumMean / n,
			TempMaxAvg:        acc.sumMax / n,
			PrecipitationAvg:  acc.sumPrecip / n,
			WetDayProbability: float64(acc.wetDays) / n,
		}
	}
	return normals
}
