package climate

import (
	"github.com/kjstillabower/climate-analytics-service/internal/models"
)

// BuildTemperatureSeries pairs each current day with its normal, in series order.
// Days whose MonthDay has no normal use their own readings as LTN.
func BuildTemperatureSeries(current []models.DailyObservation, normals models.Normals) []models.TemperaturePoint {
	out := make([]models.TemperaturePoint, 0, len(current))
	for _, d := range current {
		p := models.TemperaturePoint{
			Date:        d.Date.Format(models.DateLayout),
			CurrentMin:  d.TempMin,
			CurrentMean: d.TempMean,
			CurrentMax:  d.TempMax,
			LTNMin:      d.TempMin,
			LTNMean:     d.TempMean,
			LTNMax:      d.TempMax,
		}
		if n, ok := normals[models.MonthDayOf(d.Date)]; ok {
			p.LTNMin = n.TempMinAvg
			p.LTNMean = n.TempMeanAvg
			p.LTNMax = n.TempMaxAvg
		}
		out = append(out, p)
	}
	return out
}
