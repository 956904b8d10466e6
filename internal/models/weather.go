package models

import (
	"fmt"
	"time"
)

// DateLayout is the provider and API date format (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// WetDayThresholdMM is the strict precipitation threshold for a wet day.
const WetDayThresholdMM = 1.0

// GeoPoint is a single WGS84 analysis point.
type GeoPoint struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// DailyObservation is one calendar day of provider data.
type DailyObservation struct {
	Date          time.Time `json:"date"`
	TempMin       float64   `json:"tempMin"`
	TempMean      float64   `json:"tempMean"`
	TempMax       float64   `json:"tempMax"`
	Precipitation float64   `json:"precipitation"`
}

// IsWetDay reports whether precipitation exceeds 1.0mm. Exactly 1.0mm is dry.
func (d DailyObservation) IsWetDay() bool {
	return d.Precipitation > WetDayThresholdMM
}

// MonthDay keys a climate normal by calendar position, ignoring year.
type MonthDay struct {
	Month time.Month
	Day   int
}

// MonthDayOf returns the MonthDay of t.
func MonthDayOf(t time.Time) MonthDay {
	return MonthDay{Month: t.Month(), Day: t.Day()}
}

// String renders the key as "MM-DD".
func (md MonthDay) String() string {
	return fmt.Sprintf("%02d-%02d", int(md.Month), md.Day)
}

// MonthKey identifies a calendar month as "YYYY-MM".
type MonthKey string

// MonthKeyOf returns the "YYYY-MM" prefix of t's date.
func MonthKeyOf(t time.Time) MonthKey {
	return MonthKey(t.Format("2006-01"))
}

// ClimateNormal is the long-term normal (LTN) for one MonthDay.
type ClimateNormal struct {
	Month             int     `json:"month"`
	Day               int     `json:"day"`
	TempMinAvg        float64 `json:"tempMinAvg"`
	TempMeanAvg       float64 `json:"tempMeanAvg"`
	TempMaxAvg        float64 `json:"tempMaxAvg"`
	PrecipitationAvg  float64 `json:"precipitationAvg"`
	WetDayProbability float64 `json:"wetDayProbability"`
}

// Normals maps each MonthDay present in the historical record to its normal.
type Normals map[MonthDay]ClimateNormal

// MonthlyMetrics holds one calendar month's derived metrics against LTN.
type MonthlyMetrics struct {
	Month              MonthKey `json:"month"`
	PrecipitationTotal float64  `json:"precipitationTotal"`
	PrecipitationLTN   float64  `json:"precipitationLtn"`
	WetDaysCount       int      `json:"wetDaysCount"`
	WetDaysLTN         float64  `json:"wetDaysLtn"`
	DryDaysCount       int      `json:"dryDaysCount"`
	DryDaysLTN         float64  `json:"dryDaysLtn"`
	DrySpellCount      int      `json:"drySpellCount"`
	DrySpellLTN        float64  `json:"drySpellLtn"`
	ShortDrySpellCount int      `json:"shortDrySpellCount"`
	ShortDrySpellLTN   float64  `json:"shortDrySpellLtn"`
}

// TemperaturePoint pairs one day's readings with its LTN analog.
type TemperaturePoint struct {
	Date        string  `json:"date"`
	CurrentMin  float64 `json:"currentMin"`
	CurrentMean float64 `json:"currentMean"`
	CurrentMax  float64 `json:"currentMax"`
	LTNMin      float64 `json:"ltnMin"`
	LTNMean     float64 `json:"ltnMean"`
	LTNMax      float64 `json:"ltnMax"`
}

// WeatherAnalyticsData is the result bundle of one analysis request.
type WeatherAnalyticsData struct {
	TemperatureSeries []TemperaturePoint `json:"temperatureSeries"`
	MonthlyMetrics    []MonthlyMetrics   `json:"monthlyMetrics"`
	StartDate         string             `json:"startDate"`
	EndDate           string             `json:"endDate"`
	Location          GeoPoint           `json:"location"`
}
