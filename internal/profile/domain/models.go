package domain

import (
	"strings"
	"time"
)

// DataMode is the provenance tier of a profile.
type DataMode string

const (
	DataModeRealtime DataMode = "realtime"
	DataModeAdjusted DataMode = "adjusted"
	DataModeDelayed  DataMode = "delayed"
)

// ParseDataMode maps the GDAC single letter code (R, A, D) or a tier name
// to a DataMode. Unknown values are treated as realtime.
func ParseDataMode(raw string) DataMode {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "A", "ADJUSTED":
		return DataModeAdjusted
	case "D", "DELAYED":
		return DataModeDelayed
	default:
		return DataModeRealtime
	}
}

// HasAdjusted reports whether adjusted values may be used for this mode.
func (m DataMode) HasAdjusted() bool {
	return m == DataModeAdjusted || m == DataModeDelayed
}

// Cycle is one decoded profile cast.
type Cycle struct {
	FloatID        int64
	CycleNumber    int
	Timestamp      time.Time
	Latitude       *float64
	Longitude      *float64
	PositionQC     string
	DataMode       DataMode
	BatteryPercent *int
	Levels         []Level
}

// HasPosition reports whether both coordinates are known.
func (c Cycle) HasPosition() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// Level is one depth-indexed reading within a cycle. Raw values and their
// flags come straight from the source; the canonical values are filled by
// the normalizer.
type Level struct {
	Level int

	Pressure    *float64
	Temperature *float64
	Salinity    *float64
	PresQC      string
	TempQC      string
	PsalQC      string

	PressureAdj    *float64
	TemperatureAdj *float64
	SalinityAdj    *float64
	PresAdjQC      string
	TempAdjQC      string
	PsalAdjQC      string

	Oxygen        *float64
	OxygenQC      string
	Chlorophyll   *float64
	ChlorophyllQC string
	Nitrate       *float64
	NitrateQC     string

	Canonical Canonical
}

// Canonical holds the resolved value per core parameter.
type Canonical struct {
	Pressure    *float64
	Temperature *float64
	Salinity    *float64
}

// Empty reports whether none of the raw core readings are present.
func (l Level) Empty() bool {
	return l.Pressure == nil && l.Temperature == nil && l.Salinity == nil
}

// Measurement is one archive row. The natural key is
// (FloatID, CycleNumber, Level).
type Measurement struct {
	FloatID          int64     `parquet:"float_id" json:"float_id"`
	CycleNumber      int32     `parquet:"cycle_number" json:"cycle_number"`
	Level            int32     `parquet:"level" json:"level"`
	ProfileTimestamp time.Time `parquet:"profile_timestamp,timestamp(millisecond),optional" json:"profile_timestamp"`
	Latitude         *float64  `parquet:"latitude" json:"latitude"`
	Longitude        *float64  `parquet:"longitude" json:"longitude"`
	PositionQC       string    `parquet:"position_qc,dict" json:"position_qc,omitempty"`
	DataMode         string    `parquet:"data_mode,dict" json:"data_mode"`
	BatteryPercent   *int32    `parquet:"battery_percent" json:"battery_percent,omitempty"`

	Pressure    *float64 `parquet:"pressure" json:"pressure"`
	Temperature *float64 `parquet:"temperature" json:"temperature"`
	Salinity    *float64 `parquet:"salinity" json:"salinity"`

	PressureRaw    *float64 `parquet:"pressure_raw" json:"pressure_raw"`
	TemperatureRaw *float64 `parquet:"temperature_raw" json:"temperature_raw"`
	SalinityRaw    *float64 `parquet:"salinity_raw" json:"salinity_raw"`
	PresQC         string   `parquet:"pres_qc,dict" json:"pres_qc"`
	TempQC         string   `parquet:"temp_qc,dict" json:"temp_qc"`
	PsalQC         string   `parquet:"psal_qc,dict" json:"psal_qc"`

	PressureAdj    *float64 `parquet:"pressure_adj" json:"pressure_adj"`
	TemperatureAdj *float64 `parquet:"temperature_adj" json:"temperature_adj"`
	SalinityAdj    *float64 `parquet:"salinity_adj" json:"salinity_adj"`
	PresAdjQC      string   `parquet:"pres_adj_qc,dict" json:"pres_adj_qc"`
	TempAdjQC      string   `parquet:"temp_adj_qc,dict" json:"temp_adj_qc"`
	PsalAdjQC      string   `parquet:"psal_adj_qc,dict" json:"psal_adj_qc"`

	Oxygen        *float64 `parquet:"oxygen" json:"oxygen,omitempty"`
	OxygenQC      string   `parquet:"oxygen_qc,dict" json:"oxygen_qc,omitempty"`
	Chlorophyll   *float64 `parquet:"chlorophyll" json:"chlorophyll,omitempty"`
	ChlorophyllQC string   `parquet:"chlorophyll_qc,dict" json:"chlorophyll_qc,omitempty"`
	Nitrate       *float64 `parquet:"nitrate" json:"nitrate,omitempty"`
	NitrateQC     string   `parquet:"nitrate_qc,dict" json:"nitrate_qc,omitempty"`
}

// Rows flattens normalized cycles into archive rows.
func Rows(floatID int64, cycles []Cycle) []Measurement {
	n := 0
	for _, c := range cycles {
		n += len(c.Levels)
	}
	rows := make([]Measurement, 0, n)
	for _, c := range cycles {
		var battery *int32
		if c.BatteryPercent != nil {
			v := int32(*c.BatteryPercent)
			battery = &v
		}
		for _, l := range c.Levels {
			rows = append(rows, Measurement{
				FloatID:          floatID,
				CycleNumber:      int32(c.CycleNumber),
				Level:            int32(l.Level),
				ProfileTimestamp: c.Timestamp.UTC(),
				Latitude:         c.Latitude,
				Longitude:        c.Longitude,
				PositionQC:       c.PositionQC,
				DataMode:         string(c.DataMode),
				BatteryPercent:   battery,
				Pressure:         l.Canonical.Pressure,
				Temperature:      l.Canonical.Temperature,
				Salinity:         l.Canonical.Salinity,
				PressureRaw:      l.Pressure,
				TemperatureRaw:   l.Temperature,
				SalinityRaw:      l.Salinity,
				PresQC:           l.PresQC,
				TempQC:           l.TempQC,
				PsalQC:           l.PsalQC,
				PressureAdj:      l.PressureAdj,
				TemperatureAdj:   l.TemperatureAdj,
				SalinityAdj:      l.SalinityAdj,
				PresAdjQC:        l.PresAdjQC,
				TempAdjQC:        l.TempAdjQC,
				PsalAdjQC:        l.PsalAdjQC,
				Oxygen:           l.Oxygen,
				OxygenQC:         l.OxygenQC,
				Chlorophyll:      l.Chlorophyll,
				ChlorophyllQC:    l.ChlorophyllQC,
				Nitrate:          l.Nitrate,
				NitrateQC:        l.NitrateQC,
			})
		}
	}
	return rows
}

// Parameter names accepted by profile queries.
const (
	ParamPressure    = "pressure"
	ParamTemperature = "temperature"
	ParamSalinity    = "salinity"
	ParamOxygen      = "oxygen"
	ParamChlorophyll = "chlorophyll"
	ParamNitrate     = "nitrate"
)

var knownParams = map[string]struct{}{
	ParamPressure:    {},
	ParamTemperature: {},
	ParamSalinity:    {},
	ParamOxygen:      {},
	ParamChlorophyll: {},
	ParamNitrate:     {},
}

// IsKnownParam reports whether name is a queryable measurement parameter.
func IsKnownParam(name string) bool {
	_, ok := knownParams[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
