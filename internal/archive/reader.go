package archive

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/atlas/internal/profile/domain"
)

var (
	ErrUnknownParameter = errors.New("unknown_parameter")
	ErrInvalidRange     = errors.New("invalid_pressure_range")
	ErrInvalidCycles    = errors.New("invalid_cycle_range")
)

// ProfileQuery selects rows from one float's dataset. Parameters limits
// the measurement columns returned and drops rows carrying none of them;
// empty means all columns and every row.
type ProfileQuery struct {
	FloatID     int64
	CycleNumber *int
	MinCycle    *int
	MaxCycle    *int
	MinPressure *float64
	MaxPressure *float64
	Parameters  []string
}

// ProfilePoint is a measurement projected to the requested parameters.
type ProfilePoint struct {
	FloatID          int64     `json:"float_id"`
	CycleNumber      int32     `json:"cycle_number"`
	Level            int32     `json:"level"`
	ProfileTimestamp time.Time `json:"profile_timestamp"`
	Latitude         *float64  `json:"latitude"`
	Longitude        *float64  `json:"longitude"`
	DataMode         string    `json:"data_mode"`
	PositionQC       string    `json:"position_qc,omitempty"`

	Pressure       *float64 `json:"pressure,omitempty"`
	PresQC         string   `json:"pres_qc,omitempty"`
	PressureRaw    *float64 `json:"pressure_raw,omitempty"`
	PressureAdj    *float64 `json:"pressure_adj,omitempty"`
	PresAdjQC      string   `json:"pres_adj_qc,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	TempQC         string   `json:"temp_qc,omitempty"`
	TemperatureRaw *float64 `json:"temperature_raw,omitempty"`
	TemperatureAdj *float64 `json:"temperature_adj,omitempty"`
	TempAdjQC      string   `json:"temp_adj_qc,omitempty"`
	Salinity       *float64 `json:"salinity,omitempty"`
	PsalQC         string   `json:"psal_qc,omitempty"`
	SalinityRaw    *float64 `json:"salinity_raw,omitempty"`
	SalinityAdj    *float64 `json:"salinity_adj,omitempty"`
	PsalAdjQC      string   `json:"psal_adj_qc,omitempty"`

	Oxygen        *float64 `json:"oxygen,omitempty"`
	OxygenQC      string   `json:"oxygen_qc,omitempty"`
	Chlorophyll   *float64 `json:"chlorophyll,omitempty"`
	ChlorophyllQC string   `json:"chlorophyll_qc,omitempty"`
	Nitrate       *float64 `json:"nitrate,omitempty"`
	NitrateQC     string   `json:"nitrate_qc,omitempty"`
}

// Reader serves profile queries straight from the canonical datasets.
type Reader struct {
	merger *Merger
}

func NewReader(m *Merger) *Reader {
	return &Reader{merger: m}
}

// Query returns matching points ordered by (cycle, level). A float without
// a dataset yields ErrArchiveNotFound.
func (r *Reader) Query(ctx context.Context, q ProfileQuery) ([]ProfilePoint, error) {
	params, err := normalizeParams(q.Parameters)
	if err != nil {
		return nil, err
	}
	if q.MinPressure != nil && q.MaxPressure != nil && *q.MinPressure > *q.MaxPressure {
		return nil, ErrInvalidRange
	}
	if q.MinCycle != nil && q.MaxCycle != nil && *q.MinCycle > *q.MaxCycle {
		return nil, ErrInvalidCycles
	}

	rows, err := r.merger.Load(ctx, q.FloatID)
	if err != nil {
		return nil, err
	}

	out := make([]ProfilePoint, 0, len(rows))
	for _, row := range rows {
		cycle := int(row.CycleNumber)
		if q.CycleNumber != nil && cycle != *q.CycleNumber {
			continue
		}
		if (q.MinCycle != nil && cycle < *q.MinCycle) || (q.MaxCycle != nil && cycle > *q.MaxCycle) {
			continue
		}
		if q.MinPressure != nil || q.MaxPressure != nil {
			if row.Pressure == nil {
				continue
			}
			if q.MinPressure != nil && *row.Pressure < *q.MinPressure {
				continue
			}
			if q.MaxPressure != nil && *row.Pressure > *q.MaxPressure {
				continue
			}
		}
		if params != nil && !carriesAny(row, params) {
			continue
		}
		out = append(out, project(row, params))
	}
	return out, nil
}

func normalizeParams(in []string) (map[string]bool, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]bool, len(in))
	for _, p := range in {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !domain.IsKnownParam(p) {
			return nil, ErrUnknownParameter
		}
		out[p] = true
	}
	return out, nil
}

// carriesAny reports whether row has a value for at least one of params.
func carriesAny(row domain.Measurement, params map[string]bool) bool {
	for name := range params {
		if value(row, name) != nil {
			return true
		}
	}
	return false
}

func value(row domain.Measurement, name string) *float64 {
	switch name {
	case domain.ParamPressure:
		return row.Pressure
	case domain.ParamTemperature:
		return row.Temperature
	case domain.ParamSalinity:
		return row.Salinity
	case domain.ParamOxygen:
		return row.Oxygen
	case domain.ParamChlorophyll:
		return row.Chlorophyll
	case domain.ParamNitrate:
		return row.Nitrate
	}
	return nil
}

func project(row domain.Measurement, params map[string]bool) ProfilePoint {
	want := func(name string) bool { return params == nil || params[name] }
	p := ProfilePoint{
		FloatID:          row.FloatID,
		CycleNumber:      row.CycleNumber,
		Level:            row.Level,
		ProfileTimestamp: row.ProfileTimestamp,
		Latitude:         row.Latitude,
		Longitude:        row.Longitude,
		DataMode:         row.DataMode,
		PositionQC:       row.PositionQC,
	}
	if want(domain.ParamPressure) {
		p.Pressure, p.PresQC = row.Pressure, row.PresQC
		p.PressureRaw, p.PressureAdj, p.PresAdjQC = row.PressureRaw, row.PressureAdj, row.PresAdjQC
	}
	if want(domain.ParamTemperature) {
		p.Temperature, p.TempQC = row.Temperature, row.TempQC
		p.TemperatureRaw, p.TemperatureAdj, p.TempAdjQC = row.TemperatureRaw, row.TemperatureAdj, row.TempAdjQC
	}
	if want(domain.ParamSalinity) {
		p.Salinity, p.PsalQC = row.Salinity, row.PsalQC
		p.SalinityRaw, p.SalinityAdj, p.PsalAdjQC = row.SalinityRaw, row.SalinityAdj, row.PsalAdjQC
	}
	if want(domain.ParamOxygen) {
		p.Oxygen, p.OxygenQC = row.Oxygen, row.OxygenQC
	}
	if want(domain.ParamChlorophyll) {
		p.Chlorophyll, p.ChlorophyllQC = row.Chlorophyll, row.ChlorophyllQC
	}
	if want(domain.ParamNitrate) {
		p.Nitrate, p.NitrateQC = row.Nitrate, row.NitrateQC
	}
	return p
}
