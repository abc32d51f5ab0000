package parser

import (
	"errors"
	"strconv"
	"strings"

	"github.com/smallbiznis/atlas/internal/netcdf"
	"github.com/smallbiznis/atlas/internal/profile/domain"
)

var batteryKeywords = []string{
	"BatteryParkNoLoad",
	"BatteryInitialAtProfileDepth",
	"VOLTAGE_Battery",
	"Battery voltage",
}

const (
	minVoltage = 5.0
	maxVoltage = 35.0
)

// Tech holds battery telemetry from a tech.nc file.
type Tech struct {
	// Voltages maps cycle number to the last plausible battery voltage
	// reported for that cycle.
	Voltages map[int]float64
}

// Latest returns the voltage of the highest reported cycle.
func (t Tech) Latest() (cycle int, volts float64, ok bool) {
	cycle = -1
	for c, v := range t.Voltages {
		if c >= cycle {
			cycle, volts, ok = c, v, true
		}
	}
	return cycle, volts, ok
}

// ParseTechBytes decodes a tech.nc payload.
func ParseTechBytes(floatID int64, data []byte) (Tech, error) {
	f, err := netcdf.OpenBytes(data)
	if err != nil {
		return Tech{}, domain.ParseError(floatID, "open_tech", err)
	}
	return ParseTech(floatID, f)
}

// ParseTech collects battery voltages per cycle. Files without technical
// parameters yield an empty result.
func ParseTech(floatID int64, f *netcdf.File) (Tech, error) {
	out := Tech{Voltages: map[int]float64{}}

	names, err := f.Strings("TECHNICAL_PARAMETER_NAME")
	if errors.Is(err, netcdf.ErrVariableNotFound) {
		return out, nil
	}
	if err != nil {
		return Tech{}, domain.ParseError(floatID, "technical_parameter_name", err)
	}
	values, err := f.Strings("TECHNICAL_PARAMETER_VALUE")
	if errors.Is(err, netcdf.ErrVariableNotFound) {
		return out, nil
	}
	if err != nil {
		return Tech{}, domain.ParseError(floatID, "technical_parameter_value", err)
	}

	var cycles []float64
	var valid []bool
	if _, ok := f.Var("CYCLE_NUMBER"); ok {
		cycles, valid, err = f.Float64s("CYCLE_NUMBER")
		if err != nil {
			return Tech{}, domain.ParseError(floatID, "cycle_number", err)
		}
	}

	for i, name := range names {
		if i >= len(values) || !isBatteryParam(name) {
			continue
		}
		volts, err := strconv.ParseFloat(strings.TrimSpace(values[i]), 64)
		if err != nil || volts < minVoltage || volts > maxVoltage {
			continue
		}
		cycle := 0
		if i < len(cycles) && valid[i] {
			cycle = int(cycles[i])
		}
		out.Voltages[cycle] = volts
	}
	return out, nil
}

func isBatteryParam(name string) bool {
	for _, kw := range batteryKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}
