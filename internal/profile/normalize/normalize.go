// Package normalize resolves the canonical value of each core parameter.
package normalize

import "github.com/smallbiznis/atlas/internal/profile/domain"

// Flags accepted for an adjusted value: good, probably good, interpolated.
var acceptedAdjustedQC = map[string]struct{}{
	"1": {},
	"2": {},
	"8": {},
}

// Normalize returns cycles whose levels carry canonical values. For each
// parameter the adjusted value wins only when the cycle is adjusted or
// delayed, the value is present and its flag is accepted; otherwise the raw
// value is used whatever its flag. Levels with no raw pressure, temperature
// or salinity are dropped. The input is not modified.
func Normalize(cycles []domain.Cycle) []domain.Cycle {
	out := make([]domain.Cycle, len(cycles))
	for i, c := range cycles {
		levels := make([]domain.Level, 0, len(c.Levels))
		for _, l := range c.Levels {
			if l.Empty() {
				continue
			}
			useAdj := c.DataMode.HasAdjusted()
			l.Canonical = domain.Canonical{
				Pressure:    pick(useAdj, l.Pressure, l.PressureAdj, l.PresAdjQC),
				Temperature: pick(useAdj, l.Temperature, l.TemperatureAdj, l.TempAdjQC),
				Salinity:    pick(useAdj, l.Salinity, l.SalinityAdj, l.PsalAdjQC),
			}
			levels = append(levels, l)
		}
		c.Levels = levels
		out[i] = c
	}
	return out
}

func pick(useAdj bool, raw, adj *float64, adjQC string) *float64 {
	if useAdj && adj != nil {
		if _, ok := acceptedAdjustedQC[adjQC]; ok {
			return adj
		}
	}
	return raw
}

// Skipped lists cycle numbers that carry no levels after normalization.
func Skipped(cycles []domain.Cycle) []int {
	var out []int
	for _, c := range cycles {
		if len(c.Levels) == 0 {
			out = append(out, c.CycleNumber)
		}
	}
	return out
}
