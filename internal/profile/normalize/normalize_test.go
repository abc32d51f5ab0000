package normalize

import (
	"testing"

	"github.com/smallbiznis/atlas/internal/profile/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestNormalizeAdjustedPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		mode   domain.DataMode
		adj    *float64
		adjQC  string
		rawQC  string
		expect float64
	}{
		{name: "delayed good flag", mode: domain.DataModeDelayed, adj: f(20.5), adjQC: "1", rawQC: "1", expect: 20.5},
		{name: "adjusted probably good", mode: domain.DataModeAdjusted, adj: f(20.5), adjQC: "2", rawQC: "1", expect: 20.5},
		{name: "interpolated flag", mode: domain.DataModeDelayed, adj: f(20.5), adjQC: "8", rawQC: "1", expect: 20.5},
		{name: "bad adjusted flag", mode: domain.DataModeDelayed, adj: f(20.5), adjQC: "4", rawQC: "1", expect: 21},
		{name: "missing adjusted", mode: domain.DataModeDelayed, adj: nil, adjQC: "1", rawQC: "1", expect: 21},
		{name: "realtime ignores adjusted", mode: domain.DataModeRealtime, adj: f(20.5), adjQC: "1", rawQC: "1", expect: 21},
		{name: "bad raw still used", mode: domain.DataModeRealtime, adj: nil, adjQC: "", rawQC: "4", expect: 21},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := []domain.Cycle{{
				CycleNumber: 1,
				DataMode:    tt.mode,
				Levels: []domain.Level{{
					Pressure:       f(5),
					Temperature:    f(21),
					TempQC:         tt.rawQC,
					TemperatureAdj: tt.adj,
					TempAdjQC:      tt.adjQC,
				}},
			}}

			out := Normalize(in)
			require.Len(t, out[0].Levels, 1)
			lv := out[0].Levels[0]
			require.NotNil(t, lv.Canonical.Temperature)
			assert.Equal(t, tt.expect, *lv.Canonical.Temperature)
			assert.Equal(t, 21.0, *lv.Temperature, "raw value is preserved")
			assert.Equal(t, tt.rawQC, lv.TempQC)
			assert.Nil(t, lv.Canonical.Salinity)
		})
	}
}

func TestNormalizeDropsEmptyLevels(t *testing.T) {
	in := []domain.Cycle{
		{CycleNumber: 1, Levels: []domain.Level{
			{Level: 0, Pressure: f(5)},
			{Level: 1, TemperatureAdj: f(3)},
			{Level: 2, Salinity: f(34)},
		}},
		{CycleNumber: 2, Levels: []domain.Level{{Level: 0, Oxygen: f(200)}}},
	}

	out := Normalize(in)
	require.Len(t, out, 2)
	require.Len(t, out[0].Levels, 2)
	assert.Equal(t, 0, out[0].Levels[0].Level)
	assert.Equal(t, 2, out[0].Levels[1].Level)
	assert.Empty(t, out[1].Levels)
	assert.Equal(t, []int{2}, Skipped(out))

	assert.Len(t, in[0].Levels, 3, "input untouched")
}
