// Package parser decodes GDAC profile, metadata and technical files into
// domain cycles.
package parser

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/smallbiznis/atlas/internal/netcdf"
	"github.com/smallbiznis/atlas/internal/profile/domain"
)

// JULD counts days from this epoch.
var juldEpoch = time.Date(1950, time.January, 1, 0, 0, 0, 0, time.UTC)

var errShape = errors.New("dimension mismatch")

// ParseBytes decodes a prof.nc payload.
func ParseBytes(floatID int64, data []byte) ([]domain.Cycle, error) {
	f, err := netcdf.OpenBytes(data)
	if err != nil {
		return nil, domain.ParseError(floatID, "open", err)
	}
	return Parse(floatID, f)
}

// Parse decodes every profile in f. Only the first profile of a given cycle
// number is kept; later entries for the same cycle are secondary sampling
// schemes. Missing optional sensors leave fields nil. A file without the
// N_PROF or N_LEVELS dimension is malformed; a declared dimension of length
// zero yields no cycles.
func Parse(floatID int64, f *netcdf.File) ([]domain.Cycle, error) {
	nProf, err := dimLen(f, "N_PROF")
	if err != nil {
		return nil, domain.ParseError(floatID, "dimensions", err)
	}
	nLevels, err := dimLen(f, "N_LEVELS")
	if err != nil {
		return nil, domain.ParseError(floatID, "dimensions", err)
	}
	if nProf == 0 || nLevels == 0 {
		return nil, nil
	}

	t := &table{f: f, nProf: nProf, nLevels: nLevels}

	cycleNums, err := t.perProfile("CYCLE_NUMBER", true)
	if err != nil {
		return nil, domain.ParseError(floatID, "cycle_number", err)
	}
	pres, err := t.perLevel("PRES", true)
	if err != nil {
		return nil, domain.ParseError(floatID, "pres", err)
	}

	cols := map[string]*series{"PRES": pres}
	for _, name := range []string{
		"TEMP", "PSAL",
		"PRES_ADJUSTED", "TEMP_ADJUSTED", "PSAL_ADJUSTED",
	} {
		s, err := t.perLevel(name, false)
		if err != nil {
			return nil, domain.ParseError(floatID, name, err)
		}
		cols[name] = s
	}
	for _, alias := range [][]string{
		{"OXYGEN", "DOXY"},
		{"CHLOROPHYLL", "CHLA"},
		{"NITRATE"},
	} {
		s, err := t.firstPerLevel(alias)
		if err != nil {
			return nil, domain.ParseError(floatID, alias[0], err)
		}
		cols[alias[0]] = s
	}

	flags := map[string][]string{}
	for _, name := range []string{
		"PRES_QC", "TEMP_QC", "PSAL_QC",
		"PRES_ADJUSTED_QC", "TEMP_ADJUSTED_QC", "PSAL_ADJUSTED_QC",
	} {
		rows, err := t.flags(name)
		if err != nil {
			return nil, domain.ParseError(floatID, name, err)
		}
		flags[name] = rows
	}
	for _, alias := range [][]string{
		{"OXYGEN_QC", "DOXY_QC"},
		{"CHLOROPHYLL_QC", "CHLA_QC"},
		{"NITRATE_QC"},
	} {
		for _, name := range alias {
			rows, err := t.flags(name)
			if err != nil {
				return nil, domain.ParseError(floatID, name, err)
			}
			if rows != nil {
				flags[alias[0]] = rows
				break
			}
		}
	}

	juld, err := t.perProfile("JULD", false)
	if err != nil {
		return nil, domain.ParseError(floatID, "juld", err)
	}
	lat, err := t.perProfile("LATITUDE", false)
	if err != nil {
		return nil, domain.ParseError(floatID, "latitude", err)
	}
	lon, err := t.perProfile("LONGITUDE", false)
	if err != nil {
		return nil, domain.ParseError(floatID, "longitude", err)
	}
	modes, err := t.chars("DATA_MODE")
	if err != nil {
		return nil, domain.ParseError(floatID, "data_mode", err)
	}
	posQC, err := t.chars("POSITION_QC")
	if err != nil {
		return nil, domain.ParseError(floatID, "position_qc", err)
	}

	seen := make(map[int]struct{}, nProf)
	cycles := make([]domain.Cycle, 0, nProf)
	for p := 0; p < nProf; p++ {
		num := cycleNums.at(p, 0)
		if num == nil {
			continue
		}
		cycleNumber := int(*num)
		if _, dup := seen[cycleNumber]; dup {
			continue
		}
		seen[cycleNumber] = struct{}{}

		c := domain.Cycle{
			FloatID:     floatID,
			CycleNumber: cycleNumber,
			Latitude:    lat.at(p, 0),
			Longitude:   lon.at(p, 0),
			PositionQC:  charAt(posQC, p),
			DataMode:    domain.ParseDataMode(charAt(modes, p)),
			Levels:      []domain.Level{},
		}
		if days := juld.at(p, 0); days != nil {
			c.Timestamp = julianToTime(*days)
		}

		for l := 0; l < nLevels; l++ {
			lv := domain.Level{
				Level:          l,
				Pressure:       cols["PRES"].at(p, l),
				Temperature:    cols["TEMP"].at(p, l),
				Salinity:       cols["PSAL"].at(p, l),
				PresQC:         flagAt(flags["PRES_QC"], p, l),
				TempQC:         flagAt(flags["TEMP_QC"], p, l),
				PsalQC:         flagAt(flags["PSAL_QC"], p, l),
				PressureAdj:    cols["PRES_ADJUSTED"].at(p, l),
				TemperatureAdj: cols["TEMP_ADJUSTED"].at(p, l),
				SalinityAdj:    cols["PSAL_ADJUSTED"].at(p, l),
				PresAdjQC:      flagAt(flags["PRES_ADJUSTED_QC"], p, l),
				TempAdjQC:      flagAt(flags["TEMP_ADJUSTED_QC"], p, l),
				PsalAdjQC:      flagAt(flags["PSAL_ADJUSTED_QC"], p, l),
				Oxygen:         cols["OXYGEN"].at(p, l),
				OxygenQC:       flagAt(flags["OXYGEN_QC"], p, l),
				Chlorophyll:    cols["CHLOROPHYLL"].at(p, l),
				ChlorophyllQC:  flagAt(flags["CHLOROPHYLL_QC"], p, l),
				Nitrate:        cols["NITRATE"].at(p, l),
				NitrateQC:      flagAt(flags["NITRATE_QC"], p, l),
			}
			if lv.Empty() && lv.PressureAdj == nil && lv.TemperatureAdj == nil && lv.SalinityAdj == nil {
				continue
			}
			c.Levels = append(c.Levels, lv)
		}
		cycles = append(cycles, c)
	}
	return cycles, nil
}

// julianToTime converts fractional days since 1950-01-01 to UTC, rounded to
// the millisecond.
func julianToTime(days float64) time.Time {
	ms := math.Round(days * 86400 * 1000)
	return juldEpoch.Add(time.Duration(ms) * time.Millisecond)
}

func dimLen(f *netcdf.File, name string) (int, error) {
	d, ok := f.Dim(name)
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, netcdf.ErrDimensionNotFound)
	}
	return d.Len, nil
}

type table struct {
	f       *netcdf.File
	nProf   int
	nLevels int
}

// series is a numeric variable with its validity mask. A nil series answers
// nil for every index.
type series struct {
	values []float64
	valid  []bool
	stride int
}

func (s *series) at(p, l int) *float64 {
	if s == nil {
		return nil
	}
	i := p*s.stride + l
	if i >= len(s.values) || !s.valid[i] {
		return nil
	}
	v := s.values[i]
	return &v
}

func (t *table) read(name string, required bool, want ...int) (*series, error) {
	v, ok := t.f.Var(name)
	if !ok {
		if required {
			return nil, fmt.Errorf("%s: %w", name, netcdf.ErrVariableNotFound)
		}
		return nil, nil
	}
	if !sameShape(v.Shape, want) {
		return nil, fmt.Errorf("%s: %w: got %v want %v", name, errShape, v.Shape, want)
	}
	values, valid, err := t.f.Float64s(name)
	if err != nil {
		return nil, err
	}
	stride := 1
	if len(want) == 2 {
		stride = want[1]
	}
	return &series{values: values, valid: valid, stride: stride}, nil
}

func (t *table) perProfile(name string, required bool) (*series, error) {
	return t.read(name, required, t.nProf)
}

func (t *table) perLevel(name string, required bool) (*series, error) {
	return t.read(name, required, t.nProf, t.nLevels)
}

func (t *table) firstPerLevel(names []string) (*series, error) {
	for _, name := range names {
		if _, ok := t.f.Var(name); ok {
			return t.perLevel(name, false)
		}
	}
	return nil, nil
}

// flags reads a (N_PROF, N_LEVELS) char variable as one string per profile.
func (t *table) flags(name string) ([]string, error) {
	v, ok := t.f.Var(name)
	if !ok {
		return nil, nil
	}
	if !sameShape(v.Shape, []int{t.nProf, t.nLevels}) {
		return nil, fmt.Errorf("%s: %w: got %v", name, errShape, v.Shape)
	}
	return t.f.Strings(name)
}

// chars reads a (N_PROF) char variable as one string of per-profile codes.
func (t *table) chars(name string) (string, error) {
	v, ok := t.f.Var(name)
	if !ok {
		return "", nil
	}
	if !sameShape(v.Shape, []int{t.nProf}) {
		return "", fmt.Errorf("%s: %w: got %v", name, errShape, v.Shape)
	}
	return t.f.Text(name)
}

func sameShape(got, want []int) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func flagAt(rows []string, p, l int) string {
	if p >= len(rows) {
		return ""
	}
	return charAt(rows[p], l)
}

func charAt(s string, i int) string {
	if i >= len(s) || s[i] == ' ' || s[i] == 0 {
		return ""
	}
	return s[i : i+1]
}
