package parser

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/atlas/internal/netcdf"
	"github.com/smallbiznis/atlas/internal/profile/domain"
)

// Meta is the deployment description from a meta.nc file.
type Meta struct {
	PlatformNumber       string
	DataCentre           string
	ProjectName          string
	OperatingInstitution string
	PIName               string
	PlatformType         string
	PlatformMaker        string
	PlatformFamily       string
	FloatSerialNo        string
	LaunchDate           *time.Time
	StartMissionDate     *time.Time
	EndMissionDate       *time.Time
	LaunchLatitude       *float64
	LaunchLongitude      *float64
	Parameters           []string
	Sensors              []string
}

// ParseMetaBytes decodes a meta.nc payload.
func ParseMetaBytes(floatID int64, data []byte) (Meta, error) {
	f, err := netcdf.OpenBytes(data)
	if err != nil {
		return Meta{}, domain.ParseError(floatID, "open_meta", err)
	}
	return ParseMeta(floatID, f)
}

// ParseMeta extracts deployment metadata. Absent variables leave the field
// empty; only PLATFORM_NUMBER is required.
func ParseMeta(floatID int64, f *netcdf.File) (Meta, error) {
	platform, err := f.Text("PLATFORM_NUMBER")
	if err != nil {
		return Meta{}, domain.ParseError(floatID, "platform_number", err)
	}
	m := Meta{PlatformNumber: strings.TrimSpace(platform)}
	if m.PlatformNumber == "" {
		m.PlatformNumber = strconv.FormatInt(floatID, 10)
	}

	texts := []struct {
		name string
		dst  *string
	}{
		{"DATA_CENTRE", &m.DataCentre},
		{"PROJECT_NAME", &m.ProjectName},
		{"OPERATING_INSTITUTION", &m.OperatingInstitution},
		{"PI_NAME", &m.PIName},
		{"PLATFORM_TYPE", &m.PlatformType},
		{"PLATFORM_MAKER", &m.PlatformMaker},
		{"PLATFORM_FAMILY", &m.PlatformFamily},
		{"FLOAT_SERIAL_NO", &m.FloatSerialNo},
	}
	for _, t := range texts {
		v, err := optionalText(f, t.name)
		if err != nil {
			return Meta{}, domain.ParseError(floatID, strings.ToLower(t.name), err)
		}
		*t.dst = v
	}

	dates := []struct {
		name string
		dst  **time.Time
	}{
		{"LAUNCH_DATE", &m.LaunchDate},
		{"START_DATE", &m.StartMissionDate},
		{"END_MISSION_DATE", &m.EndMissionDate},
	}
	for _, d := range dates {
		v, err := optionalText(f, d.name)
		if err != nil {
			return Meta{}, domain.ParseError(floatID, strings.ToLower(d.name), err)
		}
		*d.dst = ParseDate(v)
	}

	if m.LaunchLatitude, err = scalar(f, "LAUNCH_LATITUDE"); err != nil {
		return Meta{}, domain.ParseError(floatID, "launch_latitude", err)
	}
	if m.LaunchLongitude, err = scalar(f, "LAUNCH_LONGITUDE"); err != nil {
		return Meta{}, domain.ParseError(floatID, "launch_longitude", err)
	}

	if m.Parameters, err = list(f, "PARAMETER"); err != nil {
		return Meta{}, domain.ParseError(floatID, "parameter", err)
	}
	if m.Sensors, err = list(f, "SENSOR"); err != nil {
		return Meta{}, domain.ParseError(floatID, "sensor", err)
	}
	return m, nil
}

// ParseDate reads the YYYYMMDDHHMISS or YYYYMMDD date strings used in
// metadata files. Blank or malformed values yield nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	var layout string
	switch {
	case len(s) >= 14:
		s, layout = s[:14], "20060102150405"
	case len(s) >= 8:
		s, layout = s[:8], "20060102"
	default:
		return nil
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

func optionalText(f *netcdf.File, name string) (string, error) {
	v, err := f.Text(name)
	if errors.Is(err, netcdf.ErrVariableNotFound) {
		return "", nil
	}
	return strings.TrimSpace(v), err
}

func scalar(f *netcdf.File, name string) (*float64, error) {
	values, valid, err := f.Float64s(name)
	if errors.Is(err, netcdf.ErrVariableNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(values) == 0 || !valid[0] {
		return nil, nil
	}
	v := values[0]
	return &v, nil
}

func list(f *netcdf.File, name string) ([]string, error) {
	rows, err := f.Strings(name)
	if errors.Is(err, netcdf.ErrVariableNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out, nil
}
