package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/smallbiznis/atlas/internal/profile/domain"
)

// Codec encodes measurement rows as a parquet file.
type Codec struct {
	compression compress.Codec
}

// NewCodec accepts snappy (default), zstd, gzip or none.
func NewCodec(compression string) (*Codec, error) {
	var c compress.Codec
	switch strings.ToLower(strings.TrimSpace(compression)) {
	case "", "snappy":
		c = &parquet.Snappy
	case "zstd":
		c = &parquet.Zstd
	case "gzip":
		c = &parquet.Gzip
	case "none", "uncompressed":
		c = &parquet.Uncompressed
	default:
		return nil, fmt.Errorf("archive: unsupported compression %q", compression)
	}
	return &Codec{compression: c}, nil
}

func (c *Codec) Encode(rows []domain.Measurement) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[domain.Measurement](&buf, parquet.Compression(c.compression))
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("archive: write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("archive: close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Codec) Decode(data []byte) ([]domain.Measurement, error) {
	rows, err := parquet.Read[domain.Measurement](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive: read rows: %w", err)
	}
	return rows, nil
}

// sortRows orders rows by (cycle, level).
func sortRows(rows []domain.Measurement) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CycleNumber != rows[j].CycleNumber {
			return rows[i].CycleNumber < rows[j].CycleNumber
		}
		return rows[i].Level < rows[j].Level
	})
}

// checksum digests row content in order. It is independent of the file
// encoding so equal datasets compare equal across compression settings.
func checksum(rows []domain.Measurement) uint64 {
	d := xxhash.New()
	var b [8]byte
	u64 := func(v uint64) {
		binary.LittleEndian.PutUint64(b[:], v)
		d.Write(b[:])
	}
	f64 := func(v *float64) {
		if v == nil {
			d.Write([]byte{0})
			return
		}
		d.Write([]byte{1})
		u64(math.Float64bits(*v))
	}
	str := func(s string) {
		u64(uint64(len(s)))
		d.WriteString(s)
	}
	for _, r := range rows {
		u64(uint64(r.FloatID))
		u64(uint64(r.CycleNumber))
		u64(uint64(r.Level))
		u64(uint64(r.ProfileTimestamp.UnixMilli()))
		f64(r.Latitude)
		f64(r.Longitude)
		str(r.PositionQC)
		str(r.DataMode)
		if r.BatteryPercent != nil {
			d.Write([]byte{1})
			u64(uint64(*r.BatteryPercent))
		} else {
			d.Write([]byte{0})
		}
		for _, v := range []*float64{
			r.Pressure, r.Temperature, r.Salinity,
			r.PressureRaw, r.TemperatureRaw, r.SalinityRaw,
			r.PressureAdj, r.TemperatureAdj, r.SalinityAdj,
			r.Oxygen, r.Chlorophyll, r.Nitrate,
		} {
			f64(v)
		}
		for _, s := range []string{
			r.PresQC, r.TempQC, r.PsalQC,
			r.PresAdjQC, r.TempAdjQC, r.PsalAdjQC,
			r.OxygenQC, r.ChlorophyllQC, r.NitrateQC,
		} {
			str(s)
		}
	}
	return d.Sum64()
}
