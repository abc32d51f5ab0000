package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/atlas/internal/profile/parser"
)

const (
	IndexGlobalMeta   = "ar_index_global_meta.txt"
	IndexThisWeekProf = "ar_index_this_week_prof.txt"
)

// IndexEntry is one row of a GDAC index file.
type IndexEntry struct {
	File    string
	DAC     string
	FloatID int64
	Date    *time.Time
}

// ParseIndex reads a GDAC index. Comment lines start with '#' and the
// first data line is the column header. Rows of other DACs are skipped
// when dac is set.
func ParseIndex(r io.Reader, dac string) ([]IndexEntry, error) {
	body := bufio.NewReader(r)
	var lines strings.Builder
	for {
		line, err := body.ReadString('\n')
		if !strings.HasPrefix(line, "#") && strings.TrimSpace(line) != "" {
			lines.WriteString(line)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	cr := csv.NewReader(strings.NewReader(lines.String()))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	fileCol, dateCol := -1, -1
	for i, name := range records[0] {
		switch strings.TrimSpace(name) {
		case "file":
			fileCol = i
		case "date", "date_update":
			if dateCol < 0 || name == "date" {
				dateCol = i
			}
		}
	}
	if fileCol < 0 {
		return nil, errors.New("index: missing file column")
	}

	out := make([]IndexEntry, 0, len(records)-1)
	for _, rec := range records[1:] {
		if fileCol >= len(rec) {
			continue
		}
		entry, ok := parseIndexPath(rec[fileCol])
		if !ok {
			continue
		}
		if dac != "" && !strings.EqualFold(entry.DAC, dac) {
			continue
		}
		if dateCol >= 0 && dateCol < len(rec) {
			entry.Date = parser.ParseDate(rec[dateCol])
		}
		out = append(out, entry)
	}
	return out, nil
}

// parseIndexPath splits "{dac}/{floatId}/..." paths.
func parseIndexPath(path string) (IndexEntry, bool) {
	path = strings.TrimSpace(path)
	parts := strings.Split(path, "/")
	if len(parts) < 3 {
		return IndexEntry{}, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return IndexEntry{}, false
	}
	return IndexEntry{File: path, DAC: parts[0], FloatID: id}, true
}

// FloatIDs returns the distinct float ids of entries in ascending order.
func FloatIDs(entries []IndexEntry) []int64 {
	seen := make(map[int64]struct{}, len(entries))
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.FloatID]; ok {
			continue
		}
		seen[e.FloatID] = struct{}{}
		ids = append(ids, e.FloatID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Index downloads and parses one index file from the mirror root, filtered
// to the configured DAC.
func (c *Client) Index(ctx context.Context, name string) ([]IndexEntry, error) {
	data, err := c.get(ctx, c.opts.BaseURL+"/"+name)
	if err != nil {
		c.metrics.RecordSourceDownload(ctx, "index", "error")
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("index %s: %w", name, ErrSourceNotFound)
		}
		return nil, fmt.Errorf("index %s: %w", name, err)
	}
	c.metrics.RecordSourceDownload(ctx, "index", "downloaded")
	return ParseIndex(bytes.NewReader(data), c.opts.DAC)
}

// WeeklyFloats lists the floats of the configured DAC with profiles in the
// current weekly index.
func (c *Client) WeeklyFloats(ctx context.Context) ([]int64, error) {
	entries, err := c.Index(ctx, IndexThisWeekProf)
	if err != nil {
		return nil, err
	}
	return FloatIDs(entries), nil
}

// KnownFloats lists every float of the configured DAC in the global meta
// index.
func (c *Client) KnownFloats(ctx context.Context) ([]int64, error) {
	entries, err := c.Index(ctx, IndexGlobalMeta)
	if err != nil {
		return nil, err
	}
	return FloatIDs(entries), nil
}
