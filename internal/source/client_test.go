package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	obscontext "github.com/smallbiznis/atlas/internal/observability/context"
	obsmetrics "github.com/smallbiznis/atlas/internal/observability/metrics"
	"github.com/smallbiznis/atlas/internal/profile/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler, stage *Stage) (*Client, *prometheus.Registry) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	reg := prometheus.NewRegistry()
	sm := obsmetrics.NewSyncMetricsForRegistry(reg, obsmetrics.Config{})
	c := NewClient(Options{
		BaseURL:    srv.URL,
		DAC:        "incois",
		Timeout:    time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	}, srv.Client(), stage, zap.NewNop(), nil, sm)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c, reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabel(m, label, value) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestFileURL(t *testing.T) {
	c := NewClient(Options{BaseURL: "https://data-argo.ifremer.fr/", DAC: "incois"}, nil, nil, nil, nil, nil)
	assert.Equal(t,
		"https://data-argo.ifremer.fr/dac/incois/2902226/2902226_prof.nc",
		c.FileURL(2902226, KindProf))
	assert.Equal(t,
		"https://data-argo.ifremer.fr/dac/incois/2902226/2902226_Rtraj.nc",
		c.FileURL(2902226, KindTraj))
}

func TestFetchSkipsMissingOptionalFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/dac/incois/7/7_meta.nc", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("meta")) })
	mux.HandleFunc("/dac/incois/7/7_prof.nc", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("prof")) })
	c, _ := newTestClient(t, mux, nil)

	files, err := c.Fetch(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "meta", string(files.Meta))
	assert.Equal(t, "prof", string(files.Prof))
	assert.Nil(t, files.Tech)
	assert.Nil(t, files.Traj)
}

func TestFetchMissingProfIsNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/dac/incois/8/8_meta.nc", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("meta")) })
	c, _ := newTestClient(t, mux, nil)

	_, err := c.Fetch(context.Background(), 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.False(t, domain.Retryable(err))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, reg := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}), nil)

	data, err := c.FetchFile(context.Background(), 1, KindProf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2.0, counterValue(t, reg, "atlas_sync_retries_total", "stage", obsmetrics.StageFetching))
}

func TestFetchExhaustedRetriesIsTransient(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}), nil)

	_, err := c.FetchFile(context.Background(), 1, KindProf)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientIO)
	assert.True(t, domain.Retryable(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}), nil)

	_, err := c.FetchFile(context.Background(), 1, KindMeta)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrTransientIO)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStageServesRetriesWithinRun(t *testing.T) {
	stage, err := NewStage(t.TempDir())
	require.NoError(t, err)
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(strings.Repeat("x", 512)))
	}), stage)

	ctx := obscontext.WithRunID(context.Background(), "run-42")
	first, err := c.FetchFile(ctx, 5, KindProf)
	require.NoError(t, err)
	second, err := c.FetchFile(ctx, 5, KindProf)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	// another run downloads again
	_, err = c.FetchFile(obscontext.WithRunID(context.Background(), "run-43"), 5, KindProf)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	require.NoError(t, stage.Purge("run-42"))
	_, ok := stage.Get(ctx, 5, KindProf)
	assert.False(t, ok)
}

func TestWeeklyFloats(t *testing.T) {
	body := "# Title : Profile directory file of the Argo GDAC\n" +
		"# FTP root number 1 : ftp://ftp.ifremer.fr/ifremer/argo/dac\n" +
		"file,date,latitude,longitude,ocean,profiler_type,institution,date_update\n" +
		"incois/2902226/profiles/R2902226_101.nc,20250301120000,10.5,80.1,I,846,IN,20250302000000\n" +
		"incois/2902226/profiles/R2902226_102.nc,20250311120000,10.6,80.2,I,846,IN,20250312000000\n" +
		"aoml/13857/profiles/R13857_001.nc,19970729200300,0.267,-16.032,A,845,AO,20181011180520\n" +
		"incois/1900121/profiles/D1900121_050.nc,20250305000000,12.0,85.0,I,845,IN,20250306000000\n"
	mux := http.NewServeMux()
	mux.HandleFunc("/"+IndexThisWeekProf, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(body)) })
	c, _ := newTestClient(t, mux, nil)

	ids, err := c.WeeklyFloats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1900121, 2902226}, ids)
}

func TestKnownFloatsReadsGlobalMetaIndex(t *testing.T) {
	body := "# Title : Metadata directory file of the Argo GDAC\n" +
		"file,profiler_type,institution,date_update\n" +
		"incois/2902226/2902226_meta.nc,846,IN,20250302000000\n" +
		"incois/2900100/2900100_meta.nc,845,IN,20240101000000\n" +
		"coriolis/6901234/6901234_meta.nc,844,IF,20240101000000\n"
	mux := http.NewServeMux()
	mux.HandleFunc("/"+IndexGlobalMeta, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(body)) })
	c, _ := newTestClient(t, mux, nil)

	ids, err := c.KnownFloats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{2900100, 2902226}, ids)
}

func TestParseIndex(t *testing.T) {
	body := "# comment\n" +
		"file,profiler_type,institution,date_update\n" +
		"incois/2902226/2902226_meta.nc,846,IN,20250302000000\n" +
		"broken-line\n" +
		"incois/notanid/x_meta.nc,846,IN,20250302000000\n" +
		"coriolis/6901234/6901234_meta.nc,844,IF,20240101000000\n"

	all, err := ParseIndex(strings.NewReader(body), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "incois", all[0].DAC)
	require.NotNil(t, all[0].Date)
	assert.Equal(t, 2025, all[0].Date.Year())

	incois, err := ParseIndex(strings.NewReader(body), "INCOIS")
	require.NoError(t, err)
	require.Len(t, incois, 1)
	assert.Equal(t, int64(2902226), incois[0].FloatID)

	_, err = ParseIndex(strings.NewReader("date,latitude\n20250101,1\n"), "")
	assert.Error(t, err)
}
