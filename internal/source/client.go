// Package source downloads float files and indexes from a GDAC mirror.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	obsmetrics "github.com/smallbiznis/atlas/internal/observability/metrics"
	"github.com/smallbiznis/atlas/internal/profile/domain"
	"go.uber.org/zap"
)

type Kind string

const (
	KindMeta Kind = "meta"
	KindTech Kind = "tech"
	KindProf Kind = "prof"
	KindTraj Kind = "Rtraj"
)

// Optional reports whether a missing file of this kind is tolerated.
func (k Kind) Optional() bool {
	return k == KindTech || k == KindTraj
}

var (
	ErrSourceNotFound = errors.New("source_not_found")
	errNotFound       = errors.New("not_found")
)

// Files holds the raw NetCDF payloads of one float. Optional files that the
// mirror does not carry are nil.
type Files struct {
	Meta []byte
	Tech []byte
	Prof []byte
	Traj []byte
}

type Options struct {
	BaseURL    string
	DAC        string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

type Client struct {
	opts    Options
	http    *http.Client
	stage   *Stage
	log     *zap.Logger
	metrics *obsmetrics.Metrics
	sync    *obsmetrics.SyncMetrics
	sleep   func(context.Context, time.Duration) error
}

func NewClient(opts Options, httpClient *http.Client, stage *Stage, log *zap.Logger, m *obsmetrics.Metrics, sm *obsmetrics.SyncMetrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		opts:    opts,
		http:    httpClient,
		stage:   stage,
		log:     log.Named("source"),
		metrics: m,
		sync:    sm,
		sleep:   sleepCtx,
	}
}

func (c *Client) DAC() string { return c.opts.DAC }

// FileURL is the GDAC location of one float file.
func (c *Client) FileURL(floatID int64, kind Kind) string {
	id := strconv.FormatInt(floatID, 10)
	return fmt.Sprintf("%s/dac/%s/%s/%s_%s.nc", c.opts.BaseURL, c.opts.DAC, id, id, kind)
}

// Fetch downloads every file of a float. A missing prof file is
// ErrSourceNotFound; missing optional files are left nil.
func (c *Client) Fetch(ctx context.Context, floatID int64) (Files, error) {
	var files Files
	for _, kind := range []Kind{KindMeta, KindTech, KindProf, KindTraj} {
		data, err := c.FetchFile(ctx, floatID, kind)
		switch {
		case errors.Is(err, errNotFound) && kind.Optional():
			continue
		case errors.Is(err, errNotFound) && kind == KindProf:
			return Files{}, fmt.Errorf("float %d: %w", floatID, ErrSourceNotFound)
		case errors.Is(err, errNotFound):
			return Files{}, fmt.Errorf("float %d %s: %w", floatID, kind, ErrSourceNotFound)
		case err != nil:
			return Files{}, err
		}
		switch kind {
		case KindMeta:
			files.Meta = data
		case KindTech:
			files.Tech = data
		case KindProf:
			files.Prof = data
		case KindTraj:
			files.Traj = data
		}
	}
	return files, nil
}

// FetchFile returns one file, from the run's stage when already staged.
func (c *Client) FetchFile(ctx context.Context, floatID int64, kind Kind) ([]byte, error) {
	if data, ok := c.stage.Get(ctx, floatID, kind); ok {
		c.metrics.RecordSourceDownload(ctx, string(kind), "staged")
		return data, nil
	}

	data, err := c.get(ctx, c.FileURL(floatID, kind))
	switch {
	case errors.Is(err, errNotFound):
		c.metrics.RecordSourceDownload(ctx, string(kind), "not_found")
		return nil, err
	case err != nil:
		c.metrics.RecordSourceDownload(ctx, string(kind), "error")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, fmt.Errorf("fetch %s: %w", kind, err)
		}
		return nil, domain.TransientIOError(floatID, "fetch_"+string(kind), err)
	}
	c.metrics.RecordSourceDownload(ctx, string(kind), "downloaded")

	if err := c.stage.Put(ctx, floatID, kind, data); err != nil {
		c.log.Warn("source.stage.write_failed", zap.Int64("float_id", floatID), zap.String("kind", string(kind)), zap.Error(err))
	}
	return data, nil
}

type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: http %d", e.url, e.code)
}

// get performs a GET with bounded retries. Network failures, 5xx and 429
// are retried with exponential backoff; 404 maps to errNotFound.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			c.sync.IncRetry(obsmetrics.StageFetching)
			delay := c.opts.Backoff * time.Duration(1<<uint(min(attempt-1, 6)))
			c.log.Debug("source.fetch.retry",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		data, err := c.getOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		if !retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.opts.MaxRetries+1, lastErr)
}

func (c *Client) getOnce(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, errNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &statusError{code: resp.StatusCode, url: url}
	}
	return io.ReadAll(resp.Body)
}

func retryable(err error) bool {
	if errors.Is(err, errNotFound) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// per-request deadline, connection resets and short bodies
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
