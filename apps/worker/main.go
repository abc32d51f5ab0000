// Command worker runs a single sync request and prints the result as JSON.
//
//	worker -request '{"operation":"sync","float_id":2902226}'
//	echo '{"operation":"update"}' | worker
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/atlas/internal/archive"
	"github.com/smallbiznis/atlas/internal/clock"
	"github.com/smallbiznis/atlas/internal/config"
	"github.com/smallbiznis/atlas/internal/float"
	"github.com/smallbiznis/atlas/internal/lease"
	"github.com/smallbiznis/atlas/internal/metricspush"
	"github.com/smallbiznis/atlas/internal/migration"
	"github.com/smallbiznis/atlas/internal/observability"
	obscontext "github.com/smallbiznis/atlas/internal/observability/context"
	"github.com/smallbiznis/atlas/internal/processinglog"
	"github.com/smallbiznis/atlas/internal/projector"
	"github.com/smallbiznis/atlas/internal/source"
	"github.com/smallbiznis/atlas/internal/syncer"
	"github.com/smallbiznis/atlas/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	requestFlag := flag.String("request", "", "sync request JSON; read from stdin when empty")
	flag.Parse()

	req, err := readRequest(*requestFlag, os.Stdin)
	if err != nil {
		fail(err)
	}

	var (
		s      *syncer.Syncer
		pusher metricspush.Pusher
		log    *zap.Logger
	)
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		source.Module,
		archive.Module,
		float.Module,
		processinglog.Module,
		projector.Module,
		lease.Module,
		syncer.Module,
		metricspush.Module,

		fx.Populate(&s, &pusher, &log),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fail(err)
	}

	ctx := obscontext.WithActor(context.Background(), "worker", "cli")
	resp, runErr := s.Handle(ctx, req)

	if pusher != nil {
		pushCtx, pushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pusher.Push(pushCtx, prometheus.DefaultGatherer); err != nil {
			log.Warn("metrics push failed", zap.Error(err))
		}
		pushCancel()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer stopCancel()
	_ = app.Stop(stopCtx)

	if runErr != nil {
		fail(runErr)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)
	if !resp.Success {
		os.Exit(1)
	}
}

// readRequest decodes the flag value, falling back to stdin. No input at
// all means a batch update.
func readRequest(flagValue string, stdin io.Reader) (syncer.Request, error) {
	var req syncer.Request
	raw := strings.TrimSpace(flagValue)
	if raw == "" && stdin != nil {
		if f, ok := stdin.(*os.File); ok {
			if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
				stdin = nil
			}
		}
		if stdin != nil {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return req, fmt.Errorf("read stdin: %w", err)
			}
			raw = strings.TrimSpace(string(data))
		}
	}
	if raw == "" {
		req.Operation = syncer.OperationUpdate
		return req, nil
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	if err := req.Normalize(); err != nil {
		return req, err
	}
	return req, nil
}

func fail(err error) {
	_ = json.NewEncoder(os.Stdout).Encode(map[string]any{
		"success": false,
		"errors":  []map[string]string{{"message": err.Error()}},
	})
	os.Exit(1)
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
