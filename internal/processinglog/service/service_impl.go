package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atlas/internal/clock"
	obscontext "github.com/smallbiznis/atlas/internal/observability/context"
	"github.com/smallbiznis/atlas/internal/processinglog/domain"
	"github.com/smallbiznis/atlas/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func New(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("processinglog.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: c,
	}
}

func (s *Service) Record(ctx context.Context, entry domain.Entry) (*domain.ProcessingLog, error) {
	if !entry.Operation.Valid() {
		return nil, domain.ErrInvalidOperation
	}
	if !entry.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	row := domain.ProcessingLog{
		ID:               s.genID.Generate(),
		RunID:            obscontext.RunIDFromContext(ctx),
		FloatID:          entry.FloatID,
		Operation:        entry.Operation,
		Status:           entry.Status,
		ProcessingTimeMs: entry.ProcessingTime.Milliseconds(),
		ProfilesSynced:   entry.ProfilesSynced,
		CreatedAt:        s.clock.Now().UTC(),
	}

	if len(entry.ErrorDetails) > 0 {
		details := datatypes.JSONMap{}
		for key, value := range entry.ErrorDetails {
			if key == "" {
				continue
			}
			details[key] = value
		}
		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			details["request_id"] = requestID
		}
		row.ErrorDetails = details
	}
	if entry.SuccessfulFloatIDs != nil {
		row.SuccessfulFloatIDs = datatypes.NewJSONSlice(entry.SuccessfulFloatIDs)
	}
	if entry.FailedFloatIDs != nil {
		row.FailedFloatIDs = datatypes.NewJSONSlice(entry.FailedFloatIDs)
	}

	// the log write must survive a float whose deadline already fired
	if err := s.repo.Insert(context.WithoutCancel(ctx), s.db, &row); err != nil {
		s.log.Warn("failed to write processing log",
			zap.String("operation", string(entry.Operation)),
			zap.String("status", string(entry.Status)),
			zap.Error(err),
		)
		return nil, err
	}
	return &row, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{}

	if raw := strings.TrimSpace(req.FloatID); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return domain.ListResponse{}, domain.ErrInvalidFloatID
		}
		filter.FloatID = &id
	}
	if raw := strings.TrimSpace(req.Operation); raw != "" {
		op := domain.Operation(strings.ToUpper(raw))
		if !op.Valid() {
			return domain.ListResponse{}, domain.ErrInvalidOperation
		}
		filter.Operation = op
	}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		st := domain.Status(strings.ToLower(raw))
		if !st.Valid() {
			return domain.ListResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = st
	}

	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		filter.Cursor = &domain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}
	filter.Limit = pageSize

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo, err := pagination.Page(items, pageSize, func(item *domain.ProcessingLog) pagination.Cursor {
		return pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	logs := make([]domain.ProcessingLog, 0, len(items))
	for _, item := range items {
		if item != nil {
			logs = append(logs, *item)
		}
	}

	return domain.ListResponse{PageInfo: pageInfo, Logs: logs}, nil
}

func (s *Service) LastSuccess(ctx context.Context) (map[int64]time.Time, error) {
	return s.repo.LastSuccess(ctx, s.db)
}
