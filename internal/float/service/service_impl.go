package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/smallbiznis/atlas/internal/clock"
	"github.com/smallbiznis/atlas/internal/float/domain"
	"github.com/smallbiznis/atlas/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
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
		log:   p.Log.Named("float.service"),
		repo:  p.Repo,
		clock: c,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter, err := parseFilter(req)
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	items, err := s.repo.List(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo, err := pagination.Page(items, int(pageSize), func(f *domain.Float) pagination.Cursor {
		return pagination.Cursor{ID: strconv.FormatInt(f.FloatID, 10)}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	floats := make([]domain.Float, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		floats = append(floats, *item)
	}

	return domain.ListResponse{PageInfo: pageInfo, Floats: floats}, nil
}

func (s *Service) Get(ctx context.Context, floatID int64) (domain.Float, error) {
	if floatID <= 0 {
		return domain.Float{}, domain.ErrInvalidID
	}
	item, err := s.repo.Get(ctx, s.db, floatID)
	if err != nil {
		return domain.Float{}, err
	}
	if item == nil {
		return domain.Float{}, domain.ErrNotFound
	}
	return *item, nil
}

// UpsertMetadata inserts or refreshes the deployment record. Creation time
// of an existing row is kept.
func (s *Service) UpsertMetadata(ctx context.Context, meta domain.FloatMetadata) error {
	if meta.FloatID <= 0 {
		return domain.ErrInvalidID
	}
	meta.WMONumber = strings.TrimSpace(meta.WMONumber)
	if meta.WMONumber == "" {
		return domain.ErrMissingWMO
	}
	if !meta.Status.Valid() {
		meta.Status = domain.StatusUnknown
	}
	if !meta.FloatType.Valid() {
		meta.FloatType = domain.FloatTypeUnknown
	}

	now := s.clock.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	if err := s.repo.UpsertMetadata(ctx, s.db, &meta); err != nil {
		return err
	}
	s.log.Debug("float.metadata.upserted",
		zap.Int64("float_id", meta.FloatID),
		zap.String("status", string(meta.Status)),
		zap.String("float_type", string(meta.FloatType)),
	)
	return nil
}

func (s *Service) KnownFloatIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListIDs(ctx, s.db)
}

func parseFilter(req domain.ListRequest) (domain.ListFilter, error) {
	var filter domain.ListFilter

	if v := strings.TrimSpace(req.FloatID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return filter, domain.ErrInvalidID
		}
		filter.FloatID = &id
	}
	filter.WMONumber = strings.TrimSpace(req.WMONumber)
	filter.Project = strings.TrimSpace(req.Project)
	filter.Institution = strings.TrimSpace(req.Institution)

	if v := strings.TrimSpace(req.Status); v != "" {
		st := domain.Status(strings.ToUpper(v))
		if !st.Valid() {
			return filter, domain.ErrInvalidStatus
		}
		filter.Status = st
	}
	if v := strings.TrimSpace(req.FloatType); v != "" {
		ft := domain.FloatType(strings.ToLower(v))
		if !ft.Valid() {
			return filter, domain.ErrInvalidType
		}
		filter.FloatType = ft
	}

	if v := strings.TrimSpace(req.BBox); v != "" {
		box, err := parseBBox(v)
		if err != nil {
			return filter, err
		}
		filter.BBox = &box
	}

	lat, lon, radius := strings.TrimSpace(req.Lat), strings.TrimSpace(req.Lon), strings.TrimSpace(req.RadiusKm)
	if lat != "" || lon != "" || radius != "" {
		near, err := parseNear(lat, lon, radius)
		if err != nil {
			return filter, err
		}
		filter.Near = &near
	}
	return filter, nil
}

// parseBBox reads "minLon,minLat,maxLon,maxLat".
func parseBBox(v string) (domain.BBox, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return domain.BBox{}, domain.ErrInvalidBBox
	}
	var n [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BBox{}, domain.ErrInvalidBBox
		}
		n[i] = f
	}
	box := domain.BBox{MinLon: n[0], MinLat: n[1], MaxLon: n[2], MaxLat: n[3]}
	if box.MinLat > box.MaxLat || !validLat(box.MinLat) || !validLat(box.MaxLat) ||
		!validLon(box.MinLon) || !validLon(box.MaxLon) {
		return domain.BBox{}, domain.ErrInvalidBBox
	}
	return box, nil
}

func parseNear(lat, lon, radius string) (domain.Near, error) {
	la, err1 := strconv.ParseFloat(lat, 64)
	lo, err2 := strconv.ParseFloat(lon, 64)
	r, err3 := strconv.ParseFloat(radius, 64)
	if err1 != nil || err2 != nil || err3 != nil || !validLat(la) || !validLon(lo) || r <= 0 {
		return domain.Near{}, domain.ErrInvalidRadius
	}
	return domain.Near{Lat: la, Lon: lo, RadiusKm: r}, nil
}

func validLat(v float64) bool { return v >= -90 && v <= 90 }
func validLon(v float64) bool { return v >= -180 && v <= 180 }
