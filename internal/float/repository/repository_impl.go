package repository

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/atlas/internal/float/domain"
	"github.com/smallbiznis/atlas/pkg/db/option"
	"github.com/smallbiznis/atlas/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const earthRadiusKm = 6371.0

var metadataUpdateColumns = []string{
	"wmo_number",
	"status",
	"float_type",
	"data_centre",
	"project_name",
	"operating_institution",
	"pi_name",
	"platform_type",
	"platform_maker",
	"float_serial_no",
	"launch_date",
	"launch_lat",
	"launch_lon",
	"start_mission_date",
	"end_mission_date",
	"updated_at",
}

const floatColumns = `m.float_id, m.wmo_number, m.status, m.float_type, m.data_centre,
	m.project_name, m.operating_institution, m.pi_name, m.platform_type, m.launch_date,
	s.latitude, s.longitude, s.cycle_number, s.battery_percent,
	s.last_temperature, s.last_salinity, s.last_depth, s.last_update`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) UpsertMetadata(ctx context.Context, db *gorm.DB, meta *domain.FloatMetadata) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "float_id"}},
			DoUpdates: clause.AssignmentColumns(metadataUpdateColumns),
		}).
		Create(meta).Error
}

func (r *repo) FindMetadata(ctx context.Context, db *gorm.DB, floatID int64) (*domain.FloatMetadata, error) {
	var meta domain.FloatMetadata
	err := db.WithContext(ctx).Where("float_id = ?", floatID).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (r *repo) UpdateStatusLabel(ctx context.Context, db *gorm.DB, floatID int64, status domain.Status) error {
	return db.WithContext(ctx).
		Model(&domain.FloatMetadata{}).
		Where("float_id = ?", floatID).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}

func (r *repo) FindStatus(ctx context.Context, db *gorm.DB, floatID int64) (*domain.FloatStatus, error) {
	var status domain.FloatStatus
	err := db.WithContext(ctx).Where("float_id = ?", floatID).First(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (r *repo) InsertStatus(ctx context.Context, db *gorm.DB, status *domain.FloatStatus) error {
	return db.WithContext(ctx).Create(status).Error
}

func (r *repo) UpdateStatusIfNewer(ctx context.Context, db *gorm.DB, status *domain.FloatStatus) (bool, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.FloatStatus{}).
		Where("float_id = ?", status.FloatID)
	if status.LastUpdate != nil {
		stmt = stmt.Where(
			"cycle_number < ? OR (cycle_number = ? AND (last_update IS NULL OR last_update < ?))",
			status.CycleNumber, status.CycleNumber, *status.LastUpdate,
		)
	} else {
		stmt = stmt.Where("cycle_number < ?", status.CycleNumber)
	}
	cols := statusColumns(status)
	// a newer cycle can carry an older JULD; last_update never goes back
	if status.LastUpdate != nil {
		cols["last_update"] = gorm.Expr(
			"CASE WHEN last_update IS NULL OR last_update < ? THEN ? ELSE last_update END",
			*status.LastUpdate, *status.LastUpdate,
		)
	} else {
		delete(cols, "last_update")
	}
	res := stmt.Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ReplaceStatus(ctx context.Context, db *gorm.DB, status *domain.FloatStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.FloatStatus{}).
		Where("float_id = ?", status.FloatID).
		Updates(statusColumns(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return r.InsertStatus(ctx, db, status)
}

func statusColumns(s *domain.FloatStatus) map[string]any {
	return map[string]any{
		"latitude":         s.Latitude,
		"longitude":        s.Longitude,
		"cycle_number":     s.CycleNumber,
		"battery_percent":  s.BatteryPercent,
		"last_temperature": s.LastTemperature,
		"last_salinity":    s.LastSalinity,
		"last_depth":       s.LastDepth,
		"last_update":      s.LastUpdate,
		"updated_at":       s.UpdatedAt,
	}
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, floatID int64) (*domain.Float, error) {
	var rows []*domain.Float
	err := joined(ctx, db).
		Where("m.float_id = ?", floatID).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Float, error) {
	stmt := joined(ctx, db)

	if filter.FloatID != nil {
		stmt = stmt.Where("m.float_id = ?", *filter.FloatID)
	}
	if filter.WMONumber != "" {
		stmt = stmt.Where("m.wmo_number = ?", filter.WMONumber)
	}
	if filter.Status != "" {
		stmt = stmt.Where("m.status = ?", filter.Status)
	}
	if filter.FloatType != "" {
		stmt = stmt.Where("m.float_type = ?", filter.FloatType)
	}
	if filter.Project != "" {
		stmt = stmt.Where("LOWER(m.project_name) LIKE ?", likePattern(filter.Project))
	}
	if filter.Institution != "" {
		stmt = stmt.Where("LOWER(m.operating_institution) LIKE ?", likePattern(filter.Institution))
	}
	if filter.BBox != nil {
		stmt = withinBox(stmt, *filter.BBox)
	}
	if filter.Near != nil {
		stmt = withinBox(stmt, boundingBox(*filter.Near))
	}

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, domain.ErrInvalidCursor
		}
		after, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, domain.ErrInvalidCursor
		}
		stmt = stmt.Where("m.float_id > ?", after)
	}

	stmt = stmt.Order("m.float_id asc")
	if filter.Near == nil {
		stmt = option.ApplyPagination(page).Apply(stmt)
	}

	var rows []*domain.Float
	if err := stmt.Scan(&rows).Error; err != nil {
		return nil, err
	}
	if filter.Near == nil {
		return rows, nil
	}

	limit := page.PageSize
	if limit <= 0 {
		limit = 10
	}
	out := make([]*domain.Float, 0, limit+1)
	for _, row := range rows {
		if row.Latitude == nil || row.Longitude == nil {
			continue
		}
		if haversineKm(filter.Near.Lat, filter.Near.Lon, *row.Latitude, *row.Longitude) > filter.Near.RadiusKm {
			continue
		}
		out = append(out, row)
		if len(out) > limit {
			break
		}
	}
	return out, nil
}

func (r *repo) ListIDs(ctx context.Context, db *gorm.DB) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).
		Model(&domain.FloatMetadata{}).
		Order("float_id asc").
		Pluck("float_id", &ids).Error
	return ids, err
}

func joined(ctx context.Context, db *gorm.DB) *gorm.DB {
	return db.WithContext(ctx).
		Table("argo_float_metadata AS m").
		Select(floatColumns).
		Joins("LEFT JOIN argo_float_status AS s ON s.float_id = m.float_id")
}

func likePattern(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.NewReplacer("%", "", "_", "").Replace(v)
	return "%" + v + "%"
}

func withinBox(stmt *gorm.DB, b domain.BBox) *gorm.DB {
	stmt = stmt.Where("s.latitude BETWEEN ? AND ?", b.MinLat, b.MaxLat)
	if b.MinLon <= b.MaxLon {
		return stmt.Where("s.longitude BETWEEN ? AND ?", b.MinLon, b.MaxLon)
	}
	return stmt.Where("(s.longitude >= ? OR s.longitude <= ?)", b.MinLon, b.MaxLon)
}

// boundingBox is a coarse prefilter for a radius query; the exact distance
// check happens after the scan.
func boundingBox(n domain.Near) domain.BBox {
	dLat := n.RadiusKm / 111.32
	box := domain.BBox{
		MinLat: math.Max(-90, n.Lat-dLat),
		MaxLat: math.Min(90, n.Lat+dLat),
		MinLon: -180,
		MaxLon: 180,
	}
	cos := math.Cos(n.Lat * math.Pi / 180)
	if cos > 0.01 {
		dLon := n.RadiusKm / (111.32 * cos)
		if dLon < 180 {
			box.MinLon = wrapLon(n.Lon - dLon)
			box.MaxLon = wrapLon(n.Lon + dLon)
		}
	}
	return box
}

func wrapLon(lon float64) float64 {
	for lon < -180 {
		lon += 360
	}
	for lon > 180 {
		lon -= 360
	}
	return lon
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
