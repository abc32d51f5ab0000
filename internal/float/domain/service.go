package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/atlas/pkg/db/pagination"
)

// BBox is a lon/lat rectangle. MinLon may exceed MaxLon when the box
// crosses the antimeridian.
type BBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// Near selects floats within RadiusKm of a point.
type Near struct {
	Lat      float64
	Lon      float64
	RadiusKm float64
}

type ListFilter struct {
	FloatID     *int64
	WMONumber   string
	Status      Status
	FloatType   FloatType
	Project     string
	Institution string
	BBox        *BBox
	Near        *Near
}

type ListRequest struct {
	PageToken   string
	PageSize    int32
	FloatID     string
	WMONumber   string
	Status      string
	FloatType   string
	Project     string
	Institution string
	BBox        string
	Lat         string
	Lon         string
	RadiusKm    string
}

type ListResponse struct {
	pagination.PageInfo
	Floats []Float `json:"floats"`
}

type Service interface {
	List(context.Context, ListRequest) (ListResponse, error)
	Get(ctx context.Context, floatID int64) (Float, error)
	UpsertMetadata(ctx context.Context, meta FloatMetadata) error
	KnownFloatIDs(ctx context.Context) ([]int64, error)
}

var (
	ErrNotFound      = errors.New("not_found")
	ErrInvalidID     = errors.New("invalid_id")
	ErrInvalidStatus = errors.New("invalid_status")
	ErrInvalidType   = errors.New("invalid_float_type")
	ErrInvalidBBox   = errors.New("invalid_bbox")
	ErrInvalidRadius = errors.New("invalid_radius")
	ErrInvalidCursor = errors.New("invalid_page_token")
	ErrMissingWMO    = errors.New("missing_wmo_number")
)
