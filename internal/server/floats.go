package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/atlas/internal/archive"
	floatdomain "github.com/smallbiznis/atlas/internal/float/domain"
)

type listFloatsQuery struct {
	PageToken   string `form:"page_token"`
	PageSize    int32  `form:"page_size"`
	FloatID     string `form:"float_id"`
	WMO         string `form:"wmo"`
	Status      string `form:"status"`
	FloatType   string `form:"float_type"`
	Project     string `form:"project"`
	Institution string `form:"institution"`
	BBox        string `form:"bbox"`
	Lat         string `form:"lat"`
	Lon         string `form:"lon"`
	RadiusKm    string `form:"radius_km"`
}

func (s *Server) ListFloats(c *gin.Context) {
	var query listFloatsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.floats.List(c.Request.Context(), floatdomain.ListRequest{
		PageToken:   strings.TrimSpace(query.PageToken),
		PageSize:    query.PageSize,
		FloatID:     query.FloatID,
		WMONumber:   query.WMO,
		Status:      query.Status,
		FloatType:   query.FloatType,
		Project:     query.Project,
		Institution: query.Institution,
		BBox:        query.BBox,
		Lat:         query.Lat,
		Lon:         query.Lon,
		RadiusKm:    query.RadiusKm,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetFloat(c *gin.Context) {
	id, ok := parseFloatID(c.Param("id"))
	if !ok {
		AbortWithError(c, floatdomain.ErrInvalidID)
		return
	}
	float, err := s.floats.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": float})
}

type profilesQuery struct {
	Cycle       string `form:"cycle"`
	MinCycle    string `form:"min_cycle"`
	MaxCycle    string `form:"max_cycle"`
	MinPressure string `form:"min_pressure"`
	MaxPressure string `form:"max_pressure"`
	Parameters  string `form:"parameters"`
}

func (s *Server) GetProfiles(c *gin.Context) {
	id, ok := parseFloatID(c.Param("id"))
	if !ok {
		AbortWithError(c, floatdomain.ErrInvalidID)
		return
	}
	var query profilesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	q := archive.ProfileQuery{FloatID: id, Parameters: splitList(query.Parameters)}
	var err error
	if q.CycleNumber, err = parseOptionalInt(query.Cycle); err != nil {
		AbortWithError(c, newValidationError("cycle", "invalid_cycle", "invalid cycle"))
		return
	}
	if q.MinCycle, err = parseOptionalInt(query.MinCycle); err != nil {
		AbortWithError(c, newValidationError("min_cycle", "invalid_min_cycle", "invalid min_cycle"))
		return
	}
	if q.MaxCycle, err = parseOptionalInt(query.MaxCycle); err != nil {
		AbortWithError(c, newValidationError("max_cycle", "invalid_max_cycle", "invalid max_cycle"))
		return
	}
	if q.MinPressure, err = parseOptionalFloat(query.MinPressure); err != nil {
		AbortWithError(c, newValidationError("min_pressure", "invalid_min_pressure", "invalid min_pressure"))
		return
	}
	if q.MaxPressure, err = parseOptionalFloat(query.MaxPressure); err != nil {
		AbortWithError(c, newValidationError("max_pressure", "invalid_max_pressure", "invalid max_pressure"))
		return
	}

	points, err := s.profiles.Query(c.Request.Context(), q)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if points == nil {
		points = []archive.ProfilePoint{}
	}
	c.JSON(http.StatusOK, gin.H{"float_id": id, "measurements": points})
}
