package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	plogdomain "github.com/smallbiznis/atlas/internal/processinglog/domain"
	"github.com/smallbiznis/atlas/pkg/db/pagination"
)

type listProcessingLogsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	FloatID   string `form:"float_id"`
	Operation string `form:"operation"`
	Status    string `form:"status"`
}

func (s *Server) ListProcessingLogs(c *gin.Context) {
	var query listProcessingLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.logs.List(c.Request.Context(), plogdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		FloatID:   query.FloatID,
		Operation: query.Operation,
		Status:    query.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
