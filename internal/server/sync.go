package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/atlas/internal/observability/context"
	"github.com/smallbiznis/atlas/internal/syncer"
)

// TriggerSync runs the request synchronously and answers with the run
// summary. An unsuccessful run is still a 200; the body says so.
func (s *Server) TriggerSync(c *gin.Context) {
	if s.trigger == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	var req syncer.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		switch {
		case errors.Is(err, syncer.ErrInvalidFloatID):
			AbortWithError(c, syncer.ErrInvalidFloatID)
		default:
			AbortWithError(c, invalidRequestError())
		}
		return
	}

	ctx := obscontext.WithActor(c.Request.Context(), "api", c.ClientIP())
	resp, err := s.trigger.Handle(ctx, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
