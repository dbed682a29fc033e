package api

import (
	"net/http"

	"cravvr/internal/apperr"
	"cravvr/internal/auth"
	"cravvr/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// errorBody is the JSON shape of every failed response
type errorBody struct {
	Error   string            `json:"error"`
	Kind    apperr.Kind       `json:"kind"`
	Details map[string]string `json:"details,omitempty"`
}

func newErrorBody(err error) errorBody {
	body := errorBody{Error: apperr.PublicMessage(err), Kind: apperr.KindOf(err)}
	if ae, ok := apperr.As(err); ok {
		body.Details = ae.Details
	}
	return body
}

// respondError writes err with the status its kind maps to
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, newErrorBody(err))
}

func (h *Handler) badRequest(c *gin.Context, message string, err error) {
	ae := apperr.New(apperr.Invalid, message)
	if err != nil {
		ae.WithDetail("cause", err.Error())
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, newErrorBody(ae))
}

func (h *Handler) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.badRequest(c, "invalid id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) caller(c *gin.Context) (models.Principal, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		h.respondError(c, apperr.New(apperr.Unauthenticated, "missing bearer token"))
	}
	return p, ok
}
