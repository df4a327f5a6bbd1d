package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cardio-risk-server/internal/domain"
	"github.com/cardio-risk-server/internal/middleware"
	"github.com/cardio-risk-server/internal/service"
)

// errorStatus maps a service error to its HTTP status and API error code
func errorStatus(err error) (int, string) {
	var validationErr *domain.ValidationError
	var schemaErr *domain.SchemaViolation
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, domain.ErrValidation
	case errors.As(err, &schemaErr):
		return http.StatusInternalServerError, domain.ErrSchemaViolation
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrNotFoundCode
	case service.IsConflict(err):
		return http.StatusConflict, domain.ErrConflict
	case errors.Is(err, domain.ErrNoteLocked), errors.Is(err, domain.ErrPatientDeleted), errors.Is(err, domain.ErrOutcomeLocked):
		return http.StatusForbidden, domain.ErrLocked
	case errors.Is(err, domain.ErrModelUnavailable):
		return http.StatusServiceUnavailable, domain.ErrModelError
	default:
		return http.StatusInternalServerError, domain.ErrInternalServer
	}
}

// respondError writes err as an APIError. Internal failures are logged and
// their details withheld from the client.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	requestID := c.GetString(middleware.CorrelationIDKey)

	var details string
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		details = validationErr.Field
	}

	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": requestID,
			"path":           c.FullPath(),
			"code":           code,
		}).WithError(err).Error("Request failed")
		message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, domain.NewAPIError(code, message, details, requestID))
}

// badRequest rejects a body that could not be decoded
func (s *Server) badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, domain.NewAPIError(
		domain.ErrInvalidInput, message, "", c.GetString(middleware.CorrelationIDKey)))
}
