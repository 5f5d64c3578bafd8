package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/pos_backend/config"
	"github.com/mmdatafocus/pos_backend/models"
	"github.com/mmdatafocus/pos_backend/utils"
	"github.com/sirupsen/logrus"
)

func statusFor(err error) int {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	switch models.ErrorKind(err) {
	case models.ErrorKindValidation:
		return http.StatusBadRequest
	case models.ErrorKindAuthorization:
		if errors.Is(err, models.ErrUnauthenticated) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case models.ErrorKindAvailability:
		return http.StatusConflict
	case models.ErrorKindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// errorBody is {"error": CODE, "message": text} plus whatever detail the error carries.
func errorBody(err error) gin.H {
	body := gin.H{"error": models.ErrorCode(err), "message": err.Error()}

	var stockErr *models.InsufficientStockError
	if errors.As(err, &stockErr) {
		body["item_index"] = stockErr.ItemIndex
		body["product_id"] = stockErr.ProductId
		body["location_id"] = stockErr.LocationId
		body["requested"] = stockErr.Requested
		body["available"] = stockErr.Available
	}
	var ve *models.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		body["field"] = ve.Field
	}
	return body
}

func abortWithError(c *gin.Context, funcName string, err error) {
	status := statusFor(err)
	body := errorBody(err)
	if status == http.StatusInternalServerError {
		// storage details stay in the log
		body["message"] = "internal error"
		config.GetLogger().WithFields(logrus.Fields{
			"module":         "handlers",
			"funcName":       funcName,
			"correlation_id": utils.CorrelationId(c.Request.Context()),
			"path":           c.FullPath(),
		}).Error(err.Error())
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT", "message": message})
}
