package api

import (
	"errors"
	"fmt"
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cornchan/cornchan/internal/ban"
	"github.com/cornchan/cornchan/internal/board"
	"github.com/cornchan/cornchan/internal/images"
	"github.com/cornchan/cornchan/internal/store"
)

// Error is the JSON body of every failed request
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// FromError maps a domain error onto its HTTP response. Server errors never
// expose the underlying message.
func FromError(err error) *Error {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, store.ErrNotFound):
		return NewError(http.StatusNotFound, "not found")
	case errors.Is(err, ban.ErrBanned):
		return NewError(http.StatusForbidden, "banned")
	case errors.Is(err, images.ErrInvalidFormat):
		return NewError(http.StatusBadRequest, "invalid image format")
	case errors.Is(err, images.ErrDecode):
		return NewError(http.StatusBadRequest, "image could not be decoded")
	case errors.Is(err, board.ErrInvalidInput):
		return NewError(http.StatusBadRequest, err.Error())
	default:
		// store.ErrUnavailable, models.ErrEncoding and anything unexpected
		return NewError(http.StatusInternalServerError, "internal server error")
	}
}

// abort writes err as the response and stops the handler chain
func abort(c *gin.Context, err error) {
	apiErr := FromError(err)
	if apiErr.Code >= http.StatusInternalServerError {
		requestLogger(c).Error("Request failed", zap.Error(err))
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		}
	}
	c.AbortWithStatusJSON(apiErr.Code, apiErr)
}
