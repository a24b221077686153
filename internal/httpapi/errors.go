package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

func newOutOfBoundsError(x, y, width, height int) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "OUT_OF_BOUNDS",
		Message: fmt.Sprintf("cell (%d,%d) is outside the %dx%d grid", x, y, width, height),
	}
}

func newNoBeltError(x, y int) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NO_BELT",
		Message: fmt.Sprintf("no belt at (%d,%d)", x, y),
	}
}

// ErrorHandler renders errors as APIError JSON. Unknown errors become 500s
// and are logged.
func ErrorHandler(log logging.Logger) echo.HTTPErrorHandler {
	if log == nil {
		log = logging.Noop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			apiErr  *APIError
			httpErr *echo.HTTPError
		)
		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &httpErr):
			apiErr = &APIError{
				Status:  httpErr.Code,
				Code:    "HTTP_ERROR",
				Message: fmt.Sprintf("%v", httpErr.Message),
			}
		case errors.Is(err, context.Canceled):
			return
		default:
			apiErr = &APIError{
				Status:  http.StatusInternalServerError,
				Code:    "INTERNAL_ERROR",
				Message: "an unexpected error occurred",
			}
			ctx := c.Request().Context()
			logging.FromContext(ctx, log).Error(ctx, "request failed", logging.Err(err))
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(apiErr.Status)
			return
		}
		_ = c.JSON(apiErr.Status, apiErr)
	}
}
