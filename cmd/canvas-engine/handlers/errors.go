// Package handlers exposes the engine over HTTP. Handlers parse and
// validate the request shape, delegate to the services, and return
// classified errors; the centralized error handler turns those into
// `{error, details?}` responses.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/logger"
)

// ErrorHandler builds the centralized echo error handler. Classified errors
// map through their kind to a status code; anything unclassified is a 500
// with a generic message so internals stay out of responses.
func ErrorHandler(log *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		// Echo's own errors: unknown routes, method mismatches, body limit.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.JSON(he.Code, map[string]any{"error": fmt.Sprint(he.Message)})
			return
		}

		kind := errs.KindOf(err)
		status := errs.HTTPStatus(kind)
		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"error", err,
			)
		}

		body := map[string]any{"error": errs.MessageOf(err)}
		if details := errs.DetailsOf(err); details != nil {
			body["details"] = details
		}
		_ = c.JSON(status, body)
	}
}
