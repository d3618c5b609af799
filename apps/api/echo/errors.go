package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo/core"
)

// statusClientClosedRequest is the non-standard code for requests the client gave up on.
const statusClientClosedRequest = 499

var kindCodes = map[core.Kind]int{
	core.KindInvalidArgument:   http.StatusBadRequest,
	core.KindInvalidRole:       http.StatusBadRequest,
	core.KindNotFound:          http.StatusNotFound,
	core.KindDuplicate:         http.StatusConflict,
	core.KindSequenceExhausted: http.StatusConflict,
	core.KindConnection:        http.StatusServiceUnavailable,
	core.KindRegistryClosed:    http.StatusServiceUnavailable,
	core.KindTimeout:           http.StatusGatewayTimeout,
	core.KindCancelled:         statusClientClosedRequest,
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		var (
			httpErr  *echo.HTTPError
			validErr *core.ValidationError
			coreErr  *core.Error
		)
		switch {
		case errors.As(err, &httpErr):
			if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
				httpErr = herr
			}
			code = httpErr.Code
			message = httpErr.Message
		case errors.As(err, &validErr):
			if validErr.Fields != nil {
				fldErrs := make(map[string]string, len(validErr.Fields))
				for _, fErr := range validErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = validErr.Error()
			}
			code = http.StatusBadRequest
		case errors.As(err, &coreErr) && kindCodes[coreErr.Kind] != 0:
			code = kindCodes[coreErr.Kind]
			message = coreErr.Kind.String()
			if code >= http.StatusInternalServerError {
				logger.Warn(coreErr.Kind.String(), err)
			}
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
