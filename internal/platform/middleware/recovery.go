package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// recoveryStackSize bounds the stack capture on panic.
const recoveryStackSize = 8 << 10

// Recovery converts handler panics into plain 500 responses. The panic
// value, stack, and request context (correlation id, resolved study, route)
// go to the operational log only; the client never sees them.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}

				stack := make([]byte, recoveryStackSize)
				n := runtime.Stack(stack, false)

				rid, _ := c.Get("request_id").(string)
				study, _ := c.Get("tenant_id").(string)
				logger.Error().
					Str("request_id", rid).
					Str("study", study).
					Str("method", c.Request().Method).
					Str("path", c.Request().URL.Path).
					Str("panic", fmt.Sprint(r)).
					Str("stack", string(stack[:n])).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
