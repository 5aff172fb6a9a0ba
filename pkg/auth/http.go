package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// HTTPMiddleware validates bearer tokens and adds AuthInfo to context.
// Requests without a token proceed; routes must explicitly require auth.
func HTTPMiddleware(validator TokenValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")

			if _, open := validator.(OpenValidator); !open && (header == "" || token == header) {
				return next(c)
			}

			info, err := validator.ValidateToken(token)
			if err != nil {
				log.Debug().Err(err).Msg("auth: invalid token")
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			}

			ctx := WithAuthInfo(c.Request().Context(), info)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// Handler wrappers

func WithOperator(h echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := RequireOperator(c.Request().Context()); err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
		}
		return h(c)
	}
}

// Middleware factories

func RequireOperatorMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc { return WithOperator(next) }
}
