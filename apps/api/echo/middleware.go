package echoapi

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
)

const hookSecretHeader = "X-Hook-Secret"

// hookSecretMiddleware guards server-to-server endpoints called by the account provider.
func hookSecretMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			got := ctx.Request().Header.Get(hookSecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				return errInvalidHookCall
			}
			return next(ctx)
		}
	}
}

// principalMiddleware rejects tokens that carry no subject.
func principalMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		p, err := getContextPrincipal(ctx)
		if err != nil || p.UserID == "" {
			return errUnauthorized
		}
		return next(ctx)
	}
}
