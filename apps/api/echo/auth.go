package echoapi

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/policy"
	"github.com/trezcool/mtihani/core/role"
)

var (
	contextTokenKey = "userToken"
	signingMethod   = middleware.AlgorithmHS256
)

// Claims represents the authorization claims transmitted via a JWT.
// Role is copied from the identity claim store when the token is issued, so it may lag a role
// grant until the token is refreshed.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64     `json:"oriat,omitempty"`
	Role         role.Role `json:"role"`
}

func (c Claims) Principal() policy.Principal {
	return policy.Principal{UserID: c.Subject, Role: c.Role}
}

func NewClaims(conf *core.Config, userID string, r role.Role, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   userID,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Role:         r,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(signingMethod), claims)

	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func newJWTMiddleware(conf *core.Config) echo.MiddlewareFunc {
	return middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: signingMethod,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	})
}

// issueToken mints a token for userID from the identity claim store.
func issueToken(ctx context.Context, conf *core.Config, res *identity.Resolver, userID string, origIat ...int64) (string, error) {
	r, err := res.ResolveEffectiveRole(ctx, userID)
	if err != nil {
		return "", errors.Wrap(err, "resolving effective role")
	}
	return GenerateToken(conf, NewClaims(conf, userID, r, origIat...))
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextPrincipal(ctx echo.Context) (policy.Principal, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return policy.Principal{}, err
	}
	return claims.Principal(), nil
}

// refreshToken re-issues the context token with the current claim, as long as the refresh
// window opened by the first token has not expired.
func refreshToken(ctx echo.Context, conf *core.Config, res *identity.Resolver) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	token, err := issueToken(ctx.Request().Context(), conf, res, claims.Subject, claims.OrigIssuedAt)
	if err != nil {
		if core.IsNotFound(err) {
			return "", errUnauthorized
		}
		return "", errors.Wrap(err, "issuing token")
	}
	return token, nil
}
