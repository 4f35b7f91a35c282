package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/identity"
	"github.com/trezcool/mtihani/core/policy"
	"github.com/trezcool/mtihani/core/role"
)

const meParam = "me"

type (
	TokenRequest struct {
		UserID string `json:"user_id" validate:"required"`
	}

	TokenResponse struct {
		Token string `json:"token"`
	}

	AccountCreatedResponse struct {
		Identity identity.Identity `json:"identity"`
		Token    string            `json:"token"`
	}
)

func (tr *TokenRequest) Validate(validate *validator.Validate) error {
	tr.UserID = core.CleanString(tr.UserID)
	return validate.Struct(tr)
}

type identityApi struct {
	conf     *core.Config
	res      *identity.Resolver
	validate *validator.Validate
}

func registerIdentityAPI(g *echo.Group, jwt, hook echo.MiddlewareFunc, deps ServerDeps) {
	api := identityApi{
		conf:     deps.Conf,
		res:      deps.Resolver,
		validate: deps.Validate,
	}

	// account provider endpoints
	g.POST("/hooks/account-created", api.accountCreated, hook)
	g.POST("/auth/token", api.token, hook)

	// authed endpoints
	g.POST("/auth/token-refresh", api.refreshToken, jwt, principalMiddleware)
	g.GET("/roles", api.queryRoles, jwt, principalMiddleware)

	ug := g.Group("/users/:id", jwt, principalMiddleware)
	ug.GET("", api.retrieve)
	ug.POST("/roles", api.grantRole)
}

// pathUserID returns the user in the path, resolving the `me` alias to the principal.
func pathUserID(ctx echo.Context, p policy.Principal) string {
	if id := ctx.Param("id"); id != meParam {
		return id
	}
	return p.UserID
}

// Handlers

func (api *identityApi) accountCreated(ctx echo.Context) error {
	var data identity.AccountCreated
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AccountCreated")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	id, err := api.res.OnAccountCreated(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "handling account created")
	}
	token, err := GenerateToken(api.conf, NewClaims(api.conf, id.UserID, id.Role))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	return ctx.JSON(http.StatusCreated, AccountCreatedResponse{Identity: id, Token: token})
}

func (api *identityApi) token(ctx echo.Context) error {
	var data TokenRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TokenRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	token, err := issueToken(ctx.Request().Context(), api.conf, api.res, data.UserID)
	if err != nil {
		return errors.Wrap(err, "issuing token")
	}

	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *identityApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.conf, api.res)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *identityApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, role.Roles)
}

func (api *identityApi) retrieve(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	id, err := api.res.Identity(ctx.Request().Context(), p, pathUserID(ctx, p))
	if err != nil {
		return errors.Wrap(err, "finding identity")
	}

	return ctx.JSON(http.StatusOK, id)
}

func (api *identityApi) grantRole(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	var data identity.GrantRoleRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GrantRoleRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	id, err := api.res.GrantRole(ctx.Request().Context(), p, pathUserID(ctx, p), role.Role(data.Role))
	if err != nil {
		return errors.Wrap(err, "granting role")
	}

	return ctx.JSON(http.StatusOK, id)
}
