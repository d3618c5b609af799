package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo/apps/shared"
	"github.com/trezcool/masomo/core/user"
)

type tenantAPI struct {
	app *shared.App
}

func registerTenantAPI(g *echo.Group, app *shared.App) {
	api := &tenantAPI{app: app}

	tenants := g.Group("/tenants")
	tenants.GET("", api.list)
	tenants.GET("/:tenant", api.status)
	tenants.POST("/:tenant/bootstrap", api.bootstrap)
	tenants.GET("/:tenant/next-id/:role", api.peekID)
}

// list returns the tenants with an open connection.
func (api *tenantAPI) list(ctx echo.Context) error {
	keys := api.app.Registry.Tenants()
	tenants := make([]string, 0, len(keys))
	for _, key := range keys {
		tenants = append(tenants, key.String())
	}
	return ctx.JSON(http.StatusOK, echo.Map{"tenants": tenants})
}

func (api *tenantAPI) status(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	conn, err := api.app.Registry.Resolve(reqCtx, ctx.Param("tenant"))
	if err != nil {
		return err
	}
	ok, err := api.app.Boot.IsInitialized(reqCtx, conn.Tenant().String())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"tenant":      conn.Tenant().String(),
		"namespace":   conn.Namespace(),
		"initialized": ok,
	})
}

func (api *tenantAPI) bootstrap(ctx echo.Context) error {
	if err := api.app.Boot.EnsureInitialized(ctx.Request().Context(), ctx.Param("tenant")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// peekID shows the next identifier of a role without consuming it.
func (api *tenantAPI) peekID(ctx echo.Context) error {
	role, err := user.ParseRole(ctx.Param("role"))
	if err != nil {
		return err
	}
	ident, err := api.app.IDs.Peek(ctx.Request().Context(), ctx.Param("tenant"), role)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"identifier": ident})
}
