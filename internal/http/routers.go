package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/isp-billing/internal/routeros"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

func syncRouterHandler(routers RouterLookup, svc Syncer) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok, err := pathID(c)
		if !ok {
			return err
		}
		ctx := c.Request().Context()

		r, err := routers.GetByID(ctx, id)
		if err != nil {
			log.Errorf("sync: get router %d: %v", id, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		if r == nil {
			return errorJSON(c, http.StatusNotFound, routeros.ErrRouterNotFound)
		}

		res, err := svc.Sync(ctx, *r)
		if err != nil {
			log.Errorf("sync: router %d: %v", id, err)
			return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error(), "result": res})
		}
		return c.JSON(http.StatusOK, res)
	}
}

func sessionsHandler(prov Provisioner) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok, err := pathID(c)
		if !ok {
			return err
		}
		sessions, err := prov.ListActiveSessions(c.Request().Context(), id)
		if err != nil {
			return deviceFailure(c, "sessions", id, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"router_id": id, "sessions": sessions})
	}
}

func testConnectionHandler(prov Provisioner) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok, err := pathID(c)
		if !ok {
			return err
		}
		if err := prov.TestConnection(c.Request().Context(), id); err != nil {
			if errors.Is(err, routeros.ErrRouterNotFound) {
				return errorJSON(c, http.StatusNotFound, err)
			}
			log.Errorf("test connection: router %d: %v", id, err)
			return c.JSON(http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
}

func deviceFailure(c echo.Context, op string, routerID int64, err error) error {
	switch {
	case errors.Is(err, routeros.ErrRouterNotFound):
		return errorJSON(c, http.StatusNotFound, err)
	case routeros.IsDeviceError(err):
		log.Errorf("%s: router %d: %v", op, routerID, err)
		return errorJSON(c, http.StatusBadGateway, err)
	default:
		log.Errorf("%s: router %d: %v", op, routerID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
