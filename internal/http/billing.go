package http

import (
	"net/http"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type automationReq struct {
	Action model.CommandAction `json:"action"` // process-overdue|generate-monthly
}

func automationHandler(svc Biller) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req automationReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
		}
		ctx := c.Request().Context()

		var (
			res any
			err error
		)
		switch req.Action {
		case model.ActionProcessOverdue:
			res, err = svc.ProcessOverdueInvoices(ctx)
		case model.ActionGenerateMonthly:
			res, err = svc.GenerateMonthlyInvoices(ctx)
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "action must be process-overdue or generate-monthly"})
		}
		if err != nil {
			log.Errorf("billing %s: %v", req.Action, err)
			return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error(), "result": res})
		}
		return c.JSON(http.StatusOK, map[string]any{"action": req.Action, "result": res})
	}
}
