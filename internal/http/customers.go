package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jmehdipour/isp-billing/internal/routeros"
	"github.com/jmehdipour/isp-billing/internal/service/provisioning"
	"github.com/jmehdipour/isp-billing/internal/service/usage"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type pppoeReq struct {
	Action string `json:"action"` // create|update|disable|enable|delete
}

func pppoeHandler(customers CustomerLookup, prov Provisioner) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok, err := pathID(c)
		if !ok {
			return err
		}
		var req pppoeReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
		}
		ctx := c.Request().Context()

		cust, err := customers.GetByID(ctx, id)
		if err != nil {
			log.Errorf("pppoe: get customer %d: %v", id, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		if cust == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "customer not found"})
		}

		switch req.Action {
		case "create":
			secretID, err := prov.Provision(ctx, cust)
			if err != nil {
				return provisioningFailure(c, req.Action, id, err)
			}
			return c.JSON(http.StatusCreated, map[string]any{"ok": true, "secret_id": secretID})
		case "update":
			err = prov.UpdateProvisioning(ctx, cust)
		case "disable":
			err = prov.Suspend(ctx, cust)
		case "enable":
			err = prov.Resume(ctx, cust)
		case "delete":
			err = prov.Deprovision(ctx, cust)
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "action must be one of create, update, disable, enable, delete"})
		}
		if err != nil {
			return provisioningFailure(c, req.Action, id, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"ok": true, "status": cust.Status})
	}
}

func provisioningFailure(c echo.Context, action string, customerID int64, err error) error {
	switch {
	case errors.Is(err, provisioning.ErrPlanNotFound):
		return errorJSON(c, http.StatusUnprocessableEntity, err)
	case errors.Is(err, provisioning.ErrNotProvisioned),
		errors.Is(err, provisioning.ErrAlreadyProvisioned),
		errors.Is(err, provisioning.ErrBusy):
		return errorJSON(c, http.StatusConflict, err)
	case errors.Is(err, routeros.ErrRouterNotFound):
		return errorJSON(c, http.StatusNotFound, err)
	case routeros.IsDeviceError(err):
		log.Errorf("pppoe %s: customer %d: %v", action, customerID, err)
		return errorJSON(c, http.StatusBadGateway, err)
	default:
		log.Errorf("pppoe %s: customer %d: %v", action, customerID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

const (
	defaultUsageLimit = 100
	maxUsageLimit     = 1000
)

// GET /v1/customers/:id/usage?since=RFC3339&limit=N
func usageHandler(svc UsageReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok, err := pathID(c)
		if !ok {
			return err
		}

		since := time.Now().Add(-24 * time.Hour)
		if s := c.QueryParam("since"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			}
			since = t
		}
		limit := defaultUsageLimit
		if s := c.QueryParam("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			}
			limit = min(n, maxUsageLimit)
		}

		samples, err := svc.Usage(c.Request().Context(), id, since, limit)
		if errors.Is(err, usage.ErrCustomerNotFound) {
			return errorJSON(c, http.StatusNotFound, err)
		}
		if err != nil {
			log.Errorf("usage: customer %d: %v", id, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"customer_id": id, "samples": samples})
	}
}
