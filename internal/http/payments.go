package http

import (
	"net/http"
	"time"

	"github.com/jmehdipour/isp-billing/internal/service/payment"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

func paymentMethodsHandler(svc Payments) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"methods": svc.AvailableMethods()})
	}
}

func resultStatus(res payment.Result, ok int) int {
	if res.Success {
		return ok
	}
	switch res.Error {
	case payment.CodeInvoiceNotFound, payment.CodePaymentNotFound:
		return http.StatusNotFound
	case payment.CodeProcessingError:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func createPaymentHandler(svc Payments) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req payment.Request
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
		}
		res, err := svc.ProcessPayment(c.Request().Context(), req)
		if err != nil {
			log.Errorf("payment: invoice %d: %v", req.InvoiceID, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return c.JSON(resultStatus(res, http.StatusCreated), res)
	}
}

type refundReq struct {
	Amount int64 `json:"amount"` // 0 refunds whatever is left
}

func refundHandler(svc Payments) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok, err := pathID(c)
		if !ok {
			return err
		}
		var req refundReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
		}
		res, err := svc.ProcessRefund(c.Request().Context(), id, req.Amount)
		if err != nil {
			log.Errorf("refund: payment %d: %v", id, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return c.JSON(resultStatus(res, http.StatusCreated), res)
	}
}

type paymentStatusResp struct {
	ID            int64      `json:"id"`
	InvoiceID     int64      `json:"invoice_id"`
	CustomerID    int64      `json:"customer_id"`
	Amount        int64      `json:"amount"`
	AmountText    string     `json:"amount_text"`
	Method        string     `json:"method"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transaction_id"`
	Refund        bool       `json:"refund"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func paymentStatusHandler(svc Payments) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok, err := pathID(c)
		if !ok {
			return err
		}
		p, err := svc.Status(c.Request().Context(), id)
		if err != nil {
			log.Errorf("payment status %d: %v", id, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		if p == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": payment.CodePaymentNotFound})
		}
		return c.JSON(http.StatusOK, paymentStatusResp{
			ID:            p.ID,
			InvoiceID:     p.InvoiceID,
			CustomerID:    p.CustomerID,
			Amount:        p.Amount,
			AmountText:    payment.FormatAmount(p.Amount),
			Method:        p.Method.String(),
			Status:        string(p.Status),
			TransactionID: p.TransactionID,
			Refund:        p.IsRefund(),
			PaidAt:        p.PaidAt,
			CreatedAt:     p.CreatedAt,
		})
	}
}
