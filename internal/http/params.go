package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// pathID parses the :id path parameter. ok=false means a 400 has already been written.
func pathID(c echo.Context) (int64, bool, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false, c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	return id, true, nil
}

func errorJSON(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"error": err.Error()})
}
