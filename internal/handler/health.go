package handler // package handler contains the HTTP handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health answers load balancer probes.  It also reports whether the seat
// admission flag is still up, since once it drops only a restart clears it.
func (h *SeatHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":              "ok",
		"reservationsEnabled": h.Seats.ReservationsEnabled(),
	})
}
