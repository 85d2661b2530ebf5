package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/queued-reservation/internal/service"
)

// SeatHandler exposes the seat counter and the reservation queue.
type SeatHandler struct {
	Seats *service.SeatService
	Log   *zap.Logger
}

// NewSeatHandler constructs a SeatHandler.  seats must be non-nil.
func NewSeatHandler(seats *service.SeatService, log *zap.Logger) *SeatHandler {
	if seats == nil {
		panic("nil seat service passed to NewSeatHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SeatHandler{Seats: seats, Log: log}
}

// AvailableSeats handles GET /available_seats.
func (h *SeatHandler) AvailableSeats(c echo.Context) error {
	n, err := h.Seats.AvailableSeats(c.Request().Context())
	if err != nil {
		h.Log.Error("read seat counter", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"status": "Error retrieving available seats"})
	}
	return c.JSON(http.StatusOK, echo.Map{"numberOfAvailableSeats": n})
}

// ReserveSeat handles GET /reserve_seat.  It answers as soon as the job is
// queued; the decrement happens later on the worker.
func (h *SeatHandler) ReserveSeat(c echo.Context) error {
	status, _, _ := h.Seats.ReserveSeat(c.Request().Context())
	return c.JSON(http.StatusOK, echo.Map{"status": string(status)})
}

// Process handles GET /process.  The worker is normally installed at
// startup; calling this again has no further effect.
func (h *SeatHandler) Process(c echo.Context) error {
	if err := h.Seats.StartProcessing(); err != nil {
		h.Log.Error("start seat worker", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"status": "Queue processing failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "Queue processing"})
}
