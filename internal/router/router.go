package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/queued-reservation/internal/handler"
)

// Guards holds the optional middleware placed in front of route groups.
// A nil entry leaves the route unguarded.
type Guards struct {
	// RateLimit sits in front of the reservation endpoints.
	RateLimit echo.MiddlewareFunc
	// Cache sits in front of the static catalog listing only; it must not
	// wrap routes that report live quantities.
	Cache echo.MiddlewareFunc
}

func chain(mws ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mws))
	for _, m := range mws {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// RegisterRoutes registers the health probe.
func RegisterRoutes(e *echo.Echo, s *handler.SeatHandler) {
	e.GET("/healthz", s.Health)
}

// RegisterSeats registers the seat counter and reservation queue routes.
func RegisterSeats(e *echo.Echo, s *handler.SeatHandler, g Guards) {
	e.GET("/available_seats", s.AvailableSeats)
	e.GET("/reserve_seat", s.ReserveSeat, chain(g.RateLimit)...)
	e.GET("/process", s.Process)
}

// RegisterStock registers the product catalog and product reservation routes.
func RegisterStock(e *echo.Echo, p *handler.StockHandler, g Guards) {
	e.GET("/list_products", p.ListProducts, chain(g.Cache)...)
	e.GET("/list_products/:itemId", p.GetProduct)
	e.GET("/reserve_product/:itemId", p.ReserveProduct, chain(g.RateLimit)...)
}
