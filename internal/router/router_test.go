package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/queued-reservation/internal/handler"
	"github.com/iliyamo/queued-reservation/internal/model"
	"github.com/iliyamo/queued-reservation/internal/queue"
	"github.com/iliyamo/queued-reservation/internal/service"
	"github.com/iliyamo/queued-reservation/internal/store"
)

func tag(hits map[string]int, name string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			hits[name+" "+c.Path()]++
			return next(c)
		}
	}
}

func newServer(t *testing.T, g Guards) *echo.Echo {
	t.Helper()
	st := store.NewMemory()
	q := queue.NewMemory(0, nil)
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	seats := service.NewSeatService(st, q, service.SeatConfig{Initial: 3}, nil)
	require.NoError(t, seats.Init(context.Background()))

	e := echo.New()
	sh := handler.NewSeatHandler(seats, nil)
	RegisterRoutes(e, sh)
	RegisterSeats(e, sh, g)
	RegisterStock(e, handler.NewStockHandler(service.NewStockService(st, model.Catalog(), service.ModeChecked, nil), nil), g)
	return e
}

func TestRoutes_Registered(t *testing.T) {
	e := newServer(t, Guards{})
	for _, path := range []string{
		"/healthz",
		"/available_seats",
		"/reserve_seat",
		"/process",
		"/list_products",
		"/list_products/1",
		"/reserve_product/1",
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON, path)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reserve_seat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRoutes_Guards(t *testing.T) {
	hits := map[string]int{}
	e := newServer(t, Guards{RateLimit: tag(hits, "rl"), Cache: tag(hits, "cache")})
	for _, path := range []string{
		"/available_seats",
		"/reserve_seat",
		"/process",
		"/list_products",
		"/list_products/2",
		"/reserve_product/2",
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, map[string]int{
		"rl /reserve_seat":            1,
		"rl /reserve_product/:itemId": 1,
		"cache /list_products":        1,
	}, hits)
}
