package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/queued-reservation/internal/model"
	"github.com/iliyamo/queued-reservation/internal/queue"
	"github.com/iliyamo/queued-reservation/internal/service"
	"github.com/iliyamo/queued-reservation/internal/store"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, error) { return "", store.ErrUnavailable }
func (brokenStore) Set(context.Context, string, string) error    { return store.ErrUnavailable }

func serve(t *testing.T, h echo.HandlerFunc, path string, params ...string) (int, map[string]any) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	require.NoError(t, h(c))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func newSeatHandler(t *testing.T, st store.Store, seats int) (*SeatHandler, *service.SeatService) {
	t.Helper()
	q := queue.NewMemory(0, nil)
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	svc := service.NewSeatService(st, q, service.SeatConfig{Initial: seats}, nil)
	_ = svc.Init(context.Background())
	return NewSeatHandler(svc, nil), svc
}

func TestSeatHandler_AvailableSeats(t *testing.T) {
	h, _ := newSeatHandler(t, store.NewMemory(), 50)
	code, body := serve(t, h.AvailableSeats, "/available_seats")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 50, body["numberOfAvailableSeats"])
}

func TestSeatHandler_AvailableSeatsStoreDown(t *testing.T) {
	h, _ := newSeatHandler(t, brokenStore{}, 50)
	code, body := serve(t, h.AvailableSeats, "/available_seats")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Error retrieving available seats", body["status"])
}

func TestSeatHandler_ReserveFlow(t *testing.T) {
	h, svc := newSeatHandler(t, store.NewMemory(), 1)

	code, body := serve(t, h.Process, "/process")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Queue processing", body["status"])
	_, body = serve(t, h.Process, "/process")
	assert.Equal(t, "Queue processing", body["status"])

	for i := 0; i < 2; i++ {
		_, body = serve(t, h.ReserveSeat, "/reserve_seat")
		assert.Equal(t, "Reservation in process", body["status"])
	}
	require.Eventually(t, func() bool { return !svc.ReservationsEnabled() }, 2*time.Second, time.Millisecond)

	_, body = serve(t, h.ReserveSeat, "/reserve_seat")
	assert.Equal(t, "Reservation are blocked", body["status"])

	_, body = serve(t, h.AvailableSeats, "/available_seats")
	assert.EqualValues(t, 0, body["numberOfAvailableSeats"])

	_, body = serve(t, h.Health, "/healthz")
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["reservationsEnabled"])
}

func TestSeatHandler_ReserveSubmitFailure(t *testing.T) {
	q := queue.NewMemory(0, nil)
	require.NoError(t, q.Close(context.Background()))
	svc := service.NewSeatService(store.NewMemory(), q, service.SeatConfig{Initial: 5}, nil)
	h := NewSeatHandler(svc, nil)

	_, body := serve(t, h.ReserveSeat, "/reserve_seat")
	assert.Equal(t, "Reservation failed", body["status"])

	code, body := serve(t, h.Process, "/process")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Queue processing failed", body["status"])
}

func TestStockHandler_ListProducts(t *testing.T) {
	h := NewStockHandler(service.NewStockService(store.NewMemory(), model.Catalog(), service.ModeChecked, nil), nil)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/list_products", nil), rec)
	require.NoError(t, h.ListProducts(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"itemId":1,"itemName":"Suitcase 250","price":50,"initialAvailableQuantity":4},
		{"itemId":2,"itemName":"Suitcase 450","price":100,"initialAvailableQuantity":10},
		{"itemId":3,"itemName":"Suitcase 650","price":350,"initialAvailableQuantity":2},
		{"itemId":4,"itemName":"Suitcase 1050","price":550,"initialAvailableQuantity":5}
	]`, rec.Body.String())
}

func TestStockHandler_GetAndReserve(t *testing.T) {
	h := NewStockHandler(service.NewStockService(store.NewMemory(), model.Catalog(), service.ModeChecked, nil), nil)

	_, body := serve(t, h.GetProduct, "/list_products/3", "itemId", "3")
	assert.Equal(t, "Suitcase 650", body["itemName"])
	assert.EqualValues(t, 0, body["currentQuantity"])

	for i := 0; i < 2; i++ {
		_, body = serve(t, h.ReserveProduct, "/reserve_product/3", "itemId", "3")
		assert.Equal(t, "Reservation confirmed", body["status"])
		assert.EqualValues(t, 3, body["itemId"])
	}
	_, body = serve(t, h.ReserveProduct, "/reserve_product/3", "itemId", "3")
	assert.Equal(t, "Not enough stock available", body["status"])
	assert.EqualValues(t, 3, body["itemId"])

	_, body = serve(t, h.GetProduct, "/list_products/3", "itemId", "3")
	assert.EqualValues(t, 2, body["currentQuantity"])
	assert.EqualValues(t, 2, body["initialAvailableQuantity"])
}

func TestStockHandler_NotFound(t *testing.T) {
	h := NewStockHandler(service.NewStockService(store.NewMemory(), model.Catalog(), service.ModeChecked, nil), nil)
	for _, id := range []string{"12", "abc", ""} {
		code, body := serve(t, h.GetProduct, "/list_products/"+id, "itemId", id)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, map[string]any{"status": "Product not found"}, body)

		_, body = serve(t, h.ReserveProduct, "/reserve_product/"+id, "itemId", id)
		assert.Equal(t, map[string]any{"status": "Product not found"}, body)
	}
}

func TestStockHandler_StoreDown(t *testing.T) {
	h := NewStockHandler(service.NewStockService(brokenStore{}, model.Catalog(), service.ModeChecked, nil), nil)

	code, body := serve(t, h.GetProduct, "/list_products/1", "itemId", "1")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Error retrieving product", body["status"])

	code, body = serve(t, h.ReserveProduct, "/reserve_product/1", "itemId", "1")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Reservation failed", body["status"])
}
