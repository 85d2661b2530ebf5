package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/queued-reservation/internal/service"
)

// StockHandler serves the product catalog and per-item reservations.
// Unknown items answer 200 with a "Product not found" status, like every
// other business outcome on these routes; only store failures use 5xx.
type StockHandler struct {
	Stock *service.StockService
	Log   *zap.Logger
}

// NewStockHandler constructs a StockHandler.  stock must be non-nil.
func NewStockHandler(stock *service.StockService, log *zap.Logger) *StockHandler {
	if stock == nil {
		panic("nil stock service passed to NewStockHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StockHandler{Stock: stock, Log: log}
}

var productNotFound = echo.Map{"status": "Product not found"}

// itemID parses :itemId.  Non-numeric ids are reported as not found.
func itemID(c echo.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("itemId"))
	return id, err == nil
}

// ListProducts handles GET /list_products.
func (h *StockHandler) ListProducts(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Stock.ListProducts())
}

// GetProduct handles GET /list_products/:itemId.
func (h *StockHandler) GetProduct(c echo.Context) error {
	id, ok := itemID(c)
	if !ok {
		return c.JSON(http.StatusOK, productNotFound)
	}
	d, err := h.Stock.GetProduct(c.Request().Context(), id)
	switch {
	case errors.Is(err, service.ErrProductNotFound):
		return c.JSON(http.StatusOK, productNotFound)
	case err != nil:
		h.Log.Error("read reserved quantity", zap.Int("item_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"status": "Error retrieving product"})
	}
	return c.JSON(http.StatusOK, d)
}

// ReserveProduct handles GET /reserve_product/:itemId.
func (h *StockHandler) ReserveProduct(c echo.Context) error {
	id, ok := itemID(c)
	if !ok {
		return c.JSON(http.StatusOK, productNotFound)
	}
	status, err := h.Stock.ReserveProduct(c.Request().Context(), id)
	switch {
	case errors.Is(err, service.ErrProductNotFound):
		return c.JSON(http.StatusOK, productNotFound)
	case err != nil:
		h.Log.Error("reserve product", zap.Int("item_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"status": "Reservation failed", "itemId": id})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": string(status), "itemId": id})
}
