package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/iliyamo/queued-reservation/internal/model"
	"github.com/iliyamo/queued-reservation/internal/store"
)

// StockStatus is the outcome of ReserveProduct.
type StockStatus string

const (
	StockConfirmed StockStatus = "Reservation confirmed"
	StockNotEnough StockStatus = "Not enough stock available"
)

// ReserveMode selects how ReserveProduct updates the reserved quantity.
type ReserveMode string

const (
	// ModeChecked reads the reserved quantity, compares it to the stock and
	// writes it back in two separate store calls. Overlapping requests for
	// the same item can both pass the check and write the same value.
	ModeChecked ReserveMode = "checked"
	// ModeAtomic delegates the compare and increment to a store that
	// implements store.BoundedIncrementer.
	ModeAtomic ReserveMode = "atomic"
)

// StockService reserves units of the fixed catalog.
type StockService struct {
	store   store.Store
	incr    store.BoundedIncrementer
	log     *zap.Logger
	mode    ReserveMode
	catalog []model.Product
	byID    map[int]model.Product
}

// NewStockService builds a StockService over a copy of catalog. ModeAtomic needs a
// store that implements store.BoundedIncrementer; without one the service
// logs a warning and runs in ModeChecked.
func NewStockService(st store.Store, catalog []model.Product, mode ReserveMode, log *zap.Logger) *StockService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &StockService{
		store:   st,
		log:     log.Named("stock"),
		mode:    ModeChecked,
		catalog: append([]model.Product(nil), catalog...),
		byID:    make(map[int]model.Product, len(catalog)),
	}
	for _, p := range s.catalog {
		s.byID[p.ID] = p
	}
	if mode == ModeAtomic {
		if incr, ok := st.(store.BoundedIncrementer); ok {
			s.incr = incr
			s.mode = ModeAtomic
		} else {
			s.log.Warn("store has no atomic increment, falling back to checked reservations")
		}
	}
	return s
}

// Mode reports the reservation mode in effect.
func (s *StockService) Mode() ReserveMode { return s.mode }

func reservedKey(id int) string { return "item." + strconv.Itoa(id) }

// ListProducts projects the catalog. It never touches the store.
func (s *StockService) ListProducts() []model.ProductSummary {
	out := make([]model.ProductSummary, 0, len(s.catalog))
	for _, p := range s.catalog {
		out = append(out, p.Summary())
	}
	return out
}

// GetProduct returns the catalog entry with its reserved quantity.
func (s *StockService) GetProduct(ctx context.Context, id int) (model.ProductDetail, error) {
	p, ok := s.byID[id]
	if !ok {
		return model.ProductDetail{}, ErrProductNotFound
	}
	cur, err := s.reserved(ctx, id)
	if err != nil {
		return model.ProductDetail{}, err
	}
	return model.ProductDetail{ProductSummary: p.Summary(), CurrentQuantity: cur}, nil
}

// reserved reads the reserved quantity; an absent key means zero.
func (s *StockService) reserved(ctx context.Context, id int) (int, error) {
	raw, err := s.store.Get(ctx, reservedKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("reserved quantity for item %d: %w", id, err)
	}
	return n, nil
}

// ReserveProduct reserves one unit of item id.
func (s *StockService) ReserveProduct(ctx context.Context, id int) (StockStatus, error) {
	p, ok := s.byID[id]
	if !ok {
		return "", ErrProductNotFound
	}
	if s.mode == ModeAtomic {
		_, ok, err := s.incr.IncrementIfBelow(ctx, reservedKey(id), int64(p.Stock))
		if err != nil {
			return "", err
		}
		if !ok {
			return StockNotEnough, nil
		}
		return StockConfirmed, nil
	}

	cur, err := s.reserved(ctx, id)
	if err != nil {
		return "", err
	}
	if cur >= p.Stock {
		return StockNotEnough, nil
	}
	if err := s.store.Set(ctx, reservedKey(id), strconv.Itoa(cur+1)); err != nil {
		return "", err
	}
	return StockConfirmed, nil
}
