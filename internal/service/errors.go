// Package service holds the reservation logic for seats and catalog stock.
// Handlers translate the sentinel errors below into HTTP responses.
package service

import "errors"

// ErrNotEnoughSeats fails a seat job when the counter is already exhausted.
// Its text matches what operators grep for in the worker logs.
var ErrNotEnoughSeats = errors.New("Not enough seats available")

// ErrCounterMissing is returned when the seat counter was never
// initialized or holds something that is not an integer.
var ErrCounterMissing = errors.New("seat counter missing or invalid")

// ErrProductNotFound is returned for item IDs outside the catalog.
var ErrProductNotFound = errors.New("product not found")
