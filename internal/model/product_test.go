package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalog_ReturnsCopy(t *testing.T) {
	c := Catalog()
	c[2].Stock = 0

	fresh := Catalog()
	assert.Len(t, fresh, 4)
	assert.Equal(t, 2, fresh[2].Stock)
}

func TestProduct_Summary(t *testing.T) {
	p := Product{ID: 4, Name: "Suitcase 1050", Price: 550, Stock: 5}
	assert.Equal(t, ProductSummary{ItemID: 4, ItemName: "Suitcase 1050", Price: 550, InitialAvailableQuantity: 5}, p.Summary())
}
