package model

// Product is a fixed catalog entry. Stock is the number of units that can
// ever be reserved; it is not persisted.
type Product struct {
	ID    int    // catalog identifier used in URLs
	Name  string // display name
	Price int    // unit price in whole currency units
	Stock int    // initial available quantity
}

// ProductSummary is the public projection of a Product.
type ProductSummary struct {
	ItemID                   int    `json:"itemId"`
	ItemName                 string `json:"itemName"`
	Price                    int    `json:"price"`
	InitialAvailableQuantity int    `json:"initialAvailableQuantity"`
}

// ProductDetail adds the currently reserved quantity to a summary.
type ProductDetail struct {
	ProductSummary
	CurrentQuantity int `json:"currentQuantity"`
}

// Summary projects p for listing.
func (p Product) Summary() ProductSummary {
	return ProductSummary{
		ItemID:                   p.ID,
		ItemName:                 p.Name,
		Price:                    p.Price,
		InitialAvailableQuantity: p.Stock,
	}
}

var catalog = []Product{
	{ID: 1, Name: "Suitcase 250", Price: 50, Stock: 4},
	{ID: 2, Name: "Suitcase 450", Price: 100, Stock: 10},
	{ID: 3, Name: "Suitcase 650", Price: 350, Stock: 2},
	{ID: 4, Name: "Suitcase 1050", Price: 550, Stock: 5},
}

// Catalog returns a copy of the product list served by the stock endpoints.
func Catalog() []Product {
	out := make([]Product, len(catalog))
	copy(out, catalog)
	return out
}
