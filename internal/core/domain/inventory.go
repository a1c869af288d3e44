package domain

// InventoryRecord is one row of the reference table. Available is Quantity - Sold.
type InventoryRecord struct {
	SKU      string
	Location string
	Quantity int
	Sold     int
}

func (r InventoryRecord) Available() int {
	return r.Quantity - r.Sold
}

// Stock is the resolved view of a SKU used for display fields.
type Stock struct {
	Available int
	Location  string
	Found     bool
}

// MissingStock is returned when a SKU or the reference schema cannot be resolved.
var MissingStock = Stock{Location: LocationNotFound}
