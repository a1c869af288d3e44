package service

import "github.com/rl1809/fulfillment-sync/internal/core/domain"

// CommittedQuantities sums quantity per SKU key over open (PENDING/PREPARING) lines.
// It is recomputed from scratch on every call.
func CommittedQuantities(lines []domain.OrderLine) map[string]int {
	committed := make(map[string]int)
	for _, line := range lines {
		if !line.Status.IsOpen() {
			continue
		}
		key := domain.SKUKey(line.SKU)
		if key == "" || line.Quantity <= 0 {
			continue
		}
		committed[key] += line.Quantity
	}
	return committed
}
