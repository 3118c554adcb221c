package domain

// BookLevel is a single resting price+quantity entry on one side of a
// binary market's orderbook.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Depth returns the total resting quantity across levels.
func Depth(levels []BookLevel) float64 {
	var total float64
	for _, l := range levels {
		if l.Quantity > 0 {
			total += l.Quantity
		}
	}
	return total
}
