package planner

import "xt-grid-bot/internal/models"

// Plan computes the full ladder of limit order intents for a grid centered on
// centerPrice. For each of the positions levels it emits one BUY below and one
// SELL above the center, spaced by a percentage distance interpolated linearly
// between minPct and maxPct. Quantities are sized so that every level commits
// totalAmount/positions of quote currency.
//
// Callers must guarantee positions >= 2, minPct <= maxPct and centerPrice > 0;
// these are validated at the grid-creation boundary. A distance of zero is
// legal and yields a buy and a sell both at the center price.
func Plan(centerPrice float64, positions int, minPct, maxPct, totalAmount float64) []models.OrderIntent {
	amountPerLevel := totalAmount / float64(positions)
	step := (maxPct - minPct) / float64(positions-1)

	intents := make([]models.OrderIntent, 0, 2*positions)
	for i := 0; i < positions; i++ {
		distance := minPct + step*float64(i)

		buyPrice := centerPrice * (1 - distance/100)
		sellPrice := centerPrice * (1 + distance/100)

		intents = append(intents, models.OrderIntent{
			Level:    i,
			Side:     models.Buy,
			Price:    buyPrice,
			Quantity: amountPerLevel / buyPrice,
		})
		intents = append(intents, models.OrderIntent{
			Level:    i,
			Side:     models.Sell,
			Price:    sellPrice,
			Quantity: amountPerLevel / sellPrice,
		})
	}
	return intents
}

// Bounds returns the outermost prices of a ladder centered on centerPrice.
func Bounds(centerPrice, minPct, maxPct float64) (lower, upper float64) {
	lower = centerPrice * (1 - minPct/100)
	upper = centerPrice * (1 + maxPct/100)
	return lower, upper
}
