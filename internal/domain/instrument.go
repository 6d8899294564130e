package domain

// Instrument describes the exchange trading filters for a symbol. Order
// quantities must land on the step grid and respect the minimums or the
// exchange rejects the order outright.
type Instrument struct {
	Symbol            string
	PricePrecision    int     // Decimal places allowed on price
	QuantityPrecision int     // Decimal places allowed on quantity
	StepSize          float64 // Quantity increment (LOT_SIZE filter)
	MinQty            float64 // Minimum order quantity
	MinNotional       float64 // Minimum order value in quote currency
}
