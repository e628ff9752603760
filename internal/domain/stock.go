package domain

type StockStatus string

const (
	StockOutOfStock StockStatus = "out_of_stock"
	StockLow        StockStatus = "low_stock"
	StockAdequate   StockStatus = "adequate"
)

// LowStockThreshold is the inclusive upper bound of the low stock band.
const LowStockThreshold = 10

// ClassifyStock labels a stock level for display. It never blocks a sale.
func ClassifyStock(stock int) StockStatus {
	switch {
	case stock <= 0:
		return StockOutOfStock
	case stock <= LowStockThreshold:
		return StockLow
	default:
		return StockAdequate
	}
}

func NewProductView(p Product) ProductView {
	return ProductView{Product: p, StockStatus: ClassifyStock(p.Stock)}
}

func NewProductViews(products []Product) []ProductView {
	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, NewProductView(p))
	}
	return views
}
