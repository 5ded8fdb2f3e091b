package cart

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultQuantity applies when a request names a product without a quantity.
const DefaultQuantity = 1

// MaxQuantity bounds a single add so line quantities stay within INTEGER.
const MaxQuantity = 10000

// StatusProcessed is the only status checkout writes; no gateway is involved.
const StatusProcessed = "processed"

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CategoryID  *int64          `json:"category_id"`
}

// MarshalJSON renders the price with two decimals.
func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product
	return json.Marshal(struct {
		plain
		Price string `json:"price"`
	}{plain(p), p.Price.StringFixed(2)})
}

// Cart is one per user; it is created lazily and never deleted.
type Cart struct {
	ID        int64
	UserID    int64
	CreatedAt time.Time
}

// LineItem is a cart line joined with the live product row. TotalPrice is
// the value stored at the last mutation; UnitPrice is today's price.
type LineItem struct {
	ID         int64
	ProductID  int64
	Name       string
	UnitPrice  decimal.Decimal
	Quantity   int
	TotalPrice decimal.Decimal
}

type ItemInput struct {
	ProductID int64
	Quantity  int
}

type Payment struct {
	ID        string          `json:"id"`
	UserID    int64           `json:"user"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"payment_method"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

func (p Payment) MarshalJSON() ([]byte, error) {
	type plain Payment
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(p), p.Amount.StringFixed(2)})
}

// PurchasedItem is a line cleared by checkout, priced at checkout time.
type PurchasedItem struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}
