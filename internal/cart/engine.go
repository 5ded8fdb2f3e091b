package cart

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-realtime-cart/internal/redisx"
)

const createAttempts = 3

// Engine applies cart mutations and keeps the cached cart view coherent:
// every mutation invalidates the view only after the store has committed.
type Engine struct {
	Store   Store
	Catalog Catalog
	Cache   Cache
	Log     *logrus.Entry
}

// GetOrCreateCart returns the user's cart, creating it on first use. A
// concurrent creator surfaces as ErrDuplicateCart and is resolved by
// re-reading the row that won.
func (e *Engine) GetOrCreateCart(ctx context.Context, userID int64) (Cart, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		c, err := e.Store.FindCart(ctx, userID)
		if err == nil {
			return c, nil
		}
		if !IsNotFound(err) {
			return Cart{}, err
		}

		c, err = e.Store.CreateCart(ctx, userID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrDuplicateCart) {
			return Cart{}, err
		}
		e.Log.WithFields(logrus.Fields{"user_id": userID, "attempt": attempt + 1}).
			Debug("cart created concurrently, re-reading")
	}
	return Cart{}, &ConflictError{Message: "Cart is being created concurrently, please retry."}
}

// LookupCart returns the user's cart without creating one.
func (e *Engine) LookupCart(ctx context.Context, userID int64) (Cart, error) {
	return e.Store.FindCart(ctx, userID)
}

// AddProducts validates every product id up front and then merges all
// items in one store transaction. A zero quantity leaves an existing line
// untouched and does not create a new one.
func (e *Engine) AddProducts(ctx context.Context, c Cart, items []ItemInput) error {
	if len(items) == 0 {
		return &ValidationError{Field: "products", Message: "No products provided."}
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if it.Quantity < 0 {
			return &ValidationError{
				Field:   "quantity",
				Message: fmt.Sprintf("Quantity for product %d must not be negative.", it.ProductID),
			}
		}
		if it.Quantity > MaxQuantity {
			return &ValidationError{
				Field:   "quantity",
				Message: fmt.Sprintf("Quantity for product %d must not exceed %d.", it.ProductID, MaxQuantity),
			}
		}
		ids = append(ids, it.ProductID)
	}

	known, err := e.Catalog.Products(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "lookup products")
	}
	adds := make([]ItemInput, 0, len(items))
	for _, it := range items {
		if _, ok := known[it.ProductID]; !ok {
			return &NotFoundError{Resource: "Product", ID: it.ProductID}
		}
		if it.Quantity > 0 {
			adds = append(adds, it)
		}
	}
	if len(adds) == 0 {
		return nil
	}

	if err := e.Store.AddItems(ctx, c.ID, adds); err != nil {
		return err
	}
	return e.invalidate(ctx, c.UserID)
}

// DecrementOrRemove subtracts qty from the product's line and deletes the
// line once it reaches zero.
func (e *Engine) DecrementOrRemove(ctx context.Context, c Cart, productID int64, qty int) error {
	if qty < 1 {
		return &ValidationError{Field: "quantity", Message: "Quantity must be at least 1."}
	}
	left, err := e.Store.DecrementItem(ctx, c.ID, productID, qty)
	if err != nil {
		return err
	}
	e.Log.WithFields(logrus.Fields{"cart_id": c.ID, "product_id": productID, "left": left}).Debug("cart line decremented")
	return e.invalidate(ctx, c.UserID)
}

// Totals sums quantities and quantity×price over the current lines using
// live product prices.
func (e *Engine) Totals(ctx context.Context, c Cart) (int, decimal.Decimal, error) {
	lines, err := e.Store.Lines(ctx, c.ID)
	if err != nil {
		return 0, decimal.Zero, err
	}
	count, sum := totals(lines)
	return count, sum, nil
}

func totals(lines []LineItem) (int, decimal.Decimal) {
	count := 0
	sum := decimal.Zero
	for _, l := range lines {
		count += l.Quantity
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return count, sum
}

func (e *Engine) invalidate(ctx context.Context, userID int64) error {
	if err := e.Cache.Invalidate(ctx, redisx.CartViewKey(userID), redisx.CartGenerationKey(userID)); err != nil {
		e.Log.WithError(err).WithField("user_id", userID).Error("cart view invalidation failed")
		return errors.Wrap(err, "invalidate cart view")
	}
	return nil
}
