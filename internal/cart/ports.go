package cart

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Store persists carts and their lines. Every mutating method runs in its
// own transaction and is all-or-nothing.
type Store interface {
	FindCart(ctx context.Context, userID int64) (Cart, error)
	CreateCart(ctx context.Context, userID int64) (Cart, error)
	// AddItems merges quantities into existing lines or creates new ones.
	AddItems(ctx context.Context, cartID int64, items []ItemInput) error
	// DecrementItem returns the quantity left; zero means the line was deleted.
	DecrementItem(ctx context.Context, cartID, productID int64, qty int) (int, error)
	Lines(ctx context.Context, cartID int64) ([]LineItem, error)
	// Checkout records p and clears the cart's lines.
	Checkout(ctx context.Context, cartID int64, p Payment) ([]PurchasedItem, error)
	FindPayment(ctx context.Context, id string) (Payment, error)
}

// Catalog is the read-only product source.
type Catalog interface {
	Products(ctx context.Context, ids []int64) (map[int64]Product, error)
}

// Cache is the view cache. See redisx.Cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Generation(ctx context.Context, genKey string) (int64, error)
	Fill(ctx context.Context, key, genKey string, gen int64, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key, genKey string) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header)
}
