package cart

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-cart/internal/logx"
	"github.com/ariefcatur/go-realtime-cart/internal/redisx"
)

// memStore is an in-memory Store and Catalog. It enforces one cart per user
// the way the unique index does.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	products map[int64]Product
	carts    map[int64]Cart
	lines    map[int64][]LineItem
	payments map[string]Payment

	// dupCreates makes the next n CreateCart calls fail as if another
	// request had won the race.
	dupCreates  int
	createCalls int
}

func newMemStore(products ...Product) *memStore {
	s := &memStore{
		products: map[int64]Product{},
		carts:    map[int64]Cart{},
		lines:    map[int64][]LineItem{},
		payments: map[string]Payment{},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) FindCart(ctx context.Context, userID int64) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		return Cart{}, &NotFoundError{Resource: "Cart", Message: "You don't have a cart."}
	}
	return c, nil
}

func (s *memStore) CreateCart(ctx context.Context, userID int64) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.dupCreates > 0 {
		s.dupCreates--
		return Cart{}, ErrDuplicateCart
	}
	if _, ok := s.carts[userID]; ok {
		return Cart{}, ErrDuplicateCart
	}
	c := Cart{ID: s.id(), UserID: userID}
	s.carts[userID] = c
	return c, nil
}

func (s *memStore) AddItems(ctx context.Context, cartID int64, items []ItemInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append([]LineItem(nil), s.lines[cartID]...)
	for _, it := range items {
		p, ok := s.products[it.ProductID]
		if !ok {
			return &NotFoundError{Resource: "Product", ID: it.ProductID}
		}
		merged := false
		for i := range next {
			if next[i].ProductID == it.ProductID {
				next[i].Quantity += it.Quantity
				next[i].TotalPrice = p.Price.Mul(decimal.NewFromInt(int64(next[i].Quantity)))
				merged = true
				break
			}
		}
		if !merged {
			next = append(next, LineItem{
				ID:         s.id(),
				ProductID:  p.ID,
				Quantity:   it.Quantity,
				TotalPrice: p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))),
			})
		}
	}
	s.lines[cartID] = next
	return nil
}

func (s *memStore) DecrementItem(ctx context.Context, cartID, productID int64, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.lines[cartID]
	for i := range lines {
		if lines[i].ProductID != productID {
			continue
		}
		left := lines[i].Quantity - qty
		if left <= 0 {
			s.lines[cartID] = append(lines[:i:i], lines[i+1:]...)
			return 0, nil
		}
		lines[i].Quantity = left
		lines[i].TotalPrice = s.products[productID].Price.Mul(decimal.NewFromInt(int64(left)))
		return left, nil
	}
	return 0, &NotFoundError{Resource: "Product", ID: productID, Message: "Product not in cart."}
}

func (s *memStore) Lines(ctx context.Context, cartID int64) ([]LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LineItem, 0, len(s.lines[cartID]))
	for _, l := range s.lines[cartID] {
		p := s.products[l.ProductID]
		l.Name, l.UnitPrice = p.Name, p.Price
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Checkout(ctx context.Context, cartID int64, p Payment) ([]PurchasedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []PurchasedItem
	for _, l := range s.lines[cartID] {
		items = append(items, PurchasedItem{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: s.products[l.ProductID].Price})
	}
	delete(s.lines, cartID)
	s.payments[p.ID] = p
	return items, nil
}

func (s *memStore) FindPayment(ctx context.Context, id string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return Payment{}, &NotFoundError{Resource: "Payment", Message: "Payment not found."}
	}
	return p, nil
}

func (s *memStore) Products(ctx context.Context, ids []int64) (map[int64]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]Product{}
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *memStore) lineCount(cartID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines[cartID])
}

// countingCache wraps the Redis cache and counts invalidations.
type countingCache struct {
	*redisx.Cache
	mu          sync.Mutex
	invalidated int
}

func (c *countingCache) Invalidate(ctx context.Context, key, genKey string) error {
	c.mu.Lock()
	c.invalidated++
	c.mu.Unlock()
	return c.Cache.Invalidate(ctx, key, genKey)
}

func (c *countingCache) invalidations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (p *recordingPublisher) Publish(key, value []byte, headers ...kafka.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, kafka.Message{Key: key, Value: value, Headers: headers})
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store *memStore
	cache *countingCache
	mr    *miniredis.Miniredis
	eng   *Engine
	pres  *Presenter
	fin   *Finalizer
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemStore(
		Product{ID: 1, Name: "Widget", Price: money("10.00"), Stock: 100},
		Product{ID: 2, Name: "Gadget", Price: money("2.50"), Stock: 100},
		Product{ID: 3, Name: "Gizmo", Price: money("99.99"), Stock: 5},
	)
	cache := &countingCache{Cache: redisx.NewCache(rdb)}
	log := logx.Discard()
	eng := &Engine{Store: store, Catalog: store, Cache: cache, Log: log}
	pub := &recordingPublisher{}
	return &fixture{
		store: store,
		cache: cache,
		mr:    mr,
		eng:   eng,
		pres:  &Presenter{Engine: eng, Cache: cache, Log: log},
		fin:   &Finalizer{Store: store, Cache: cache, Publisher: pub, Service: "cart-api", Log: log},
		pub:   pub,
	}
}
