package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-realtime-cart/internal/redisx"
)

// renderTimeout bounds a shared rebuild, which outlives a cancelled caller.
const renderTimeout = 10 * time.Second

// Page is the paginated response envelope shared by list endpoints and the
// cart endpoint.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

type ProductRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

type ItemView struct {
	ID         int64      `json:"id"`
	Product    ProductRef `json:"product"`
	Quantity   int        `json:"quantity"`
	TotalPrice string     `json:"total_price"`
}

type CartView struct {
	ID         int64      `json:"id"`
	User       int64      `json:"user"`
	Items      []ItemView `json:"items"`
	TotalItems int        `json:"total_items"`
	TotalPrice string     `json:"total_price"`
}

// Presenter renders carts and memoizes the rendered page in the cache.
type Presenter struct {
	Engine *Engine
	Cache  Cache
	Log    *logrus.Entry

	flight singleflight.Group
}

// RenderCart returns the cached page when present. On a miss it rebuilds
// the page from the store and caches it, unless a mutation invalidated the
// entry while the page was being built.
func (p *Presenter) RenderCart(ctx context.Context, userID int64) (Page[CartView], error) {
	key, genKey := redisx.CartViewKey(userID), redisx.CartGenerationKey(userID)
	log := p.Log.WithField("user_id", userID)

	raw, err := p.Cache.Get(ctx, key)
	switch {
	case err == nil:
		var page Page[CartView]
		if err := json.Unmarshal(raw, &page); err == nil {
			return page, nil
		}
		log.Warn("undecodable cart view in cache, rebuilding")
	case !errors.Is(err, redisx.ErrCacheMiss):
		log.WithError(err).Warn("cart view cache read failed")
	}

	gen, err := p.Cache.Generation(ctx, genKey)
	if err != nil {
		log.WithError(err).Warn("cart generation read failed, serving uncached")
		return p.build(ctx, userID)
	}

	// Callers that observed the same generation share one rebuild. A caller
	// arriving after an invalidation sees a newer generation and never joins
	// a pre-mutation build.
	v, err, _ := p.flight.Do(fmt.Sprintf("%s@%d", key, gen), func() (any, error) {
		// Detached from the caller that started the flight, so its cancellation
		// does not fail the callers sharing the result.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renderTimeout)
		defer cancel()

		page, err := p.build(ctx, userID)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(page)
		if err != nil {
			return nil, errors.Wrap(err, "encode cart view")
		}
		switch err := p.Cache.Fill(ctx, key, genKey, gen, raw, redisx.TTLCartView); {
		case err == nil:
		case errors.Is(err, redisx.ErrStale):
			log.Debug("cart changed while rendering, view not cached")
		default:
			log.WithError(err).Warn("cart view cache write failed")
		}
		return page, nil
	})
	if err != nil {
		return Page[CartView]{}, err
	}
	return v.(Page[CartView]), nil
}

// Snapshot renders c from the store without touching the cache.
func (p *Presenter) Snapshot(ctx context.Context, c Cart) (CartView, error) {
	lines, err := p.Engine.Store.Lines(ctx, c.ID)
	if err != nil {
		return CartView{}, err
	}
	count, sum := totals(lines)

	items := make([]ItemView, 0, len(lines))
	for _, l := range lines {
		items = append(items, ItemView{
			ID: l.ID,
			Product: ProductRef{
				ID:    l.ProductID,
				Name:  l.Name,
				Price: l.UnitPrice.StringFixed(2),
			},
			Quantity:   l.Quantity,
			TotalPrice: l.TotalPrice.StringFixed(2),
		})
	}
	return CartView{
		ID:         c.ID,
		User:       c.UserID,
		Items:      items,
		TotalItems: count,
		TotalPrice: sum.StringFixed(2),
	}, nil
}

func (p *Presenter) build(ctx context.Context, userID int64) (Page[CartView], error) {
	c, err := p.Engine.GetOrCreateCart(ctx, userID)
	if err != nil {
		return Page[CartView]{}, err
	}
	view, err := p.Snapshot(ctx, c)
	if err != nil {
		return Page[CartView]{}, err
	}
	return Page[CartView]{Count: 1, Results: []CartView{view}}, nil
}
