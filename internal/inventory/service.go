package inventory

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-realtime-cart/internal/cart"
	kafkax "github.com/ariefcatur/go-realtime-cart/internal/kafka"
	"github.com/ariefcatur/go-realtime-cart/internal/redisx"
)

type Allocator interface {
	Allocated(ctx context.Context, paymentID string, lineCount int) (bool, error)
	AllocateAll(ctx context.Context, paymentID string, lines []Line) ([]Allocation, error)
}

// Service deducts stock for completed checkouts.
type Service struct {
	Repo        Allocator
	Redis       *redis.Client
	ServiceName string
	Log         *logrus.Entry
}

// HandlePaymentProcessed is installed as the consumer handler.
func (s *Service) HandlePaymentProcessed(ctx context.Context, m kafkago.Message) error {
	var env cart.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.WithError(err).Warn("dropping undecodable message")
		return nil
	}
	if env.EventType != cart.EventPaymentProcessed {
		return nil
	}

	dkey := redisx.DedupKey(s.ServiceName, env.EventID)
	fresh, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return errors.Wrap(err, "claim event")
	}
	if !fresh {
		return nil
	}

	if err := s.allocate(ctx, env); err != nil {
		// release the claim so a redelivery can retry
		_ = s.Redis.Del(ctx, dkey).Err()
		return err
	}
	return nil
}

func (s *Service) allocate(ctx context.Context, env cart.Envelope) error {
	p, err := kafkax.UnwrapPayload[cart.PaymentProcessedPayload](env.Payload)
	if err != nil {
		return err
	}
	log := s.Log.WithFields(logrus.Fields{"payment_id": p.PaymentID, "trace_id": env.TraceID})

	lines := make([]Line, 0, len(p.Items))
	for _, it := range p.Items {
		lines = append(lines, Line{ProductID: it.ProductID, Qty: it.Qty})
	}
	if len(lines) == 0 {
		log.Debug("empty checkout, nothing to allocate")
		return nil
	}

	if ok, err := s.Repo.Allocated(ctx, p.PaymentID, len(lines)); err == nil && ok {
		log.Debug("payment already allocated")
		return nil
	}

	res, err := s.Repo.AllocateAll(ctx, p.PaymentID, lines)
	if err != nil {
		return errors.Wrapf(err, "allocate payment %s", p.PaymentID)
	}
	for _, a := range res {
		entry := log.WithFields(logrus.Fields{"product_id": a.ProductID, "qty": a.Qty, "available": a.Available})
		if a.Status == StatusBackordered {
			entry.Warn("insufficient stock, line backordered")
			continue
		}
		entry.Debug("stock allocated")
	}
	return nil
}
