package cart

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	kafkax "github.com/ariefcatur/go-realtime-cart/internal/kafka"
	"github.com/ariefcatur/go-realtime-cart/internal/redisx"
)

var (
	cardNumberRe = regexp.MustCompile(`^\d{12,19}$`)
	expiryRe     = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{4}$`)
	cvvRe        = regexp.MustCompile(`^\d{3,4}$`)

	// payments.amount is NUMERIC(12,2)
	maxAmount = decimal.New(1, 10)
)

type CardDetails struct {
	Number string `json:"card_number"`
	Expiry string `json:"expiry_date"`
	CVV    string `json:"cvv"`
}

type CheckoutRequest struct {
	Amount decimal.Decimal
	Method string
	Card   *CardDetails
}

// Validate checks shape only; no card is charged.
func (r CheckoutRequest) Validate() error {
	if r.Amount.IsZero() || strings.TrimSpace(r.Method) == "" || r.Card == nil {
		return &ValidationError{Message: "Amount, payment method, and card details are required."}
	}
	if r.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Message: "Amount must be positive."}
	}
	if !r.Amount.Equal(r.Amount.Round(2)) {
		return &ValidationError{Field: "amount", Message: "Amount must have at most 2 decimal places."}
	}
	if r.Amount.GreaterThanOrEqual(maxAmount) {
		return &ValidationError{Field: "amount", Message: "Amount is too large."}
	}
	if !cardNumberRe.MatchString(strings.ReplaceAll(r.Card.Number, " ", "")) {
		return &ValidationError{Field: "card_number", Message: "Card number must be 12 to 19 digits."}
	}
	if !expiryRe.MatchString(r.Card.Expiry) {
		return &ValidationError{Field: "expiry_date", Message: "Expiry date must be in MM/YYYY format."}
	}
	if !cvvRe.MatchString(r.Card.CVV) {
		return &ValidationError{Field: "cvv", Message: "CVV must be 3 or 4 digits."}
	}
	return nil
}

// Finalizer records a payment for the user's cart and empties it.
type Finalizer struct {
	Store     Store
	Cache     Cache
	Publisher Publisher // optional
	Service   string
	Log       *logrus.Entry

	Now func() time.Time
}

func (f *Finalizer) Finalize(ctx context.Context, userID int64, req CheckoutRequest) (Payment, error) {
	if err := req.Validate(); err != nil {
		return Payment{}, err
	}

	c, err := f.Store.FindCart(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return Payment{}, &NotFoundError{Resource: "Cart", Message: "Cart not found."}
		}
		return Payment{}, err
	}

	p := Payment{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    req.Amount,
		Method:    strings.TrimSpace(req.Method),
		Status:    StatusProcessed,
		CreatedAt: f.now(),
	}
	items, err := f.Store.Checkout(ctx, c.ID, p)
	if err != nil {
		return Payment{}, err
	}

	log := f.Log.WithFields(logrus.Fields{"user_id": userID, "payment_id": p.ID})

	// The payment is committed from here on. Cache and event failures are
	// logged and never turn the checkout into an error.
	if err := f.Cache.Invalidate(ctx, redisx.CartViewKey(userID), redisx.CartGenerationKey(userID)); err != nil {
		log.WithError(err).Error("cart view invalidation after checkout failed, view expires with its ttl")
	}
	if err := f.Cache.Set(ctx, redisx.PaymentKey(userID), []byte(p.ID), redisx.TTLPayment); err != nil {
		log.WithError(err).Warn("payment receipt key not cached")
	}

	f.publish(c, p, items, traceID(ctx))
	log.WithField("lines", len(items)).Info("checkout finalized")
	return p, nil
}

// LastReceipt returns the payment recorded by the user's latest checkout
// while its receipt key is still cached.
func (f *Finalizer) LastReceipt(ctx context.Context, userID int64) (Payment, error) {
	raw, err := f.Cache.Get(ctx, redisx.PaymentKey(userID))
	if errors.Is(err, redisx.ErrCacheMiss) {
		return Payment{}, &NotFoundError{Resource: "Payment", Message: "No recent payment."}
	}
	if err != nil {
		return Payment{}, err
	}
	p, err := f.Store.FindPayment(ctx, string(raw))
	if err != nil {
		return Payment{}, err
	}
	if p.UserID != userID {
		return Payment{}, &NotFoundError{Resource: "Payment", Message: "No recent payment."}
	}
	return p, nil
}

func (f *Finalizer) publish(c Cart, p Payment, items []PurchasedItem, trace string) {
	if f.Publisher == nil {
		return
	}
	payload := PaymentProcessedPayload{
		PaymentID: p.ID,
		UserID:    p.UserID,
		CartID:    c.ID,
		Amount:    p.Amount.StringFixed(2),
		Method:    p.Method,
		Items:     make([]ItemQty, 0, len(items)),
	}
	for _, it := range items {
		payload.Items = append(payload.Items, ItemQty{
			ProductID: it.ProductID,
			Qty:       it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		})
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventPaymentProcessed,
		EventVersion:  1,
		OccurredAt:    f.now().UTC(),
		Producer:      f.Service,
		TraceID:       trace,
		CorrelationID: p.ID,
		Payload:       kafkax.MustMarshal(payload),
	}
	f.Publisher.Publish(PartitionKey(p.UserID), kafkax.MustMarshal(ev),
		kafka.Header{Key: "x-event-type", Value: []byte(EventPaymentProcessed)},
		kafka.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (f *Finalizer) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

type traceKey struct{}

// WithTraceID attaches the request id that checkout events carry as trace_id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}
