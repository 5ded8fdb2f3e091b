package cart

import (
	"encoding/json"
	"strconv"
	"time"
)

const (
	EventPaymentProcessed = "PaymentProcessed"

	TopicPaymentProcessed = "cart.payment.processed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // payment id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID int64  `json:"product_id"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type PaymentProcessedPayload struct {
	PaymentID string    `json:"payment_id"`
	UserID    int64     `json:"user_id"`
	CartID    int64     `json:"cart_id"`
	Amount    string    `json:"amount"`
	Method    string    `json:"payment_method"`
	Items     []ItemQty `json:"items"`
}

// PartitionKey keeps all events of one user on one partition.
func PartitionKey(userID int64) []byte { return []byte(strconv.FormatInt(userID, 10)) }
