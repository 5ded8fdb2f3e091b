package redisx

import (
	"fmt"
	"time"
)

const (
	// Rendered cart page: cart_{user_id} -> JSON page
	KeyCartView = "cart_%d"

	// Invalidation counter guarding cart view fills: cart_gen_{user_id} -> int
	KeyCartGeneration = "cart_gen_%d"

	// Last checkout receipt: payment_{user_id} -> payment id
	KeyPayment = "payment_%d"

	// Dedup event processing: dedup:{service}:{id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLCartView       = 15 * time.Minute
	TTLCartGeneration = 24 * time.Hour
	TTLPayment        = 15 * time.Minute
	TTLDedup          = 48 * time.Hour
)

func CartViewKey(userID int64) string { return fmt.Sprintf(KeyCartView, userID) }

func CartGenerationKey(userID int64) string { return fmt.Sprintf(KeyCartGeneration, userID) }

func PaymentKey(userID int64) string { return fmt.Sprintf(KeyPayment, userID) }

func DedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }
