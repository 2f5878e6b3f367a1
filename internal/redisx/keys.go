package redisx

import "time"

const (
	// Product hash: product:{id} -> name, price_cents, stock
	KeyProduct = "product:%s"

	// Set of every product id, for listing.
	KeyProductIndex = "products"

	// Payment intent claim: claim:payment_intent:{intent_id} -> customer_id
	KeyIntentClaim = "claim:payment_intent:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIntentClaim = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
