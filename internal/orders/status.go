package orders

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// StatusEntry is the cached view of an order's status. CustomerID lets a
// cache hit be checked for ownership without reading the ledger.
type StatusEntry struct {
	CustomerID string    `json:"customer_id"`
	Status     Status    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}
