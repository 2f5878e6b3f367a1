package orders

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderPaid          = "order.paid"
	TopicOrderStatusChanged = "order.status_changed"
)

// TopicFor maps an event type to the topic it is published on.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderPaid:
		return TopicOrderPaid
	case EventOrderStatusChanged:
		return TopicOrderStatusChanged
	default:
		return TopicOrderPlaced
	}
}

// Partition key = order id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
