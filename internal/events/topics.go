package events

// Topic constants for domain events emitted by the register.
const (
	TopicSaleSettled    = "sale.settled"
	TopicSaleRolledBack = "sale.rolled_back"
	TopicStockLow       = "stock.low"
)

