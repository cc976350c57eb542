package domain

// SubscriptionContext identifies which symbol selection an async result belongs to.
// Generation increases on every switch; anything tagged with an older
// generation is stale and must not touch current state.
type SubscriptionContext struct {
	Symbol     string `json:"symbol"`
	Generation uint64 `json:"generation"`
}

// Next returns the context for a newly selected symbol.
func (c SubscriptionContext) Next(symbol string) SubscriptionContext {
	return SubscriptionContext{Symbol: symbol, Generation: c.Generation + 1}
}

// Matches reports whether ctx is still the current context.
func (c SubscriptionContext) Matches(current SubscriptionContext) bool {
	return c.Generation == current.Generation && c.Symbol == current.Symbol
}
