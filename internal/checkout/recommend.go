package checkout

import "errors"

// RecommendationTable maps payment failure categories to user-facing
// suggestions. The table is immutable after construction.
type RecommendationTable map[string][]string

// Failure category keys.
const (
	failureInsufficientFunds = "insufficient_funds"
	failureCardDeclined      = "card_declined"
	failureNetwork           = "network"
	failureUnknown           = "unknown"
)

// DefaultRecommendations returns the stock suggestion list.
func DefaultRecommendations() RecommendationTable {
	return RecommendationTable{
		failureInsufficientFunds: {
			"Try a different card",
			"Check your account balance",
		},
		failureCardDeclined: {
			"Try a different card",
			"Contact your bank to authorize the payment",
		},
		failureNetwork: {
			"Check your internet connection",
			"Retry in a few minutes",
		},
		failureUnknown: {
			"Retry the payment",
			"Contact support if the problem persists",
		},
	}
}

// For classifies a payment failure and returns the matching suggestions.
func (t RecommendationTable) For(err error) []string {
	key := failureUnknown
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		key = failureInsufficientFunds
	case errors.Is(err, ErrCardDeclined):
		key = failureCardDeclined
	case errors.Is(err, ErrPaymentNetwork):
		key = failureNetwork
	}
	return append([]string(nil), t[key]...)
}
