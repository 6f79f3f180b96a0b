package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Internal rule names, stable identifiers used in verdicts, metrics,
// and the rules listing.
const (
	RuleChargebackHistory  = "chargeback_history"
	RuleTransactionVolume  = "transaction_volume"
	RuleTransactionValue   = "transaction_value"
	RuleMultipleCards      = "multiple_cards"
	RuleCardBinChargebacks = "card_bin_chargeback_rate"
)

// Spec describes one deny rule in the evaluation chain.
type Spec struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Reason     string `json:"reason"`
}

// Chain returns the deny rules in evaluation order. The first rule
// whose expression holds decides the verdict; rules below it never
// run. Order is policy: chargeback history outranks volume, volume
// outranks value, and so on down the table. This table is the single
// point of truth for the chain; no threshold is duplicated elsewhere.
func Chain() []Spec {
	return []Spec{
		{
			Name:       RuleChargebackHistory,
			Expression: "user_cbk_count_lifetime_percent > 0.0",
			Reason:     domain.ReasonChargebackHistory,
		},
		{
			Name:       RuleTransactionVolume,
			Expression: "double(txns_by_user_last_1h_hour) >= 2.0 * avg_txns_by_user_1h",
			Reason:     domain.ReasonTransactionVolume,
		},
		{
			Name:       RuleTransactionValue,
			Expression: "transaction_amount >= 2.0 * avg_transaction_amount_7d",
			Reason:     domain.ReasonTransactionValue,
		},
		{
			Name:       RuleMultipleCards,
			Expression: "distinct_cards_2_weeks >= 3",
			Reason:     domain.ReasonMultipleCards,
		},
		{
			Name:       RuleCardBinChargebacks,
			Expression: "num_cbk_card_bin_7d_percent >= 0.5",
			Reason:     domain.ReasonCardBinChargebacks,
		},
	}
}
