package domain

import (
	"encoding/json"
)

// Recommendation values on the wire.
const (
	RecommendationApprove = "approve"
	RecommendationDeny    = "deny"
)

// Reason strings form a closed set; clients match on them verbatim.
const (
	ReasonApproved           = "Transaction approved"
	ReasonChargebackHistory  = "Transaction denied due to high chargeback history"
	ReasonTransactionVolume  = "Transaction denied due to high transaction volume"
	ReasonTransactionValue   = "Transaction denied due to high transaction value"
	ReasonMultipleCards      = "Transaction denied due to multiple cards used recently"
	ReasonCardBinChargebacks = "Transaction denied due to high chargeback rate for card type"
)

// RuleProcessingError labels fail-closed denials in verdicts and
// metrics. It is not part of the deny chain.
const RuleProcessingError = "processing_error"

// Verdict is the outcome of evaluating a single transaction.
type Verdict struct {
	Recommendation string `json:"recommendation"`
	Reason         string `json:"reason"`

	// Rule is the internal name of the matched deny rule, empty on
	// approve.
	Rule string `json:"rule,omitempty"`
}

// Approved returns the verdict for a transaction no deny rule matched.
func Approved() Verdict {
	return Verdict{Recommendation: RecommendationApprove, Reason: ReasonApproved}
}

// Deny returns a denial attributed to the named rule.
func Deny(rule, reason string) Verdict {
	return Verdict{Recommendation: RecommendationDeny, Reason: reason, Rule: rule}
}

// FailClosed returns the denial produced when evaluation cannot
// complete. A processing failure never resolves to an approve.
func FailClosed(err error) Verdict {
	return Verdict{
		Recommendation: RecommendationDeny,
		Reason:         "Processing error: " + err.Error(),
		Rule:           RuleProcessingError,
	}
}

// VerdictEvent is the payload published to the event bus after each
// evaluation.
type VerdictEvent struct {
	EvaluationID   string          `json:"evaluation_id"`
	TransactionID  json.RawMessage `json:"transaction_id"`
	UserID         int64           `json:"user_id"`
	Recommendation string          `json:"recommendation"`
	Reason         string          `json:"reason"`
	Rule           string          `json:"rule,omitempty"`
	Amount         float64         `json:"transaction_amount"`
	Timestamp      string          `json:"timestamp"`
}
