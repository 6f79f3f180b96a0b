package domain

import (
	"encoding/json"
)

// Transaction represents a card transaction, either proposed for
// evaluation or recorded in the feature store history.
type Transaction struct {
	// TransactionID is carried as raw JSON so numeric and string ids
	// round-trip byte-identically into the response echo.
	TransactionID   json.RawMessage `json:"transaction_id"`
	MerchantID      int64           `json:"merchant_id"`
	UserID          int64           `json:"user_id"`
	CardNumber      string          `json:"card_number"`
	TransactionDate string          `json:"transaction_date"`
	Amount          float64         `json:"transaction_amount"`
	DeviceID        int64           `json:"device_id"`

	// HasCbk is the chargeback label on historical records.
	// Evaluation requests never carry it.
	HasCbk bool `json:"has_cbk,omitempty"`
}

// EvaluateRequest is the wire payload for transaction evaluation.
// Pointer fields distinguish absent input from zero values.
type EvaluateRequest struct {
	TransactionID     json.RawMessage `json:"transaction_id"`
	MerchantID        *int64          `json:"merchant_id"`
	UserID            *int64          `json:"user_id"`
	CardNumber        *string         `json:"card_number"`
	TransactionDate   *string         `json:"transaction_date"`
	TransactionAmount *float64        `json:"transaction_amount"`
	DeviceID          *int64          `json:"device_id"`
}

// MissingFields returns the names of required fields absent from the
// request, in contract order. An empty result means the request is
// structurally complete.
func (r *EvaluateRequest) MissingFields() []string {
	var missing []string
	if len(r.TransactionID) == 0 || string(r.TransactionID) == "null" {
		missing = append(missing, "transaction_id")
	}
	if r.MerchantID == nil {
		missing = append(missing, "merchant_id")
	}
	if r.UserID == nil {
		missing = append(missing, "user_id")
	}
	if r.CardNumber == nil {
		missing = append(missing, "card_number")
	}
	if r.TransactionDate == nil {
		missing = append(missing, "transaction_date")
	}
	if r.TransactionAmount == nil {
		missing = append(missing, "transaction_amount")
	}
	if r.DeviceID == nil {
		missing = append(missing, "device_id")
	}
	return missing
}

// ToTransaction converts a structurally complete request to a
// Transaction. Callers must check MissingFields first.
func (r *EvaluateRequest) ToTransaction() *Transaction {
	return &Transaction{
		TransactionID:   r.TransactionID,
		MerchantID:      *r.MerchantID,
		UserID:          *r.UserID,
		CardNumber:      *r.CardNumber,
		TransactionDate: *r.TransactionDate,
		Amount:          *r.TransactionAmount,
		DeviceID:        *r.DeviceID,
	}
}
