package domain

// Feature names as they appear in the feature store and on the wire.
const (
	FeatureDistinctCards2Weeks = "distinct_cards_2_weeks"
	FeatureTxnsLastHour        = "txns_by_user_last_1h_hour"
	FeatureCardBinCbkRate7d    = "num_cbk_card_bin_7d_percent"
	FeatureAvgTxnsPerHour      = "avg_txns_by_user_1h"
	FeatureAvgAmount7d         = "avg_transaction_amount_7d"
	FeatureLifetimeCbkRate     = "user_cbk_count_lifetime_percent"
)

// Profile is the fully-populated set of behavioral features the rule
// chain consumes. Every field is defined; rules never see an absent
// value.
type Profile struct {
	DistinctCards2Weeks int64   `json:"distinct_cards_2_weeks"`
	TxnsLastHour        int64   `json:"txns_by_user_last_1h_hour"`
	CardBinCbkRate7d    float64 `json:"num_cbk_card_bin_7d_percent"`
	AvgTxnsPerHour      float64 `json:"avg_txns_by_user_1h"`
	AvgAmount7d         float64 `json:"avg_transaction_amount_7d"`
	LifetimeCbkRate     float64 `json:"user_cbk_count_lifetime_percent"`
}

// PartialProfile is a profile as read from the feature store: every
// field optional, nil meaning absent (no row, or a NULL aggregate).
type PartialProfile struct {
	DistinctCards2Weeks *int64   `json:"distinct_cards_2_weeks,omitempty"`
	TxnsLastHour        *int64   `json:"txns_by_user_last_1h_hour,omitempty"`
	CardBinCbkRate7d    *float64 `json:"num_cbk_card_bin_7d_percent,omitempty"`
	AvgTxnsPerHour      *float64 `json:"avg_txns_by_user_1h,omitempty"`
	AvgAmount7d         *float64 `json:"avg_transaction_amount_7d,omitempty"`
	LifetimeCbkRate     *float64 `json:"user_cbk_count_lifetime_percent,omitempty"`
}

// DefaultProfile returns the profile assumed for a user with no usable
// history. A brand-new user evaluates against exactly these values.
func DefaultProfile() Profile {
	return Profile{
		DistinctCards2Weeks: 1,
		TxnsLastHour:        20,
		CardBinCbkRate7d:    0,
		AvgTxnsPerHour:      20,
		AvgAmount7d:         10000,
		LifetimeCbkRate:     0,
	}
}

// Merge fills every absent field from DefaultProfile and reports the
// names of the defaulted fields in feature order. A nil receiver is
// the no-history case and yields the full default profile.
func (p *PartialProfile) Merge() (Profile, []string) {
	if p == nil {
		p = &PartialProfile{}
	}

	out := DefaultProfile()
	var defaulted []string

	if p.DistinctCards2Weeks != nil {
		out.DistinctCards2Weeks = *p.DistinctCards2Weeks
	} else {
		defaulted = append(defaulted, FeatureDistinctCards2Weeks)
	}
	if p.TxnsLastHour != nil {
		out.TxnsLastHour = *p.TxnsLastHour
	} else {
		defaulted = append(defaulted, FeatureTxnsLastHour)
	}
	if p.CardBinCbkRate7d != nil {
		out.CardBinCbkRate7d = *p.CardBinCbkRate7d
	} else {
		defaulted = append(defaulted, FeatureCardBinCbkRate7d)
	}
	if p.AvgTxnsPerHour != nil {
		out.AvgTxnsPerHour = *p.AvgTxnsPerHour
	} else {
		defaulted = append(defaulted, FeatureAvgTxnsPerHour)
	}
	if p.AvgAmount7d != nil {
		out.AvgAmount7d = *p.AvgAmount7d
	} else {
		defaulted = append(defaulted, FeatureAvgAmount7d)
	}
	if p.LifetimeCbkRate != nil {
		out.LifetimeCbkRate = *p.LifetimeCbkRate
	} else {
		defaulted = append(defaulted, FeatureLifetimeCbkRate)
	}

	return out, defaulted
}
