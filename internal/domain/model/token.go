package model

import "strings"

// ProviderClass groups providers whose figures are comparable with each other.
type ProviderClass string

const (
	ClassDex        ProviderClass = "dex"
	ClassAggregator ProviderClass = "aggregator"
	ClassOther      ProviderClass = "other"
)

// SymbolChain is the chain marker used for synthetic cross-provider identities.
const SymbolChain = "symbol"

// NormalizedRecord is one provider's view of one asset for one fetch cycle.
// Optional metrics are pointers so an absent figure can be told apart from zero.
type NormalizedRecord struct {
	Source       string `json:"source,omitempty"`
	Chain        string `json:"chain"`
	TokenAddress string `json:"token_address"`
	TokenName    string `json:"token_name,omitempty"`
	TokenTicker  string `json:"token_ticker,omitempty"`

	PriceSol *float64 `json:"price_sol,omitempty"`

	// VolumeSol is the legacy undifferentiated volume figure.
	VolumeSol *float64 `json:"volume_sol,omitempty"`
	Volume1H  *float64 `json:"volume_1h,omitempty"`
	Volume24H *float64 `json:"volume_24h,omitempty"`
	Volume7D  *float64 `json:"volume_7d,omitempty"`

	// TransactionCount is the legacy aggregate transaction count.
	TransactionCount *int64 `json:"transaction_count,omitempty"`
	TxCount1H        *int64 `json:"tx_count_1h,omitempty"`
	TxCount24H       *int64 `json:"tx_count_24h,omitempty"`
	TxCount7D        *int64 `json:"tx_count_7d,omitempty"`

	LiquidityUSD *float64 `json:"liquidity_usd,omitempty"`
	MarketCapUSD *float64 `json:"market_cap_usd,omitempty"`

	PriceChange1H  *float64 `json:"price_1hr_change,omitempty"`
	PriceChange24H *float64 `json:"price_24h_change,omitempty"`
	PriceChange7D  *float64 `json:"price_7d_change,omitempty"`

	Protocol string `json:"protocol,omitempty"`

	// UpdatedAt is the observation time in unix milliseconds.
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

// Key returns the lower-cased chain:address identity of the record.
func (r NormalizedRecord) Key() string {
	return AssetKey(r.Chain, r.TokenAddress)
}

// AssetKey builds the case-insensitive chain:address identity.
func AssetKey(chain, address string) string {
	return strings.ToLower(chain + ":" + address)
}

// MergedRecord is the canonical per-asset output of a merge pass.
type MergedRecord struct {
	NormalizedRecord

	// NormVolume24H sums every constituent's 24h volume, falling back to the
	// legacy volume for sources that report no 24h figure.
	NormVolume24H float64 `json:"norm_volume_24h"`

	LiquidityDex        *float64 `json:"liquidity_dex,omitempty"`
	MarketCapAggregator *float64 `json:"market_cap_cg,omitempty"`
	MarketCapDex        *float64 `json:"market_cap_dex,omitempty"`
}

// Baseline is the last published price/volume of one asset.
type Baseline struct {
	Chain     string  `json:"chain"`
	Address   string  `json:"address"`
	PriceSol  float64 `json:"price_sol"`
	Volume24H float64 `json:"volume_24h"`
	UpdatedAt int64   `json:"updated_at"`
}

// SubscriberFilter narrows the events a live connection receives.
// Query is stored lower-cased; empty means "everything".
type SubscriberFilter struct {
	Query  string `json:"q,omitempty"`
	Period string `json:"period,omitempty"`
}

// RateLimit is the token-bucket configuration of one provider.
type RateLimit struct {
	Capacity         int
	RefillIntervalMs int64
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }

// FloatOr dereferences p, or returns def when p is nil.
func FloatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
