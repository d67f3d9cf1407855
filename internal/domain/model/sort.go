package model

import (
	"errors"
	"strings"
)

var (
	ErrInvalidSortKey = errors.New("invalid sort key")
	ErrInvalidOrder   = errors.New("invalid sort order")
	ErrInvalidPeriod  = errors.New("invalid period")
)

type SortKey string

const (
	SortVolume      SortKey = "volume"
	SortPriceChange SortKey = "price_change"
	SortMarketCap   SortKey = "market_cap"
	SortLiquidity   SortKey = "liquidity"
	SortTxCount     SortKey = "tx_count"
	SortUpdatedAt   SortKey = "updated_at"
)

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

type Period string

const (
	PeriodNone Period = ""
	Period1H   Period = "1h"
	Period24H  Period = "24h"
	Period7D   Period = "7d"
)

// ParseSortKey maps a query parameter to a SortKey. Empty selects volume.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortVolume, nil
	case SortVolume, SortPriceChange, SortMarketCap, SortLiquidity, SortTxCount, SortUpdatedAt:
		return k, nil
	default:
		return "", ErrInvalidSortKey
	}
}

// ParseOrder maps a query parameter to an Order. Empty selects desc.
func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderDesc, nil
	case OrderAsc, OrderDesc:
		return o, nil
	default:
		return "", ErrInvalidOrder
	}
}

// ParsePeriod maps a query parameter to a Period. Empty is allowed.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodNone, Period1H, Period24H, Period7D:
		return p, nil
	default:
		return "", ErrInvalidPeriod
	}
}

// PageRequest carries the sort/paginate parameters of one listing call.
type PageRequest struct {
	Sort   SortKey
	Order  Order
	Period Period
	Limit  int
	Cursor string
}

// Page is one slice of a sorted listing.
type Page struct {
	Items      []MergedRecord `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}
