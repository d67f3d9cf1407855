package service

import (
	"encoding/base64"
	"encoding/json"
	"sort"

	"tokenAggregator/internal/domain/model"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type cursor struct {
	Key   string  `json:"k"`
	Value float64 `json:"v"`
}

// EncodeCursor builds the opaque continuation token for an identity key.
func EncodeCursor(key string, value float64) string {
	raw, _ := json.Marshal(cursor{Key: key, Value: value})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor returns false for anything that is not a cursor produced by
// EncodeCursor; callers then start from the top.
func DecodeCursor(s string) (string, float64, bool) {
	if s == "" {
		return "", 0, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", 0, false
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.Key == "" {
		return "", 0, false
	}
	return c.Key, c.Value, true
}

// ClampLimit bounds a page size to [1, MaxLimit].
func ClampLimit(limit int) int {
	return max(1, min(MaxLimit, limit))
}

// Paginate fully re-sorts items and returns the page following the cursor.
// A zero limit selects DefaultLimit; any other limit is clamped to [1, MaxLimit].
// The cursor is best effort: if its key dropped out of the set, paging
// restarts at the top.
func Paginate(items []model.MergedRecord, req model.PageRequest) model.Page {
	sortKey := req.Sort
	if sortKey == "" {
		sortKey = model.SortVolume
	}
	limit := DefaultLimit
	if req.Limit != 0 {
		limit = ClampLimit(req.Limit)
	}

	sorted := make([]model.MergedRecord, len(items))
	copy(sorted, items)
	values := make(map[string]float64, len(sorted))
	for i := range sorted {
		values[sorted[i].Key()] = SortValue(sorted[i], sortKey, req.Period)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := values[sorted[i].Key()], values[sorted[j].Key()]
		if req.Order == model.OrderAsc {
			return a < b
		}
		return a > b
	})

	start := 0
	if key, _, ok := DecodeCursor(req.Cursor); ok {
		for i := range sorted {
			if sorted[i].Key() == key {
				start = i + 1
				break
			}
		}
	}

	end := min(start+limit, len(sorted))
	page := model.Page{Items: sorted[min(start, end):end]}
	if end < len(sorted) && len(page.Items) > 0 {
		last := page.Items[len(page.Items)-1]
		page.NextCursor = EncodeCursor(last.Key(), values[last.Key()])
	}
	return page
}

// SortValue resolves the period-aware field selected by a sort key.
func SortValue(rec model.MergedRecord, key model.SortKey, period model.Period) float64 {
	switch key {
	case model.SortVolume:
		switch period {
		case model.Period1H:
			return firstFloat(rec.Volume1H, rec.Volume24H, rec.Volume7D, rec.VolumeSol)
		case model.Period7D:
			return firstFloat(rec.Volume7D, rec.Volume24H, rec.VolumeSol)
		default:
			return rec.NormVolume24H
		}
	case model.SortPriceChange:
		switch period {
		case model.Period24H:
			return firstFloat(rec.PriceChange24H, rec.PriceChange1H, rec.PriceChange7D)
		case model.Period7D:
			return firstFloat(rec.PriceChange7D, rec.PriceChange24H, rec.PriceChange1H)
		default:
			return firstFloat(rec.PriceChange1H, rec.PriceChange24H, rec.PriceChange7D)
		}
	case model.SortMarketCap:
		return firstFloat(rec.MarketCapAggregator, rec.MarketCapDex, rec.MarketCapUSD)
	case model.SortLiquidity:
		return firstFloat(rec.LiquidityDex, rec.LiquidityUSD)
	case model.SortTxCount:
		switch period {
		case model.Period1H:
			return firstInt(rec.TxCount1H, rec.TxCount24H, rec.TxCount7D, rec.TransactionCount)
		case model.Period24H:
			return firstInt(rec.TxCount24H, rec.TxCount7D, rec.TransactionCount)
		case model.Period7D:
			return firstInt(rec.TxCount7D, rec.TransactionCount)
		default:
			return firstInt(rec.TransactionCount, rec.TxCount24H, rec.TxCount1H, rec.TxCount7D)
		}
	case model.SortUpdatedAt:
		return float64(rec.UpdatedAt)
	}
	return 0
}

func firstFloat(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstInt(vals ...*int64) float64 {
	for _, v := range vals {
		if v != nil {
			return float64(*v)
		}
	}
	return 0
}
