package providers

import (
	"context"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/domain/useCases"
)

const DexScreenerBaseURL = "https://api.dexscreener.com"

type dexScreenerResponse struct {
	Pairs []dexPair `json:"pairs"`
}

type dexPair struct {
	ChainID   string `json:"chainId"`
	DexID     string `json:"dexId"`
	BaseToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUsd string `json:"priceUsd"`
	Txns     struct {
		H1  dexTxns `json:"h1"`
		H24 dexTxns `json:"h24"`
	} `json:"txns"`
	Volume struct {
		H1  *float64 `json:"h1"`
		H24 *float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H1  *float64 `json:"h1"`
		H24 *float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity *struct {
		USD *float64 `json:"usd"`
	} `json:"liquidity"`
	FDV       *float64 `json:"fdv"`
	MarketCap *float64 `json:"marketCap"`
}

type dexTxns struct {
	Buys  *int64 `json:"buys"`
	Sells *int64 `json:"sells"`
}

func (t dexTxns) total() *int64 {
	if t.Buys == nil && t.Sells == nil {
		return nil
	}
	var n int64
	if t.Buys != nil {
		n += *t.Buys
	}
	if t.Sells != nil {
		n += *t.Sells
	}
	return &n
}

// DexScreener searches DEX pairs. Each pair yields one record for its base token.
type DexScreener struct {
	client  *Client
	baseURL string
	now     func() time.Time
}

func NewDexScreener(client *Client, baseURL string) *DexScreener {
	if baseURL == "" {
		baseURL = DexScreenerBaseURL
	}
	return &DexScreener{client: client, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

var _ useCases.Provider = (*DexScreener)(nil)

func (d *DexScreener) Name() string { return "dexscreener" }

func (d *DexScreener) Fetch(ctx context.Context, query string) ([]model.NormalizedRecord, error) {
	endpoint := d.baseURL + "/latest/dex/search?q=" + url.QueryEscape(query)

	var res dexScreenerResponse
	if err := d.client.GetJSON(ctx, endpoint, nil, &res); err != nil {
		return nil, err
	}

	now := d.now().UnixMilli()
	records := make([]model.NormalizedRecord, 0, len(res.Pairs))
	for _, p := range res.Pairs {
		if p.BaseToken.Address == "" || p.ChainID == "" {
			continue
		}
		rec := model.NormalizedRecord{
			Source:           d.Name(),
			Chain:            p.ChainID,
			TokenAddress:     p.BaseToken.Address,
			TokenName:        p.BaseToken.Name,
			TokenTicker:      p.BaseToken.Symbol,
			PriceSol:         parseDecimal(p.PriceUsd),
			Volume1H:         p.Volume.H1,
			Volume24H:        p.Volume.H24,
			TransactionCount: p.Txns.H24.total(),
			TxCount1H:        p.Txns.H1.total(),
			TxCount24H:       p.Txns.H24.total(),
			PriceChange1H:    p.PriceChange.H1,
			PriceChange24H:   p.PriceChange.H24,
			MarketCapUSD:     p.MarketCap,
			Protocol:         p.DexID,
			UpdatedAt:        now,
		}
		if p.Liquidity != nil {
			rec.LiquidityUSD = p.Liquidity.USD
		}
		if rec.MarketCapUSD == nil {
			rec.MarketCapUSD = p.FDV
		}
		records = append(records, rec)
	}
	return records, nil
}

// parseDecimal reads a decimal string price. Empty, invalid or out-of-range
// input is absent.
func parseDecimal(s string) *float64 {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return model.Float(f)
}
