package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/domain/useCases"
)

const (
	CoinGeckoBaseURL = "https://api.coingecko.com/api/v3"
	// CoinGeckoKeyHeader carries the demo API key.
	CoinGeckoKeyHeader = "x-cg-demo-api-key"
	coinGeckoMaxIDs    = 25
)

type coinGeckoSearch struct {
	Coins []struct {
		ID string `json:"id"`
	} `json:"coins"`
}

type coinGeckoMarket struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	Name         string   `json:"name"`
	CurrentPrice *float64 `json:"current_price"`
	MarketCap    *float64 `json:"market_cap"`
	TotalVolume  *float64 `json:"total_volume"`
	Change1H     *float64 `json:"price_change_percentage_1h_in_currency"`
	Change24H    *float64 `json:"price_change_percentage_24h_in_currency"`
	Change7D     *float64 `json:"price_change_percentage_7d_in_currency"`
}

// CoinGecko resolves a query through /search, then loads market data for the
// top matches.
type CoinGecko struct {
	client  *Client
	baseURL string
	apiKey  string
	now     func() time.Time
}

func NewCoinGecko(client *Client, baseURL, apiKey string) *CoinGecko {
	if baseURL == "" {
		baseURL = CoinGeckoBaseURL
	}
	return &CoinGecko{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, now: time.Now}
}

var _ useCases.Provider = (*CoinGecko)(nil)

func (g *CoinGecko) Name() string { return "coingecko" }

func (g *CoinGecko) header() http.Header {
	h := http.Header{}
	if g.apiKey != "" {
		h.Set(CoinGeckoKeyHeader, g.apiKey)
	}
	return h
}

func (g *CoinGecko) Fetch(ctx context.Context, query string) ([]model.NormalizedRecord, error) {
	var search coinGeckoSearch
	if err := g.client.GetJSON(ctx, g.baseURL+"/search?query="+url.QueryEscape(query), g.header(), &search); err != nil {
		return nil, err
	}

	ids := make([]string, 0, coinGeckoMaxIDs)
	for _, c := range search.Coins {
		if c.ID == "" {
			continue
		}
		ids = append(ids, c.ID)
		if len(ids) == coinGeckoMaxIDs {
			break
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("ids", strings.Join(ids, ","))
	params.Set("price_change_percentage", "1h,24h,7d")

	var markets []coinGeckoMarket
	if err := g.client.GetJSON(ctx, g.baseURL+"/coins/markets?"+params.Encode(), g.header(), &markets); err != nil {
		return nil, err
	}

	now := g.now().UnixMilli()
	records := make([]model.NormalizedRecord, 0, len(markets))
	for _, m := range markets {
		if m.ID == "" {
			continue
		}
		records = append(records, model.NormalizedRecord{
			Source:         g.Name(),
			Chain:          "coingecko",
			TokenAddress:   m.ID,
			TokenName:      m.Name,
			TokenTicker:    strings.ToUpper(m.Symbol),
			PriceSol:       m.CurrentPrice,
			Volume24H:      m.TotalVolume,
			MarketCapUSD:   m.MarketCap,
			PriceChange1H:  m.Change1H,
			PriceChange24H: m.Change24H,
			PriceChange7D:  m.Change7D,
			UpdatedAt:      now,
		})
	}
	return records, nil
}
