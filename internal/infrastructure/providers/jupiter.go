package providers

import (
	"context"
	"net/url"
	"strings"
	"time"

	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/domain/useCases"
)

const JupiterBaseURL = "https://lite-api.jup.ag"

type jupiterToken struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Symbol    string        `json:"symbol"`
	USDPrice  *float64      `json:"usdPrice"`
	Liquidity *float64      `json:"liquidity"`
	MCap      *float64      `json:"mcap"`
	FDV       *float64      `json:"fdv"`
	Stats1H   *jupiterStats `json:"stats1h"`
	Stats24H  *jupiterStats `json:"stats24h"`
	Stats7D   *jupiterStats `json:"stats7d"`
}

type jupiterStats struct {
	PriceChange        *float64 `json:"priceChange"`
	PriceChangePercent *float64 `json:"priceChangePercent"`
	BuyVolume          *float64 `json:"buyVolume"`
	SellVolume         *float64 `json:"sellVolume"`
	NumBuys            *int64   `json:"numBuys"`
	NumSells           *int64   `json:"numSells"`
}

func (s *jupiterStats) volume() *float64 {
	if s == nil || (s.BuyVolume == nil && s.SellVolume == nil) {
		return nil
	}
	return model.Float(model.FloatOr(s.BuyVolume, 0) + model.FloatOr(s.SellVolume, 0))
}

func (s *jupiterStats) change() *float64 {
	if s == nil {
		return nil
	}
	if s.PriceChange != nil {
		return s.PriceChange
	}
	return s.PriceChangePercent
}

func (s *jupiterStats) txCount() *int64 {
	if s == nil || (s.NumBuys == nil && s.NumSells == nil) {
		return nil
	}
	var n int64
	if s.NumBuys != nil {
		n += *s.NumBuys
	}
	if s.NumSells != nil {
		n += *s.NumSells
	}
	return &n
}

// Jupiter searches Solana tokens.
type Jupiter struct {
	client  *Client
	baseURL string
	now     func() time.Time
}

func NewJupiter(client *Client, baseURL string) *Jupiter {
	if baseURL == "" {
		baseURL = JupiterBaseURL
	}
	return &Jupiter{client: client, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

var _ useCases.Provider = (*Jupiter)(nil)

func (j *Jupiter) Name() string { return "jupiter" }

func (j *Jupiter) Fetch(ctx context.Context, query string) ([]model.NormalizedRecord, error) {
	endpoint := j.baseURL + "/tokens/v2/search?query=" + url.QueryEscape(query)

	var tokens []jupiterToken
	if err := j.client.GetJSON(ctx, endpoint, nil, &tokens); err != nil {
		return nil, err
	}

	now := j.now().UnixMilli()
	records := make([]model.NormalizedRecord, 0, len(tokens))
	for _, t := range tokens {
		if t.ID == "" {
			continue
		}
		rec := model.NormalizedRecord{
			Source:         j.Name(),
			Chain:          "solana",
			TokenAddress:   t.ID,
			TokenName:      t.Name,
			TokenTicker:    t.Symbol,
			PriceSol:       t.USDPrice,
			Volume1H:       t.Stats1H.volume(),
			Volume24H:      t.Stats24H.volume(),
			Volume7D:       t.Stats7D.volume(),
			TxCount1H:      t.Stats1H.txCount(),
			TxCount24H:     t.Stats24H.txCount(),
			TxCount7D:      t.Stats7D.txCount(),
			LiquidityUSD:   t.Liquidity,
			MarketCapUSD:   t.MCap,
			PriceChange1H:  t.Stats1H.change(),
			PriceChange24H: t.Stats24H.change(),
			PriceChange7D:  t.Stats7D.change(),
			Protocol:       "jupiter",
			UpdatedAt:      now,
		}
		if rec.MarketCapUSD == nil {
			rec.MarketCapUSD = t.FDV
		}
		records = append(records, rec)
	}
	return records, nil
}
