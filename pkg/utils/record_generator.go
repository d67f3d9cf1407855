package utils

import (
	"fmt"
	"time"

	"tokenAggregator/internal/domain/model"
)

// RecordGenerator provides methods to generate test token data
type RecordGenerator struct {
	Source string
	Chain  string
}

// NewRecordGenerator creates a new record generator
func NewRecordGenerator() *RecordGenerator {
	return &RecordGenerator{Source: "dexscreener", Chain: "solana"}
}

// GenerateRecords creates count records with addresses T0..T{count-1}; every
// metric grows with the index, so record i has 24h volume i*10.
func (g *RecordGenerator) GenerateRecords(count int) []model.NormalizedRecord {
	now := time.Now().UnixMilli()
	records := make([]model.NormalizedRecord, count)
	for i := 0; i < count; i++ {
		records[i] = model.NormalizedRecord{
			Source:           g.Source,
			Chain:            g.Chain,
			TokenAddress:     fmt.Sprintf("T%d", i),
			TokenName:        fmt.Sprintf("Token %d", i),
			PriceSol:         model.Float(float64(i)),
			Volume24H:        model.Float(float64(i * 10)),
			LiquidityUSD:     model.Float(float64(i)),
			MarketCapUSD:     model.Float(float64(i)),
			TransactionCount: model.Int(int64(i)),
			UpdatedAt:        now + int64(i),
		}
	}
	return records
}

// GenerateMerged wraps GenerateRecords into merged records, one per asset.
func (g *RecordGenerator) GenerateMerged(count int) []model.MergedRecord {
	records := g.GenerateRecords(count)
	merged := make([]model.MergedRecord, len(records))
	for i, rec := range records {
		merged[i] = model.MergedRecord{
			NormalizedRecord: rec,
			NormVolume24H:    model.FloatOr(rec.Volume24H, 0),
		}
	}
	return merged
}
