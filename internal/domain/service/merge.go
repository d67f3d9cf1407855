package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/xrash/smetrics"

	"tokenAggregator/internal/domain/model"
)

const (
	// nameSimilarityThreshold is the minimum normalized Levenshtein ratio for
	// two records sharing a ticker to be treated as the same asset.
	nameSimilarityThreshold = 0.70
	// priceTolerance is the maximum relative price difference for a fuzzy match.
	priceTolerance = 0.10
	epsilon        = 1e-12
)

// IdentityKind tells how a cluster was keyed.
type IdentityKind string

const (
	IdentityAddress IdentityKind = "address"
	IdentitySymbol  IdentityKind = "symbol"
)

// DefaultProviderClasses classifies the built-in providers.
var DefaultProviderClasses = map[string]model.ProviderClass{
	"dexscreener": model.ClassDex,
	"jupiter":     model.ClassDex,
	"coingecko":   model.ClassAggregator,
}

// Merger reconciles records from several providers into one record per asset.
// It is stateless between calls and safe for concurrent use.
type Merger struct {
	classes map[string]model.ProviderClass
}

// NewMerger creates a merger with the given source classification. Source
// names are matched case-insensitively; unknown sources are ClassOther.
func NewMerger(classes map[string]model.ProviderClass) *Merger {
	if classes == nil {
		classes = DefaultProviderClasses
	}
	normalized := make(map[string]model.ProviderClass, len(classes))
	for name, class := range classes {
		normalized[strings.ToLower(name)] = class
	}
	return &Merger{classes: normalized}
}

func (m *Merger) classOf(source string) model.ProviderClass {
	if class, ok := m.classes[strings.ToLower(source)]; ok {
		return class
	}
	return model.ClassOther
}

type cluster struct {
	kind  IdentityKind
	rep   model.NormalizedRecord
	addrs map[string]struct{}
	agg   model.MergedRecord
}

// Merge runs the two-phase identity resolution over records in input order.
// Clustering is greedy: the first similar cluster wins, so the input order
// decides the outcome for ambiguous records.
func (m *Merger) Merge(records []model.NormalizedRecord) []model.MergedRecord {
	var (
		clusters []*cluster
		byAddr   = make(map[string]*cluster)
		byTicker = make(map[string][]*cluster)
	)

	for _, rec := range records {
		key := rec.Key()

		if cl, ok := byAddr[key]; ok {
			m.fold(cl, rec)
			continue
		}

		ticker := strings.ToUpper(rec.TokenTicker)
		if ticker != "" {
			placed := false
			for _, cl := range byTicker[ticker] {
				if isSimilar(cl.rep, rec) {
					m.fold(cl, rec)
					cl.kind = IdentitySymbol
					byAddr[key] = cl
					placed = true
					break
				}
			}
			if placed {
				continue
			}
		}

		cl := m.newCluster(rec)
		clusters = append(clusters, cl)
		byAddr[key] = cl
		if ticker != "" {
			byTicker[ticker] = append(byTicker[ticker], cl)
		}
	}

	out := make([]model.MergedRecord, 0, len(clusters))
	seen := make(map[string]int)
	for _, cl := range clusters {
		rec := cl.agg
		if cl.kind == IdentitySymbol {
			sym := strings.ToUpper(rec.TokenTicker)
			if sym == "" {
				sym = "UNKNOWN"
			}
			rec.Chain = model.SymbolChain
			rec.TokenAddress = "symbol:" + sym
			// Two dissimilar multi-address clusters can share a ticker; keep
			// their identities distinct.
			if n := seen[rec.TokenAddress]; n > 0 {
				seen[rec.TokenAddress] = n + 1
				rec.TokenAddress = fmt.Sprintf("%s:%d", rec.TokenAddress, n+1)
			} else {
				seen[rec.TokenAddress] = 1
			}
		}
		out = append(out, rec)
	}
	return out
}

func (m *Merger) newCluster(rec model.NormalizedRecord) *cluster {
	agg := model.MergedRecord{NormalizedRecord: rec}
	agg.NormVolume24H = volume24OrLegacy(rec)

	switch m.classOf(rec.Source) {
	case model.ClassDex:
		agg.LiquidityDex = copyFloat(rec.LiquidityUSD)
		agg.MarketCapDex = copyFloat(rec.MarketCapUSD)
	case model.ClassAggregator:
		agg.MarketCapAggregator = copyFloat(rec.MarketCapUSD)
	}

	return &cluster{
		kind:  IdentityAddress,
		rep:   rec,
		addrs: map[string]struct{}{rec.Key(): {}},
		agg:   agg,
	}
}

func (m *Merger) fold(cl *cluster, rec model.NormalizedRecord) {
	cl.addrs[rec.Key()] = struct{}{}
	if rec.UpdatedAt > cl.rep.UpdatedAt {
		cl.rep = rec
	}

	dst := &cl.agg

	dst.VolumeSol = sumFloat(dst.VolumeSol, rec.VolumeSol)
	dst.Volume1H = sumFloat(dst.Volume1H, rec.Volume1H)
	dst.Volume24H = sumFloat(dst.Volume24H, rec.Volume24H)
	dst.Volume7D = sumFloat(dst.Volume7D, rec.Volume7D)
	dst.NormVolume24H += volume24OrLegacy(rec)

	dst.TransactionCount = sumInt(dst.TransactionCount, rec.TransactionCount)
	dst.TxCount1H = sumInt(dst.TxCount1H, rec.TxCount1H)
	dst.TxCount24H = sumInt(dst.TxCount24H, rec.TxCount24H)
	dst.TxCount7D = sumInt(dst.TxCount7D, rec.TxCount7D)

	dst.LiquidityUSD = maxFloat(dst.LiquidityUSD, rec.LiquidityUSD)
	dst.MarketCapUSD = maxFloat(dst.MarketCapUSD, rec.MarketCapUSD)
	switch m.classOf(rec.Source) {
	case model.ClassDex:
		dst.LiquidityDex = maxFloat(dst.LiquidityDex, rec.LiquidityUSD)
		dst.MarketCapDex = maxFloat(dst.MarketCapDex, rec.MarketCapUSD)
	case model.ClassAggregator:
		dst.MarketCapAggregator = maxFloat(dst.MarketCapAggregator, rec.MarketCapUSD)
	}

	// Latest wins; ties keep the value already held.
	if rec.UpdatedAt > dst.UpdatedAt {
		dst.PriceSol = preferFloat(rec.PriceSol, dst.PriceSol)
		dst.PriceChange1H = preferFloat(rec.PriceChange1H, dst.PriceChange1H)
		dst.PriceChange24H = preferFloat(rec.PriceChange24H, dst.PriceChange24H)
		dst.PriceChange7D = preferFloat(rec.PriceChange7D, dst.PriceChange7D)
		dst.TokenName = preferString(rec.TokenName, dst.TokenName)
		dst.TokenTicker = preferString(rec.TokenTicker, dst.TokenTicker)
		dst.Source = preferString(rec.Source, dst.Source)
		dst.Protocol = preferString(rec.Protocol, dst.Protocol)
		dst.UpdatedAt = rec.UpdatedAt
	}
}

// isSimilar reports whether rec may join the cluster represented by rep.
func isSimilar(rep, rec model.NormalizedRecord) bool {
	tickerA := strings.ToUpper(rep.TokenTicker)
	tickerB := strings.ToUpper(rec.TokenTicker)
	if tickerA == "" || tickerA != tickerB {
		return false
	}

	nameA := strings.ToLower(rep.TokenName)
	nameB := strings.ToLower(rec.TokenName)
	if nameA == "" || nameB == "" {
		return false
	}
	if NameSimilarity(nameA, nameB) < nameSimilarityThreshold {
		return false
	}

	if rep.PriceSol == nil || rec.PriceSol == nil {
		return false
	}
	return withinPct(*rep.PriceSol, *rec.PriceSol, priceTolerance)
}

// NameSimilarity returns (maxLen - levenshtein) / maxLen for two names,
// measured in runes.
func NameSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein(a, b, ra, rb)
	return float64(maxLen-dist) / float64(maxLen)
}

// levenshtein computes the edit distance over runes. Non-ASCII input is
// re-encoded one byte per distinct rune so the distance counts characters.
func levenshtein(a, b string, ra, rb []rune) int {
	if len(ra) == len(a) && len(rb) == len(b) {
		return smetrics.WagnerFischer(a, b, 1, 1, 1)
	}
	codes := make(map[rune]byte)
	encode := func(rs []rune) (string, bool) {
		out := make([]byte, len(rs))
		for i, r := range rs {
			c, ok := codes[r]
			if !ok {
				if len(codes) == 256 {
					return "", false
				}
				c = byte(len(codes))
				codes[r] = c
			}
			out[i] = c
		}
		return string(out), true
	}
	ea, okA := encode(ra)
	eb, okB := encode(rb)
	if okA && okB {
		return smetrics.WagnerFischer(ea, eb, 1, 1, 1)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func withinPct(base, other, pct float64) bool {
	diff := math.Abs(base - other)
	return diff/math.Max(epsilon, math.Abs(base)) <= pct
}

func volume24OrLegacy(rec model.NormalizedRecord) float64 {
	if rec.Volume24H != nil {
		return *rec.Volume24H
	}
	return model.FloatOr(rec.VolumeSol, 0)
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func sumFloat(a, b *float64) *float64 {
	if a == nil && b == nil {
		return nil
	}
	return model.Float(model.FloatOr(a, 0) + model.FloatOr(b, 0))
}

func sumInt(a, b *int64) *int64 {
	if a == nil && b == nil {
		return nil
	}
	var total int64
	if a != nil {
		total += *a
	}
	if b != nil {
		total += *b
	}
	return model.Int(total)
}

func maxFloat(a, b *float64) *float64 {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return copyFloat(b)
	case b == nil:
		return a
	}
	return model.Float(math.Max(*a, *b))
}

func preferFloat(latest, held *float64) *float64 {
	if latest != nil {
		return copyFloat(latest)
	}
	return held
}

func preferString(latest, held string) string {
	if latest != "" {
		return latest
	}
	return held
}
