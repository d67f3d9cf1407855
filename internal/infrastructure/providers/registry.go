package providers

import (
	"fmt"
	"strings"

	"tokenAggregator/internal/domain/useCases"
)

// New builds the adapter registered under name. An empty baseURL selects the
// public endpoint. apiKey is only used by providers that take one.
func New(name, baseURL, apiKey string, client *Client) (useCases.Provider, error) {
	switch strings.ToLower(name) {
	case "dexscreener":
		return NewDexScreener(client, baseURL), nil
	case "jupiter":
		return NewJupiter(client, baseURL), nil
	case "coingecko":
		return NewCoinGecko(client, baseURL, apiKey), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
