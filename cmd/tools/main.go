// Command tools is the operator CLI for a running token aggregator.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"

	"tokenAggregator/internal/domain/model"
)

const defaultURL = "http://localhost:8080"

func main() {
	cmd := newCommand(os.Stdout)
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCommand(out io.Writer) *cli.Command {
	base := os.Getenv("TOKEN_AGGREGATOR_URL")
	if base == "" {
		base = defaultURL
	}

	return &cli.Command{
		Name:  "tools",
		Usage: "inspect and drive a token aggregator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: base, Usage: "server base URL"},
			&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "request timeout"},
		},
		Commands: []*cli.Command{
			{
				Name:  "health",
				Usage: "check the /health endpoint",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return checkHealth(ctx, newClient(cmd), cmd.String("url"), out)
				},
			},
			{
				Name:  "tokens",
				Usage: "list merged tokens for a query",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "q", Value: "sol", Usage: "search query"},
					&cli.StringFlag{Name: "sort", Value: string(model.SortVolume), Usage: "volume, price_change, market_cap, liquidity, tx_count or updated_at"},
					&cli.StringFlag{Name: "order", Value: string(model.OrderDesc), Usage: "asc or desc"},
					&cli.StringFlag{Name: "period", Usage: "1h, 24h or 7d"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "page size"},
					&cli.StringFlag{Name: "cursor", Usage: "cursor from a previous page"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					params := url.Values{}
					params.Set("q", cmd.String("q"))
					params.Set("sort", cmd.String("sort"))
					params.Set("order", cmd.String("order"))
					if p := cmd.String("period"); p != "" {
						params.Set("period", p)
					}
					params.Set("limit", strconv.FormatInt(int64(cmd.Int("limit")), 10))
					if c := cmd.String("cursor"); c != "" {
						params.Set("cursor", c)
					}
					return listTokens(ctx, newClient(cmd), cmd.String("url"), params, out)
				},
			},
			{
				Name:  "trigger",
				Usage: "force one publish cycle for a query",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "q", Value: "sol", Usage: "search query"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return trigger(ctx, newClient(cmd), cmd.String("url"), cmd.String("q"), out)
				},
			},
			{
				Name:  "watch",
				Usage: "print live events for a query",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "q", Usage: "query filter, empty for all"},
					&cli.IntFlag{Name: "count", Usage: "stop after this many events, 0 for no limit"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return watch(ctx, cmd.String("url"), cmd.String("q"), int(cmd.Int("count")), out)
				},
			},
		},
	}
}

func newClient(cmd *cli.Command) *http.Client {
	return &http.Client{Timeout: cmd.Duration("timeout")}
}

func checkHealth(ctx context.Context, client *http.Client, base string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintln(out, "Service is NOT healthy!")
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	fmt.Fprintln(out, "Service is healthy!")
	return nil
}

func listTokens(ctx context.Context, client *http.Client, base string, params url.Values, out io.Writer) error {
	endpoint := strings.TrimRight(base, "/") + "/api/tokens?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("list tokens returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page model.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return fmt.Errorf("decode page: %w", err)
	}

	fmt.Fprintf(out, "%-8s %-12s %-46s %14s %16s\n", "CHAIN", "TICKER", "ADDRESS", "PRICE_SOL", "VOLUME_24H")
	for _, rec := range page.Items {
		fmt.Fprintf(out, "%-8s %-12s %-46s %14.8f %16.2f\n",
			rec.Chain, rec.TokenTicker, rec.TokenAddress, model.FloatOr(rec.PriceSol, 0), rec.NormVolume24H)
	}
	if page.NextCursor != "" {
		fmt.Fprintf(out, "next cursor: %s\n", page.NextCursor)
	}
	return nil
}

func trigger(ctx context.Context, client *http.Client, base, query string, out io.Writer) error {
	endpoint := strings.TrimRight(base, "/") + "/api/trigger?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("trigger returned %d", resp.StatusCode)
	}
	fmt.Fprintf(out, "published cycle for %q\n", query)
	return nil
}

func watch(ctx context.Context, base, query string, count int, out io.Writer) error {
	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(base, "/"), "http") + "/ws"
	if query != "" {
		wsURL += "?q=" + url.QueryEscape(query)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for seen := 0; count <= 0 || seen < count; seen++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		fmt.Fprintln(out, string(data))
	}
	return nil
}
