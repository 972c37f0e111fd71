package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/policy"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// coinIDs maps query keywords to CoinGecko coin identifiers.
var coinIDs = map[string]string{
	"bitcoin":  "bitcoin",
	"btc":      "bitcoin",
	"ethereum": "ethereum",
	"eth":      "ethereum",
	"solana":   "solana",
	"sol":      "solana",
	"cardano":  "cardano",
	"ada":      "cardano",
}

var cryptoKeywords = []string{
	"bitcoin", "btc", "ethereum", "eth", "crypto", "cryptocurrency", "coin", "token",
}

// Purchase researches products and prices and recommends options. It
// never places an order in any mode; every result carries
// purchased=false.
type Purchase struct {
	search  Searcher
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

func NewPurchase(search Searcher, logger *slog.Logger) *Purchase {
	return &Purchase{
		search:  search,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: coingeckoBaseURL,
		logger:  logger,
	}
}

func (p *Purchase) ActionType() string { return policy.ActionPurchase }

func (p *Purchase) Validate(step model.Step) error {
	if purchaseQuery(step) == "" {
		return &ValidationError{Field: "query", Reason: "a product query is required"}
	}
	return nil
}

func (p *Purchase) Execute(ctx context.Context, req Request) (map[string]any, error) {
	query := purchaseQuery(req.Step)

	if isCryptoQuery(query) {
		priceData, err := p.cryptoPrice(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("connector: purchase crypto price: %w", err)
		}
		return map[string]any{
			"query":          query,
			"type":           "crypto",
			"price_data":     priceData,
			"recommendation": fmt.Sprintf("Current price information for %s", query),
			"purchased":      false,
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	research, err := p.search.Call(ctx, query+" product review price")
	if err != nil {
		return nil, fmt.Errorf("connector: purchase research: %w", err)
	}

	return map[string]any{
		"query":          query,
		"type":           "product",
		"research":       research,
		"recommendation": "Review the findings above and decide before any money moves.",
		"purchased":      false,
	}, nil
}

func (p *Purchase) cryptoPrice(ctx context.Context, query string) (map[string]any, error) {
	coinID := extractCoinID(query)

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&include_24hr_change=true", p.baseURL, coinID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API returned %d", resp.StatusCode)
	}

	var body map[string]struct {
		USD          float64 `json:"usd"`
		USD24hChange float64 `json:"usd_24h_change"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	data, ok := body[coinID]
	if !ok {
		return nil, fmt.Errorf("coin %s not found", coinID)
	}
	return map[string]any{
		"coin":       coinID,
		"price_usd":  data.USD,
		"change_24h": data.USD24hChange,
	}, nil
}

func purchaseQuery(step model.Step) string {
	for _, key := range []string{"query", "product", "message"} {
		if v, ok := step.Parameters[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(step.Description)
}

func isCryptoQuery(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range cryptoKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func extractCoinID(query string) string {
	q := strings.ToLower(query)
	for kw, id := range coinIDs {
		if strings.Contains(q, kw) {
			return id
		}
	}
	return "bitcoin"
}
