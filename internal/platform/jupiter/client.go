// Package jupiter is a REST client for the Jupiter swap aggregator, used for
// tokens that have graduated off the bonding curve onto AMM pools.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the REST client for the Jupiter quote and swap API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Jupiter client.
//
// baseURL is the API root, e.g. "https://quote-api.jup.ag/v6".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// QuoteResponse is Jupiter's quote payload. It is kept as returned because
// the swap endpoint requires the quote to be passed back verbatim.
type QuoteResponse struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	SlippageBps    int             `json:"slippageBps"`
	RoutePlan      json.RawMessage `json:"routePlan"`
	Raw            json.RawMessage `json:"-"`
}

// InAmountRaw parses the input amount in base units.
func (q QuoteResponse) InAmountRaw() (uint64, error) {
	return strconv.ParseUint(q.InAmount, 10, 64)
}

// OutAmountRaw parses the output amount in base units.
func (q QuoteResponse) OutAmountRaw() (uint64, error) {
	return strconv.ParseUint(q.OutAmount, 10, 64)
}

// PriceImpact parses the price impact fraction, defaulting to 0 on malformed
// input.
func (q QuoteResponse) PriceImpact() float64 {
	v, err := strconv.ParseFloat(q.PriceImpactPct, 64)
	if err != nil {
		return 0
	}
	return v
}

// Quote requests a swap route for the given pair and input amount in base
// units.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amountRaw uint64, slippageBps int) (QuoteResponse, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amountRaw, 10))
	params.Set("slippageBps", strconv.Itoa(slippageBps))

	endpoint := c.baseURL + "/quote?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return QuoteResponse{}, fmt.Errorf("jupiter: build quote request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return QuoteResponse{}, fmt.Errorf("jupiter: quote: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return QuoteResponse{}, fmt.Errorf("jupiter: read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return QuoteResponse{}, fmt.Errorf("jupiter: quote: status %d: %s", resp.StatusCode, string(body))
	}

	var quote QuoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return QuoteResponse{}, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	quote.Raw = body
	return quote, nil
}

// SwapTransaction asks Jupiter to assemble an unsigned swap transaction for a
// previously obtained quote. It returns the transaction base64-encoded.
func (c *Client) SwapTransaction(ctx context.Context, quote QuoteResponse, userPublicKey string, priorityFeeLamports uint64) (string, error) {
	reqBody := map[string]any{
		"quoteResponse":             json.RawMessage(quote.Raw),
		"userPublicKey":             userPublicKey,
		"wrapAndUnwrapSol":          true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": priorityFeeLamports,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("jupiter: build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("jupiter: swap: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("jupiter: read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("jupiter: swap: status %d: %s", resp.StatusCode, string(body))
	}

	var swapResp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &swapResp); err != nil {
		return "", fmt.Errorf("jupiter: decode swap response: %w", err)
	}
	if swapResp.SwapTransaction == "" {
		return "", fmt.Errorf("jupiter: swap response missing transaction")
	}
	return swapResp.SwapTransaction, nil
}
