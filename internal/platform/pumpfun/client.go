// Package pumpfun is a REST client for the pump.fun trade API, used while a
// token is still on the bonding curve.
package pumpfun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the REST client for the pump.fun trade-local API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new pump.fun client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CoinInfo is the subset of pump.fun coin metadata the trader uses.
type CoinInfo struct {
	Mint                   string  `json:"mint"`
	Symbol                 string  `json:"symbol"`
	VirtualSolReserves     float64 `json:"virtual_sol_reserves"`
	VirtualTokenReserves   float64 `json:"virtual_token_reserves"`
	Complete               bool    `json:"complete"`
	MarketCapSol           float64 `json:"market_cap"`
	TotalSupply            float64 `json:"total_supply"`
	LastTradeUnixTimestamp int64   `json:"last_trade_timestamp"`
}

// GetCoin fetches the current bonding-curve state for a mint.
func (c *Client) GetCoin(ctx context.Context, mint string) (CoinInfo, error) {
	endpoint := c.baseURL + "/coins/" + mint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CoinInfo{}, fmt.Errorf("pumpfun: build coin request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CoinInfo{}, fmt.Errorf("pumpfun: get coin %s: %w", mint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return CoinInfo{}, fmt.Errorf("pumpfun: read coin response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return CoinInfo{}, fmt.Errorf("pumpfun: get coin %s: status %d: %s", mint, resp.StatusCode, string(body))
	}

	var info CoinInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return CoinInfo{}, fmt.Errorf("pumpfun: decode coin: %w", err)
	}
	return info, nil
}

// Price computes the instantaneous bonding-curve price in SOL per token from
// the virtual reserves.
func (c *Client) Price(ctx context.Context, mint string) (float64, error) {
	info, err := c.GetCoin(ctx, mint)
	if err != nil {
		return 0, err
	}
	if info.VirtualTokenReserves <= 0 {
		return 0, fmt.Errorf("pumpfun: coin %s has no token reserves", mint)
	}
	// Reserves are reported in base units: lamports and 6-decimal tokens.
	solReserves := info.VirtualSolReserves / 1e9
	tokenReserves := info.VirtualTokenReserves / 1e6
	return solReserves / tokenReserves, nil
}

// TradeRequest describes one bonding-curve trade to assemble.
type TradeRequest struct {
	PublicKey string `json:"publicKey"`
	Action    string `json:"action"` // "buy" or "sell"
	Mint      string `json:"mint"`
	// Amount is SOL for buys (DenominatedInSol true) or token units for
	// sells.
	Amount           float64 `json:"amount"`
	DenominatedInSol bool    `json:"denominatedInSol"`
	SlippageBps      int     `json:"slippageBps"`
	PriorityFeeSol   float64 `json:"priorityFee"`
}

// BuildTradeTransaction asks the API to assemble an unsigned bonding-curve
// trade transaction, returned base64-encoded.
func (c *Client) BuildTradeTransaction(ctx context.Context, tr TradeRequest) (string, error) {
	payload, err := json.Marshal(tr)
	if err != nil {
		return "", fmt.Errorf("pumpfun: marshal trade request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/trade-local", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("pumpfun: build trade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pumpfun: trade %s %s: %w", tr.Action, tr.Mint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("pumpfun: read trade response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pumpfun: trade %s %s: status %d: %s", tr.Action, tr.Mint, resp.StatusCode, string(body))
	}

	var tradeResp struct {
		Transaction string `json:"transaction"`
	}
	if err := json.Unmarshal(body, &tradeResp); err != nil {
		// Some deployments return the raw base64 transaction directly.
		return string(body), nil
	}
	if tradeResp.Transaction != "" {
		return tradeResp.Transaction, nil
	}
	return string(body), nil
}
