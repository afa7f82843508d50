// Package jito is a client for the Jito block-engine bundle API, used for
// atomic all-or-nothing submission of transaction groups.
package jito

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a Jito block-engine endpoint over JSON-RPC.
type Client struct {
	baseURL    string
	httpClient *http.Client
	nextID     int64
}

// NewClient creates a new Jito block-engine client.
//
// baseURL is the block-engine root, e.g.
// "https://mainnet.block-engine.jito.wtf/api/v1".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) call(ctx context.Context, path, method string, params []any, result any) error {
	c.nextID++
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("jito: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("jito: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jito: %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("jito: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jito: %s: status %d: %s", method, resp.StatusCode, string(body))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("jito: decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("jito: %s: rpc error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("jito: decode %s result: %w", method, err)
		}
	}
	return nil
}

// TipAccounts returns the current set of tip accounts. The submitter picks
// one at random per bundle.
func (c *Client) TipAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := c.call(ctx, "/bundles", "getTipAccounts", nil, &accounts); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("jito: no tip accounts returned")
	}
	return accounts, nil
}

// SendBundle submits a group of base64-encoded signed transactions as one
// atomic bundle and returns the bundle id.
func (c *Client) SendBundle(ctx context.Context, signedTxsBase64 []string) (string, error) {
	params := []any{
		signedTxsBase64,
		map[string]string{"encoding": "base64"},
	}
	var bundleID string
	if err := c.call(ctx, "/bundles", "sendBundle", params, &bundleID); err != nil {
		return "", err
	}
	return bundleID, nil
}

// BundleStatus is the landing state of one submitted bundle.
type BundleStatus struct {
	BundleID string
	Landed   bool
	Failed   bool
	Slot     uint64
}

// GetBundleStatus polls the block engine for a bundle's status. A bundle the
// engine has never seen reports neither landed nor failed.
func (c *Client) GetBundleStatus(ctx context.Context, bundleID string) (BundleStatus, error) {
	var result struct {
		Value []struct {
			BundleID           string          `json:"bundle_id"`
			ConfirmationStatus string          `json:"confirmation_status"`
			Slot               uint64          `json:"slot"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	params := []any{[]string{bundleID}}
	if err := c.call(ctx, "/bundles", "getBundleStatuses", params, &result); err != nil {
		return BundleStatus{}, err
	}
	if len(result.Value) == 0 {
		return BundleStatus{BundleID: bundleID}, nil
	}

	st := result.Value[0]
	out := BundleStatus{BundleID: bundleID, Slot: st.Slot}
	if len(st.Err) > 0 && string(st.Err) != "null" && string(st.Err) != `{"Ok":null}` {
		out.Failed = true
		return out, nil
	}
	switch st.ConfirmationStatus {
	case "confirmed", "finalized", "processed":
		out.Landed = true
	}
	return out, nil
}
