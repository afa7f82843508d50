// Package rpc is a minimal Solana JSON-RPC client covering the calls the
// trader needs: balances, blockhash, transaction submission, and
// confirmation.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/awachter/soltrader/internal/domain"
)

const lamportsPerSol = 1_000_000_000

// Client talks to a Solana RPC node over HTTP.
type Client struct {
	endpoint   string
	wallet     string
	httpClient *http.Client
	nextID     int64
}

var _ domain.WalletBalancer = (*Client)(nil)

// NewClient creates an RPC client for the given endpoint. wallet is the
// base58 public key whose balances SolBalance and TokenBalance report.
func NewClient(endpoint, wallet string) *Client {
	return &Client{
		endpoint: endpoint,
		wallet:   wallet,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	c.nextID++
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("rpc: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rpc: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc: %s: status %d: %s", method, resp.StatusCode, string(body))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("rpc: decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc: %s: %w", method, envelope.Error)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("rpc: decode %s result: %w", method, err)
		}
	}
	return nil
}

// SolBalance returns the wallet's SOL balance.
func (c *Client) SolBalance(ctx context.Context) (float64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	err := c.call(ctx, "getBalance", []any{c.wallet}, &result)
	if err != nil {
		return 0, err
	}
	return float64(result.Value) / lamportsPerSol, nil
}

// TokenBalance returns the wallet's balance of the given mint, summed over
// its token accounts, in UI units.
func (c *Client) TokenBalance(ctx context.Context, mint string) (float64, error) {
	params := []any{
		c.wallet,
		map[string]string{"mint": mint},
		map[string]string{"encoding": "jsonParsed"},
	}
	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								UIAmount float64 `json:"uiAmount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return 0, err
	}

	var total float64
	for _, acct := range result.Value {
		total += acct.Account.Data.Parsed.Info.TokenAmount.UIAmount
	}
	return total, nil
}

// LatestBlockhash returns a recent blockhash for transaction assembly.
func (c *Client) LatestBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	params := []any{map[string]string{"commitment": "confirmed"}}
	if err := c.call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return "", err
	}
	return result.Value.Blockhash, nil
}

// SendTransaction submits a base64-encoded signed transaction and returns its
// signature.
func (c *Client) SendTransaction(ctx context.Context, signedTxBase64 string) (string, error) {
	params := []any{
		signedTxBase64,
		map[string]any{
			"encoding":      "base64",
			"skipPreflight": true,
			"maxRetries":    2,
		},
	}
	var signature string
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// SignatureStatus is the confirmation state of a submitted transaction.
type SignatureStatus struct {
	Confirmed bool
	Failed    bool
	Err       string
}

// GetSignatureStatus returns the current status of one signature.
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	params := []any{
		[]string{signature},
		map[string]bool{"searchTransactionHistory": true},
	}
	var result struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return SignatureStatus{}, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return SignatureStatus{}, nil
	}

	st := result.Value[0]
	if len(st.Err) > 0 && string(st.Err) != "null" {
		return SignatureStatus{Failed: true, Err: string(st.Err)}, nil
	}
	confirmed := st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized"
	return SignatureStatus{Confirmed: confirmed}, nil
}

// WaitForConfirmation polls a signature until it confirms, fails on chain, or
// the timeout elapses.
func (c *Client) WaitForConfirmation(ctx context.Context, signature string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		st, err := c.GetSignatureStatus(ctx, signature)
		if err == nil {
			if st.Failed {
				return fmt.Errorf("rpc: transaction %s failed: %s", signature, st.Err)
			}
			if st.Confirmed {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("rpc: confirm %s: timed out after %s", signature, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TokenBalanceChange is the wallet's balance delta for one mint in a
// confirmed transaction, in UI units.
type TokenBalanceChange struct {
	Mint  string
	Delta float64
}

// TransactionMeta is the settled outcome of a confirmed transaction: the fee
// paid and the wallet's per-mint token deltas plus its SOL delta.
type TransactionMeta struct {
	FeeSol        float64
	SolDelta      float64
	TokenDeltas   []TokenBalanceChange
	BlockTimeUnix int64
}

// GetTransactionMeta fetches a confirmed transaction and computes the
// wallet's settled balance changes from its pre/post state.
func (c *Client) GetTransactionMeta(ctx context.Context, signature string) (TransactionMeta, error) {
	params := []any{
		signature,
		map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	}

	type tokenBalance struct {
		Mint          string `json:"mint"`
		Owner         string `json:"owner"`
		UITokenAmount struct {
			UIAmount float64 `json:"uiAmount"`
		} `json:"uiTokenAmount"`
	}
	var result struct {
		BlockTime int64 `json:"blockTime"`
		Meta      *struct {
			Fee               uint64         `json:"fee"`
			PreBalances       []uint64       `json:"preBalances"`
			PostBalances      []uint64       `json:"postBalances"`
			PreTokenBalances  []tokenBalance `json:"preTokenBalances"`
			PostTokenBalances []tokenBalance `json:"postTokenBalances"`
		} `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []struct {
					Pubkey string `json:"pubkey"`
				} `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	}
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return TransactionMeta{}, err
	}
	if result.Meta == nil {
		return TransactionMeta{}, fmt.Errorf("rpc: transaction %s: %w", signature, domain.ErrNotFound)
	}

	meta := TransactionMeta{
		FeeSol:        float64(result.Meta.Fee) / lamportsPerSol,
		BlockTimeUnix: result.BlockTime,
	}

	for i, key := range result.Transaction.Message.AccountKeys {
		if key.Pubkey != c.wallet {
			continue
		}
		if i < len(result.Meta.PreBalances) && i < len(result.Meta.PostBalances) {
			pre := float64(result.Meta.PreBalances[i]) / lamportsPerSol
			post := float64(result.Meta.PostBalances[i]) / lamportsPerSol
			meta.SolDelta = post - pre
		}
		break
	}

	pre := make(map[string]float64)
	for _, tb := range result.Meta.PreTokenBalances {
		if tb.Owner == c.wallet {
			pre[tb.Mint] += tb.UITokenAmount.UIAmount
		}
	}
	post := make(map[string]float64)
	for _, tb := range result.Meta.PostTokenBalances {
		if tb.Owner == c.wallet {
			post[tb.Mint] += tb.UITokenAmount.UIAmount
		}
	}
	for mint, postAmt := range post {
		delta := postAmt - pre[mint]
		if delta != 0 {
			meta.TokenDeltas = append(meta.TokenDeltas, TokenBalanceChange{Mint: mint, Delta: delta})
		}
		delete(pre, mint)
	}
	for mint, preAmt := range pre {
		if preAmt != 0 {
			meta.TokenDeltas = append(meta.TokenDeltas, TokenBalanceChange{Mint: mint, Delta: -preAmt})
		}
	}

	return meta, nil
}
