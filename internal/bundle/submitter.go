// Package bundle submits transaction groups atomically through the Jito
// block engine: all transactions land in one slot with a tip, or none do.
package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/awachter/soltrader/internal/crypto"
	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/platform/jito"
	"github.com/awachter/soltrader/internal/platform/rpc"
)

// Config tunes bundle submission.
type Config struct {
	TipLamports  uint64
	PollInterval time.Duration
	MaxPolls     int
}

// Submitter builds and submits atomic bundles.
type Submitter struct {
	client *jito.Client
	rpc    *rpc.Client
	signer *crypto.Signer
	cfg    Config
	logger *slog.Logger
}

var _ domain.TxSender = (*Submitter)(nil)

// NewSubmitter creates a bundle submitter.
func NewSubmitter(client *jito.Client, rpcClient *rpc.Client, signer *crypto.Signer, cfg Config, logger *slog.Logger) *Submitter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 30
	}
	return &Submitter{
		client: client,
		rpc:    rpcClient,
		signer: signer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "bundle_submitter")),
	}
}

// SendSigned submits a single signed transaction as a tip-carrying bundle
// and returns the transaction's signature once the bundle lands. It lets the
// swap executors use the atomic path in place of plain RPC submission.
func (s *Submitter) SendSigned(ctx context.Context, signedTxBase64 string) (string, error) {
	if _, err := s.Submit(ctx, []string{signedTxBase64}); err != nil {
		return "", err
	}
	return crypto.TransactionSignature(signedTxBase64)
}

// Submit appends a tip transfer to the caller's signed transactions, sends
// everything as one all-or-nothing bundle, and polls until the bundle lands,
// fails on chain, or the poll budget is exhausted. Only an observed "landed"
// status counts as success.
func (s *Submitter) Submit(ctx context.Context, signedTxsBase64 []string) (string, error) {
	if len(signedTxsBase64) == 0 {
		return "", fmt.Errorf("bundle: nothing to submit")
	}

	tipAccounts, err := s.client.TipAccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("bundle: fetch tip accounts: %w", err)
	}
	tipAccount := tipAccounts[rand.Intn(len(tipAccounts))]

	blockhash, err := s.rpc.LatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("bundle: fetch blockhash: %w", err)
	}

	tipTx, err := s.signer.TipTransaction(tipAccount, s.cfg.TipLamports, blockhash)
	if err != nil {
		return "", fmt.Errorf("bundle: build tip: %w", err)
	}

	txs := append(append([]string{}, signedTxsBase64...), tipTx)
	bundleID, err := s.client.SendBundle(ctx, txs)
	if err != nil {
		return "", fmt.Errorf("bundle: send: %w", err)
	}

	s.logger.InfoContext(ctx, "bundle: submitted",
		slog.String("bundle_id", bundleID),
		slog.Int("txs", len(txs)),
		slog.String("tip_account", tipAccount))

	if err := s.waitLanded(ctx, bundleID); err != nil {
		return bundleID, err
	}
	return bundleID, nil
}

func (s *Submitter) waitLanded(ctx context.Context, bundleID string) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for poll := 0; poll < s.cfg.MaxPolls; poll++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := s.client.GetBundleStatus(ctx, bundleID)
		if err != nil {
			s.logger.WarnContext(ctx, "bundle: status poll",
				slog.String("bundle_id", bundleID),
				slog.String("error", err.Error()))
			continue
		}
		if status.Failed {
			return fmt.Errorf("bundle: %s failed on chain: %w", bundleID, domain.ErrBundleNotLanded)
		}
		if status.Landed {
			s.logger.InfoContext(ctx, "bundle: landed",
				slog.String("bundle_id", bundleID),
				slog.Uint64("slot", status.Slot))
			return nil
		}
	}
	return fmt.Errorf("bundle: %s not observed landing: %w", bundleID, domain.ErrBundleNotLanded)
}
