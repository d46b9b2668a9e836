package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/memo"
	spltoken "github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaConfig holds the configuration for on-chain settlement. The escrow
// private key signs outgoing transfers; the treasury wallet accumulates
// platform fees.
type SolanaConfig struct {
	RPCEndpoint      string               `json:"rpc_endpoint"`
	EscrowPrivateKey *solanago.PrivateKey `json:"escrow_private_key"`
	EscrowWallet     solanago.PublicKey   `json:"escrow_wallet"`
	TreasuryWallet   string               `json:"treasury_wallet"`
	USDCMintAddress  string               `json:"usdc_mint_address"`
}

// SolanaRPCClient is the subset of the RPC client the provider uses.
// *rpc.Client satisfies it; tests substitute a mock.
type SolanaRPCClient interface {
	GetTokenAccountBalance(ctx context.Context, account solanago.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solanago.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solanago.Transaction, opts rpc.TransactionOpts) (solanago.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solanago.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// SolanaProvider settles bounties in USDC from a platform escrow wallet.
// Payer funding happens out-of-band (the payer transfers into the escrow
// wallet and the deposit is recorded with RecordDeposit), so Debit and
// Escrow are unsupported operations: the platform cannot sign for the
// payer's wallet. Payouts and refunds are real transfers.
type SolanaProvider struct {
	cfg             SolanaConfig
	store           LedgerStore
	rpcClient       SolanaRPCClient
	discovery       *X402Client
	confirmInterval time.Duration
}

func NewSolanaProvider(cfg SolanaConfig, store LedgerStore, discovery *X402Client) (*SolanaProvider, error) {
	if cfg.EscrowPrivateKey == nil {
		return nil, fmt.Errorf("escrow private key not configured")
	}
	if !cfg.EscrowPrivateKey.PublicKey().Equals(cfg.EscrowWallet) {
		return nil, fmt.Errorf("escrow private key does not match escrow wallet address")
	}
	if cfg.USDCMintAddress == "" {
		return nil, fmt.Errorf("usdc mint address not configured")
	}
	if _, err := solanago.PublicKeyFromBase58(cfg.USDCMintAddress); err != nil {
		return nil, fmt.Errorf("invalid usdc mint address %q: %w", cfg.USDCMintAddress, err)
	}
	endpoint := cfg.RPCEndpoint
	if endpoint == "" {
		endpoint = rpc.DevNet_RPC
	}
	return &SolanaProvider{
		cfg:             cfg,
		store:           store,
		rpcClient:       rpc.New(endpoint),
		discovery:       discovery,
		confirmInterval: 3 * time.Second,
	}, nil
}

func (p *SolanaProvider) Name() string { return "solana" }

// GetBalance reads the USDC balance of the account's associated token
// account.
func (p *SolanaProvider) GetBalance(ctx context.Context, accountID string) (*Amount, error) {
	owner, err := solanago.PublicKeyFromBase58(accountID)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address %q: %w", accountID, err)
	}
	mint := solanago.MustPublicKeyFromBase58(p.cfg.USDCMintAddress)
	ata, _, err := solanago.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive token account: %w", err)
	}
	res, err := p.rpcClient.GetTokenAccountBalance(ctx, ata, rpc.CommitmentFinalized)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return Zero(), nil
		}
		return nil, fmt.Errorf("failed to get token balance: %w", err)
	}
	if res == nil || res.Value == nil {
		return Zero(), nil
	}
	micro := Zero()
	if _, ok := micro.Value.SetString(res.Value.Amount, 10); !ok {
		return nil, fmt.Errorf("unparsable token balance %q", res.Value.Amount)
	}
	return micro, nil
}

func (p *SolanaProvider) CanAfford(ctx context.Context, accountID string, amount *Amount) (bool, error) {
	balance, err := p.GetBalance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return balance.Cmp(amount) >= 0, nil
}

// Debit is unsupported: the platform holds no signing authority over payer
// wallets. Funding is a transfer into the escrow wallet, recorded with
// RecordDeposit.
func (p *SolanaProvider) Debit(ctx context.Context, accountID string, amount *Amount) Result {
	return failure(ErrCodeUnsupported, "solana provider cannot debit wallet %s; fund the escrow wallet directly", accountID)
}

// Credit transfers USDC from the escrow wallet to the account.
func (p *SolanaProvider) Credit(ctx context.Context, accountID string, amount *Amount) Result {
	sig, err := p.transfer(ctx, accountID, amount, "")
	if err != nil {
		return failure(ErrCodeBackend, "transfer failed: %v", err)
	}
	return Result{Success: true, Reference: sig.String()}
}

// Escrow is unsupported for the same reason as Debit.
func (p *SolanaProvider) Escrow(ctx context.Context, payerID string, amount *Amount, bountyID string, feeBPS int64) Result {
	return failure(ErrCodeUnsupported, "solana provider cannot pull funds from %s; use RecordDeposit after an inbound transfer", payerID)
}

// RecordDeposit records a hold for funds the payer has already transferred
// into the escrow wallet. The deposit transaction signature becomes the
// record's reference.
func (p *SolanaProvider) RecordDeposit(ctx context.Context, rec *EscrowRecord) error {
	rec.Status = EscrowStatusHeld
	if err := p.store.DebitAndHold(ctx, rec); err != nil {
		return fmt.Errorf("failed to record deposit for bounty %s: %w", rec.BountyID, err)
	}
	return nil
}

// ReleaseEscrow pays the winner's wallet the net amount and the treasury
// the fee, each with a memo naming the bounty so settlements are traceable
// on-chain. A winnerID that is an https URL is resolved through x402
// discovery to the wallet the winner actually accepts payment at.
func (p *SolanaProvider) ReleaseEscrow(ctx context.Context, bountyID, winnerID string) Result {
	rec, err := p.store.GetEscrowByBounty(ctx, bountyID)
	if err != nil {
		if errors.Is(err, ErrEscrowNotFound) {
			return failure(ErrCodeEscrowNotFound, "no escrow for bounty %s", bountyID)
		}
		return failure(ErrCodeBackend, "escrow lookup failed: %v", err)
	}
	if rec.Status != EscrowStatusHeld {
		return failure(ErrCodeEscrowNotHeld, "escrow for bounty %s is %s, not held", bountyID, rec.Status)
	}

	payTo := winnerID
	if strings.HasPrefix(winnerID, "https://") {
		if p.discovery == nil {
			return failure(ErrCodeUnsupported, "winner %s requires x402 discovery but none is configured", winnerID)
		}
		opt, err := p.discovery.DiscoverOption(ctx, winnerID, "solana", p.cfg.USDCMintAddress)
		if err != nil {
			return failure(ErrCodeBackend, "x402 discovery failed: %v", err)
		}
		payTo = opt.PayTo
	}

	memoBytes, _ := json.Marshal(struct {
		BountyID     string `json:"bounty_id"`
		SubmissionID string `json:"submission_id,omitempty"`
	}{BountyID: bountyID, SubmissionID: rec.SubmissionID})

	sig, err := p.transfer(ctx, payTo, rec.Net, string(memoBytes))
	if err != nil {
		return failure(ErrCodeBackend, "winner payout failed: %v", err)
	}
	if rec.Fee.IsPositive() && p.cfg.TreasuryWallet != "" {
		feeMemo := fmt.Sprintf("%s-fee-transfer", bountyID)
		if _, err := p.transfer(ctx, p.cfg.TreasuryWallet, rec.Fee, feeMemo); err != nil {
			return failure(ErrCodeBackend, "fee transfer failed: %v", err)
		}
	}
	if err := p.store.TransitionEscrow(ctx, bountyID, EscrowStatusHeld, EscrowStatusReleased, winnerID, sig.String()); err != nil {
		if errors.Is(err, ErrEscrowConflict) {
			return failure(ErrCodeEscrowNotHeld, "escrow for bounty %s is no longer held", bountyID)
		}
		return failure(ErrCodeBackend, "escrow transition failed: %v", err)
	}
	return Result{Success: true, Reference: sig.String()}
}

// RefundEscrow returns the gross amount to the payer's wallet.
func (p *SolanaProvider) RefundEscrow(ctx context.Context, bountyID string) Result {
	rec, err := p.store.GetEscrowByBounty(ctx, bountyID)
	if err != nil {
		if errors.Is(err, ErrEscrowNotFound) {
			return failure(ErrCodeEscrowNotFound, "no escrow for bounty %s", bountyID)
		}
		return failure(ErrCodeBackend, "escrow lookup failed: %v", err)
	}
	if rec.Status != EscrowStatusHeld {
		return failure(ErrCodeEscrowNotHeld, "escrow for bounty %s is %s, not held", bountyID, rec.Status)
	}

	refundMemo, _ := json.Marshal(struct {
		BountyID string `json:"bounty_id"`
	}{BountyID: bountyID})
	sig, err := p.transfer(ctx, rec.PayerID, rec.Gross, string(refundMemo))
	if err != nil {
		return failure(ErrCodeBackend, "refund transfer failed: %v", err)
	}
	if err := p.store.TransitionEscrow(ctx, bountyID, EscrowStatusHeld, EscrowStatusRefunded, "", sig.String()); err != nil {
		if errors.Is(err, ErrEscrowConflict) {
			return failure(ErrCodeEscrowNotHeld, "escrow for bounty %s is no longer held", bountyID)
		}
		return failure(ErrCodeBackend, "escrow transition failed: %v", err)
	}
	return Result{Success: true, Reference: sig.String()}
}

// transfer builds, signs and sends a USDC transfer from the escrow wallet,
// creating associated token accounts on the fly when missing, then waits a
// bounded time for finalization.
func (p *SolanaProvider) transfer(ctx context.Context, recipient string, amount *Amount, memoText string) (solanago.Signature, error) {
	recipientKey, err := solanago.PublicKeyFromBase58(recipient)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("invalid recipient wallet %q: %w", recipient, err)
	}
	if !amount.IsPositive() {
		return solanago.Signature{}, fmt.Errorf("transfer amount must be positive")
	}
	mint := solanago.MustPublicKeyFromBase58(p.cfg.USDCMintAddress)
	sender := p.cfg.EscrowPrivateKey.PublicKey()

	senderATA, _, err := solanago.FindAssociatedTokenAddress(sender, mint)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("failed to derive sender token account: %w", err)
	}
	recipientATA, _, err := solanago.FindAssociatedTokenAddress(recipientKey, mint)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("failed to derive recipient token account: %w", err)
	}

	instructions := make([]solanago.Instruction, 0, 3)
	if memoText != "" {
		instructions = append(instructions, solanago.NewInstruction(
			memo.ProgramID,
			[]*solanago.AccountMeta{},
			[]byte(memoText),
		))
	}

	if _, err := p.rpcClient.GetAccountInfo(ctx, recipientATA); err != nil {
		if !errors.Is(err, rpc.ErrNotFound) {
			return solanago.Signature{}, fmt.Errorf("failed to check recipient token account: %w", err)
		}
		createIx, err := associatedtokenaccount.NewCreateInstruction(
			sender,
			recipientKey,
			mint,
		).ValidateAndBuild()
		if err != nil {
			return solanago.Signature{}, fmt.Errorf("failed to build token account creation: %w", err)
		}
		instructions = append(instructions, createIx)
	}

	transferIx, err := spltoken.NewTransferCheckedInstruction(
		amount.ToMicro().Uint64(),
		AmountDecimals,
		senderATA,
		mint,
		recipientATA,
		sender,
		[]solanago.PublicKey{},
	).ValidateAndBuild()
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("failed to build transfer instruction: %w", err)
	}
	instructions = append(instructions, transferIx)

	blockhash, err := p.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	tx, err := solanago.NewTransaction(
		instructions,
		blockhash.Value.Blockhash,
		solanago.TransactionPayer(sender),
	)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("failed to create transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if sender.Equals(key) {
			return p.cfg.EscrowPrivateKey
		}
		return nil
	}); err != nil {
		return solanago.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := p.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	if err := p.confirm(confirmCtx, sig); err != nil {
		// The transfer may still finalize after we stop waiting; the
		// signature is included so operators can check the explorer
		// before retrying.
		return sig, fmt.Errorf("transfer %s not confirmed: %w", sig, err)
	}
	return sig, nil
}

func (p *SolanaProvider) confirm(ctx context.Context, sig solanago.Signature) error {
	interval := p.confirmInterval
	if interval == 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for confirmation of %s: %w", sig, ctx.Err())
		case <-ticker.C:
			statusResult, err := p.rpcClient.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				return fmt.Errorf("failed to get signature status for %s: %w", sig, err)
			}
			if statusResult == nil || len(statusResult.Value) == 0 || statusResult.Value[0] == nil {
				continue
			}
			status := statusResult.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, status.Err)
			}
			if string(status.ConfirmationStatus) == string(rpc.CommitmentFinalized) {
				return nil
			}
		}
	}
}
