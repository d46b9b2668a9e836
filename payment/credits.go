package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Ledger errors surfaced by store implementations. The credits provider
// maps these to error codes; anything else is a backend failure.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrEscrowNotFound    = errors.New("escrow record not found")
	ErrEscrowConflict    = errors.New("escrow not in expected state")
)

// LedgerStore is the persistence contract for the credits provider. Each
// method is atomic on its own: DebitAndHold applies the debit and records
// the hold in one transaction, SettleEscrow applies the transition and the
// payout credits in one transaction, and TransitionEscrow is a conditional
// update keyed on the current status.
type LedgerStore interface {
	GetBalance(ctx context.Context, accountID string) (*Amount, error)
	AddBalance(ctx context.Context, accountID string, delta *Amount) error
	// SubtractBalance fails with ErrInsufficientFunds instead of driving the
	// balance negative.
	SubtractBalance(ctx context.Context, accountID string, delta *Amount) error
	// DebitAndHold debits rec.Gross from payer and inserts rec with status
	// held, all-or-nothing.
	DebitAndHold(ctx context.Context, rec *EscrowRecord) error
	GetEscrowByBounty(ctx context.Context, bountyID string) (*EscrowRecord, error)
	// TransitionEscrow moves the bounty's escrow from one status to another,
	// recording the winner and settlement reference. It fails with
	// ErrEscrowConflict when the record is not currently in `from`.
	TransitionEscrow(ctx context.Context, bountyID string, from, to EscrowStatus, winnerID, reference string) error
	// SettleEscrow transitions the bounty's escrow out of held and applies
	// the credit entries in one atomic step, so a failure leaves the hold
	// intact and the settlement retryable. It fails with ErrEscrowConflict
	// when the record is not currently held.
	SettleEscrow(ctx context.Context, bountyID string, to EscrowStatus, winnerID, reference string, credits []CreditEntry) error
}

// CreditEntry is one balance credit applied during escrow settlement.
type CreditEntry struct {
	AccountID string
	Amount    *Amount
}

// CreditsProvider settles bounties against a platform-internal credits
// ledger. It is the default backend: no external settlement system, every
// operation a ledger row.
type CreditsProvider struct {
	store LedgerStore
}

func NewCreditsProvider(store LedgerStore) *CreditsProvider {
	return &CreditsProvider{store: store}
}

func (p *CreditsProvider) Name() string { return "credits" }

func (p *CreditsProvider) GetBalance(ctx context.Context, accountID string) (*Amount, error) {
	return p.store.GetBalance(ctx, accountID)
}

func (p *CreditsProvider) CanAfford(ctx context.Context, accountID string, amount *Amount) (bool, error) {
	balance, err := p.store.GetBalance(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("failed to get balance for %s: %w", accountID, err)
	}
	return balance.Cmp(amount) >= 0, nil
}

func (p *CreditsProvider) Debit(ctx context.Context, accountID string, amount *Amount) Result {
	if !amount.IsPositive() {
		return failure(ErrCodeBackend, "debit amount must be positive")
	}
	if err := p.store.SubtractBalance(ctx, accountID, amount); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return failure(ErrCodeInsufficientFunds, "account %s cannot cover %s credits", accountID, amount)
		}
		return failure(ErrCodeBackend, "debit failed: %v", err)
	}
	return Result{Success: true}
}

func (p *CreditsProvider) Credit(ctx context.Context, accountID string, amount *Amount) Result {
	if !amount.IsPositive() {
		return failure(ErrCodeBackend, "credit amount must be positive")
	}
	if err := p.store.AddBalance(ctx, accountID, amount); err != nil {
		return failure(ErrCodeBackend, "credit failed: %v", err)
	}
	return Result{Success: true}
}

// Escrow checks affordability, then debits the payer and records the hold
// atomically. The fee split is computed here and frozen on the record so
// release uses the fee agreed at funding time, not whatever the platform
// fee happens to be later.
func (p *CreditsProvider) Escrow(ctx context.Context, payerID string, amount *Amount, bountyID string, feeBPS int64) Result {
	if !amount.IsPositive() {
		return failure(ErrCodeBackend, "escrow amount must be positive")
	}
	ok, err := p.CanAfford(ctx, payerID, amount)
	if err != nil {
		return failure(ErrCodeBackend, "affordability check failed: %v", err)
	}
	if !ok {
		return failure(ErrCodeInsufficientFunds, "account %s cannot cover %s credits", payerID, amount)
	}

	fee := amount.Fee(feeBPS)
	rec := &EscrowRecord{
		ID:       uuid.New().String(),
		BountyID: bountyID,
		PayerID:  payerID,
		Gross:    amount,
		Fee:      fee,
		Net:      amount.Sub(fee),
		Status:   EscrowStatusHeld,
	}
	if err := p.store.DebitAndHold(ctx, rec); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return failure(ErrCodeInsufficientFunds, "account %s cannot cover %s credits", payerID, amount)
		}
		if errors.Is(err, ErrEscrowConflict) {
			return failure(ErrCodeEscrowExists, "bounty %s already has escrow", bountyID)
		}
		return failure(ErrCodeBackend, "escrow failed: %v", err)
	}
	return Result{Success: true, Reference: rec.ID}
}

// ReleaseEscrow pays the winner the net amount and books the platform fee.
// It requires the escrow to currently be held; releasing anything else is a
// reported error, never a silent no-op.
func (p *CreditsProvider) ReleaseEscrow(ctx context.Context, bountyID, winnerID string) Result {
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

	reference := uuid.New().String()
	credits := []CreditEntry{{AccountID: winnerID, Amount: rec.Net}}
	if rec.Fee.IsPositive() {
		credits = append(credits, CreditEntry{AccountID: PlatformAccountID, Amount: rec.Fee})
	}
	// The transition and the credits land together: a concurrent release
	// loses the conditional update instead of double-paying, and a backend
	// failure leaves the escrow held so the release can be retried.
	if err := p.store.SettleEscrow(ctx, bountyID, EscrowStatusReleased, winnerID, reference, credits); err != nil {
		if errors.Is(err, ErrEscrowConflict) {
			return failure(ErrCodeEscrowNotHeld, "escrow for bounty %s is no longer held", bountyID)
		}
		return failure(ErrCodeBackend, "escrow settlement failed: %v", err)
	}
	return Result{Success: true, Reference: reference}
}

// RefundEscrow returns the gross amount to the payer. Symmetric with
// ReleaseEscrow: requires held, transitions to refunded.
func (p *CreditsProvider) RefundEscrow(ctx context.Context, bountyID string) Result {
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

	reference := uuid.New().String()
	credits := []CreditEntry{{AccountID: rec.PayerID, Amount: rec.Gross}}
	if err := p.store.SettleEscrow(ctx, bountyID, EscrowStatusRefunded, "", reference, credits); err != nil {
		if errors.Is(err, ErrEscrowConflict) {
			return failure(ErrCodeEscrowNotHeld, "escrow for bounty %s is no longer held", bountyID)
		}
		return failure(ErrCodeBackend, "escrow settlement failed: %v", err)
	}
	return Result{Success: true, Reference: reference}
}

// PlatformAccountID is the ledger account that accumulates platform fees.
const PlatformAccountID = "platform:treasury"
