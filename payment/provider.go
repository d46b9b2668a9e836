package payment

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ErrorCode is a machine-readable failure code returned alongside a failed
// payment operation so callers can distinguish "you lost the race" from
// "the backend is down" without string matching.
type ErrorCode string

const (
	ErrCodeInsufficientFunds   ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeEscrowNotFound      ErrorCode = "ESCROW_NOT_FOUND"
	ErrCodeEscrowNotHeld       ErrorCode = "ESCROW_NOT_HELD"
	ErrCodeEscrowExists        ErrorCode = "ESCROW_EXISTS"
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeUnsupported         ErrorCode = "UNSUPPORTED_OPERATION"
	ErrCodeBackend             ErrorCode = "BACKEND_ERROR"
)

// EscrowStatus is the lifecycle state of held funds. released and refunded
// are terminal.
type EscrowStatus string

const (
	EscrowStatusPending  EscrowStatus = "pending"
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
	EscrowStatusFailed   EscrowStatus = "failed"
)

// EscrowRecord tracks funds held against a bounty. Created when the bounty
// is funded, mutated only by release/refund, terminal once released or
// refunded.
type EscrowRecord struct {
	ID           string       `json:"id" db:"id"`
	BountyID     string       `json:"bounty_id" db:"bounty_id"`
	PayerID      string       `json:"payer_id" db:"payer_id"`
	SubmissionID string       `json:"submission_id,omitempty" db:"submission_id"`
	WinnerID     string       `json:"winner_id,omitempty" db:"winner_id"`
	Gross        *Amount      `json:"gross" db:"-"`
	Fee          *Amount      `json:"fee" db:"-"`
	Net          *Amount      `json:"net" db:"-"`
	Reference    string       `json:"reference,omitempty" db:"reference"`
	Status       EscrowStatus `json:"status" db:"status"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// Result is the outcome of a mutating payment operation. On failure, Code
// carries the machine-readable cause and Err the human-readable detail.
// Failed operations are no-ops: no partial debit or credit is ever applied.
type Result struct {
	Success   bool      `json:"success"`
	Reference string    `json:"reference,omitempty"`
	Code      ErrorCode `json:"error_code,omitempty"`
	Err       string    `json:"error,omitempty"`
}

func failure(code ErrorCode, format string, args ...interface{}) Result {
	return Result{Success: false, Code: code, Err: fmt.Sprintf(format, args...)}
}

// Provider is an interchangeable payment backend. Implementations must make
// Escrow atomic (debit and hold recorded together or not at all) and must
// reject release/refund of escrow that is not currently held.
type Provider interface {
	Name() string
	GetBalance(ctx context.Context, accountID string) (*Amount, error)
	CanAfford(ctx context.Context, accountID string, amount *Amount) (bool, error)
	Debit(ctx context.Context, accountID string, amount *Amount) Result
	Credit(ctx context.Context, accountID string, amount *Amount) Result
	Escrow(ctx context.Context, payerID string, amount *Amount, bountyID string, feeBPS int64) Result
	ReleaseEscrow(ctx context.Context, bountyID, winnerID string) Result
	RefundEscrow(ctx context.Context, bountyID string) Result
}

// Registry maps provider names to configured backends. Backends that are
// not implemented are simply absent; looking one up returns an error
// immediately rather than a provider whose methods fail later, so callers
// never mistake an unimplemented backend for a completed payment.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Lookup returns the named provider or an error naming the providers that
// are actually available.
func (r *Registry) Lookup(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("payment provider %q unavailable (have: %v)", name, r.Names())
	}
	return p, nil
}

// Names returns the registered provider names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
