package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentbounties/agent-bounty-board/abb"
	"github.com/agentbounties/agent-bounty-board/payment"
)

// MemoryStore is an in-memory implementation of both the bounty store and
// the credits ledger. It backs tests and single-process deployments; the
// conditional winner update and the debit-and-hold are serialized under
// one mutex, giving the same atomicity the Postgres store gets from
// conditional UPDATEs and transactions.
type MemoryStore struct {
	mu          sync.Mutex
	bounties    map[string]*abb.Bounty
	submissions map[string]*abb.Submission
	// submissionKeys enforces one submission per (bounty, agent).
	submissionKeys map[string]bool
	balances       map[string]*payment.Amount
	escrows        map[string]*payment.EscrowRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bounties:       make(map[string]*abb.Bounty),
		submissions:    make(map[string]*abb.Submission),
		submissionKeys: make(map[string]bool),
		balances:       make(map[string]*payment.Amount),
		escrows:        make(map[string]*payment.EscrowRecord),
	}
}

func (m *MemoryStore) CreateBounty(ctx context.Context, b *abb.Bounty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.bounties[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBounty(ctx context.Context, bountyID string) (*abb.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bounties[bountyID]
	if !ok {
		return nil, abb.ErrBountyNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpdateBountyStatus(ctx context.Context, bountyID string, status abb.BountyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bounties[bountyID]
	if !ok {
		return abb.ErrBountyNotFound
	}
	b.Status = status
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetWinner(ctx context.Context, bountyID, submissionID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bounties[bountyID]
	if !ok {
		return abb.ErrBountyNotFound
	}
	if b.WinnerSubmissionID != "" {
		return abb.ErrAlreadyWon
	}
	b.WinnerSubmissionID = submissionID
	b.WinnerAgentID = agentID
	b.Status = abb.BountyStatusCompleted
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateSubmission(ctx context.Context, s *abb.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.BountyID + "\x1f" + s.AgentID
	if m.submissionKeys[key] {
		return abb.ErrDuplicateSubmission
	}
	b, ok := m.bounties[s.BountyID]
	if !ok {
		return abb.ErrBountyNotFound
	}
	m.submissionKeys[key] = true
	cp := *s
	m.submissions[s.ID] = &cp
	b.SubmissionCount++
	return nil
}

func (m *MemoryStore) GetSubmission(ctx context.Context, submissionID string) (*abb.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok {
		return nil, abb.ErrSubmissionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateSubmissionStatus(ctx context.Context, submissionID string, status abb.SubmissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok {
		return abb.ErrSubmissionNotFound
	}
	s.Status = status
	return nil
}

func (m *MemoryStore) SetValidationResult(ctx context.Context, submissionID string, status abb.SubmissionStatus, result *abb.ValidationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok {
		return abb.ErrSubmissionNotFound
	}
	s.Status = status
	s.ValidationResult = result
	return nil
}

func (m *MemoryStore) SetPaymentStatus(ctx context.Context, submissionID string, status abb.PaymentStatus, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok {
		return abb.ErrSubmissionNotFound
	}
	s.PaymentStatus = status
	s.PaymentReference = reference
	return nil
}

func (m *MemoryStore) ListSubmissions(ctx context.Context, bountyID string) ([]*abb.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var subs []*abb.Submission
	for _, s := range m.submissions {
		if s.BountyID == bountyID {
			cp := *s
			subs = append(subs, &cp)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].ReceivedAt.Equal(subs[j].ReceivedAt) {
			return subs[i].ID < subs[j].ID
		}
		return subs[i].ReceivedAt.Before(subs[j].ReceivedAt)
	})
	return subs, nil
}

// Ledger methods implementing payment.LedgerStore.

func (m *MemoryStore) balance(accountID string) *payment.Amount {
	if b, ok := m.balances[accountID]; ok {
		return b
	}
	return payment.Zero()
}

func (m *MemoryStore) GetBalance(ctx context.Context, accountID string) (*payment.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(accountID), nil
}

func (m *MemoryStore) AddBalance(ctx context.Context, accountID string, delta *payment.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] = m.balance(accountID).Add(delta)
	return nil
}

func (m *MemoryStore) SubtractBalance(ctx context.Context, accountID string, delta *payment.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balance(accountID)
	if b.Cmp(delta) < 0 {
		return payment.ErrInsufficientFunds
	}
	m.balances[accountID] = b.Sub(delta)
	return nil
}

func (m *MemoryStore) DebitAndHold(ctx context.Context, rec *payment.EscrowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[rec.BountyID]; ok {
		return payment.ErrEscrowConflict
	}
	b := m.balance(rec.PayerID)
	if b.Cmp(rec.Gross) < 0 {
		return payment.ErrInsufficientFunds
	}
	m.balances[rec.PayerID] = b.Sub(rec.Gross)
	cp := *rec
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.escrows[rec.BountyID] = &cp
	return nil
}

func (m *MemoryStore) GetEscrowByBounty(ctx context.Context, bountyID string) (*payment.EscrowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.escrows[bountyID]
	if !ok {
		return nil, payment.ErrEscrowNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) SettleEscrow(ctx context.Context, bountyID string, to payment.EscrowStatus, winnerID, reference string, credits []payment.CreditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.escrows[bountyID]
	if !ok {
		return payment.ErrEscrowNotFound
	}
	if rec.Status != payment.EscrowStatusHeld {
		return payment.ErrEscrowConflict
	}
	for _, c := range credits {
		m.balances[c.AccountID] = m.balance(c.AccountID).Add(c.Amount)
	}
	rec.Status = to
	rec.WinnerID = winnerID
	rec.Reference = reference
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) TransitionEscrow(ctx context.Context, bountyID string, from, to payment.EscrowStatus, winnerID, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.escrows[bountyID]
	if !ok {
		return payment.ErrEscrowNotFound
	}
	if rec.Status != from {
		return payment.ErrEscrowConflict
	}
	rec.Status = to
	rec.WinnerID = winnerID
	rec.Reference = reference
	rec.UpdatedAt = time.Now()
	return nil
}
