package abb

import (
	"context"
	"errors"
	"time"
)

// Storage errors the resolver and activities branch on.
var (
	ErrBountyNotFound     = errors.New("bounty not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrDuplicateSubmission enforces the one-shot rule: one submission per
	// (bounty, agent) pair.
	ErrDuplicateSubmission = errors.New("agent already submitted to this bounty")
	// ErrAlreadyWon means the bounty's winner field was already set when a
	// conditional winner assignment ran.
	ErrAlreadyWon = errors.New("bounty already has a winner")
)

// Store is the persistence contract the engine needs. Implementations must
// make SetWinner a single conditional update keyed on the winner field
// being unset; the resolver relies on that to serialize concurrent award
// attempts.
type Store interface {
	CreateBounty(ctx context.Context, b *Bounty) error
	GetBounty(ctx context.Context, bountyID string) (*Bounty, error)
	// UpdateBountyStatus moves the bounty between lifecycle states without
	// touching the winner field.
	UpdateBountyStatus(ctx context.Context, bountyID string, status BountyStatus) error
	// SetWinner assigns the winner and completes the bounty in one
	// conditional update. It fails with ErrAlreadyWon when a winner is
	// already recorded.
	SetWinner(ctx context.Context, bountyID, submissionID, agentID string) error

	// CreateSubmission inserts the row and fails with
	// ErrDuplicateSubmission when the (bounty, agent) pair already exists.
	CreateSubmission(ctx context.Context, s *Submission) error
	GetSubmission(ctx context.Context, submissionID string) (*Submission, error)
	UpdateSubmissionStatus(ctx context.Context, submissionID string, status SubmissionStatus) error
	// SetValidationResult records the result and the resulting status
	// together.
	SetValidationResult(ctx context.Context, submissionID string, status SubmissionStatus, result *ValidationResult) error
	SetPaymentStatus(ctx context.Context, submissionID string, status PaymentStatus, reference string) error
	// ListSubmissions returns the bounty's submissions ordered by
	// ReceivedAt ascending, which is the authoritative ordering for winner
	// selection.
	ListSubmissions(ctx context.Context, bountyID string) ([]*Submission, error)
}

// Clock abstracts time for the resolver so deadline behavior is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
