package abb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrBountyClosed means the bounty is not accepting submissions.
var ErrBountyClosed = errors.New("bounty is not accepting submissions")

// ErrHasSubmissions means a cancel was attempted after agents had already
// submitted.
var ErrHasSubmissions = errors.New("bounty already has submissions")

// Resolver owns the submission and bounty state machines. It holds no
// state of its own; every decision is a function of the stored bounty, its
// submissions, and the incoming validation outcome, and the winner
// assignment itself is delegated to the store's conditional update so
// concurrent award attempts serialize there.
type Resolver struct {
	store  Store
	clock  Clock
	logger *slog.Logger
}

func NewResolver(store Store, clock Clock, logger *slog.Logger) *Resolver {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, clock: clock, logger: logger}
}

// AcceptSubmission records a new submission and moves the bounty to
// in_progress on its first one. The store's uniqueness constraint enforces
// the one-shot rule; a duplicate surfaces as ErrDuplicateSubmission.
func (r *Resolver) AcceptSubmission(ctx context.Context, bountyID, agentID string, payload Payload) (*Submission, error) {
	bounty, err := r.store.GetBounty(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	if bounty.Status != BountyStatusOpen && bounty.Status != BountyStatusInProgress {
		return nil, fmt.Errorf("%w: status is %s", ErrBountyClosed, bounty.Status)
	}
	if !bounty.Deadline.IsZero() && now.After(bounty.Deadline) {
		return nil, fmt.Errorf("%w: deadline passed", ErrBountyClosed)
	}

	sub := &Submission{
		ID:            uuid.New().String(),
		BountyID:      bountyID,
		AgentID:       agentID,
		Payload:       payload,
		ReceivedAt:    now,
		Status:        SubmissionStatusPending,
		PaymentStatus: PaymentStatusNone,
	}
	if err := r.store.CreateSubmission(ctx, sub); err != nil {
		return nil, err
	}
	if bounty.Status == BountyStatusOpen {
		if err := r.store.UpdateBountyStatus(ctx, bountyID, BountyStatusInProgress); err != nil {
			return nil, fmt.Errorf("failed to move bounty in progress: %w", err)
		}
	}
	return sub, nil
}

// Outcome reports what RecordOutcome decided.
type Outcome struct {
	SubmissionStatus SubmissionStatus
	// Awarded is true when this call assigned the bounty's winner.
	Awarded bool
	// WinnerSubmissionID is the bounty's winner after this call, whether
	// or not this call assigned it.
	WinnerSubmissionID string
	WinnerAgentID      string
}

// RecordOutcome applies one submission's validation result and then
// attempts winner assignment. Safe to call concurrently for different
// submissions on the same bounty: the only shared write is the store's
// conditional winner update.
func (r *Resolver) RecordOutcome(ctx context.Context, submissionID string, result *ValidationResult) (*Outcome, error) {
	sub, err := r.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	bounty, err := r.store.GetBounty(ctx, sub.BountyID)
	if err != nil {
		return nil, err
	}

	status := r.outcomeStatus(bounty, result)
	if err := r.store.SetValidationResult(ctx, submissionID, status, result); err != nil {
		return nil, fmt.Errorf("failed to record validation result: %w", err)
	}
	r.logger.Info("validation outcome recorded",
		"bounty_id", bounty.ID,
		"submission_id", submissionID,
		"status", status,
		"score", result.Score)

	outcome := &Outcome{SubmissionStatus: status}

	// Every terminal outcome can unblock an award: a passed submission is
	// a candidate, and a failed one may have been the earlier-received
	// submission a candidate was waiting on.
	if bounty.WinnerSubmissionID == "" && !bounty.Status.Terminal() {
		awarded, err := r.tryAward(ctx, bounty.ID)
		if err != nil {
			return nil, err
		}
		if awarded != nil {
			outcome.Awarded = awarded.ID == submissionID
			outcome.WinnerSubmissionID = awarded.ID
			outcome.WinnerAgentID = awarded.AgentID
			if outcome.Awarded {
				outcome.SubmissionStatus = SubmissionStatusPassed
			}
		}
	} else {
		outcome.WinnerSubmissionID = bounty.WinnerSubmissionID
		outcome.WinnerAgentID = bounty.WinnerAgentID
	}
	return outcome, nil
}

// outcomeStatus maps a validation result to the submission's next state,
// accounting for deadline and an already-assigned winner.
func (r *Resolver) outcomeStatus(bounty *Bounty, result *ValidationResult) SubmissionStatus {
	if !result.Passed {
		return SubmissionStatusFailed
	}
	if bounty.WinnerSubmissionID != "" {
		return SubmissionStatusSuperseded
	}
	// Finished after the deadline with no winner yet: the submission can
	// no longer win.
	if !bounty.Deadline.IsZero() && r.clock.Now().After(bounty.Deadline) {
		return SubmissionStatusExpired
	}
	return SubmissionStatusPassed
}

// tryAward assigns the winner when one is determined. The winner must be
// the earliest-received submission among those that pass, so a passed
// submission only wins once every submission received before it has
// reached a terminal state. The assignment itself is the store's
// conditional update; losing that race supersedes the candidate.
func (r *Resolver) tryAward(ctx context.Context, bountyID string) (*Submission, error) {
	subs, err := r.store.ListSubmissions(ctx, bountyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	// Walk in receipt order: the first passed submission is the winner,
	// but an earlier-received submission still in flight outranks it if it
	// ends up passing, so an award attempt waits for it.
	var candidate *Submission
	for _, sub := range subs {
		if sub.Status == SubmissionStatusPending || sub.Status == SubmissionStatusValidating {
			return nil, nil
		}
		if sub.Status == SubmissionStatusPassed {
			candidate = sub
			break
		}
	}
	if candidate == nil {
		return nil, nil
	}

	err = r.store.SetWinner(ctx, bountyID, candidate.ID, candidate.AgentID)
	if errors.Is(err, ErrAlreadyWon) {
		// Lost the race to a concurrent award on the same bounty.
		bounty, gerr := r.store.GetBounty(ctx, bountyID)
		if gerr != nil {
			return nil, gerr
		}
		if serr := r.supersedeLosers(ctx, bountyID, bounty.WinnerSubmissionID); serr != nil {
			return nil, serr
		}
		return r.store.GetSubmission(ctx, bounty.WinnerSubmissionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to assign winner: %w", err)
	}

	r.logger.Info("winner assigned",
		"bounty_id", bountyID,
		"submission_id", candidate.ID,
		"agent_id", candidate.AgentID)

	if err := r.supersedeLosers(ctx, bountyID, candidate.ID); err != nil {
		return nil, err
	}
	return candidate, nil
}

// supersedeLosers marks every passed submission other than the winner as
// superseded. Re-listing here, rather than reusing the caller's snapshot,
// catches submissions that passed while the award was in flight.
func (r *Resolver) supersedeLosers(ctx context.Context, bountyID, winnerID string) error {
	subs, err := r.store.ListSubmissions(ctx, bountyID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.ID != winnerID && sub.Status == SubmissionStatusPassed {
			if err := r.store.UpdateSubmissionStatus(ctx, sub.ID, SubmissionStatusSuperseded); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarkValidating moves a submission from pending to validating.
func (r *Resolver) MarkValidating(ctx context.Context, submissionID string) error {
	return r.store.UpdateSubmissionStatus(ctx, submissionID, SubmissionStatusValidating)
}

// ExpireBounty handles the deadline passing with no winner: the bounty
// becomes expired and every non-terminal submission becomes expired with
// it. Submissions mid-validation finish validating but can no longer win.
func (r *Resolver) ExpireBounty(ctx context.Context, bountyID string) error {
	bounty, err := r.store.GetBounty(ctx, bountyID)
	if err != nil {
		return err
	}
	if bounty.WinnerSubmissionID != "" || bounty.Status.Terminal() {
		return nil
	}
	if err := r.store.UpdateBountyStatus(ctx, bountyID, BountyStatusExpired); err != nil {
		return fmt.Errorf("failed to expire bounty: %w", err)
	}
	subs, err := r.store.ListSubmissions(ctx, bountyID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.Status == SubmissionStatusPassed || sub.Status == SubmissionStatusPending {
			if err := r.store.UpdateSubmissionStatus(ctx, sub.ID, SubmissionStatusExpired); err != nil {
				return err
			}
		}
	}
	r.logger.Info("bounty expired", "bounty_id", bountyID, "submissions", len(subs))
	return nil
}

// CancelBounty is the poster-initiated exit, allowed only while no agent
// has submitted.
func (r *Resolver) CancelBounty(ctx context.Context, bountyID string) error {
	subs, err := r.store.ListSubmissions(ctx, bountyID)
	if err != nil {
		return err
	}
	if len(subs) > 0 {
		return ErrHasSubmissions
	}
	bounty, err := r.store.GetBounty(ctx, bountyID)
	if err != nil {
		return err
	}
	if bounty.Status.Terminal() {
		return fmt.Errorf("bounty %s is already %s", bountyID, bounty.Status)
	}
	return r.store.UpdateBountyStatus(ctx, bountyID, BountyStatusCancelled)
}

// MarkRefunded records the escrow's return after expiry or cancellation.
func (r *Resolver) MarkRefunded(ctx context.Context, bountyID string) error {
	return r.store.UpdateBountyStatus(ctx, bountyID, BountyStatusRefunded)
}

// MarkPaid records the settlement reference on the winning submission.
func (r *Resolver) MarkPaid(ctx context.Context, submissionID, reference string) error {
	return r.store.SetPaymentStatus(ctx, submissionID, PaymentStatusPaid, reference)
}

// deadlineRemaining is a helper for workflow timer setup.
func deadlineRemaining(deadline, now time.Time) time.Duration {
	if deadline.IsZero() {
		return 0
	}
	return deadline.Sub(now)
}
