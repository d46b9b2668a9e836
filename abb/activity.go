package abb

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/agentbounties/agent-bounty-board/payment"
)

// Activities bundles the engine's collaborators for Temporal. Everything
// is injected at construction so activities never read ambient state.
type Activities struct {
	store     Store
	resolver  *Resolver
	router    *Router
	providers *payment.Registry
}

func NewActivities(store Store, resolver *Resolver, router *Router, providers *payment.Registry) (*Activities, error) {
	if store == nil || resolver == nil || router == nil || providers == nil {
		return nil, fmt.Errorf("all activity dependencies are required")
	}
	return &Activities{
		store:     store,
		resolver:  resolver,
		router:    router,
		providers: providers,
	}, nil
}

// CreateBounty persists the bounty in draft.
func (a *Activities) CreateBounty(ctx context.Context, bounty *Bounty) error {
	logger := activity.GetLogger(ctx)
	if err := bounty.Criteria.Validate(); err != nil {
		return fmt.Errorf("invalid criteria: %w", err)
	}
	bounty.Status = BountyStatusDraft
	if err := a.store.CreateBounty(ctx, bounty); err != nil {
		return fmt.Errorf("failed to create bounty: %w", err)
	}
	logger.Info("Bounty created", "bounty_id", bounty.ID, "type", bounty.Criteria.Type)
	return nil
}

// EscrowFunds locks the poster's funds and opens the bounty.
func (a *Activities) EscrowFunds(ctx context.Context, bountyID string) (*payment.Result, error) {
	logger := activity.GetLogger(ctx)
	bounty, err := a.store.GetBounty(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	provider, err := a.providers.Lookup(bounty.PaymentProvider)
	if err != nil {
		return nil, err
	}
	res := provider.Escrow(ctx, bounty.PosterID, bounty.Amount, bounty.ID, bounty.FeeBPS)
	if !res.Success {
		logger.Error("Escrow failed", "bounty_id", bountyID, "code", res.Code, "error", res.Err)
		return &res, nil
	}
	if err := a.store.UpdateBountyStatus(ctx, bountyID, BountyStatusOpen); err != nil {
		return nil, fmt.Errorf("failed to open bounty: %w", err)
	}
	logger.Info("Escrow held, bounty open", "bounty_id", bountyID, "reference", res.Reference)
	return &res, nil
}

// AcceptSubmission records a new submission, enforcing the one-shot rule.
func (a *Activities) AcceptSubmission(ctx context.Context, bountyID, agentID string, payload Payload) (*Submission, error) {
	logger := activity.GetLogger(ctx)
	sub, err := a.resolver.AcceptSubmission(ctx, bountyID, agentID, payload)
	if err != nil {
		return nil, err
	}
	logger.Info("Submission accepted", "bounty_id", bountyID, "submission_id", sub.ID, "agent_id", agentID)
	return sub, nil
}

// ValidateSubmission runs the full validation pipeline for one submission.
// Validation failures are encoded in the result; an error return means the
// pipeline itself could not run.
func (a *Activities) ValidateSubmission(ctx context.Context, submissionID string) (*ValidationResult, error) {
	logger := activity.GetLogger(ctx)
	if err := a.resolver.MarkValidating(ctx, submissionID); err != nil {
		return nil, err
	}
	sub, err := a.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	bounty, err := a.store.GetBounty(ctx, sub.BountyID)
	if err != nil {
		return nil, err
	}
	result := a.router.Validate(ctx, sub, bounty)
	logger.Info("Submission validated",
		"submission_id", submissionID,
		"passed", result.Passed,
		"score", result.Score,
		"duration_ms", result.DurationMs)
	return result, nil
}

// RecordOutcome applies one validation result through the resolver.
func (a *Activities) RecordOutcome(ctx context.Context, submissionID string, result *ValidationResult) (*Outcome, error) {
	return a.resolver.RecordOutcome(ctx, submissionID, result)
}

// ReleaseEscrow pays the winner and records the settlement reference.
func (a *Activities) ReleaseEscrow(ctx context.Context, bountyID, winnerSubmissionID, winnerAgentID string) (*payment.Result, error) {
	logger := activity.GetLogger(ctx)
	bounty, err := a.store.GetBounty(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	provider, err := a.providers.Lookup(bounty.PaymentProvider)
	if err != nil {
		return nil, err
	}
	res := provider.ReleaseEscrow(ctx, bountyID, winnerAgentID)
	if !res.Success {
		logger.Error("Escrow release failed", "bounty_id", bountyID, "code", res.Code, "error", res.Err)
		return &res, nil
	}
	if err := a.resolver.MarkPaid(ctx, winnerSubmissionID, res.Reference); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	logger.Info("Winner paid",
		"bounty_id", bountyID,
		"submission_id", winnerSubmissionID,
		"agent_id", winnerAgentID,
		"reference", res.Reference)
	return &res, nil
}

// RefundEscrow returns the escrow to the poster after expiry or
// cancellation.
func (a *Activities) RefundEscrow(ctx context.Context, bountyID string) (*payment.Result, error) {
	logger := activity.GetLogger(ctx)
	bounty, err := a.store.GetBounty(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	provider, err := a.providers.Lookup(bounty.PaymentProvider)
	if err != nil {
		return nil, err
	}
	res := provider.RefundEscrow(ctx, bountyID)
	if !res.Success {
		logger.Error("Escrow refund failed", "bounty_id", bountyID, "code", res.Code, "error", res.Err)
		return &res, nil
	}
	if err := a.resolver.MarkRefunded(ctx, bountyID); err != nil {
		return nil, fmt.Errorf("failed to mark bounty refunded: %w", err)
	}
	logger.Info("Escrow refunded", "bounty_id", bountyID, "reference", res.Reference)
	return &res, nil
}

// ExpireBounty closes the bounty after its deadline with no winner.
func (a *Activities) ExpireBounty(ctx context.Context, bountyID string) error {
	return a.resolver.ExpireBounty(ctx, bountyID)
}

// CancelBounty is the poster-initiated exit, allowed only before any
// submission arrives.
func (a *Activities) CancelBounty(ctx context.Context, bountyID string) error {
	return a.resolver.CancelBounty(ctx, bountyID)
}
