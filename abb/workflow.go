package abb

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/agentbounties/agent-bounty-board/payment"
)

// TaskQueueName is the name of the task queue for all workflows
const TaskQueueName = "agent-bounty-board"

// Signal channel names understood by BountyLifecycleWorkflow.
const (
	SubmissionSignalName = "submission"
	CancelSignalName     = "cancel"
)

// SubmissionSignal announces one agent's attempt at the bounty.
type SubmissionSignal struct {
	AgentID string
	Payload Payload
}

// CancelBountySignal asks to cancel the bounty and refund the escrow.
// Only honored for the poster, and only while no submissions exist.
type CancelBountySignal struct {
	PosterID string
}

// BountyLifecycleWorkflowInput carries the bounty to run.
type BountyLifecycleWorkflowInput struct {
	Bounty *Bounty
	// Timeout is how long the bounty accepts submissions. The workflow
	// derives it from the bounty deadline when zero.
	Timeout time.Duration
}

// BountyLifecycleWorkflow drives a bounty from funding through settlement:
// escrow the poster's funds, accept submission signals, validate each
// submission concurrently, and settle when a winner is determined or the
// deadline passes. Winner serialization itself lives in the store's
// conditional update; the workflow only orchestrates.
func BountyLifecycleWorkflow(ctx workflow.Context, input BountyLifecycleWorkflowInput) error {
	options := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, options)
	logger := workflow.GetLogger(ctx)

	var a *Activities

	if err := workflow.ExecuteActivity(ctx, a.CreateBounty, input.Bounty).Get(ctx, nil); err != nil {
		return err
	}

	var escrowRes payment.Result
	if err := workflow.ExecuteActivity(ctx, a.EscrowFunds, input.Bounty.ID).Get(ctx, &escrowRes); err != nil {
		return err
	}
	if !escrowRes.Success {
		logger.Error("Bounty not funded", "bounty_id", input.Bounty.ID, "code", escrowRes.Code)
		return temporal.NewNonRetryableApplicationError("escrow failed: "+escrowRes.Err, string(escrowRes.Code), nil)
	}

	timeout := input.Timeout
	if timeout == 0 {
		timeout = deadlineRemaining(input.Bounty.Deadline, workflow.Now(ctx))
	}

	submissionChan := workflow.GetSignalChannel(ctx, SubmissionSignalName)
	cancelChan := workflow.GetSignalChannel(ctx, CancelSignalName)
	selector := workflow.NewSelector(ctx)

	done := false
	winnerPaid := false
	inFlight := 0

	// validate runs one submission's pipeline off the main loop so a slow
	// sandbox run or probe never blocks other submissions.
	validate := func(submissionID string) {
		inFlight++
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer func() { inFlight-- }()

			var result ValidationResult
			if err := workflow.ExecuteActivity(gctx, a.ValidateSubmission, submissionID).Get(gctx, &result); err != nil {
				logger.Error("Validation pipeline failed", "submission_id", submissionID, "error", err)
				return
			}
			var outcome Outcome
			if err := workflow.ExecuteActivity(gctx, a.RecordOutcome, submissionID, &result).Get(gctx, &outcome); err != nil {
				logger.Error("Failed to record outcome", "submission_id", submissionID, "error", err)
				return
			}
			if outcome.WinnerSubmissionID == "" || winnerPaid || done {
				return
			}

			var payRes payment.Result
			err := workflow.ExecuteActivity(gctx, a.ReleaseEscrow,
				input.Bounty.ID, outcome.WinnerSubmissionID, outcome.WinnerAgentID).Get(gctx, &payRes)
			if err != nil {
				logger.Error("Failed to release escrow", "bounty_id", input.Bounty.ID, "error", err)
				return
			}
			if payRes.Success {
				winnerPaid = true
				done = true
			}
		})
	}

	selector.AddReceive(submissionChan, func(c workflow.ReceiveChannel, more bool) {
		var signal SubmissionSignal
		c.Receive(ctx, &signal)
		if done {
			return
		}

		var sub Submission
		err := workflow.ExecuteActivity(ctx, a.AcceptSubmission,
			input.Bounty.ID, signal.AgentID, signal.Payload).Get(ctx, &sub)
		if err != nil {
			// Duplicates and late submissions are the agent's problem, not
			// the bounty's.
			logger.Info("Submission rejected", "agent_id", signal.AgentID, "error", err)
			return
		}
		validate(sub.ID)
	})

	selector.AddReceive(cancelChan, func(c workflow.ReceiveChannel, more bool) {
		var signal CancelBountySignal
		c.Receive(ctx, &signal)
		if signal.PosterID != input.Bounty.PosterID {
			logger.Error("Cancel signal from non-poster ignored", "poster_id", signal.PosterID)
			return
		}
		if err := workflow.ExecuteActivity(ctx, a.CancelBounty, input.Bounty.ID).Get(ctx, nil); err != nil {
			logger.Info("Cancel refused", "bounty_id", input.Bounty.ID, "error", err)
			return
		}
		if err := workflow.ExecuteActivity(ctx, a.RefundEscrow, input.Bounty.ID).Get(ctx, nil); err != nil {
			logger.Error("Failed to refund escrow on cancel", "bounty_id", input.Bounty.ID, "error", err)
		}
		done = true
	})

	timerFuture := workflow.NewTimer(ctx, timeout)
	selector.AddFuture(timerFuture, func(f workflow.Future) {
		_ = f.Get(ctx, nil)
		if done {
			return
		}
		// In-flight validations may still finish, but can no longer win.
		if inFlight > 0 {
			_ = workflow.Await(ctx, func() bool { return inFlight == 0 || winnerPaid })
		}
		if winnerPaid {
			done = true
			return
		}
		if err := workflow.ExecuteActivity(ctx, a.ExpireBounty, input.Bounty.ID).Get(ctx, nil); err != nil {
			logger.Error("Failed to expire bounty", "bounty_id", input.Bounty.ID, "error", err)
		}
		if err := workflow.ExecuteActivity(ctx, a.RefundEscrow, input.Bounty.ID).Get(ctx, nil); err != nil {
			logger.Error("Failed to refund escrow on expiry", "bounty_id", input.Bounty.ID, "error", err)
		}
		done = true
	})

	for !done {
		selector.Select(ctx)
	}

	// Let any straggling validations record their terminal states before
	// the workflow closes.
	if inFlight > 0 {
		_ = workflow.Await(ctx, func() bool { return inFlight == 0 })
	}

	logger.Info("Bounty lifecycle complete", "bounty_id", input.Bounty.ID, "winner_paid", winnerPaid)
	return nil
}
