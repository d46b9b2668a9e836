package abb_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbounties/agent-bounty-board/abb"
	"github.com/agentbounties/agent-bounty-board/db"
	"github.com/agentbounties/agent-bounty-board/payment"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBounty(store abb.Store, deadline time.Time) *abb.Bounty {
	amount, _ := payment.NewAmount(100)
	b := &abb.Bounty{
		ID:              "bounty-1",
		PosterID:        "poster-1",
		Title:           "test bounty",
		Criteria:        abb.Criteria{Type: abb.CriteriaTypeData, Data: &abb.DataCriteria{MinRows: 1}},
		Amount:          amount,
		FeeBPS:          500,
		PaymentProvider: "credits",
		Deadline:        deadline,
		Status:          abb.BountyStatusOpen,
	}
	_ = store.CreateBounty(context.Background(), b)
	return b
}

func passedResult() *abb.ValidationResult {
	return &abb.ValidationResult{Passed: true, Score: 100, ValidatedAt: time.Now()}
}

func failedResult() *abb.ValidationResult {
	return &abb.ValidationResult{Passed: false, Score: 0, ValidatedAt: time.Now()}
}

func TestResolver_OneShotRule(t *testing.T) {
	store := db.NewMemoryStore()
	clock := &fixedClock{now: time.Now()}
	r := abb.NewResolver(store, clock, nil)
	newTestBounty(store, clock.Now().Add(time.Hour))
	ctx := context.Background()

	_, err := r.AcceptSubmission(ctx, "bounty-1", "agent-1", abb.Payload{Content: "first"})
	require.NoError(t, err)

	_, err = r.AcceptSubmission(ctx, "bounty-1", "agent-1", abb.Payload{Content: "revised"})
	assert.ErrorIs(t, err, abb.ErrDuplicateSubmission)
}

func TestResolver_RejectsAfterDeadline(t *testing.T) {
	store := db.NewMemoryStore()
	clock := &fixedClock{now: time.Now()}
	r := abb.NewResolver(store, clock, nil)
	newTestBounty(store, clock.Now().Add(time.Minute))
	clock.Advance(2 * time.Minute)

	_, err := r.AcceptSubmission(context.Background(), "bounty-1", "agent-1", abb.Payload{Content: "late"})
	assert.ErrorIs(t, err, abb.ErrBountyClosed)
}

func TestResolver_FirstSubmissionMovesBountyInProgress(t *testing.T) {
	store := db.NewMemoryStore()
	clock := &fixedClock{now: time.Now()}
	r := abb.NewResolver(store, clock, nil)
	newTestBounty(store, clock.Now().Add(time.Hour))
	ctx := context.Background()

	_, err := r.AcceptSubmission(ctx, "bounty-1", "agent-1", abb.Payload{Content: "x"})
	require.NoError(t, err)
	b, err := store.GetBounty(ctx, "bounty-1")
	require.NoError(t, err)
	assert.Equal(t, abb.BountyStatusInProgress, b.Status)
}

func TestResolver_SimpleAward(t *testing.T) {
	store := db.NewMemoryStore()
	clock := &fixedClock{now: time.Now()}
	r := abb.NewResolver(store, clock, nil)
	newTestBounty(store, clock.Now().Add(time.Hour))
	ctx := context.Background()

	sub, err := r.AcceptSubmission(ctx, "bounty-1", "agent-1", abb.Payload{Content: "x"})
	require.NoError(t, err)
	require.NoError(t, r.MarkValidating(ctx, sub.ID))

	outcome, err := r.RecordOutcome(ctx, sub.ID, passedResult())
	require.NoError(t, err)
	assert.True(t, outcome.Awarded)
	assert.Equal(t, sub.ID, outcome.WinnerSubmissionID)

	b, _ := store.GetBounty(ctx, "bounty-1")
	assert.Equal(t, abb.BountyStatusCompleted, b.Status)
	assert.Equal(t, sub.ID, b.WinnerSubmissionID)
}

func TestResolver_FailedSubmissionNeverWins(t *testing.T) {
	store := db.NewMemoryStore()
	clock := &fixedClock{now: time.Now()}
	r := abb.NewResolver(store, clock, nil)
	newTestBounty(store, clock.Now().Add(time.Hour))
	ctx := context.Background()

	sub, err := r.AcceptSubmission(ctx, "bounty-1", "agent-1", abb.Payload{Content: "x"})
	require.NoError(t, err)

	outcome, err := r.RecordOutcome(ctx, sub.ID, failedResult())
	require.NoError(t, err)
	assert.False(t, outcome.Awarded)
	assert.Equal(t, abb.SubmissionStatusFailed, outcome.SubmissionStatus)

	b, _ := store.GetBounty(ctx, "bounty-1")
	assert.Empty(t, b.WinnerSubmissionID)
}

// The earliest-received passing submission wins even when its validation
// finishes last.
func TestResolver_EarliestReceivedWinsRegardlessOfCompletionOrder(t *testing.T) {
	store := db.NewMemoryStore()
	clock := &fixedClock{now: time.Now()}
	r := abb.NewResolver(store, clock, nil)
	newTestBounty(store, clock.Now().Add(time.Hour))
	ctx := context.Background()

	subB, err := r.AcceptSubmission(ctx, "bounty-1", "agent-b", abb.Payload{Content: "b"})
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	subA, err := r.AcceptSubmission(ctx, "bounty-1", "agent-a", abb.Payload{Content: "a"})
	require.NoError(t, err)

	// A's validation completes first; B is still pending, so no award yet.
	outcome, err := r.RecordOutcome(ctx, subA.ID, passedResult())
	require.NoError(t, err)
	assert.False(t, outcome.Awarded)
	assert.Empty(t, outcome.WinnerSubmissionID)

	// B finishes and wins on receipt order; A is superseded.
	outcome, err = r.RecordOutcome(ctx, subB.ID, passedResult())
	require.NoError(t, err)
	assert.True(t, outcome.Awarded)
	assert.Equal(t, subB.ID, outcome.WinnerSubmissionID)

	gotA, _ := store.GetSubmission(ctx, subA.ID)
	assert.Equal(t, abb.SubmissionStatusSuperseded, gotA.Status)
}

func TestResolver_EarlierFailureUnblocksLaterPass(t *testing.T) {
	store := db.NewMemoryStore()
	clock := &fixedClock{now: time.Now()}
	r := abb.NewResolver(store, clock, nil)
	newTestBounty(store, clock.Now().Add(time.Hour))
	ctx := context.Background()

	first, err := r.AcceptSubmission(ctx, "bounty-1", "agent-1", abb.Payload{Content: "1"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := r.AcceptSubmission(ctx, "bounty-1", "agent-2", abb.Payload{Content: "2"})
	require.NoError(t, err)

	outcome, err := r.RecordOutcome(ctx, second.ID, passedResult())
	require.NoError(t, err)
	assert.False(t, outcome.Awarded, "blocked while the earlier submission is undecided")

	outcome, err = r.RecordOutcome(ctx, first.ID, failedResult())
	require.NoError(t, err)
	assert.Equal(t, second.ID, outcome.WinnerSubmissionID, "earlier failure hands the win to the later pass")
}

func TestResolver_PassAfterDeadlineExpires(t *testing.T) {
	store := db.NewMemoryStore()
	clock := &fixedClock{now: time.Now()}
	r := abb.NewResolver(store, clock, nil)
	newTestBounty(store, clock.Now().Add(time.Minute))
	ctx := context.Background()

	sub, err := r.AcceptSubmission(ctx, "bounty-1", "agent-1", abb.Payload{Content: "x"})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	outcome, err := r.RecordOutcome(ctx, sub.ID, passedResult())
	require.NoError(t, err)
	assert.Equal(t, abb.SubmissionStatusExpired, outcome.SubmissionStatus)
	assert.False(t, outcome.Awarded)
}

func TestResolver_ExpireBounty(t *testing.T) {
	store := db.NewMemoryStore()
	clock := &fixedClock{now: time.Now()}
	r := abb.NewResolver(store, clock, nil)
	newTestBounty(store, clock.Now().Add(time.Minute))
	ctx := context.Background()

	sub, err := r.AcceptSubmission(ctx, "bounty-1", "agent-1", abb.Payload{Content: "x"})
	require.NoError(t, err)

	require.NoError(t, r.ExpireBounty(ctx, "bounty-1"))

	b, _ := store.GetBounty(ctx, "bounty-1")
	assert.Equal(t, abb.BountyStatusExpired, b.Status)
	got, _ := store.GetSubmission(ctx, sub.ID)
	assert.Equal(t, abb.SubmissionStatusExpired, got.Status)

	// Expiring a completed bounty is a no-op.
	store2 := db.NewMemoryStore()
	r2 := abb.NewResolver(store2, clock, nil)
	newTestBounty(store2, clock.Now().Add(time.Hour))
	s2, _ := r2.AcceptSubmission(ctx, "bounty-1", "agent-1", abb.Payload{Content: "x"})
	_, err = r2.RecordOutcome(ctx, s2.ID, passedResult())
	require.NoError(t, err)
	require.NoError(t, r2.ExpireBounty(ctx, "bounty-1"))
	b2, _ := store2.GetBounty(ctx, "bounty-1")
	assert.Equal(t, abb.BountyStatusCompleted, b2.Status)
}

func TestResolver_CancelOnlyWithoutSubmissions(t *testing.T) {
	store := db.NewMemoryStore()
	clock := &fixedClock{now: time.Now()}
	r := abb.NewResolver(store, clock, nil)
	newTestBounty(store, clock.Now().Add(time.Hour))
	ctx := context.Background()

	require.NoError(t, r.CancelBounty(ctx, "bounty-1"))
	b, _ := store.GetBounty(ctx, "bounty-1")
	assert.Equal(t, abb.BountyStatusCancelled, b.Status)

	store2 := db.NewMemoryStore()
	r2 := abb.NewResolver(store2, clock, nil)
	newTestBounty(store2, clock.Now().Add(time.Hour))
	_, err := r2.AcceptSubmission(ctx, "bounty-1", "agent-1", abb.Payload{Content: "x"})
	require.NoError(t, err)
	assert.ErrorIs(t, r2.CancelBounty(ctx, "bounty-1"), abb.ErrHasSubmissions)
}

// Property: under randomized concurrent validation completion, at most one
// submission ever wins and it is the earliest-received among those that
// passed.
func TestResolver_AtMostOneWinnerProperty(t *testing.T) {
	for trial := 0; trial < 20; trial++ {
		trial := trial
		t.Run(fmt.Sprintf("trial_%d", trial), func(t *testing.T) {
			rng := rand.New(rand.NewSource(int64(trial)))
			store := db.NewMemoryStore()
			clock := &fixedClock{now: time.Now()}
			r := abb.NewResolver(store, clock, nil)
			newTestBounty(store, clock.Now().Add(time.Hour))
			ctx := context.Background()

			n := 5 + rng.Intn(6)
			type planned struct {
				id     string
				passes bool
			}
			plan := make([]planned, 0, n)
			for i := 0; i < n; i++ {
				sub, err := r.AcceptSubmission(ctx, "bounty-1",
					fmt.Sprintf("agent-%d", i), abb.Payload{Content: fmt.Sprintf("s%d", i)})
				require.NoError(t, err)
				plan = append(plan, planned{id: sub.ID, passes: rng.Intn(2) == 0})
				clock.Advance(time.Second)
			}

			// Complete validations concurrently in shuffled order.
			order := rng.Perm(n)
			var wg sync.WaitGroup
			for _, idx := range order {
				p := plan[idx]
				wg.Add(1)
				go func() {
					defer wg.Done()
					result := failedResult()
					if p.passes {
						result = passedResult()
					}
					_, err := r.RecordOutcome(ctx, p.id, result)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			// The winner must be the earliest-received passing submission.
			var expectedWinner string
			for _, p := range plan {
				if p.passes {
					expectedWinner = p.id
					break
				}
			}

			b, err := store.GetBounty(ctx, "bounty-1")
			require.NoError(t, err)
			assert.Equal(t, expectedWinner, b.WinnerSubmissionID)

			subs, err := store.ListSubmissions(ctx, "bounty-1")
			require.NoError(t, err)
			winners := 0
			for _, s := range subs {
				if s.ID == b.WinnerSubmissionID {
					winners++
					assert.Equal(t, abb.SubmissionStatusPassed, s.Status)
				} else if s.Status == abb.SubmissionStatusPassed {
					t.Errorf("submission %s is passed but not the winner", s.ID)
				}
			}
			if expectedWinner != "" {
				assert.Equal(t, 1, winners)
				assert.Equal(t, abb.BountyStatusCompleted, b.Status)
			} else {
				assert.Empty(t, b.WinnerSubmissionID)
			}
		})
	}
}
