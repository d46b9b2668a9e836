package worker

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/agentbounties/agent-bounty-board/abb"
	"github.com/agentbounties/agent-bounty-board/db"
	"github.com/agentbounties/agent-bounty-board/payment"
	"github.com/agentbounties/agent-bounty-board/sandbox"
)

// Config assembles everything the worker process needs. Zero values fall
// back to an in-memory store, no judge, and the credits provider only.
type Config struct {
	TemporalHostPort  string
	TemporalNamespace string
	TaskQueue         string
	// DatabaseURL selects the Postgres store when set.
	DatabaseURL string
	// LLM enables the quality judge when Provider is set.
	LLM abb.LLMConfig
	// Solana enables the on-chain provider when RPCEndpoint is set.
	Solana payment.SolanaConfig
}

// CheckConnection dials Temporal and returns, for health checks.
func CheckConnection(ctx context.Context, l *slog.Logger, thp, tns string) error {
	c, err := client.Dial(client.Options{Logger: l, HostPort: thp, Namespace: tns})
	if err != nil {
		return fmt.Errorf("couldn't initialize temporal client: %w", err)
	}
	c.Close()
	return nil
}

// RunWorker connects to Temporal, wires the engine's collaborators, and
// runs the single worker until interrupted.
func RunWorker(ctx context.Context, l *slog.Logger, cfg Config) error {
	// connect to temporal
	c, err := client.Dial(client.Options{
		Logger:    l,
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		return fmt.Errorf("couldn't initialize temporal client: %w", err)
	}
	defer c.Close()

	store, ledger, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	providers := []payment.Provider{payment.NewCreditsProvider(ledger)}
	if cfg.Solana.RPCEndpoint != "" {
		sol, err := payment.NewSolanaProvider(cfg.Solana, ledger, payment.NewX402Client(nil))
		if err != nil {
			return fmt.Errorf("failed to configure solana provider: %w", err)
		}
		providers = append(providers, sol)
	}
	registry := payment.NewRegistry(providers...)

	var judge *abb.Judge
	if cfg.LLM.Provider != "" {
		llm, err := abb.NewLLMProvider(cfg.LLM)
		if err != nil {
			return fmt.Errorf("failed to configure LLM provider: %w", err)
		}
		judge = abb.NewJudge(llm, l)
	}

	resolver := abb.NewResolver(store, nil, l)
	router := abb.NewRouter(abb.RouterConfig{
		Runner: sandbox.NewLocalRunner(),
		Judge:  judge,
	})

	activities, err := abb.NewActivities(store, resolver, router, registry)
	if err != nil {
		return fmt.Errorf("failed to create activities: %w", err)
	}

	taskQueue := cfg.TaskQueue
	if taskQueue == "" {
		taskQueue = abb.TaskQueueName
	}
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(abb.BountyLifecycleWorkflow)

	w.RegisterActivity(activities.CreateBounty)
	w.RegisterActivity(activities.EscrowFunds)
	w.RegisterActivity(activities.AcceptSubmission)
	w.RegisterActivity(activities.ValidateSubmission)
	w.RegisterActivity(activities.RecordOutcome)
	w.RegisterActivity(activities.ReleaseEscrow)
	w.RegisterActivity(activities.RefundEscrow)
	w.RegisterActivity(activities.ExpireBounty)
	w.RegisterActivity(activities.CancelBounty)

	l.Info("Starting worker", "TaskQueue", taskQueue)
	err = w.Run(worker.InterruptCh())
	l.Info("Worker stopped")
	return err
}

// buildStore picks Postgres when a DSN is configured, otherwise the
// in-memory store. Both implement the bounty store and the credits
// ledger.
func buildStore(ctx context.Context, cfg Config) (abb.Store, payment.LedgerStore, error) {
	if cfg.DatabaseURL == "" {
		mem := db.NewMemoryStore()
		return mem, mem, nil
	}
	pg, err := db.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return pg, pg, nil
}
