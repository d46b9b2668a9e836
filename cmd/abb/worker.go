package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"

	"github.com/agentbounties/agent-bounty-board/abb"
	"github.com/agentbounties/agent-bounty-board/payment"
	"github.com/agentbounties/agent-bounty-board/worker"
)

func workerCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "worker",
			Usage: "Run the worker",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "temporal-address",
					Aliases: []string{"ta"},
					Usage:   "Temporal server address",
					EnvVars: []string{"TEMPORAL_ADDRESS"},
					Value:   "localhost:7233",
				},
				&cli.StringFlag{
					Name:    "temporal-namespace",
					Aliases: []string{"tn"},
					Usage:   "Temporal namespace",
					EnvVars: []string{"TEMPORAL_NAMESPACE"},
					Value:   "default",
				},
				&cli.BoolFlag{
					Name:  "check-connection",
					Usage: "Check Temporal connection and exit (for health checks)",
					Value: false,
				},
				&cli.StringFlag{
					Name:    "task-queue",
					Aliases: []string{"tq"},
					Usage:   "Temporal task queue name",
					EnvVars: []string{"TASK_QUEUE"},
					Value:   abb.TaskQueueName,
				},
				&cli.StringFlag{
					Name:    "database-url",
					Usage:   "Postgres DSN; omit to run with the in-memory store",
					EnvVars: []string{"DATABASE_URL"},
				},
				&cli.StringFlag{
					Name:    "llm-provider",
					Usage:   "Quality judge LLM provider (openai, anthropic, ollama); omit to disable the judge",
					EnvVars: []string{"LLM_PROVIDER"},
				},
				&cli.StringFlag{
					Name:    "llm-api-key",
					Usage:   "API key for the judge LLM",
					EnvVars: []string{"LLM_API_KEY"},
				},
				&cli.StringFlag{
					Name:    "llm-model",
					Usage:   "Model for the judge LLM",
					EnvVars: []string{"LLM_MODEL"},
					Value:   "gpt-4o",
				},
				&cli.IntFlag{
					Name:    "llm-max-tokens",
					Usage:   "Maximum tokens for judge responses",
					EnvVars: []string{"LLM_MAX_TOKENS"},
					Value:   1000,
				},
				&cli.StringFlag{
					Name:    "solana-rpc-endpoint",
					Usage:   "Solana RPC endpoint; omit to disable on-chain settlement",
					EnvVars: []string{"SOLANA_RPC_ENDPOINT"},
				},
				&cli.StringFlag{
					Name:    "solana-escrow-private-key",
					Usage:   "Base58 private key for the escrow wallet",
					EnvVars: []string{"SOLANA_ESCROW_PRIVATE_KEY"},
				},
				&cli.StringFlag{
					Name:    "solana-treasury-wallet",
					Usage:   "Treasury wallet address for platform fees",
					EnvVars: []string{"SOLANA_TREASURY_WALLET"},
				},
				&cli.StringFlag{
					Name:    "solana-usdc-mint",
					Usage:   "USDC mint address",
					EnvVars: []string{"SOLANA_USDC_MINT"},
					Value:   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
				},
			},
			Action: runWorker,
		},
	}
}

func runWorker(c *cli.Context) error {
	temporalAddr := c.String("temporal-address")
	temporalNamespace := c.String("temporal-namespace")

	// Initialize the logger
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelInfo)
	l := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))

	// Handle the health check flag
	if c.Bool("check-connection") {
		if err := worker.CheckConnection(c.Context, l, temporalAddr, temporalNamespace); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		// If the health check is successful, we exit cleanly.
		return nil
	}

	cfg := worker.Config{
		TemporalHostPort:  temporalAddr,
		TemporalNamespace: temporalNamespace,
		TaskQueue:         c.String("task-queue"),
		DatabaseURL:       c.String("database-url"),
	}

	if provider := c.String("llm-provider"); provider != "" {
		cfg.LLM = abb.LLMConfig{
			Provider:  provider,
			APIKey:    c.String("llm-api-key"),
			Model:     c.String("llm-model"),
			MaxTokens: c.Int("llm-max-tokens"),
		}
	}

	if endpoint := c.String("solana-rpc-endpoint"); endpoint != "" {
		key, err := solanago.PrivateKeyFromBase58(c.String("solana-escrow-private-key"))
		if err != nil {
			return fmt.Errorf("invalid escrow private key: %w", err)
		}
		cfg.Solana = payment.SolanaConfig{
			RPCEndpoint:      endpoint,
			EscrowPrivateKey: &key,
			EscrowWallet:     key.PublicKey(),
			TreasuryWallet:   c.String("solana-treasury-wallet"),
			USDCMintAddress:  c.String("solana-usdc-mint"),
		}
	}

	if err := worker.RunWorker(c.Context, l, cfg); err != nil {
		log.Fatalln("Worker failed to run", "error", err)
	}

	return nil
}
