package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/agentbounties/agent-bounty-board/abb"
	"github.com/agentbounties/agent-bounty-board/sandbox"
)

func debugCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "validate",
			Usage: "Run the validation pipeline locally against a criteria and payload file",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "criteria",
					Aliases:  []string{"c"},
					Required: true,
					Usage:    "Path to a criteria JSON document",
				},
				&cli.StringFlag{
					Name:     "payload",
					Aliases:  []string{"p"},
					Required: true,
					Usage:    "Path to a payload JSON document",
				},
				&cli.StringFlag{
					Name:    "llm-provider",
					Usage:   "Quality judge LLM provider; omit to skip the judge",
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
			},
			Action: debugValidate,
		},
	}
}

// debugValidate exercises the same router the worker runs, without
// Temporal or a store, so criteria can be iterated on locally.
func debugValidate(c *cli.Context) error {
	criteriaBytes, err := os.ReadFile(c.String("criteria"))
	if err != nil {
		return fmt.Errorf("could not read criteria file: %w", err)
	}
	var criteria abb.Criteria
	if err := json.Unmarshal(criteriaBytes, &criteria); err != nil {
		return fmt.Errorf("could not parse criteria: %w", err)
	}
	if err := criteria.Validate(); err != nil {
		return fmt.Errorf("invalid criteria: %w", err)
	}

	payloadBytes, err := os.ReadFile(c.String("payload"))
	if err != nil {
		return fmt.Errorf("could not read payload file: %w", err)
	}
	var payload abb.Payload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return fmt.Errorf("could not parse payload: %w", err)
	}

	var judge *abb.Judge
	if provider := c.String("llm-provider"); provider != "" {
		llm, err := abb.NewLLMProvider(abb.LLMConfig{
			Provider: provider,
			APIKey:   c.String("llm-api-key"),
			Model:    c.String("llm-model"),
		})
		if err != nil {
			return fmt.Errorf("failed to configure LLM provider: %w", err)
		}
		judge = abb.NewJudge(llm, getDefaultLogger(slog.LevelInfo))
	}

	router := abb.NewRouter(abb.RouterConfig{
		Runner: sandbox.NewLocalRunner(),
		Judge:  judge,
	})

	now := time.Now()
	bounty := &abb.Bounty{
		ID:       uuid.New().String(),
		Title:    "debug",
		Criteria: criteria,
		Deadline: now.Add(time.Hour),
	}
	sub := &abb.Submission{
		ID:         uuid.New().String(),
		BountyID:   bounty.ID,
		AgentID:    "debug",
		Payload:    payload,
		ReceivedAt: now,
	}

	result := router.Validate(c.Context, sub, bounty)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
