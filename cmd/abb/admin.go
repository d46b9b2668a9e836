package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"

	"github.com/agentbounties/agent-bounty-board/abb"
)

func temporalFlags() []cli.Flag {
	return []cli.Flag{
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
		&cli.StringFlag{
			Name:    "task-queue",
			Aliases: []string{"tq"},
			Usage:   "Temporal task queue name",
			EnvVars: []string{"TASK_QUEUE"},
			Value:   abb.TaskQueueName,
		},
	}
}

func dialTemporal(c *cli.Context) (client.Client, error) {
	tc, err := client.Dial(client.Options{
		Logger:    getDefaultLogger(slog.LevelWarn),
		HostPort:  c.String("temporal-address"),
		Namespace: c.String("temporal-namespace"),
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize temporal client: %w", err)
	}
	return tc, nil
}

func adminCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "post-bounty",
			Usage: "Post a bounty and start its lifecycle workflow",
			Flags: append(temporalFlags(),
				&cli.StringFlag{
					Name:     "file",
					Aliases:  []string{"f"},
					Usage:    "Path to a bounty JSON document",
					Required: true,
				},
				&cli.DurationFlag{
					Name:  "timeout",
					Usage: "Submission window; defaults to the bounty deadline",
				},
			),
			Action: postBounty,
		},
		{
			Name:  "submit",
			Usage: "Signal a submission to a running bounty",
			Flags: append(temporalFlags(),
				&cli.StringFlag{
					Name:     "bounty-id",
					Aliases:  []string{"b"},
					Required: true,
					Usage:    "Bounty ID",
				},
				&cli.StringFlag{
					Name:     "agent-id",
					Aliases:  []string{"a"},
					Required: true,
					Usage:    "Submitting agent ID",
				},
				&cli.StringFlag{
					Name:     "payload",
					Aliases:  []string{"p"},
					Required: true,
					Usage:    "Path to a payload JSON document",
				},
			),
			Action: signalSubmission,
		},
		{
			Name:  "cancel-bounty",
			Usage: "Cancel a bounty and refund the escrow",
			Flags: append(temporalFlags(),
				&cli.StringFlag{
					Name:     "bounty-id",
					Aliases:  []string{"b"},
					Required: true,
					Usage:    "Bounty ID",
				},
				&cli.StringFlag{
					Name:     "poster-id",
					Required: true,
					Usage:    "Poster ID; cancellation is refused for anyone else",
				},
			),
			Action: signalCancel,
		},
	}
}

// bountyWorkflowID derives the deterministic workflow ID for a bounty so
// signal commands can address it without a lookup.
func bountyWorkflowID(bountyID string) string {
	return "bounty-" + bountyID
}

func postBounty(c *cli.Context) error {
	b, err := os.ReadFile(c.String("file"))
	if err != nil {
		return fmt.Errorf("could not read bounty file: %w", err)
	}
	var bounty abb.Bounty
	if err := json.Unmarshal(b, &bounty); err != nil {
		return fmt.Errorf("could not parse bounty: %w", err)
	}
	if bounty.ID == "" {
		bounty.ID = uuid.New().String()
	}
	if err := bounty.Criteria.Validate(); err != nil {
		return fmt.Errorf("invalid bounty criteria: %w", err)
	}

	tc, err := dialTemporal(c)
	if err != nil {
		return err
	}
	defer tc.Close()

	workflowOptions := client.StartWorkflowOptions{
		ID:        bountyWorkflowID(bounty.ID),
		TaskQueue: c.String("task-queue"),
	}
	input := abb.BountyLifecycleWorkflowInput{
		Bounty:  &bounty,
		Timeout: c.Duration("timeout"),
	}
	we, err := tc.ExecuteWorkflow(c.Context, workflowOptions, abb.BountyLifecycleWorkflow, input)
	if err != nil {
		return fmt.Errorf("failed to start workflow: %w", err)
	}

	out := struct {
		BountyID   string    `json:"bounty_id"`
		WorkflowID string    `json:"workflow_id"`
		RunID      string    `json:"run_id"`
		Deadline   time.Time `json:"deadline"`
	}{
		BountyID:   bounty.ID,
		WorkflowID: we.GetID(),
		RunID:      we.GetRunID(),
		Deadline:   bounty.Deadline,
	}
	return json.NewEncoder(os.Stdout).Encode(out)
}

func signalSubmission(c *cli.Context) error {
	b, err := os.ReadFile(c.String("payload"))
	if err != nil {
		return fmt.Errorf("could not read payload file: %w", err)
	}
	var payload abb.Payload
	if err := json.Unmarshal(b, &payload); err != nil {
		return fmt.Errorf("could not parse payload: %w", err)
	}

	tc, err := dialTemporal(c)
	if err != nil {
		return err
	}
	defer tc.Close()

	signal := abb.SubmissionSignal{
		AgentID: c.String("agent-id"),
		Payload: payload,
	}
	wfID := bountyWorkflowID(c.String("bounty-id"))
	if err := tc.SignalWorkflow(c.Context, wfID, "", abb.SubmissionSignalName, signal); err != nil {
		return fmt.Errorf("failed to signal submission: %w", err)
	}
	fmt.Printf("submission signaled to %s\n", wfID)
	return nil
}

func signalCancel(c *cli.Context) error {
	tc, err := dialTemporal(c)
	if err != nil {
		return err
	}
	defer tc.Close()

	signal := abb.CancelBountySignal{PosterID: c.String("poster-id")}
	wfID := bountyWorkflowID(c.String("bounty-id"))
	if err := tc.SignalWorkflow(c.Context, wfID, "", abb.CancelSignalName, signal); err != nil {
		return fmt.Errorf("failed to signal cancel: %w", err)
	}
	fmt.Printf("cancel signaled to %s\n", wfID)
	return nil
}
