package abb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// MaxPayloadCharsForJudge caps how much of the submission payload is sent
// to the judge backend.
const MaxPayloadCharsForJudge = 20000

// judgeSchemaJSON is the structured-output contract the judge backend must
// satisfy.
var judgeSchemaJSON = []byte(`{
  "name": "QualityAssessment",
  "strict": true,
  "schema": {
    "type": "object",
    "properties": {
      "passed": {"type": "boolean"},
      "score": {"type": "integer"},
      "reasoning": {"type": "string"}
    },
    "required": ["passed", "score", "reasoning"],
    "additionalProperties": false
  }
}`)

const judgeInstructions = `You are a quality assessment system for a bounty marketplace. A submission has already passed mechanical validation; your task is to judge its holistic quality against the bounty's intent.

You must respond with a valid JSON object in exactly this format:
{
  "passed": true/false,
  "score": 0-100,
  "reasoning": "your explanation here"
}

Do not include any text before or after the JSON object. Evaluate strictly and conservatively. Only return false when the submission clearly fails the bounty's intent despite passing mechanical checks.`

// Judge applies an optional holistic quality gate on top of mechanical
// checks. It fails open: with no backend configured, or when the backend
// errors or returns garbage, a mechanically valid submission keeps its
// pass.
type Judge struct {
	provider LLMProvider
	logger   *slog.Logger
}

// NewJudge builds a judge around the given backend. A nil provider yields
// a judge that passes everything through.
func NewJudge(provider LLMProvider, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{provider: provider, logger: logger}
}

// Assess returns the judge's verdict for a mechanically valid submission.
func (j *Judge) Assess(ctx context.Context, sub *Submission, bounty *Bounty, prior *ValidationResult) QualityAssessment {
	if j == nil || j.provider == nil {
		return QualityAssessment{
			Passed:    true,
			Score:     prior.Score,
			Reasoning: "no judge backend configured; mechanical result stands",
		}
	}

	message := buildJudgeMessage(sub, bounty, prior)
	resp, err := j.provider.GenerateResponse(ctx, judgeInstructions, message, judgeSchemaJSON)
	if err != nil {
		j.logger.Error("judge backend call failed", "error", err, "bounty_id", bounty.ID, "submission_id", sub.ID)
		return neutralAssessment("judge backend unavailable; mechanical result stands")
	}

	// Some backends wrap JSON in a markdown fence despite instructions.
	resp = strings.TrimSpace(resp)
	if strings.HasPrefix(resp, "```json") {
		resp = strings.TrimPrefix(resp, "```json")
	}
	if strings.HasPrefix(resp, "```") {
		resp = strings.TrimPrefix(resp, "```")
	}
	if strings.HasSuffix(resp, "```") {
		resp = strings.TrimSuffix(resp, "```")
	}
	resp = strings.TrimSpace(resp)

	// Pointer fields distinguish an explicit verdict from a response that
	// merely parses; a missing verdict or score is as useless as garbage
	// and gets the same fail-open treatment.
	var raw struct {
		Passed    *bool  `json:"passed"`
		Score     *int   `json:"score"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(resp), &raw); err != nil || raw.Passed == nil || raw.Score == nil {
		j.logger.Error("failed to parse judge response", "error", err, "raw_response", truncate(resp, 500))
		return neutralAssessment("judge response unparsable; mechanical result stands")
	}
	return QualityAssessment{
		Passed:    *raw.Passed,
		Score:     clampScore(*raw.Score),
		Reasoning: raw.Reasoning,
	}
}

// neutralAssessment is the fail-open verdict: a judge outage must not fail
// submissions that already passed mechanical checks.
func neutralAssessment(reasoning string) QualityAssessment {
	return QualityAssessment{Passed: true, Score: 50, Reasoning: reasoning}
}

func buildJudgeMessage(sub *Submission, bounty *Bounty, prior *ValidationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bounty: %s\n", bounty.Title)
	if bounty.Description != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", bounty.Description)
	}
	if bounty.Criteria.Description != "" {
		fmt.Fprintf(&b, "Criteria:\n%s\n", bounty.Criteria.Description)
	}

	b.WriteString("\nMechanical checks:\n")
	for _, check := range prior.Checks {
		status := "PASS"
		if !check.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", status, check.Name, check.Message)
	}
	fmt.Fprintf(&b, "Mechanical score: %d\n", prior.Score)

	b.WriteString("\nSubmission payload:\n")
	b.WriteString(truncate(payloadText(sub.Payload), MaxPayloadCharsForJudge))
	return b.String()
}

func payloadText(p Payload) string {
	switch {
	case p.Code != "":
		return p.Code
	case len(p.Data) > 0:
		return string(p.Data)
	case p.Content != "":
		return p.Content
	case p.URL != "":
		return p.URL
	default:
		return "(empty payload)"
	}
}
