package abb

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/agentbounties/agent-bounty-board/sandbox"
)

// RouterConfig carries the collaborators the router and its validators
// need. Everything is injected so validation is testable without ambient
// environment state.
type RouterConfig struct {
	// Runner executes code submissions. Required for code bounties.
	Runner sandbox.Runner
	// HTTPClient performs URL probes. Defaults to a client with a bounded
	// timeout.
	HTTPClient *http.Client
	// Judge optionally applies a holistic quality gate after mechanical
	// checks pass. Nil disables the gate.
	Judge *Judge
	// Clock is used for result timestamps. Defaults to the wall clock.
	Clock Clock
}

// Router dispatches a submission to the validator matching the bounty's
// criteria type and folds in the quality judge's verdict.
type Router struct {
	cfg RouterConfig
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	return &Router{cfg: cfg}
}

// mechanicalResult is what a type validator produces before the judge and
// blending run.
type mechanicalResult struct {
	passed bool
	score  int
	checks []ValidationCheck
	errMsg string
}

// Validate judges the submission against the bounty's criteria. It never
// returns an error: every failure mode is encoded in the result.
func (r *Router) Validate(ctx context.Context, sub *Submission, bounty *Bounty) *ValidationResult {
	start := time.Now()

	mech := r.dispatch(ctx, sub, bounty)
	result := &ValidationResult{
		Passed:      mech.passed,
		Score:       clampScore(mech.score),
		Checks:      mech.checks,
		Error:       mech.errMsg,
		ValidatedAt: r.cfg.Clock.Now(),
	}

	// Quality assessment is only meaningful for mechanically valid
	// submissions.
	if mech.passed && r.cfg.Judge != nil {
		qa := r.cfg.Judge.Assess(ctx, sub, bounty, result)
		result.QualityAssessment = &qa
		result.Passed = qa.Passed
		result.Score = blendScores(bounty.Criteria.Type, result.Score, qa.Score)
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

func (r *Router) dispatch(ctx context.Context, sub *Submission, bounty *Bounty) mechanicalResult {
	switch bounty.Criteria.Type {
	case CriteriaTypeCode:
		if bounty.Criteria.Code == nil {
			return structuralFailure("criteria", "code criteria missing for code bounty")
		}
		return validateCode(ctx, r.cfg.Runner, sub.Payload, bounty.Criteria.Code)
	case CriteriaTypeData:
		if bounty.Criteria.Data == nil {
			return structuralFailure("criteria", "data criteria missing for data bounty")
		}
		return validateData(sub.Payload, bounty.Criteria.Data)
	case CriteriaTypeContent:
		if bounty.Criteria.Content == nil {
			return structuralFailure("criteria", "content criteria missing for content bounty")
		}
		return validateContent(sub.Payload, bounty.Criteria.Content)
	case CriteriaTypeURL:
		if bounty.Criteria.URL == nil {
			return structuralFailure("criteria", "url criteria missing for url bounty")
		}
		return validateURL(ctx, r.cfg.HTTPClient, sub.Payload, bounty.Criteria.URL)
	default:
		return mechanicalResult{
			passed: false,
			score:  0,
			errMsg: "unrecognized criteria type: " + string(bounty.Criteria.Type),
		}
	}
}

// structuralFailure is the short-circuit result for malformed input: one
// failing check, score 0, nothing else attempted.
func structuralFailure(name, message string) mechanicalResult {
	return mechanicalResult{
		passed: false,
		score:  0,
		checks: []ValidationCheck{{Name: name, Passed: false, Message: message}},
		errMsg: message,
	}
}

// blendScores combines the mechanical and quality scores. Content weights
// quality higher because structural checks alone are weak signal for prose.
func blendScores(criteriaType CriteriaType, mechanical, quality int) int {
	var blended float64
	if criteriaType == CriteriaTypeContent {
		blended = 0.3*float64(mechanical) + 0.7*float64(quality)
	} else {
		blended = (float64(mechanical) + float64(quality)) / 2
	}
	return clampScore(int(math.Round(blended)))
}
